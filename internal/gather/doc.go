// Package gather holds the coordinator-side halves of the two-phase gather:
// the capacity planner that turns gathered lengths into a receive layout,
// and the root decoder that turns the aggregated buffer back into records.
//
// # Planning
//
// Plan takes one length per rank, sums them, and refuses the transfer with an
// *OverflowError when the sum exceeds the transport limit. Otherwise it
// returns an exclusive prefix sum: rank i lands at
// [Displacements[i], Displacements[i]+Counts[i]) and the ranges tile
// [0, Total) in rank order.
//
//	lengths        [100, 250, 0]
//	counts         [100, 250, 0]
//	displacements  [  0, 100, 350]
//	total          350
//
// # Decoding
//
// Decode does not need rank boundaries. Each record is self-delimiting, so a
// single cursor walks the buffer from 0 and must stop exactly on the total.
// A record that would run past the total, or a tail too short to hold a
// record, yields ErrCorrupt.
package gather
