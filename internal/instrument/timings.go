// Package instrument measures the phases of a gather run. A Timings value
// is created per run and passed through every phase; there is no process
// wide timer state.
package instrument

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Phase is one measured step of a run.
type Phase int

const (
	PhaseQuery Phase = iota
	PhaseSerialization
	PhaseGather
	PhaseDeserialization
	PhasePrinting

	numPhases
)

// GatheredPhases are the phases every participant reports to the
// coordinator when profiling is enabled.
var GatheredPhases = []Phase{PhaseQuery, PhaseSerialization}

// VectorLen is the length of the vector returned by Timings.Vector: a
// cpu and wall pair per gathered phase.
const VectorLen = 4

func (p Phase) String() string {
	switch p {
	case PhaseQuery:
		return "query"
	case PhaseSerialization:
		return "serialization"
	case PhaseGather:
		return "gather"
	case PhaseDeserialization:
		return "deserialization"
	case PhasePrinting:
		return "printing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Sample is the accumulated cost of a phase.
type Sample struct {
	CPU  time.Duration
	Wall time.Duration
}

type mark struct {
	cpu     time.Duration
	wall    time.Time
	running bool
}

// Timings accumulates cpu and wall time per phase. It is not safe for
// concurrent use; each participant owns its own.
type Timings struct {
	samples [numPhases]Sample
	marks   [numPhases]mark
	now     func() time.Time
	cpu     func() time.Duration
}

// NewTimings returns an empty Timings using the process clocks.
func NewTimings() *Timings {
	return &Timings{now: time.Now, cpu: processCPU}
}

// Start begins measuring p. Starting a running phase restarts it.
func (t *Timings) Start(p Phase) {
	t.marks[p] = mark{cpu: t.cpu(), wall: t.now(), running: true}
}

// Stop ends the measurement of p and adds it to the phase total.
// Stopping a phase that is not running does nothing.
func (t *Timings) Stop(p Phase) {
	m := t.marks[p]
	if !m.running {
		return
	}
	wall := t.now().Sub(m.wall)
	t.samples[p].Wall += wall
	t.samples[p].CPU += t.cpu() - m.cpu
	t.marks[p] = mark{}
	phaseDuration.WithLabelValues(p.String()).Observe(wall.Seconds())
}

// Measure runs fn inside Start and Stop of p.
func (t *Timings) Measure(p Phase, fn func() error) error {
	t.Start(p)
	defer t.Stop(p)
	return fn()
}

// Sample returns the accumulated cost of p.
func (t *Timings) Sample(p Phase) Sample {
	return t.samples[p]
}

// Vector flattens the gathered phases as [cpu, wall] seconds pairs.
func (t *Timings) Vector() []float64 {
	out := make([]float64, 0, VectorLen)
	for _, p := range GatheredPhases {
		s := t.samples[p]
		out = append(out, s.CPU.Seconds(), s.Wall.Seconds())
	}
	return out
}

// Report writes one CSV line per phase: the phase name followed by cpu and
// wall seconds. Gathered phases carry one pair per rank from gathered;
// the other phases carry the coordinator's own pair. A nil gathered
// reports the local values for every phase.
func Report(w io.Writer, local *Timings, gathered [][]float64) error {
	cw := csv.NewWriter(w)
	for p := Phase(0); p < numPhases; p++ {
		record := []string{p.String()}
		if i := gatheredIndex(p); i >= 0 && gathered != nil {
			for rank, vec := range gathered {
				if len(vec) != VectorLen {
					return fmt.Errorf("rank %d reported %d timings, want %d", rank, len(vec), VectorLen)
				}
				record = append(record, seconds(vec[2*i]), seconds(vec[2*i+1]))
			}
		} else {
			s := local.samples[p]
			record = append(record, seconds(s.CPU.Seconds()), seconds(s.Wall.Seconds()))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func gatheredIndex(p Phase) int {
	for i, g := range GatheredPhases {
		if g == p {
			return i
		}
	}
	return -1
}

func seconds(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
