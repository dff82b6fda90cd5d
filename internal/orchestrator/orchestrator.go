// Package orchestrator drives one participant through a gather run:
//
//	Init → Querying → Encoding → SizeExchange → [Planning] →
//	PayloadExchange → [Decoding → Presenting] → Done
//
// Bracketed states run at rank 0 only. Every participant, including one
// that skips its query, takes part in both exchanges. Any failure after
// Init aborts the whole group exactly once; there are no retries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/collective"
	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/gather"
	"github.com/dreamware/gtgather/internal/instrument"
	"github.com/dreamware/gtgather/internal/logger"
	"github.com/dreamware/gtgather/internal/present"
	"github.com/dreamware/gtgather/internal/query"
	"github.com/dreamware/gtgather/internal/variant"
)

var tracer = otel.Tracer("gtgather/internal/orchestrator")

// Engine is the query session a participant runs against.
type Engine interface {
	Bookkeeping(cfg *config.QueryConfig) error
	QueryInterval(ctx context.Context, cfg *config.QueryConfig, i int, acc []variant.Variant, stats *query.Stats) ([]variant.Variant, error)
	Decode(buf []byte, offset uint64) (variant.Variant, uint64, error)
	Close() error
}

// PresentFunc renders the decoded variants at rank 0.
type PresentFunc func(w io.Writer, variants []variant.Variant, format string, cfg *config.QueryConfig) error

// Options configures a run.
type Options struct {
	Channel collective.Channel
	Engine  Engine
	Query   *config.QueryConfig
	Logger  logger.Logger

	// Output receives the rendered variants at rank 0.
	Output io.Writer
	Format string

	// Present defaults to present.Print.
	Present PresentFunc

	// TransferLimit caps the aggregated payload. Zero selects
	// gather.DefaultTransferLimit.
	TransferLimit uint64
	CapacityHint  int

	// SkipQuery makes this participant contribute an empty buffer.
	SkipQuery bool

	// Profile gathers per-rank timings and writes them as CSV to
	// ProfileOutput at rank 0. Every participant must agree on it.
	Profile       bool
	ProfileOutput io.Writer

	// OnTransition, when set, is called on entering every state.
	OnTransition func(State)
}

// Result is what a run leaves behind. Variants and Layout are only set at
// rank 0.
type Result struct {
	Variants []variant.Variant
	Layout   *gather.Layout
	Timings  *instrument.Timings

	// Local is the number of variants this participant contributed and
	// Sent the size of its encoded buffer.
	Local int
	Sent  int
}

// Orchestrator runs the state machine for one participant.
type Orchestrator struct {
	opts    Options
	ch      collective.Channel
	logger  logger.Logger
	timings *instrument.Timings
	state   State
}

// New validates opts. An unknown output format is reported as a
// *config.ArgumentError before any collective phase.
func New(opts Options) (*Orchestrator, error) {
	if opts.Channel == nil || opts.Engine == nil || opts.Query == nil {
		return nil, errors.New("orchestrator needs a channel, an engine and a query")
	}
	if err := present.ValidateFormat(opts.Format); err != nil {
		return nil, err
	}
	if opts.Present == nil {
		opts.Present = present.Print
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.ProfileOutput == nil {
		opts.ProfileOutput = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoopLogger()
	}
	return &Orchestrator{
		opts:    opts,
		ch:      opts.Channel,
		logger:  opts.Logger.With(zap.Int("rank", opts.Channel.Rank())),
		timings: instrument.NewTimings(),
	}, nil
}

func (o *Orchestrator) coordinator() bool { return o.ch.Rank() == 0 }

// Run executes the whole run. The engine is closed before Run returns,
// whether or not the run succeeded.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	ctx, span := tracer.Start(ctx, "gather.run", trace.WithAttributes(
		attribute.Int("rank", o.ch.Rank()),
		attribute.Int("size", o.ch.Size()),
	))
	defer span.End()

	res := &Result{Timings: o.timings}
	err := o.run(ctx, res)
	if err != nil {
		err = &PhaseError{Err: err, State: o.state, Rank: o.ch.Rank()}
		o.abort(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.enter(StateDone)
	if cerr := o.opts.Engine.Close(); cerr != nil {
		o.logger.Warn("closing query session", zap.Error(cerr))
		if err == nil {
			err = fmt.Errorf("close query session: %w", cerr)
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// abort tears the group down unless the failure is itself an abort raised
// elsewhere.
func (o *Orchestrator) abort(ctx context.Context, err error) {
	if errors.Is(err, collective.ErrAborted) {
		o.logger.Info("group aborted", zap.Stringer("state", o.state), zap.Error(err))
		return
	}
	o.logger.Error("aborting group", zap.Stringer("state", o.state), zap.Error(err))
	instrument.ObserveAbort(o.state.String())
	o.ch.Abort(ctx, err)
}

func (o *Orchestrator) enter(s State) {
	o.state = s
	o.logger.Debug("state", zap.Stringer("state", s))
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(s)
	}
}

// step runs fn in state s inside its own span.
func (o *Orchestrator) step(ctx context.Context, s State, fn func(ctx context.Context) error) error {
	o.enter(s)
	ctx, span := tracer.Start(ctx, s.String())
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, res *Result) error {
	o.enter(StateInit)
	cfg := o.opts.Query
	size := o.ch.Size()

	var records []variant.Variant
	err := o.step(ctx, StateQuerying, func(ctx context.Context) error {
		return o.timings.Measure(instrument.PhaseQuery, func() error {
			if err := o.opts.Engine.Bookkeeping(cfg); err != nil {
				return err
			}
			if o.opts.SkipQuery {
				o.logger.Debug("query skipped")
				return nil
			}
			var stats query.Stats
			var err error
			for i := range cfg.ColumnIntervals {
				if records, err = o.opts.Engine.QueryInterval(ctx, cfg, i, records, &stats); err != nil {
					return err
				}
			}
			o.logger.Debug("query finished",
				zap.Int("intervals", stats.Intervals),
				zap.Int("records", stats.Records),
				zap.Int("cells", stats.Cells))
			return nil
		})
	})
	if err != nil {
		return err
	}
	res.Local = len(records)

	var buf *variant.Buffer
	err = o.step(ctx, StateEncoding, func(context.Context) error {
		return o.timings.Measure(instrument.PhaseSerialization, func() error {
			var err error
			buf, err = variant.Encode(records, o.opts.CapacityHint)
			return err
		})
	})
	if err != nil {
		return err
	}
	records = nil
	res.Sent = buf.Len()

	var lengths []uint64
	var profiles [][]float64
	err = o.step(ctx, StateSizeExchange, func(ctx context.Context) error {
		if o.opts.Profile {
			var err error
			if profiles, err = o.ch.GatherVector(ctx, o.timings.Vector()); err != nil {
				return err
			}
			if o.coordinator() && len(profiles) != size {
				return assertf("gathered %d timing vectors for %d ranks", len(profiles), size)
			}
		}
		var err error
		if lengths, err = o.ch.GatherScalar(ctx, uint64(buf.Len())); err != nil {
			return err
		}
		if o.coordinator() && len(lengths) != size {
			return assertf("gathered %d lengths for %d ranks", len(lengths), size)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var layout *gather.Layout
	if o.coordinator() {
		err = o.step(ctx, StatePlanning, func(context.Context) error {
			var err error
			if layout, err = gather.Plan(lengths, o.opts.TransferLimit); err != nil {
				return err
			}
			if err := layout.Verify(); err != nil {
				return fmt.Errorf("%w: %v", ErrAssertion, err)
			}
			o.logger.Debug("layout planned",
				zap.Uint64("total", layout.Total),
				zap.Ints("counts", layout.Counts),
				zap.Ints("displacements", layout.Displacements))
			return nil
		})
		if err != nil {
			return err
		}
		res.Layout = layout
	}

	var agg []byte
	err = o.step(ctx, StatePayloadExchange, func(ctx context.Context) error {
		return o.timings.Measure(instrument.PhaseGather, func() error {
			var counts, displs []int
			if layout != nil {
				counts, displs = layout.Counts, layout.Displacements
			}
			var err error
			if agg, err = o.ch.GatherVarying(ctx, buf.Bytes(), counts, displs); err != nil {
				return err
			}
			if layout != nil && uint64(len(agg)) != layout.Total {
				return assertf("received %d bytes, planned %d", len(agg), layout.Total)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	buf = nil

	if !o.coordinator() {
		return nil
	}

	err = o.step(ctx, StateDecoding, func(context.Context) error {
		return o.timings.Measure(instrument.PhaseDeserialization, func() error {
			var err error
			res.Variants, err = gather.Decode(agg, layout.Total, o.opts.Engine.Decode)
			return err
		})
	})
	if err != nil {
		return err
	}
	instrument.ObserveGather(layout.Total, len(res.Variants))

	err = o.step(ctx, StatePresenting, func(context.Context) error {
		return o.timings.Measure(instrument.PhasePrinting, func() error {
			return o.opts.Present(o.opts.Output, res.Variants, o.opts.Format, cfg)
		})
	})
	if err != nil {
		return err
	}

	if o.opts.Profile {
		return instrument.Report(o.opts.ProfileOutput, o.timings, profiles)
	}
	return nil
}
