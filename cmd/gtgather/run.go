package main

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/collective"
	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/logger"
	"github.com/dreamware/gtgather/internal/orchestrator"
	"github.com/dreamware/gtgather/internal/partition"
	"github.com/dreamware/gtgather/internal/present"
	"github.com/dreamware/gtgather/internal/query"
)

// resolveRunConfig builds the query of one rank from the JSON config or
// the positional interval. Workspace and array flags override the file.
func resolveRunConfig(s runSettings, args []string, rank, size int) (*config.RunConfig, error) {
	var rc *config.RunConfig
	var err error
	if s.JSONConfig != "" {
		if len(args) > 0 {
			return nil, config.Argumentf("interval", "positional interval given together with --json-config")
		}
		if rc, err = config.LoadRunConfig(s.JSONConfig, rank); err != nil {
			return nil, err
		}
		if s.Workspace != "" {
			rc.Workspace = s.Workspace
		}
		if s.Array != "" {
			rc.Array = s.Array
		}
	} else if rc, err = config.FromArgs(s.Workspace, s.Array, args); err != nil {
		return nil, err
	}

	// per-rank lists are already partitioned
	if rc.PartitionIntervals && rc.SharedIntervals {
		if rc.Query.ColumnIntervals, err = partition.Split(rc.Query.ColumnIntervals, size, rank); err != nil {
			return nil, &config.ArgumentError{Arg: "partition_intervals", Err: err}
		}
	}
	return rc, rc.Validate()
}

// participant is one rank's share of a run.
type participant struct {
	settings runSettings
	args     []string
	logger   logger.Logger
	out      io.Writer
	errOut   io.Writer
}

// run executes the whole lifecycle of one rank over ch. A rank that fails
// before the first exchange still aborts the group so its peers do not
// wait for it.
func (p *participant) run(ctx context.Context, ch collective.Channel) error {
	log := p.logger.With(zap.Int("rank", ch.Rank()))
	fail := func(err error) error {
		ch.Abort(ctx, err)
		return err
	}

	if err := present.ValidateFormat(p.settings.Format); err != nil {
		return fail(err)
	}
	if p.settings.PageSize != 0 {
		log.Warn("page size is accepted but ignored", zap.Int("page_size", p.settings.PageSize))
	}
	rc, err := resolveRunConfig(p.settings, p.args, ch.Rank(), ch.Size())
	if err != nil {
		return fail(err)
	}

	engine, err := query.Open(ctx, rc.Workspace, rc.Array, log)
	if err != nil {
		return fail(err)
	}
	o, err := orchestrator.New(orchestrator.Options{
		Channel:       ch,
		Engine:        engine,
		Query:         &rc.Query,
		Logger:        log,
		Output:        p.out,
		Format:        p.settings.Format,
		TransferLimit: p.settings.TransferLimit,
		CapacityHint:  p.settings.CapacityHint,
		SkipQuery:     p.settings.SkipQueryOnRoot && ch.Rank() == 0,
		Profile:       p.settings.Profile,
		ProfileOutput: p.errOut,
	})
	if err != nil {
		engine.Close()
		return fail(err)
	}

	res, err := o.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("run finished", zap.Int("local", res.Local), zap.Int("sent", res.Sent))
	return nil
}
