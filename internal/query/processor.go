// Package query runs interval queries against an array and hands the
// resulting variants to the gather pipeline.
package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/logger"
	"github.com/dreamware/gtgather/internal/storage"
	"github.com/dreamware/gtgather/internal/variant"
)

// Stats counts the work done by QueryInterval calls.
type Stats struct {
	Intervals int
	Records   int
	// Cells is the number of attribute values produced.
	Cells int
}

func (s *Stats) add(records []variant.Variant) {
	s.Intervals++
	s.Records += len(records)
	for i := range records {
		s.Cells += len(records[i].Fields)
	}
}

// Processor is a query session over one array.
type Processor struct {
	store  storage.Store
	schema *storage.Schema
	logger logger.Logger
}

// NewProcessor starts a session over store and resolves its schema.
func NewProcessor(ctx context.Context, store storage.Store, log logger.Logger) (*Processor, error) {
	schema, err := store.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Processor{
		store:  store,
		schema: schema,
		logger: log.With(zap.String("array", schema.Array)),
	}, nil
}

// Open resolves array inside workspace and starts a session over it. A
// missing workspace or array is reported as a *config.ArgumentError.
func Open(ctx context.Context, workspace, array string, log logger.Logger) (*Processor, error) {
	store, err := storage.Open(ctx, workspace, array)
	switch {
	case errors.Is(err, storage.ErrWorkspaceNotFound):
		return nil, &config.ArgumentError{Arg: "workspace", Err: err}
	case errors.Is(err, storage.ErrArrayNotFound):
		return nil, &config.ArgumentError{Arg: "array", Err: err}
	case err != nil:
		return nil, err
	}
	p, err := NewProcessor(ctx, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return p, nil
}

// Schema returns the array schema.
func (p *Processor) Schema() *storage.Schema {
	return p.schema
}

// Bookkeeping checks cfg against the schema before any interval is queried.
func (p *Processor) Bookkeeping(cfg *config.QueryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, name := range cfg.Attributes {
		if _, ok := p.schema.Lookup(name); !ok {
			return config.Argumentf("query_attributes", "array %s has no attribute %q", p.schema.Array, name)
		}
	}
	p.logger.Debug("query prepared",
		zap.Strings("attributes", cfg.Attributes),
		zap.Int("intervals", len(cfg.ColumnIntervals)))
	return nil
}

// QueryInterval runs the i-th configured interval and appends its variants
// to acc. stats may be nil.
func (p *Processor) QueryInterval(ctx context.Context, cfg *config.QueryConfig, i int, acc []variant.Variant, stats *Stats) ([]variant.Variant, error) {
	if i < 0 || i >= len(cfg.ColumnIntervals) {
		return acc, fmt.Errorf("interval %d out of range [0, %d)", i, len(cfg.ColumnIntervals))
	}
	iv := cfg.ColumnIntervals[i]
	found, err := p.store.Scan(ctx, iv.Begin, iv.End, cfg.Attributes)
	if err != nil {
		return acc, fmt.Errorf("query %s: %w", iv, err)
	}
	if stats != nil {
		stats.add(found)
	}
	p.logger.Debug("interval queried", zap.Stringer("interval", iv), zap.Int("records", len(found)))
	return append(acc, found...), nil
}

// Decode parses one variant at offset.
func (p *Processor) Decode(buf []byte, offset uint64) (variant.Variant, uint64, error) {
	return variant.Decode(buf, offset)
}

// Close releases the array.
func (p *Processor) Close() error {
	return p.store.Close()
}
