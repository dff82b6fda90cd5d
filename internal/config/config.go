// Package config resolves what a participant queries: the workspace and
// array, the attributes to fetch and the column intervals to visit.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/viper"
)

// DefaultAttributes are fetched when intervals are given on the command line.
var DefaultAttributes = []string{"REF", "ALT", "BaseQRankSum", "AD", "PL"}

// ArgumentError reports a bad flag, positional argument or config file.
// No collective phase is entered once one is returned.
type ArgumentError struct {
	Err error
	Arg string
}

func (e *ArgumentError) Error() string {
	if e.Arg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s: %v", e.Arg, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Argumentf builds an ArgumentError for arg.
func Argumentf(arg, format string, a ...any) error {
	return &ArgumentError{Arg: arg, Err: fmt.Errorf(format, a...)}
}

// IsArgumentError reports whether err carries an ArgumentError.
func IsArgumentError(err error) bool {
	var aerr *ArgumentError
	return errors.As(err, &aerr)
}

// Interval is an inclusive column range.
type Interval struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d, %d]", i.Begin, i.End)
}

// QueryConfig is the immutable per-run description of a query.
type QueryConfig struct {
	Attributes      []string
	ColumnIntervals []Interval
}

// Validate checks that the query names attributes and well-formed intervals.
func (q *QueryConfig) Validate() error {
	if len(q.Attributes) == 0 {
		return Argumentf("query_attributes", "no attributes requested")
	}
	seen := make(map[string]bool, len(q.Attributes))
	for _, a := range q.Attributes {
		if a == "" {
			return Argumentf("query_attributes", "empty attribute name")
		}
		if seen[a] {
			return Argumentf("query_attributes", "attribute %q listed twice", a)
		}
		seen[a] = true
	}
	for _, iv := range q.ColumnIntervals {
		if iv.Begin > iv.End {
			return Argumentf("query_column_ranges", "interval %s ends before it begins", iv)
		}
	}
	return nil
}

// RunConfig is everything a participant needs besides its rank and transport.
type RunConfig struct {
	Workspace string
	Array     string
	Query     QueryConfig

	// PartitionIntervals spreads a single shared interval list across ranks.
	PartitionIntervals bool

	// SharedIntervals is set when every rank received the same interval list.
	SharedIntervals bool
}

// ParseIntervalArgs parses the positional "<start> <end>" pair.
func ParseIntervalArgs(args []string) (Interval, error) {
	if len(args) != 2 {
		return Interval{}, Argumentf("interval", "expected <start> <end>, got %d arguments", len(args))
	}
	begin, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return Interval{}, Argumentf("interval start", "%q is not a column", args[0])
	}
	end, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return Interval{}, Argumentf("interval end", "%q is not a column", args[1])
	}
	if begin > end {
		return Interval{}, Argumentf("interval", "start %d is after end %d", begin, end)
	}
	return Interval{Begin: begin, End: end}, nil
}

// FromArgs builds the run configuration used when no JSON file is given.
func FromArgs(workspace, array string, args []string) (*RunConfig, error) {
	iv, err := ParseIntervalArgs(args)
	if err != nil {
		return nil, err
	}
	rc := &RunConfig{
		Workspace: workspace,
		Array:     array,
		Query: QueryConfig{
			Attributes:      append([]string(nil), DefaultAttributes...),
			ColumnIntervals: []Interval{iv},
		},
	}
	return rc, rc.Validate()
}

// Validate checks the workspace, array and query.
func (c *RunConfig) Validate() error {
	if c.Workspace == "" {
		return Argumentf("workspace", "no workspace given")
	}
	if c.Array == "" {
		return Argumentf("array", "no array given")
	}
	return c.Query.Validate()
}

// LoadRunConfig reads a JSON run configuration for the participant at rank.
//
// query_column_ranges holds one interval list per rank, or a single list
// shared by every rank. Each interval is a [begin, end] pair or a single
// column.
func LoadRunConfig(path string, rank int) (*RunConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, &ArgumentError{Arg: "json config", Err: err}
	}

	rc := &RunConfig{
		Workspace:          v.GetString("workspace"),
		Array:              v.GetString("array"),
		PartitionIntervals: v.GetBool("partition_intervals"),
	}
	rc.Query.Attributes = v.GetStringSlice("query_attributes")
	if len(rc.Query.Attributes) == 0 {
		rc.Query.Attributes = append([]string(nil), DefaultAttributes...)
	}

	lists, err := parseRanges(v.Get("query_column_ranges"))
	if err != nil {
		return nil, err
	}
	switch {
	case len(lists) == 0:
		return nil, Argumentf("query_column_ranges", "no intervals configured")
	case len(lists) == 1:
		rc.Query.ColumnIntervals = lists[0]
		rc.SharedIntervals = true
	case rank < len(lists):
		rc.Query.ColumnIntervals = lists[rank]
	default:
		return nil, Argumentf("query_column_ranges", "%d lists configured, none for rank %d", len(lists), rank)
	}
	return rc, nil
}

func parseRanges(raw any) ([][]Interval, error) {
	if raw == nil {
		return nil, nil
	}
	outer, ok := raw.([]any)
	if !ok {
		return nil, Argumentf("query_column_ranges", "expected a list of interval lists")
	}
	lists := make([][]Interval, 0, len(outer))
	for i, l := range outer {
		inner, ok := l.([]any)
		if !ok {
			return nil, Argumentf("query_column_ranges", "entry %d is not a list", i)
		}
		ivs := make([]Interval, 0, len(inner))
		for j, item := range inner {
			iv, err := parseInterval(item)
			if err != nil {
				return nil, Argumentf("query_column_ranges", "entry %d.%d: %v", i, j, err)
			}
			ivs = append(ivs, iv)
		}
		lists = append(lists, ivs)
	}
	return lists, nil
}

func parseInterval(item any) (Interval, error) {
	switch x := item.(type) {
	case []any:
		if len(x) != 2 {
			return Interval{}, fmt.Errorf("expected [begin, end], got %d values", len(x))
		}
		begin, err := column(x[0])
		if err != nil {
			return Interval{}, err
		}
		end, err := column(x[1])
		if err != nil {
			return Interval{}, err
		}
		if begin > end {
			return Interval{}, fmt.Errorf("begin %d is after end %d", begin, end)
		}
		return Interval{Begin: begin, End: end}, nil
	default:
		c, err := column(item)
		if err != nil {
			return Interval{}, err
		}
		return Interval{Begin: c, End: c}, nil
	}
}

func column(x any) (uint64, error) {
	switch n := x.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt64 {
			return 0, fmt.Errorf("%v is not a column", n)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%d is not a column", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%d is not a column", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("%v is not a column", x)
	}
}
