package instrument

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimings advances both clocks by one step per reading.
func fakeTimings(step time.Duration) *Timings {
	var wall time.Time
	var cpu time.Duration
	return &Timings{
		now: func() time.Time {
			wall = wall.Add(step)
			return wall
		},
		cpu: func() time.Duration {
			cpu += step / 2
			return cpu
		},
	}
}

func TestTimingsAccumulate(t *testing.T) {
	tm := fakeTimings(time.Second)

	tm.Start(PhaseQuery)
	tm.Stop(PhaseQuery)
	tm.Start(PhaseQuery)
	tm.Stop(PhaseQuery)

	s := tm.Sample(PhaseQuery)
	assert.Equal(t, 2*time.Second, s.Wall)
	assert.Equal(t, time.Second, s.CPU)

	// Stop without Start is ignored
	tm.Stop(PhaseGather)
	assert.Zero(t, tm.Sample(PhaseGather))
}

func TestTimingsMeasure(t *testing.T) {
	tm := fakeTimings(time.Millisecond)
	before := testutil.CollectAndCount(phaseDuration)

	require.NoError(t, tm.Measure(PhaseSerialization, func() error { return nil }))
	assert.Equal(t, time.Millisecond, tm.Sample(PhaseSerialization).Wall)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(phaseDuration), before)

	err := tm.Measure(PhasePrinting, func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, time.Millisecond, tm.Sample(PhasePrinting).Wall, "failed phases are still timed")
}

func TestVector(t *testing.T) {
	tm := fakeTimings(2 * time.Second)
	tm.Start(PhaseQuery)
	tm.Stop(PhaseQuery)
	tm.Start(PhaseSerialization)
	tm.Stop(PhaseSerialization)
	tm.Start(PhaseSerialization)
	tm.Stop(PhaseSerialization)

	assert.Equal(t, []float64{1, 2, 2, 4}, tm.Vector())
	assert.Len(t, NewTimings().Vector(), VectorLen)
}

func TestReport(t *testing.T) {
	tm := fakeTimings(time.Second)
	tm.Start(PhaseGather)
	tm.Stop(PhaseGather)

	gathered := [][]float64{
		{0.5, 1, 0.25, 0.5},
		{1.5, 2, 0, 0},
	}
	var out bytes.Buffer
	require.NoError(t, Report(&out, tm, gathered))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, int(numPhases))
	assert.Equal(t, "query,0.500000,1.000000,1.500000,2.000000", lines[0])
	assert.Equal(t, "serialization,0.250000,0.500000,0.000000,0.000000", lines[1])
	assert.Equal(t, "gather,0.500000,1.000000", lines[2])
	assert.Equal(t, "printing,0.000000,0.000000", lines[4])

	err := Report(&out, tm, [][]float64{{1}})
	assert.Error(t, err)
}

func TestReportLocalOnly(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Report(&out, NewTimings(), nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "query,"))
}

func TestPhaseNames(t *testing.T) {
	assert.Equal(t, "deserialization", PhaseDeserialization.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(gatheredBytes)
	ObserveGather(350, 3)
	assert.Equal(t, before+350, testutil.ToFloat64(gatheredBytes))

	ObserveAbort("Planning")
	assert.GreaterOrEqual(t, testutil.ToFloat64(aborts.WithLabelValues("Planning")), 1.0)
}
