package tslog_test

import (
	"errors"
	"os"
	"testing"

	"github.com/ausocean/utils/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/roi"
	"github.com/nasa-jpl/pecam/tslog"
)

func TestFileName(t *testing.T) {
	assert.Equal(t, "full_frame.sqlite", tslog.FileName(tslog.FullFrame))
	assert.Equal(t, "roi_ROI1.sqlite", tslog.FileName("ROI1"))
	assert.Equal(t, "roi_a_b.sqlite", tslog.FileName("a/b"))
}

func TestBeginCreatesEmptyStores(t *testing.T) {
	s := tslog.NewSink(t.TempDir(), (*logging.TestLogger)(t))
	r := roi.ROI{Name: "ROI1", X: 1, Y: 2, Width: 3, Height: 4, Enabled: true}
	require.NoError(t, s.Begin([]roi.ROI{r}))
	defer s.End()

	full, err := tslog.ReadFile(s.Path(tslog.FullFrame))
	require.NoError(t, err)
	assert.Empty(t, full.Records)
	assert.Nil(t, full.Geometry)
	assert.Equal(t, s.RunID(), full.RunID)

	rl, err := tslog.ReadFile(s.Path("ROI1"))
	require.NoError(t, err)
	assert.Empty(t, rl.Records)
	require.NotNil(t, rl.Geometry)
	assert.Equal(t, roi.ROI{Name: "ROI1", X: 1, Y: 2, Width: 3, Height: 4}, *rl.Geometry)
}

func TestAppendAndRead(t *testing.T) {
	s := tslog.NewSink(t.TempDir(), (*logging.TestLogger)(t))
	require.NoError(t, s.Begin([]roi.ROI{roi.Default("ROI1")}))
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Append(tslog.FullFrame, i, photometry.Stats{Total: float64(10 * i), Mean: float64(i)}))
	}
	require.NoError(t, s.Append("ROI1", 3, photometry.Stats{Total: 7, Mean: 0.5}))
	require.NoError(t, s.End())

	full, err := tslog.ReadFile(s.Path(tslog.FullFrame))
	require.NoError(t, err)
	assert.Equal(t, []tslog.Record{{1, 10, 1}, {2, 20, 2}, {3, 30, 3}}, full.Records)

	rl, err := tslog.ReadFile(s.Path("ROI1"))
	require.NoError(t, err)
	assert.Equal(t, []tslog.Record{{3, 7, 0.5}}, rl.Records)
}

func TestBeginTruncates(t *testing.T) {
	s := tslog.NewSink(t.TempDir(), (*logging.TestLogger)(t))
	require.NoError(t, s.Begin(nil))
	require.NoError(t, s.Append(tslog.FullFrame, 1, photometry.Stats{Total: 1, Mean: 1}))
	first := s.RunID()

	// begin without end, as after an interrupted run
	require.NoError(t, s.Begin(nil))
	assert.NotEqual(t, first, s.RunID())
	require.NoError(t, s.End())

	full, err := tslog.ReadFile(s.Path(tslog.FullFrame))
	require.NoError(t, err)
	assert.Empty(t, full.Records)
	assert.Equal(t, s.RunID(), full.RunID)
}

func TestAppendOutsideRun(t *testing.T) {
	s := tslog.NewSink(t.TempDir(), (*logging.TestLogger)(t))
	err := s.Append(tslog.FullFrame, 1, photometry.Stats{})
	assert.True(t, errors.Is(err, tslog.ErrNotActive))

	require.NoError(t, s.Begin(nil))
	defer s.End()
	err = s.Append("ROI9", 1, photometry.Stats{})
	assert.True(t, errors.Is(err, tslog.ErrNoTarget))
	assert.False(t, s.Has("ROI9"))
	assert.True(t, s.Has(tslog.FullFrame))
}

func TestEndIsIdempotent(t *testing.T) {
	s := tslog.NewSink(t.TempDir(), (*logging.TestLogger)(t))
	assert.NoError(t, s.End())
	require.NoError(t, s.Begin(nil))
	assert.NoError(t, s.End())
	assert.NoError(t, s.End())
	assert.False(t, s.Active())
	_, err := os.Stat(s.Path(tslog.FullFrame))
	assert.NoError(t, err)
}
