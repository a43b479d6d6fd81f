package roi_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pecam/roi"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s := roi.FileStore{Path: filepath.Join(t.TempDir(), "rois.json")}
	in := []roi.ROI{
		{Name: "ROI3", X: 10, Y: 20, Width: 30, Height: 40, Enabled: true},
		{Name: "ROI1", X: 0, Y: 0, Width: 100, Height: 100, Enabled: false},
		{Name: "ROI2", X: 2000, Y: 5, Width: 1, Height: 1, Enabled: true},
	}
	require.NoError(t, s.Save(in))
	out, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreMissingIsEmpty(t *testing.T) {
	s := roi.FileStore{Path: filepath.Join(t.TempDir(), "none.json")}
	out, err := s.Load()
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileStoreMalformed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rois.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0644))
	out, err := roi.FileStore{Path: p}.Load()
	assert.Error(t, err)
	assert.Empty(t, out)
}

func TestFileStoreWireFormat(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rois.json")
	require.NoError(t, roi.FileStore{Path: p}.Save([]roi.ROI{roi.Default("ROI1")}))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"ROI1","x":0,"y":0,"width":100,"height":100,"enabled":true}]`, string(b))
}

func TestSerial(t *testing.T) {
	assert.Equal(t, 12, roi.Serial("ROI12"))
	assert.Equal(t, 0, roi.Serial("beam"))
	assert.Equal(t, 0, roi.Serial("ROIx"))
	assert.Equal(t, "ROI7", roi.Name(7))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, roi.Default("a").Validate())
	assert.Error(t, roi.ROI{Name: "a", Width: 0, Height: 1}.Validate())
	assert.Error(t, roi.ROI{Width: 1, Height: 1}.Validate())
}
