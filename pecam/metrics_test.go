package pecam_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pecam/pecam"
)

func TestMetrics(t *testing.T) {
	m := newMock()
	s := newService(t, testConfig(t), m, nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, pecam.RegisterMetrics(reg, s))
	assert.Error(t, pecam.RegisterMetrics(reg, s), "registering twice")

	require.NoError(t, s.Start())
	m.Emit(2)
	waitFrames(t, s, 2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range mfs {
		for _, mt := range mf.GetMetric() {
			if g := mt.GetGauge(); g != nil {
				got[mf.GetName()] = g.GetValue()
			}
			if c := mt.GetCounter(); c != nil {
				got[mf.GetName()] = c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, got["pecam_frame_count"])
	assert.Equal(t, float64(pecam.Running), got["pecam_state"])
	assert.Equal(t, 64*64*100.0, got["pecam_photoelectrons"])
	assert.Equal(t, 100.0, got["pecam_photoelectrons_per_pixel"])
	assert.Equal(t, 0.2, got["pecam_exposure_seconds"])
	assert.Contains(t, got, "pecam_frame_timeouts_total")
	assert.Zero(t, got["pecam_acquisition_errors_total"])
}
