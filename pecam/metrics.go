package pecam

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics registers collectors reading the service's live values
// with reg.  The values are not rounded.
func RegisterMetrics(reg prometheus.Registerer, s *Service) error {
	gauge := func(name, help string, f func(Status) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pecam",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(s.status()) })
	}
	counter := func(name, help string, f func(Status) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pecam",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(f(s.status())) })
	}
	cs := []prometheus.Collector{
		gauge("state", "session state, 0 idle 1 starting 2 running 3 stopping",
			func(st Status) float64 { return float64(st.State) }),
		gauge("frame_count", "frames processed in the current session",
			func(st Status) float64 { return float64(st.FrameCount) }),
		gauge("fps", "frame rate estimate",
			func(st Status) float64 { return st.FPS }),
		gauge("photoelectrons", "photoelectrons in the last full frame",
			func(st Status) float64 { return st.Photoelectrons }),
		gauge("photoelectrons_per_pixel", "mean photoelectrons per pixel in the last full frame",
			func(st Status) float64 { return st.PhotoelectronsPP }),
		gauge("exposure_seconds", "exposure time",
			func(st Status) float64 { return st.ExposureTime }),
		counter("frame_timeouts_total", "waits for a frame that timed out",
			func(st Status) uint64 { return st.Timeouts }),
		counter("acquisition_errors_total", "device errors while acquiring",
			func(st Status) uint64 { return st.Errors }),
		counter("skipped_frames_total", "frames dropped by the pipeline",
			func(st Status) uint64 { return st.Skipped }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
