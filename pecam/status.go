package pecam

import (
	"github.com/nasa-jpl/pecam/geometry"
	"github.com/nasa-jpl/pecam/mathx"
	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/roi"
)

// State is the acquisition session state
type State int32

const (
	// Idle means no device is held
	Idle State = iota

	// Starting means the device is being opened and configured
	Starting

	// Running means frames are being processed
	Running

	// Stopping means the device is being drained and released
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ROIStatus is an ROI with its last computed statistics.  The statistics of a
// disabled ROI are those of the last frame it was enabled for.
type ROIStatus struct {
	roi.ROI
	Photoelectrons   float64 `json:"photoelectron_count"`
	PhotoelectronsPP float64 `json:"photoelectron_counts_pp"`
}

// Status is a snapshot of the service
type Status struct {
	State             State                  `json:"state"`
	FrameCount        int                    `json:"frame_count"`
	FPS               float64                `json:"fps"`
	Photoelectrons    float64                `json:"photoelectron_count"`
	PhotoelectronsPP  float64                `json:"photoelectron_counts_pp"`
	ExposureTime      float64                `json:"exposure_time"`
	ExternalTrigger   bool                   `json:"external_trigger"`
	TopCropPercent    float64                `json:"top_crop_percent"`
	BottomCropPercent float64                `json:"bottom_crop_percent"`
	ScanMode          string                 `json:"scan_mode"`
	Logging           bool                   `json:"logging"`
	RunID             string                 `json:"run_id,omitempty"`
	Subarray          geometry.Subarray      `json:"subarray"`
	Calibration       photometry.Calibration `json:"calibration"`
	ROIs              []ROIStatus            `json:"rois"`
	Timeouts          uint64                 `json:"timeouts"`
	Errors            uint64                 `json:"errors"`
	Skipped           uint64                 `json:"skipped"`
}

// round2 rounds to the reporting precision
func round2(x float64) float64 {
	return mathx.Round(x, 0.01)
}

// rounded returns s with every readout rounded for reporting
func (s Status) rounded() Status {
	s.FPS = round2(s.FPS)
	s.Photoelectrons = round2(s.Photoelectrons)
	s.PhotoelectronsPP = round2(s.PhotoelectronsPP)
	for i := range s.ROIs {
		s.ROIs[i].Photoelectrons = round2(s.ROIs[i].Photoelectrons)
		s.ROIs[i].PhotoelectronsPP = round2(s.ROIs[i].PhotoelectronsPP)
	}
	return s
}
