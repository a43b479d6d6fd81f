package pecam

import (
	"time"

	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/preview"
)

// Config holds the acquisition parameters and the service tunables.  The
// parameters (exposure, trigger, crop, scan mode) are the starting values of
// the mutable session parameters; the rest are fixed for the life of the
// service.
type Config struct {
	// FramesPerChunk is the depth of the device buffer ring
	FramesPerChunk int `yaml:"FramesPerChunk" koanf:"FramesPerChunk"`

	// ExposureTime is the exposure time in seconds
	ExposureTime float64 `yaml:"ExposureTime" koanf:"ExposureTime"`

	// ExternalTrigger enables external triggering, and with it logging
	ExternalTrigger bool `yaml:"ExternalTrigger" koanf:"ExternalTrigger"`

	// TopCropPercent and BottomCropPercent are the percentages of the sensor
	// rows cropped from the top and bottom
	TopCropPercent    float64 `yaml:"TopCropPercent" koanf:"TopCropPercent"`
	BottomCropPercent float64 `yaml:"BottomCropPercent" koanf:"BottomCropPercent"`

	// ScanMode is the name of the readout mode, a key of ScanModes
	ScanMode string `yaml:"ScanMode" koanf:"ScanMode"`

	// ScanModes maps scan mode names to device values
	ScanModes map[string]float64 `yaml:"ScanModes" koanf:"ScanModes"`

	// RowStep is the row alignment of the device sub-array
	RowStep int `yaml:"RowStep" koanf:"RowStep"`

	// FrameTimeout bounds each wait for a frame, and so how long a stop
	// request can go unnoticed
	FrameTimeout time.Duration `yaml:"FrameTimeout" koanf:"FrameTimeout"`

	// StopGrace bounds how long Stop waits for the worker to release the device
	StopGrace time.Duration `yaml:"StopGrace" koanf:"StopGrace"`

	// OpenRetries is the number of times opening the device is retried
	OpenRetries int `yaml:"OpenRetries" koanf:"OpenRetries"`

	// OpenBackoff is the wait between open attempts
	OpenBackoff time.Duration `yaml:"OpenBackoff" koanf:"OpenBackoff"`

	// Calibration is used when the device does not report conversion factors
	Calibration photometry.Calibration `yaml:"Calibration" koanf:"Calibration"`

	// LogDir is the directory the time series stores are written to
	LogDir string `yaml:"LogDir" koanf:"LogDir"`

	// PreviewInterval is the minimum time between preview renders
	PreviewInterval time.Duration `yaml:"PreviewInterval" koanf:"PreviewInterval"`

	// PreviewScale is the per-axis downsampling of the preview
	PreviewScale float64 `yaml:"PreviewScale" koanf:"PreviewScale"`

	// PreviewQuality is the JPEG quality of the preview
	PreviewQuality int `yaml:"PreviewQuality" koanf:"PreviewQuality"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		FramesPerChunk:  20,
		ExposureTime:    0.2,
		ScanMode:        "UltraQuiet",
		ScanModes:       map[string]float64{"Standard": 1, "UltraQuiet": 2},
		RowStep:         4,
		FrameTimeout:    100 * time.Millisecond,
		StopGrace:       5 * time.Second,
		OpenRetries:     2,
		OpenBackoff:     250 * time.Millisecond,
		Calibration:     photometry.DefaultCalibration,
		LogDir:          ".",
		PreviewInterval: time.Second,
		PreviewScale:    preview.DefaultScale,
		PreviewQuality:  preview.DefaultQuality,
	}
}

// Validate checks the session parameters
func (c Config) Validate() error {
	if err := validExposure(c.ExposureTime); err != nil {
		return err
	}
	if err := validCrop(c.TopCropPercent, c.BottomCropPercent); err != nil {
		return err
	}
	if _, ok := c.ScanModes[c.ScanMode]; !ok {
		return errorf(ErrInvalidScanMode, "%q", c.ScanMode)
	}
	if c.FramesPerChunk < 1 {
		return errorf(ErrInvalidConfig, "FramesPerChunk must be >= 1, got %d", c.FramesPerChunk)
	}
	if c.FrameTimeout <= 0 || c.StopGrace <= 0 {
		return errorf(ErrInvalidConfig, "FrameTimeout and StopGrace must be positive")
	}
	if c.OpenRetries < 0 {
		return errorf(ErrInvalidConfig, "OpenRetries must be >= 0, got %d", c.OpenRetries)
	}
	if c.PreviewInterval <= 0 {
		return errorf(ErrInvalidConfig, "PreviewInterval must be positive, got %v", c.PreviewInterval)
	}
	return nil
}

func validExposure(t float64) error {
	if !(t > 0) {
		return errorf(ErrInvalidExposure, "%g s", t)
	}
	return nil
}

func validCrop(top, bottom float64) error {
	if top < 0 || top > 100 || bottom < 0 || bottom > 100 || top+bottom >= 100 {
		return errorf(ErrInvalidCrop, "top %g%%, bottom %g%%", top, bottom)
	}
	return nil
}

// copy returns c with its own ScanModes map
func (c Config) copy() Config {
	m := make(map[string]float64, len(c.ScanModes))
	for k, v := range c.ScanModes {
		m[k] = v
	}
	c.ScanModes = m
	return c
}
