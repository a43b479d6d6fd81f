/*Package camera describes the boundary between the acquisition service and a
scientific camera.

A Device is opaque: the service opens it, programs a handful of attributes,
configures a sub-array, arms and starts acquisition, then repeatedly waits for
and reads the newest frame.  Everything behind that (driver buffers, SDK
threads, transfer queues) belongs to the implementation.

Mock is a scriptable simulated Device used for tests and for running the
server without hardware.
*/
package camera

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned by WaitFrame when no frame became ready within the
	// timeout.  It is not a failure; the caller should simply wait again.
	ErrTimeout = errors.New("camera: timed out waiting for frame")

	// ErrUnsupported is returned when a device does not implement an attribute
	// or rejects a value for it
	ErrUnsupported = errors.New("camera: attribute or setting not supported")

	// ErrNotAcquiring is returned by WaitFrame and ReadNewest when acquisition
	// has not been started
	ErrNotAcquiring = errors.New("camera: acquisition not started")

	// ErrClosed is returned by any call on a device that has been closed
	ErrClosed = errors.New("camera: device is closed")
)

// Attribute names a device setting.  The names follow the DCAM property
// names; implementations for other SDKs translate them.
type Attribute string

const (
	// ExposureTime is the exposure time in seconds
	ExposureTime Attribute = "EXPOSURE_TIME"

	// TriggerSource selects internal (1) or external (2) triggering
	TriggerSource Attribute = "TRIGGER_SOURCE"

	// TriggerMode is the trigger mode, normal = 1
	TriggerMode Attribute = "TRIGGER_MODE"

	// TriggerActive is the trigger activation, edge = 1, level = 2
	TriggerActive Attribute = "TRIGGER_ACTIVE"

	// TriggerPolarity is the trigger polarity, negative = 1, positive = 2
	TriggerPolarity Attribute = "TRIGGER_POLARITY"

	// ScanMode is the sensor readout mode
	ScanMode Attribute = "SCAN_MODE"

	// ConversionCoeff is the photoelectrons per count
	ConversionCoeff Attribute = "CONVERSION_FACTOR_COEFF"

	// ConversionOffset is the count offset subtracted before conversion
	ConversionOffset Attribute = "CONVERSION_FACTOR_OFFSET"
)

// Trigger attribute values
const (
	SourceInternal   = 1.0
	SourceExternal   = 2.0
	ModeNormal       = 1.0
	ActiveEdge       = 1.0
	PolarityNegative = 1.0
	PolarityPositive = 2.0
)

// AOI describes an area of interest on the sensor, 0-based
type AOI struct {
	// Left is the left pixel index
	Left int `json:"left"`

	// Top is the top pixel index
	Top int `json:"top"`

	// Width is the width in pixels
	Width int `json:"width"`

	// Height is the height in pixels
	Height int `json:"height"`
}

// Frame is a single readout.  Pix is row major with a stride of Width.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16
}

// Device is the opaque capture device.
//
// A Device is owned by exactly one goroutine between Open and Close; none of
// the methods need to be safe for concurrent use.
type Device interface {
	// Close releases the device.  It must be safe to call after a failed
	// Start or Stop.
	Close() error

	// SetAttribute programs a numeric attribute
	SetAttribute(Attribute, float64) error

	// GetAttribute reads a numeric attribute
	GetAttribute(Attribute) (float64, error)

	// DetectorSize returns the full sensor (width, height) in pixels
	DetectorSize() (int, int, error)

	// SetSubarray restricts readout to aoi
	SetSubarray(aoi AOI) error

	// ResetSubarray restores full-sensor readout
	ResetSubarray() error

	// Setup arms acquisition with a ring of nframes buffers sized for the
	// current sub-array
	Setup(nframes int) error

	// Start begins acquisition
	Start() error

	// Stop halts acquisition.  It is not an error to stop twice.
	Stop() error

	// WaitFrame blocks until a frame is ready or timeout elapses, in which
	// case it returns ErrTimeout
	WaitFrame(timeout time.Duration) error

	// ReadNewest returns the most recent frame.  The returned Pix is only
	// valid until the next call to WaitFrame.
	ReadNewest() (Frame, error)
}

// Opener opens a device.  It is called once per acquisition session.
type Opener func() (Device, error)

// AttributeError wraps a failure to get or set an attribute
type AttributeError struct {
	Attr Attribute
	Err  error
}

// Error satisfies the error interface
func (e AttributeError) Error() string {
	return fmt.Sprintf("camera: attribute %s: %v", e.Attr, e.Err)
}

// Unwrap returns the underlying error
func (e AttributeError) Unwrap() error {
	return e.Err
}
