package pecam

import (
	"errors"
	"net/http"

	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/pecam/camera"
)

// inputError is a rejected request.  It maps to 400 over HTTP.
type inputError string

func (e inputError) Error() string   { return string(e) }
func (e inputError) StatusCode() int { return http.StatusBadRequest }

// notFoundError maps to 404 over HTTP
type notFoundError string

func (e notFoundError) Error() string   { return string(e) }
func (e notFoundError) StatusCode() int { return http.StatusNotFound }

var (
	// ErrInvalidExposure is returned for an exposure time that is not positive
	ErrInvalidExposure error = inputError("pecam: exposure time must be positive")

	// ErrInvalidCrop is returned for crop percentages outside 0-100 or that
	// together leave no rows
	ErrInvalidCrop error = inputError("pecam: crop percentages must be within 0-100 and sum to less than 100")

	// ErrInvalidScanMode is returned for a scan mode not in the table
	ErrInvalidScanMode error = inputError("pecam: unknown scan mode")

	// ErrInvalidROI is returned for an ROI with a size below 1
	ErrInvalidROI error = inputError("pecam: ROI width and height must be >= 1")

	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig error = inputError("pecam: invalid configuration")

	// ErrUnknownROI is returned when no ROI has the given name
	ErrUnknownROI error = notFoundError("pecam: no such ROI")

	// ErrNoPreview is returned before the first preview has been rendered
	ErrNoPreview error = notFoundError("pecam: no preview available")

	// ErrOpen wraps a failure to open the device
	ErrOpen = errors.New("pecam: opening camera")

	// ErrArm wraps a failure to set up or start acquisition
	ErrArm = errors.New("pecam: starting acquisition")

	// ErrStopTimeout is returned by Stop when the worker did not finish
	// within the grace period
	ErrStopTimeout = errors.New("pecam: timed out waiting for acquisition to stop")
)

func errorf(base error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(base, format, args...)
}

// Severity is how the acquisition worker treats an error
type Severity int

const (
	// SeverityRetry errors are expected; the operation is retried silently
	SeverityRetry Severity = iota

	// SeverityDegrade errors are logged and a fallback is used
	SeverityDegrade

	// SeveritySkip errors lose the current frame; acquisition continues
	SeveritySkip

	// SeverityFatal errors end the session
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRetry:
		return "retry"
	case SeverityDegrade:
		return "degrade"
	case SeveritySkip:
		return "skip"
	default:
		return "fatal"
	}
}

// Classify maps an error from the device or the pipeline to a Severity
func Classify(err error) Severity {
	switch {
	case err == nil:
		return SeverityRetry
	case errors.Is(err, ErrOpen), errors.Is(err, ErrArm), errors.Is(err, camera.ErrClosed):
		return SeverityFatal
	case errors.Is(err, camera.ErrTimeout):
		return SeverityRetry
	case errors.Is(err, camera.ErrUnsupported):
		return SeverityDegrade
	default:
		var ae camera.AttributeError
		if errors.As(err, &ae) {
			return SeverityDegrade
		}
		return SeveritySkip
	}
}

// wrapped attaches cause to a sentinel so that errors.Is matches either
type wrapped struct {
	sentinel, cause error
}

func (w wrapped) Error() string   { return w.sentinel.Error() + ": " + w.cause.Error() }
func (w wrapped) Unwrap() []error { return []error{w.sentinel, w.cause} }
func (w wrapped) Cause() error    { return w.cause }

func wrap(sentinel, cause error) error {
	return wrapped{sentinel: sentinel, cause: cause}
}
