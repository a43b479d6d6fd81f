//go:build sdk3

/*Package sdk3 drives Andor sCMOS cameras through their SDK, v3, as a
camera.Device.

It requires the atcore library and headers under /usr/local and is only built
with the sdk3 build tag.
*/
package sdk3

/*
#cgo CFLAGS: -I/usr/local
#cgo LDFLAGS: -L/usr/local/lib -latcore
#include <stdlib.h>
#include <atcore.h>

*/
import "C"
import (
	"fmt"
	"sync"
	"time"

	"github.com/nasa-jpl/pecam/camera"
)

var _ camera.Device = (*Camera)(nil)

var (
	libOnce sync.Once
	libErr  error
)

// Opener returns a camera.Opener for the camera at index.  Typically a real
// camera is index 0 and the SDK's simulators follow it.  The library is
// initialized on first use and never finalized.
func Opener(index int) camera.Opener {
	return func() (camera.Device, error) {
		libOnce.Do(func() { libErr = InitializeLibrary() })
		if libErr != nil {
			return nil, enrich(libErr, "AT_InitialiseLibrary")
		}
		return Open(index)
	}
}

// Camera is an SDK3 camera
type Camera struct {
	// Handle holds the int that points to a specific camera
	Handle int

	closed    bool
	acquiring bool
	queued    bool

	// ScanModes maps scan mode values to PixelReadoutRate members.  Values
	// not in the map select the enum index value-1.
	ScanModes map[float64]string

	// source is remembered since SDK3 folds it into TriggerMode
	source float64

	sensorW, sensorH int
	aoi              camera.AOI
	stride           int
	sizeBytes        int

	ring  *ring
	frame camera.Frame
}

// Open opens a connection to the camera
func Open(index int) (*Camera, error) {
	var h C.AT_H
	if err := enrich(Error(int(C.AT_Open(C.int(index), &h))), "AT_Open"); err != nil {
		return nil, err
	}
	c := &Camera{Handle: int(h), source: camera.SourceInternal}
	var err error
	if c.sensorW, err = GetInt(c.Handle, "SensorWidth"); err != nil {
		c.Close()
		return nil, err
	}
	if c.sensorH, err = GetInt(c.Handle, "SensorHeight"); err != nil {
		c.Close()
		return nil, err
	}
	c.aoi = camera.AOI{Width: c.sensorW, Height: c.sensorH}
	return c, nil
}

// Close closes the connection to the camera and frees the buffers
func (c *Camera) Close() error {
	if c.closed {
		return nil
	}
	c.Stop()
	c.closed = true
	return enrich(Error(int(C.AT_Close(C.AT_H(c.Handle)))), "AT_Close")
}

// SetAttribute programs an attribute
func (c *Camera) SetAttribute(a camera.Attribute, v float64) error {
	if c.closed {
		return camera.ErrClosed
	}
	var err error
	switch a {
	case camera.ExposureTime:
		err = SetFloat(c.Handle, "ExposureTime", v)
	case camera.ScanMode:
		if name, ok := c.ScanModes[v]; ok {
			err = SetEnumString(c.Handle, "PixelReadoutRate", name)
		} else {
			err = SetEnumIndex(c.Handle, "PixelReadoutRate", int(v)-1)
		}
	case camera.TriggerSource:
		mode := "Internal"
		if v == camera.SourceExternal {
			mode = "External"
		}
		err = SetEnumString(c.Handle, "TriggerMode", mode)
		if err == nil {
			c.source = v
		}
	case camera.TriggerMode, camera.TriggerActive:
		// SDK3 only triggers on edges in External mode
		if v != camera.ModeNormal {
			err = camera.ErrUnsupported
		}
	case camera.TriggerPolarity:
		err = SetBool(c.Handle, "IOInvert", v == camera.PolarityNegative)
	default:
		err = camera.ErrUnsupported
	}
	if err != nil {
		return camera.AttributeError{Attr: a, Err: err}
	}
	return nil
}

// GetAttribute reads an attribute.  SDK3 does not report conversion
// factors, so those are unsupported.
func (c *Camera) GetAttribute(a camera.Attribute) (float64, error) {
	if c.closed {
		return 0, camera.ErrClosed
	}
	var (
		v   float64
		err error
	)
	switch a {
	case camera.ExposureTime:
		v, err = GetFloat(c.Handle, "ExposureTime")
	case camera.ScanMode:
		var idx int
		idx, err = GetEnumIndex(c.Handle, "PixelReadoutRate")
		v = float64(idx + 1)
	case camera.TriggerSource:
		v = c.source
	case camera.TriggerPolarity:
		var inv bool
		inv, err = GetBool(c.Handle, "IOInvert")
		v = camera.PolarityPositive
		if inv {
			v = camera.PolarityNegative
		}
	default:
		err = camera.ErrUnsupported
	}
	if err != nil {
		return 0, camera.AttributeError{Attr: a, Err: err}
	}
	return v, nil
}

// DetectorSize returns the sensor size
func (c *Camera) DetectorSize() (int, int, error) {
	return c.sensorW, c.sensorH, nil
}

// SetSubarray sets the AOI.  The SDK is 1-based and wants the width before
// the left edge and the height before the top.
func (c *Camera) SetSubarray(aoi camera.AOI) error {
	if c.closed {
		return camera.ErrClosed
	}
	steps := []struct {
		feature string
		v       int
	}{
		{"AOIWidth", aoi.Width},
		{"AOILeft", aoi.Left + 1},
		{"AOIHeight", aoi.Height},
		{"AOITop", aoi.Top + 1},
	}
	for _, s := range steps {
		if err := SetInt(c.Handle, s.feature, int64(s.v)); err != nil {
			return err
		}
	}
	c.aoi = aoi
	return nil
}

// ResetSubarray restores the full sensor
func (c *Camera) ResetSubarray() error {
	return c.SetSubarray(camera.AOI{Width: c.sensorW, Height: c.sensorH})
}

// Setup allocates and queues nframes buffers for the current AOI
func (c *Camera) Setup(nframes int) error {
	if c.closed {
		return camera.ErrClosed
	}
	if nframes < 1 {
		nframes = 1
	}
	if err := SetEnumString(c.Handle, "CycleMode", "Continuous"); err != nil {
		return err
	}
	if err := SetEnumString(c.Handle, "PixelEncoding", "Mono16"); err != nil {
		return err
	}
	var err error
	if c.sizeBytes, err = GetInt(c.Handle, "ImageSizeBytes"); err != nil {
		return err
	}
	if c.stride, err = GetInt(c.Handle, "AOIStride"); err != nil {
		return err
	}
	if c.ring != nil {
		Flush(c.Handle)
		c.ring.free()
	}
	c.ring = newRing(nframes, c.sizeBytes)
	for _, b := range c.ring.bufs {
		if err := c.queue(b); err != nil {
			return err
		}
	}
	c.frame = camera.Frame{Width: c.aoi.Width, Height: c.aoi.Height, Pix: make([]uint16, c.aoi.Width*c.aoi.Height)}
	return nil
}

func (c *Camera) queue(b buffer) error {
	err := Error(int(C.AT_QueueBuffer(C.AT_H(c.Handle), b.cptr, C.int(b.size))))
	if err == nil {
		c.queued = true
	}
	return enrich(err, "AT_QueueBuffer")
}

// Start starts acquisition
func (c *Camera) Start() error {
	if c.ring == nil {
		return camera.ErrNotAcquiring
	}
	if err := IssueCommand(c.Handle, "AcquisitionStart"); err != nil {
		return err
	}
	c.acquiring = true
	return nil
}

// Stop stops acquisition and releases the buffers
func (c *Camera) Stop() error {
	var err error
	if c.acquiring {
		err = IssueCommand(c.Handle, "AcquisitionStop")
		c.acquiring = false
	}
	if c.ring != nil {
		Flush(c.Handle)
		c.ring.free()
		c.ring = nil
		c.queued = false
	}
	return err
}

// WaitFrame waits for the SDK to fill a buffer.  The SDK returns buffers
// oldest first, so any others already filled are taken too and requeued,
// keeping only the newest.  It is copied out without its row padding.
func (c *Camera) WaitFrame(timeout time.Duration) error {
	if c.closed {
		return camera.ErrClosed
	}
	if !c.acquiring {
		return camera.ErrNotAcquiring
	}
	if !c.queued {
		return ErrBufferNotOnQueue
	}
	b, err := c.wait(C.uint(timeout.Milliseconds()))
	if err != nil {
		return err
	}
	b, err = newest(b, func() (buffer, error) { return c.wait(0) }, c.queue)
	if err != nil {
		return err
	}
	unpad(c.frame.Pix, b.bytes(), c.stride, c.aoi.Width, c.aoi.Height)
	return c.queue(b)
}

// wait takes one filled buffer from the SDK, waiting up to ms milliseconds
func (c *Camera) wait(ms C.uint) (buffer, error) {
	var (
		ptr  *C.AT_U8
		size C.int
	)
	if err := Error(int(C.AT_WaitBuffer(C.AT_H(c.Handle), &ptr, &size, ms))); err != nil {
		return buffer{}, enrich(err, "AT_WaitBuffer")
	}
	b, ok := c.ring.find(ptr)
	if !ok {
		return buffer{}, fmt.Errorf("sdk3: SDK returned a buffer that was not queued")
	}
	return b, nil
}

// ReadNewest returns the frame copied by the last WaitFrame, the newest
// the SDK had filled at that time
func (c *Camera) ReadNewest() (camera.Frame, error) {
	if !c.acquiring {
		return camera.Frame{}, camera.ErrNotAcquiring
	}
	return c.frame, nil
}
