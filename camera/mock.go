package camera

import (
	"fmt"
	"sync"
	"time"
)

// Mock is a simulated camera.  Frames are produced either by calls to Emit or,
// when FrameRate is nonzero, by a ticker running between Start and Stop.
//
// The exported configuration fields must be set before the mock is opened.
// The inspection methods are safe to call from any goroutine.
type Mock struct {
	sync.Mutex

	// Width and Height are the sensor dimensions
	Width, Height int

	// Step is the row alignment enforced by SetSubarray, 0 for none
	Step int

	// Level is the value of every pixel when Pattern is nil
	Level uint16

	// Pattern, if not nil, gives the value of pixel (x, y) in full-sensor
	// coordinates for frame n (1-based)
	Pattern func(x, y, n int) uint16

	// FrameRate, if nonzero, makes the mock free-running at this many frames
	// per second while acquiring
	FrameRate float64

	// OpenErr is returned by the opener instead of the device
	OpenErr error

	// StartErr is returned by Start
	StartErr error

	// RejectSubarray makes every SetSubarray call fail
	RejectSubarray bool

	// Unsupported lists attributes that fail on get and set
	Unsupported map[Attribute]bool

	attrs     map[Attribute]float64
	aoi       AOI
	nframes   int
	armed     bool
	acquiring bool
	closed    bool
	ready     chan struct{}
	halt      chan struct{}
	waitErrs  []error
	readErrs  []error
	frameNo   int
	buf       []uint16
	opens     int
	closes    int
	starts    int
	stops     int
	calls     []string
}

// NewMock returns a closed mock with a sensor of the given size and the
// DCAM conversion factors
func NewMock(width, height int) *Mock {
	return &Mock{
		Width:  width,
		Height: height,
		Step:   4,
		attrs: map[Attribute]float64{
			ConversionCoeff:  0.107,
			ConversionOffset: 100,
			ExposureTime:     0.1,
		},
		aoi:    AOI{Width: width, Height: height},
		ready:  make(chan struct{}, 4096),
		closed: true,
	}
}

// Opener returns an Opener that hands out this mock
func (m *Mock) Opener() Opener {
	return func() (Device, error) {
		m.Lock()
		defer m.Unlock()
		if m.OpenErr != nil {
			return nil, m.OpenErr
		}
		m.opens++
		m.closed = false
		m.armed = false
		m.acquiring = false
		m.aoi = AOI{Width: m.Width, Height: m.Height}
		m.record("Open")
		return m, nil
	}
}

func (m *Mock) record(format string, args ...interface{}) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Close releases the mock
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	m.halt0()
	m.acquiring = false
	m.armed = false
	m.closed = true
	m.closes++
	m.record("Close")
	return nil
}

// SetAttribute sets an attribute
func (m *Mock) SetAttribute(a Attribute, v float64) error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.record("Set %s=%g", a, v)
	if m.Unsupported[a] {
		return AttributeError{Attr: a, Err: ErrUnsupported}
	}
	m.attrs[a] = v
	return nil
}

// GetAttribute gets an attribute
func (m *Mock) GetAttribute(a Attribute) (float64, error) {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.Unsupported[a] {
		return 0, AttributeError{Attr: a, Err: ErrUnsupported}
	}
	v, ok := m.attrs[a]
	if !ok {
		return 0, AttributeError{Attr: a, Err: ErrUnsupported}
	}
	return v, nil
}

// DetectorSize returns the sensor size
func (m *Mock) DetectorSize() (int, int, error) {
	return m.Width, m.Height, nil
}

// SetSubarray sets the readout region
func (m *Mock) SetSubarray(aoi AOI) error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.record("SetSubarray %d %d %d %d", aoi.Left, aoi.Top, aoi.Width, aoi.Height)
	if m.RejectSubarray {
		return ErrUnsupported
	}
	if aoi.Left < 0 || aoi.Top < 0 || aoi.Width < 1 || aoi.Height < 1 ||
		aoi.Left+aoi.Width > m.Width || aoi.Top+aoi.Height > m.Height {
		return fmt.Errorf("%w: sub-array %+v outside %dx%d sensor", ErrUnsupported, aoi, m.Width, m.Height)
	}
	if m.Step > 0 && (aoi.Top%m.Step != 0 || aoi.Height%m.Step != 0) {
		return fmt.Errorf("%w: sub-array %+v not aligned to %d rows", ErrUnsupported, aoi, m.Step)
	}
	m.aoi = aoi
	return nil
}

// ResetSubarray restores the full sensor
func (m *Mock) ResetSubarray() error {
	m.Lock()
	defer m.Unlock()
	m.record("ResetSubarray")
	m.aoi = AOI{Width: m.Width, Height: m.Height}
	return nil
}

// Setup arms the mock
func (m *Mock) Setup(nframes int) error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.record("Setup %d", nframes)
	m.nframes = nframes
	m.buf = make([]uint16, m.aoi.Width*m.aoi.Height)
	m.armed = true
	return nil
}

// Start starts acquisition
func (m *Mock) Start() error {
	m.Lock()
	defer m.Unlock()
	m.record("Start")
	if m.StartErr != nil {
		return m.StartErr
	}
	if !m.armed {
		return ErrNotAcquiring
	}
	m.starts++
	m.acquiring = true
	if m.FrameRate > 0 {
		m.halt = make(chan struct{})
		go m.freerun(m.halt, time.Duration(float64(time.Second)/m.FrameRate))
	}
	return nil
}

func (m *Mock) freerun(halt chan struct{}, period time.Duration) {
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-halt:
			return
		case <-tick.C:
			select {
			case m.ready <- struct{}{}:
			default:
			}
		}
	}
}

// halt0 stops the free-running ticker, the lock must be held
func (m *Mock) halt0() {
	if m.halt != nil {
		close(m.halt)
		m.halt = nil
	}
}

// Stop stops acquisition
func (m *Mock) Stop() error {
	m.Lock()
	defer m.Unlock()
	m.record("Stop")
	m.halt0()
	if m.acquiring {
		m.stops++
	}
	m.acquiring = false
	return nil
}

// WaitFrame waits for a frame from Emit or the free-running ticker
func (m *Mock) WaitFrame(timeout time.Duration) error {
	m.Lock()
	if m.closed {
		m.Unlock()
		return ErrClosed
	}
	if !m.acquiring {
		m.Unlock()
		return ErrNotAcquiring
	}
	if len(m.waitErrs) > 0 {
		err := m.waitErrs[0]
		m.waitErrs = m.waitErrs[1:]
		m.Unlock()
		return err
	}
	m.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.ready:
	case <-timer.C:
		return ErrTimeout
	}

	m.Lock()
	defer m.Unlock()
	m.frameNo++
	m.fill()
	return nil
}

// fill renders the current frame into buf, the lock must be held
func (m *Mock) fill() {
	a := m.aoi
	if len(m.buf) != a.Width*a.Height {
		m.buf = make([]uint16, a.Width*a.Height)
	}
	if m.Pattern == nil {
		for i := range m.buf {
			m.buf[i] = m.Level
		}
		return
	}
	for y := 0; y < a.Height; y++ {
		row := m.buf[y*a.Width : (y+1)*a.Width]
		for x := range row {
			row[x] = m.Pattern(a.Left+x, a.Top+y, m.frameNo)
		}
	}
}

// ReadNewest returns the last frame produced
func (m *Mock) ReadNewest() (Frame, error) {
	m.Lock()
	defer m.Unlock()
	if !m.acquiring {
		return Frame{}, ErrNotAcquiring
	}
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return Frame{}, err
	}
	return Frame{Width: m.aoi.Width, Height: m.aoi.Height, Pix: m.buf}, nil
}

// Emit queues n frames
func (m *Mock) Emit(n int) {
	for i := 0; i < n; i++ {
		m.ready <- struct{}{}
	}
}

// InjectWaitErrors makes the next len(errs) WaitFrame calls return errs in order
func (m *Mock) InjectWaitErrors(errs ...error) {
	m.Lock()
	defer m.Unlock()
	m.waitErrs = append(m.waitErrs, errs...)
}

// InjectReadErrors makes the next len(errs) ReadNewest calls return errs in order
func (m *Mock) InjectReadErrors(errs ...error) {
	m.Lock()
	defer m.Unlock()
	m.readErrs = append(m.readErrs, errs...)
}

// PendingWaitErrors is the number of injected WaitFrame errors not yet consumed
func (m *Mock) PendingWaitErrors() int {
	m.Lock()
	defer m.Unlock()
	return len(m.waitErrs)
}

// Attribute returns the last value set for a, and if it has been set
func (m *Mock) Attribute(a Attribute) (float64, bool) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.attrs[a]
	return v, ok
}

// Subarray returns the current readout region
func (m *Mock) Subarray() AOI {
	m.Lock()
	defer m.Unlock()
	return m.aoi
}

// Calls returns the log of device calls
func (m *Mock) Calls() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Counts returns the number of opens, closes, starts and stops
func (m *Mock) Counts() (opens, closes, starts, stops int) {
	m.Lock()
	defer m.Unlock()
	return m.opens, m.closes, m.starts, m.stops
}

// Closed reports if the mock is closed
func (m *Mock) Closed() bool {
	m.Lock()
	defer m.Unlock()
	return m.closed
}
