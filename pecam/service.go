/*Package pecam is a photoelectron camera service.

A Service owns one camera.  While running, a single worker goroutine holds the
device and, for every frame, calibrates it to photoelectrons, reduces the
full frame and each enabled region of interest to a total and a per-pixel
mean, appends those to the time series logs when external triggering is on,
and at most once per PreviewInterval renders a JPEG preview.

Everything else (HTTP handlers, the command line) talks to the Service through
its methods, which only ever touch shared parameters.  Changes to parameters
that the device must see before acquisition is armed (crop, scan mode,
trigger) restart the session; exposure changes are handed to the worker and
applied on its next tick.
*/
package pecam

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/nasa-jpl/pecam/camera"
	"github.com/nasa-jpl/pecam/geometry"
	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/roi"
	"github.com/nasa-jpl/pecam/tslog"
)

const pkg = "pecam: "

// Snapshot is a calibrated frame kept for export
type Snapshot struct {
	Pix         []float32
	Width       int
	Height      int
	Subarray    geometry.Subarray
	Calibration photometry.Calibration
	FrameIndex  int
	Exposure    float64
	Time        time.Time
}

// Service is the camera service.  Its methods are safe for concurrent use.
type Service struct {
	log   logging.Logger
	open  camera.Opener
	store roi.Store
	sink  *tslog.Sink

	// ctl serializes session control: start, stop and restarts
	ctl  sync.Mutex
	done chan struct{}
	halt atomic.Bool

	// persist orders ROI mutations with their saves
	persist sync.Mutex

	mu              sync.RWMutex
	cfg             Config
	pendingExposure bool
	rois            []roi.ROI
	roiStats        map[string]photometry.Stats
	serial          int
	state           State
	onState         func(State)

	frameCount int
	fps        float64
	full       photometry.Stats
	sub        geometry.Subarray
	cal        photometry.Calibration
	logging    bool
	runID      string
	preview    []byte
	snap       *Snapshot

	timeouts atomic.Uint64
	errs     atomic.Uint64
	skipped  atomic.Uint64
}

// New returns an idle Service.  The ROI definitions are loaded from store; a
// store that cannot be read yields no ROIs.
func New(cfg Config, open camera.Opener, store roi.Store, l logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		log:      l,
		open:     open,
		store:    store,
		sink:     tslog.NewSink(cfg.LogDir, l),
		cfg:      cfg.copy(),
		roiStats: make(map[string]photometry.Stats),
		cal:      cfg.Calibration,
	}
	s.loadROIs()
	return s, nil
}

func (s *Service) loadROIs() {
	rois, err := s.store.Load()
	if err != nil {
		s.log.Error(pkg+"could not load ROI definitions, starting with none", "error", err)
		return
	}
	seen := make(map[string]bool, len(rois))
	for _, r := range rois {
		if err := r.Validate(); err != nil {
			s.log.Warning(pkg+"skipping invalid ROI definition", "error", err)
			continue
		}
		if seen[r.Name] {
			s.log.Warning(pkg+"skipping duplicate ROI definition", "name", r.Name)
			continue
		}
		seen[r.Name] = true
		s.rois = append(s.rois, r)
		s.roiStats[r.Name] = photometry.Stats{}
		if n := roi.Serial(r.Name); n > s.serial {
			s.serial = n
		}
	}
	s.log.Info(pkg+"loaded ROI definitions", "count", len(s.rois))
}

// OnStateChange registers f to be called with every new state.  f must not
// call back into the Service.
func (s *Service) OnStateChange(f func(State)) {
	s.mu.Lock()
	s.onState = f
	s.mu.Unlock()
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	f := s.onState
	s.mu.Unlock()
	s.log.Debug(pkg+"state change", "state", st.String())
	if f != nil {
		f(st)
	}
}

// State returns the session state
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start opens the camera and starts acquisition.  It returns once the session
// is Running, or with the error that returned it to Idle.  Starting a running
// service does nothing.
func (s *Service) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.start()
}

// Stop stops acquisition and waits up to StopGrace for the device to be
// released.  Stopping an idle service does nothing.
func (s *Service) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.stop()
}

// Close stops the service and closes any open log run
func (s *Service) Close() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if err := s.stop(); err != nil {
		return err
	}
	return s.sink.End()
}

// workerGone reports whether no worker goroutine is alive, clearing done
// once the last one has exited.  The ctl lock must be held.
func (s *Service) workerGone() bool {
	if s.done == nil {
		return true
	}
	select {
	case <-s.done:
		s.done = nil
		return true
	default:
		return false
	}
}

func (s *Service) start() error {
	if !s.workerGone() {
		if s.State() == Running {
			return nil
		}
		return ErrStopTimeout
	}

	s.mu.Lock()
	cfg := s.cfg.copy()
	s.pendingExposure = false
	s.mu.Unlock()

	s.setState(Starting)
	s.halt.Store(false)
	ready := make(chan error, 1)
	done := make(chan struct{})
	s.done = done
	go s.run(cfg, ready, done)
	err := <-ready
	if err != nil {
		<-done
		s.done = nil
	}
	return err
}

func (s *Service) stop() error {
	if s.done == nil {
		return nil
	}
	if s.State() == Running {
		s.setState(Stopping)
	}
	s.halt.Store(true)

	s.mu.RLock()
	grace := s.cfg.StopGrace
	s.mu.RUnlock()
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-s.done:
		s.done = nil
		return nil
	case <-t.C:
		s.log.Error(pkg+"acquisition did not stop within grace period", "grace", grace)
		return ErrStopTimeout
	}
}

// restart cycles a running session so that it picks up new parameters
func (s *Service) restart() error {
	if s.State() != Running {
		return nil
	}
	s.log.Info(pkg + "restarting acquisition for new parameters")
	if err := s.stop(); err != nil {
		return err
	}
	return s.start()
}

// ExposureTime returns the exposure time in seconds
func (s *Service) ExposureTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ExposureTime
}

// SetExposureTime sets the exposure time in seconds.  While running the new
// value is applied by the worker on its next tick, without a restart.
func (s *Service) SetExposureTime(t float64) error {
	if err := validExposure(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ExposureTime = t
	if s.state == Running || s.state == Starting {
		s.pendingExposure = true
	}
	return nil
}

// takeExposure returns a pending exposure change, if any
func (s *Service) takeExposure() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingExposure {
		return 0, false
	}
	s.pendingExposure = false
	return s.cfg.ExposureTime, true
}

// ExternalTrigger reports if external triggering (and logging) is on
func (s *Service) ExternalTrigger() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ExternalTrigger
}

// SetExternalTrigger turns external triggering, and with it logging, on or
// off.  A running session is restarted, which begins a new log run when on.
// When idle, turning it on recreates empty stores and zeroes the frame count.
func (s *Service) SetExternalTrigger(on bool) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	s.cfg.ExternalTrigger = on
	running := s.state == Running
	s.mu.Unlock()
	if running {
		return s.restart()
	}
	if !on {
		return nil
	}
	if !s.workerGone() {
		// a worker that missed its stop grace may still own the sink
		return ErrStopTimeout
	}
	err := s.sink.Begin(s.enabledROIs())
	if err == nil {
		err = s.sink.End()
	}
	s.mu.Lock()
	s.frameCount = 0
	s.mu.Unlock()
	if err != nil {
		s.log.Error(pkg+"could not reset log stores", "error", err)
	}
	return err
}

// TopCropPercent returns the percentage of rows cropped from the top
func (s *Service) TopCropPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.TopCropPercent
}

// BottomCropPercent returns the percentage of rows cropped from the bottom
func (s *Service) BottomCropPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.BottomCropPercent
}

// SetTopCropPercent sets the top crop, restarting a running session
func (s *Service) SetTopCropPercent(p float64) error {
	return s.setCrop(&p, nil)
}

// SetBottomCropPercent sets the bottom crop, restarting a running session
func (s *Service) SetBottomCropPercent(p float64) error {
	return s.setCrop(nil, &p)
}

func (s *Service) setCrop(top, bottom *float64) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	t, b := s.cfg.TopCropPercent, s.cfg.BottomCropPercent
	if top != nil {
		t = *top
	}
	if bottom != nil {
		b = *bottom
	}
	if err := validCrop(t, b); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg.TopCropPercent, s.cfg.BottomCropPercent = t, b
	s.mu.Unlock()
	return s.restart()
}

// ScanMode returns the name of the scan mode
func (s *Service) ScanMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ScanMode
}

// ScanModes returns the names of the known scan modes, sorted
func (s *Service) ScanModes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cfg.ScanModes))
	for k := range s.cfg.ScanModes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetScanMode sets the scan mode by name, restarting a running session
func (s *Service) SetScanMode(mode string) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	if _, ok := s.cfg.ScanModes[mode]; !ok {
		s.mu.Unlock()
		return errorf(ErrInvalidScanMode, "%q", mode)
	}
	s.cfg.ScanMode = mode
	s.mu.Unlock()
	return s.restart()
}

// FrameCount is the number of frames processed in the current session
func (s *Service) FrameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameCount
}

// Photoelectrons is the total over the last full frame, rounded
func (s *Service) Photoelectrons() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return round2(s.full.Total)
}

// PhotoelectronsPP is the per-pixel mean over the last full frame, rounded
func (s *Service) PhotoelectronsPP() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return round2(s.full.Mean)
}

// FPS is the frame rate estimate, rounded
func (s *Service) FPS() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return round2(s.fps)
}

// Preview returns the last rendered preview JPEG
func (s *Service) Preview() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.preview == nil {
		return nil, ErrNoPreview
	}
	return s.preview, nil
}

// Snapshot returns the calibrated frame kept at the last preview tick
func (s *Service) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return Snapshot{}, ErrNoPreview
	}
	return *s.snap, nil
}

// Status returns a snapshot of the service with readouts rounded
func (s *Service) Status() Status {
	return s.status().rounded()
}

// status returns the unrounded status
func (s *Service) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:             s.state,
		FrameCount:        s.frameCount,
		FPS:               s.fps,
		Photoelectrons:    s.full.Total,
		PhotoelectronsPP:  s.full.Mean,
		ExposureTime:      s.cfg.ExposureTime,
		ExternalTrigger:   s.cfg.ExternalTrigger,
		TopCropPercent:    s.cfg.TopCropPercent,
		BottomCropPercent: s.cfg.BottomCropPercent,
		ScanMode:          s.cfg.ScanMode,
		Logging:           s.logging,
		RunID:             s.runID,
		Subarray:          s.sub,
		Calibration:       s.cal,
		ROIs:              make([]ROIStatus, len(s.rois)),
		Timeouts:          s.timeouts.Load(),
		Errors:            s.errs.Load(),
		Skipped:           s.skipped.Load(),
	}
	for i, r := range s.rois {
		rs := s.roiStats[r.Name]
		st.ROIs[i] = ROIStatus{ROI: r, Photoelectrons: rs.Total, PhotoelectronsPP: rs.Mean}
	}
	return st
}

// ROIs returns a copy of the ROI set
func (s *Service) ROIs() []roi.ROI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]roi.ROI(nil), s.rois...)
}

// ROI returns one ROI with its statistics, rounded
func (s *Service) ROI(name string) (ROIStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.find(name)
	if i < 0 {
		return ROIStatus{}, errorf(ErrUnknownROI, "%q", name)
	}
	rs := s.roiStats[name]
	return ROIStatus{ROI: s.rois[i], Photoelectrons: round2(rs.Total), PhotoelectronsPP: round2(rs.Mean)}, nil
}

func (s *Service) enabledROIs() []roi.ROI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]roi.ROI, 0, len(s.rois))
	for _, r := range s.rois {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// find returns the index of the named ROI or -1.  mu must be held.
func (s *Service) find(name string) int {
	for i := range s.rois {
		if s.rois[i].Name == name {
			return i
		}
	}
	return -1
}

// mutate applies f to the ROI set under the lock and then saves the set.  A
// failed save is logged and not rolled back.
func (s *Service) mutate(f func() error) error {
	s.persist.Lock()
	defer s.persist.Unlock()
	s.mu.Lock()
	if err := f(); err != nil {
		s.mu.Unlock()
		return err
	}
	rois := append([]roi.ROI(nil), s.rois...)
	s.mu.Unlock()
	if err := s.store.Save(rois); err != nil {
		s.log.Error(pkg+"could not save ROI definitions", "error", err)
	}
	return nil
}

// AddROI adds an enabled ROI at the default position with a new name
func (s *Service) AddROI() (roi.ROI, error) {
	return s.AddROIWith(roi.Default(""))
}

// AddROIWith adds an ROI with the geometry and enabled flag of g and a new
// name.  Nothing is added if g is invalid.
func (s *Service) AddROIWith(g roi.ROI) (roi.ROI, error) {
	if g.Width < 1 || g.Height < 1 {
		return roi.ROI{}, errorf(ErrInvalidROI, "%dx%d", g.Width, g.Height)
	}
	r := g
	err := s.mutate(func() error {
		s.serial++
		r.Name = roi.Name(s.serial)
		for s.find(r.Name) >= 0 {
			s.serial++
			r.Name = roi.Name(s.serial)
		}
		s.rois = append(s.rois, r)
		s.roiStats[r.Name] = photometry.Stats{}
		return nil
	})
	if err == nil {
		s.log.Info(pkg+"added ROI", "name", r.Name)
	}
	return r, err
}

// DeleteROI removes an ROI.  If it is being logged, its store stays open
// until the run ends but receives no more records.
func (s *Service) DeleteROI(name string) error {
	return s.mutate(func() error {
		i := s.find(name)
		if i < 0 {
			return errorf(ErrUnknownROI, "%q", name)
		}
		s.rois = append(s.rois[:i], s.rois[i+1:]...)
		delete(s.roiStats, name)
		return nil
	})
}

// SetROIPosition moves an ROI, in full-sensor pixels
func (s *Service) SetROIPosition(name string, x, y int) error {
	return s.mutate(func() error {
		i := s.find(name)
		if i < 0 {
			return errorf(ErrUnknownROI, "%q", name)
		}
		s.rois[i].X, s.rois[i].Y = x, y
		return nil
	})
}

// SetROISize resizes an ROI
func (s *Service) SetROISize(name string, w, h int) error {
	if w < 1 || h < 1 {
		return errorf(ErrInvalidROI, "%dx%d", w, h)
	}
	return s.mutate(func() error {
		i := s.find(name)
		if i < 0 {
			return errorf(ErrUnknownROI, "%q", name)
		}
		s.rois[i].Width, s.rois[i].Height = w, h
		return nil
	})
}

// SetROIEnabled enables or disables an ROI.  The change applies from the
// next frame.
func (s *Service) SetROIEnabled(name string, on bool) error {
	return s.mutate(func() error {
		i := s.find(name)
		if i < 0 {
			return errorf(ErrUnknownROI, "%q", name)
		}
		s.rois[i].Enabled = on
		return nil
	})
}

// UpdateROI replaces the geometry and enabled flag of the named ROI with
// those of g in a single mutation
func (s *Service) UpdateROI(name string, g roi.ROI) error {
	if g.Width < 1 || g.Height < 1 {
		return errorf(ErrInvalidROI, "%dx%d", g.Width, g.Height)
	}
	return s.mutate(func() error {
		i := s.find(name)
		if i < 0 {
			return errorf(ErrUnknownROI, "%q", name)
		}
		g.Name = name
		s.rois[i] = g
		return nil
	})
}
