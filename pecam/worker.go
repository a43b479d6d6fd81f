package pecam

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/pecam/camera"
	"github.com/nasa-jpl/pecam/geometry"
	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/preview"
	"github.com/nasa-jpl/pecam/roi"
	"github.com/nasa-jpl/pecam/tslog"
)

// session is the worker's state for one acquisition session.  It is owned by
// the worker goroutine.
type session struct {
	dev     camera.Device
	cfg     Config
	sub     geometry.Subarray
	cal     photometry.Calibration
	img     photometry.Image
	render  *preview.Renderer
	limiter *rate.Limiter
	logging bool

	count int
	prev  time.Time

	// per-frame scratch, reused
	active []roi.ROI
	stats  []photometry.Stats
	all    []roi.ROI
}

// run is the worker goroutine.  It reports the outcome of Starting on ready,
// then processes frames until halted.
func (s *Service) run(cfg Config, ready chan<- error, done chan<- struct{}) {
	defer close(done)
	ses, err := s.arm(cfg)
	if err != nil {
		s.log.Error(pkg+"could not start acquisition", "error", err)
		s.setState(Idle)
		ready <- err
		return
	}
	s.setState(Running)
	ready <- nil

	defer s.release(ses)
	for !s.halt.Load() {
		s.safeTick(ses)
	}
}

// safeTick runs one tick.  A panic while processing a frame skips that frame
// and leaves the session running.
func (s *Service) safeTick(ses *session) {
	defer func() {
		if r := recover(); r != nil {
			s.skipped.Add(1)
			s.log.Error(pkg+"frame processing failed, skipping frame", "panic", fmt.Sprint(r))
		}
	}()
	s.tick(ses)
}

// openDevice opens the camera, retrying OpenRetries times
func (s *Service) openDevice(cfg Config) (camera.Device, error) {
	var dev camera.Device
	attempt := 0
	op := func() error {
		attempt++
		d, err := s.open()
		if err != nil {
			s.log.Warning(pkg+"opening camera failed", "attempt", attempt, "error", err)
			return err
		}
		dev = d
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.OpenBackoff), uint64(cfg.OpenRetries))
	if err := backoff.Retry(op, b); err != nil {
		return nil, wrap(ErrOpen, err)
	}
	return dev, nil
}

// arm performs Starting: open, program attributes, resolve geometry, begin
// the log run and start acquisition.  On failure everything acquired is
// released.
func (s *Service) arm(cfg Config) (ses *session, err error) {
	dev, err := s.openDevice(cfg)
	if err != nil {
		return nil, err
	}
	ses = &session{dev: dev, cfg: cfg}
	defer func() {
		if err == nil {
			return
		}
		dev.Stop()
		if cerr := dev.Close(); cerr != nil {
			s.log.Error(pkg+"could not close camera", "error", cerr)
		}
		if ses.logging {
			s.sink.End()
		}
	}()

	s.setAttr(dev, camera.ScanMode, cfg.ScanModes[cfg.ScanMode])
	if cfg.ExternalTrigger {
		s.setAttr(dev, camera.TriggerSource, camera.SourceExternal)
		s.setAttr(dev, camera.TriggerMode, camera.ModeNormal)
		s.setAttr(dev, camera.TriggerActive, camera.ActiveEdge)
		s.setAttr(dev, camera.TriggerPolarity, camera.PolarityPositive)
	} else {
		s.setAttr(dev, camera.TriggerSource, camera.SourceInternal)
	}
	s.setAttr(dev, camera.ExposureTime, cfg.ExposureTime)
	ses.cal = s.calibration(dev, cfg.Calibration)

	fullW, fullH, err := dev.DetectorSize()
	if err != nil {
		return ses, wrap(ErrArm, err)
	}
	ses.sub = s.applyGeometry(dev, fullW, fullH, cfg)
	ses.img = photometry.Image{
		Pix:    make([]float64, ses.sub.HSize*ses.sub.VSize),
		Width:  ses.sub.HSize,
		Height: ses.sub.VSize,
	}
	ses.render, err = preview.NewRenderer(fullW, fullH, cfg.PreviewScale, cfg.PreviewQuality)
	if err != nil {
		return ses, wrap(ErrArm, err)
	}
	ses.limiter = rate.NewLimiter(rate.Every(cfg.PreviewInterval), 1)

	if cfg.ExternalTrigger {
		if err := s.sink.Begin(s.enabledROIs()); err != nil {
			s.log.Error(pkg+"could not begin logging run, acquiring without logging", "error", err)
		} else {
			ses.logging = true
		}
	}

	if err = dev.Setup(cfg.FramesPerChunk); err != nil {
		return ses, wrap(ErrArm, err)
	}
	if err = dev.Start(); err != nil {
		return ses, wrap(ErrArm, err)
	}

	s.mu.Lock()
	s.frameCount = 0
	s.fps = 0
	s.full = photometry.Stats{}
	s.sub = ses.sub
	s.cal = ses.cal
	s.logging = ses.logging
	s.runID = ""
	if ses.logging {
		s.runID = s.sink.RunID()
	}
	s.mu.Unlock()
	s.log.Info(pkg+"acquisition started", "subarray", fmt.Sprintf("%+v", ses.sub),
		"exposure", cfg.ExposureTime, "scanMode", cfg.ScanMode, "logging", ses.logging)
	return ses, nil
}

// setAttr programs an attribute, logging a failure as a degradation
func (s *Service) setAttr(dev camera.Device, a camera.Attribute, v float64) {
	if err := dev.SetAttribute(a, v); err != nil {
		s.log.Warning(pkg+"could not set camera attribute, using device default", "attribute", string(a), "value", v, "error", err)
	}
}

// calibration reads the conversion factors from the device, or falls back
func (s *Service) calibration(dev camera.Device, fallback photometry.Calibration) photometry.Calibration {
	coeff, err := dev.GetAttribute(camera.ConversionCoeff)
	if err == nil {
		var offset float64
		offset, err = dev.GetAttribute(camera.ConversionOffset)
		if err == nil {
			return photometry.Calibration{Coeff: coeff, Offset: offset}
		}
	}
	s.log.Warning(pkg+"could not read conversion factors, using defaults",
		"coeff", fallback.Coeff, "offset", fallback.Offset, "error", err)
	return fallback
}

// applyGeometry resolves the sub-array and programs it, falling back to the
// full sensor if the device rejects it
func (s *Service) applyGeometry(dev camera.Device, fullW, fullH int, cfg Config) geometry.Subarray {
	sub := geometry.Resolve(fullW, fullH, cfg.TopCropPercent, cfg.BottomCropPercent, cfg.RowStep)
	var err error
	if sub.Active {
		err = dev.SetSubarray(sub.AOI())
	} else {
		err = dev.ResetSubarray()
	}
	if err == nil {
		return sub
	}
	s.log.Warning(pkg+"sub-array rejected, reading out the full sensor", "subarray", fmt.Sprintf("%+v", sub), "error", err)
	if rerr := dev.ResetSubarray(); rerr != nil {
		s.log.Warning(pkg+"could not reset sub-array", "error", rerr)
	}
	return geometry.Full(fullW, fullH)
}

// release performs Stopping.  The device is stopped and closed whatever
// happened before.
func (s *Service) release(ses *session) {
	if s.State() != Stopping {
		s.setState(Stopping)
	}
	if err := ses.dev.Stop(); err != nil {
		s.log.Warning(pkg+"error stopping acquisition", "error", err)
	}
	if err := ses.dev.Close(); err != nil {
		s.log.Error(pkg+"error closing camera", "error", err)
	}
	if ses.logging {
		if err := s.sink.End(); err != nil {
			s.log.Error(pkg+"error closing log stores", "error", err)
		}
	}
	s.mu.Lock()
	s.logging = false
	s.fps = 0
	s.mu.Unlock()
	s.log.Info(pkg+"acquisition stopped", "frames", ses.count)
	s.setState(Idle)
}

// tick runs one iteration of the per-frame pipeline
func (s *Service) tick(ses *session) {
	if t, ok := s.takeExposure(); ok {
		s.setAttr(ses.dev, camera.ExposureTime, t)
	}

	err := ses.dev.WaitFrame(ses.cfg.FrameTimeout)
	if err != nil {
		if Classify(err) == SeverityRetry {
			s.timeouts.Add(1)
			return
		}
		s.errs.Add(1)
		s.log.Error(pkg+"acquisition error", "error", err)
		// keep a failing device from spinning the loop
		time.Sleep(ses.cfg.FrameTimeout)
		return
	}
	frame, err := ses.dev.ReadNewest()
	if err == nil && (frame.Width != ses.img.Width || frame.Height != ses.img.Height || len(frame.Pix) < len(ses.img.Pix)) {
		err = fmt.Errorf("frame is %dx%d with %d pixels, expected %dx%d",
			frame.Width, frame.Height, len(frame.Pix), ses.img.Width, ses.img.Height)
	}
	if err != nil {
		s.skipped.Add(1)
		s.log.Error(pkg+"skipping frame", "error", err)
		return
	}

	now := time.Now()
	var fps float64
	if ses.count > 0 {
		if dt := now.Sub(ses.prev).Seconds(); dt > 0 {
			fps = 1 / dt
		}
	}
	ses.prev = now

	ses.cal.Frame(ses.img.Pix, frame.Pix[:len(ses.img.Pix)])
	full := photometry.FrameStats(ses.img)

	s.mu.RLock()
	ses.active = ses.active[:0]
	for _, r := range s.rois {
		if r.Enabled {
			ses.active = append(ses.active, r)
		}
	}
	s.mu.RUnlock()
	ses.stats = ses.stats[:0]
	for _, r := range ses.active {
		ses.stats = append(ses.stats, photometry.RegionStats(ses.img, ses.sub.Clip(r.X, r.Y, r.Width, r.Height)))
	}

	index := ses.count + 1
	if ses.logging {
		if err := s.sink.Append(tslog.FullFrame, index, full); err != nil {
			s.skipped.Add(1)
			s.log.Error(pkg+"could not log frame, skipping it", "frame", index, "error", err)
			return
		}
		for i, r := range ses.active {
			if !s.sink.Has(r.Name) {
				continue
			}
			if err := s.sink.Append(r.Name, index, ses.stats[i]); err != nil {
				s.log.Error(pkg+"could not log ROI", "roi", r.Name, "frame", index, "error", err)
			}
		}
	}
	ses.count = index

	s.mu.Lock()
	s.frameCount = index
	s.fps = fps
	s.full = full
	for i, r := range ses.active {
		if _, ok := s.roiStats[r.Name]; ok {
			s.roiStats[r.Name] = ses.stats[i]
		}
	}
	s.mu.Unlock()

	if ses.limiter.AllowN(now, 1) {
		s.renderPreview(ses, index, now)
	}
}

// renderPreview renders and publishes the preview and keeps a snapshot of the
// calibrated frame
func (s *Service) renderPreview(ses *session, index int, now time.Time) {
	s.mu.RLock()
	ses.all = append(ses.all[:0], s.rois...)
	exposure := s.cfg.ExposureTime
	s.mu.RUnlock()

	snap := &Snapshot{
		Pix:         make([]float32, len(ses.img.Pix)),
		Width:       ses.img.Width,
		Height:      ses.img.Height,
		Subarray:    ses.sub,
		Calibration: ses.cal,
		FrameIndex:  index,
		Exposure:    exposure,
		Time:        now,
	}
	for i, v := range ses.img.Pix {
		snap.Pix[i] = float32(v)
	}

	b, err := ses.render.Render(ses.img, ses.sub, ses.all)
	s.mu.Lock()
	s.snap = snap
	if err == nil {
		s.preview = b
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Error(pkg+"could not render preview", "error", err)
	}
}
