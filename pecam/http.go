package pecam

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"io"
	"net/http"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/ausocean/utils/logging"
	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"github.com/nasa-jpl/pecam/generichttp"
	"github.com/nasa-jpl/pecam/imgrec"
	"github.com/nasa-jpl/pecam/roi"
	"github.com/nasa-jpl/pecam/util"
)

// HTTPWrapper provides an HTTP interface to a Service
type HTTPWrapper struct {
	// Service is the service being wrapped
	*Service

	// StreamInterval is the period of /status/stream messages
	StreamInterval time.Duration

	rec *imgrec.Recorder
	log logging.Logger

	RouteTable generichttp.RouteTable
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewHTTPWrapper returns a new wrapper with the route table populated.  If
// rec is not nil, its /autowrite routes are injected and fetched snapshots
// are recorded while it is enabled.
func NewHTTPWrapper(s *Service, rec *imgrec.Recorder, l logging.Logger) HTTPWrapper {
	w := HTTPWrapper{Service: s, StreamInterval: time.Second, rec: rec, log: l}
	get := func(p string) generichttp.MethodPath { return generichttp.MethodPath{Method: http.MethodGet, Path: p} }
	post := func(p string) generichttp.MethodPath { return generichttp.MethodPath{Method: http.MethodPost, Path: p} }
	w.RouteTable = generichttp.RouteTable{
		// acquisition parameters
		get("/exposure-time"):      generichttp.GetFloat(noErr(s.ExposureTime)),
		post("/exposure-time"):     w.SetExposureTime,
		get("/external-trigger"):   generichttp.GetBool(noErrBool(s.ExternalTrigger)),
		post("/external-trigger"):  generichttp.SetBool(s.SetExternalTrigger),
		get("/crop/top"):           generichttp.GetFloat(noErr(s.TopCropPercent)),
		post("/crop/top"):          generichttp.SetFloat(s.SetTopCropPercent),
		get("/crop/bottom"):        generichttp.GetFloat(noErr(s.BottomCropPercent)),
		post("/crop/bottom"):       generichttp.SetFloat(s.SetBottomCropPercent),
		get("/scan-mode"):          generichttp.GetString(func() (string, error) { return s.ScanMode(), nil }),
		post("/scan-mode"):         generichttp.SetString(s.SetScanMode),
		get("/scan-mode/options"):  w.GetScanModes,

		// session
		post("/start"):        w.Start,
		post("/stop"):         w.Stop,
		get("/state"):         generichttp.GetString(func() (string, error) { return s.State().String(), nil }),
		get("/status"):        w.GetStatus,
		get("/status/stream"): w.StreamStatus,

		// readouts
		get("/photoelectrons"):    generichttp.GetFloat(noErr(s.Photoelectrons)),
		get("/photoelectrons-pp"): generichttp.GetFloat(noErr(s.PhotoelectronsPP)),
		get("/fps"):               generichttp.GetFloat(noErr(s.FPS)),
		get("/frame-count"):       generichttp.GetInt(func() (int, error) { return s.FrameCount(), nil }),
		get("/preview"):           w.GetPreview,
		get("/frame"):             w.GetFrame,

		// regions of interest
		get("/roi"):                 w.ListROIs,
		post("/roi"):                w.AddROI,
		get("/roi/{name}"):          w.GetROI,
		post("/roi/{name}"):         w.UpdateROI,
		{Method: http.MethodDelete, Path: "/roi/{name}"}: w.DeleteROI,
		get("/roi/{name}/enabled"):  w.GetROIEnabled,
		post("/roi/{name}/enabled"): w.SetROIEnabled,
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(w)
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func noErr(f func() float64) func() (float64, error) {
	return func() (float64, error) { return f(), nil }
}

func noErrBool(f func() bool) func() (bool, error) {
	return func() (bool, error) { return f(), nil }
}

// SetExposureTime sets the exposure time from the exposureTime query
// parameter in any time-looking format, such as "25ms", or from a JSON body
// of {"f64": seconds}
func (h HTTPWrapper) SetExposureTime(w http.ResponseWriter, r *http.Request) {
	texp := r.URL.Query().Get("exposureTime")
	if texp == "" {
		generichttp.SetFloat(h.Service.SetExposureTime)(w, r)
		return
	}
	d, err := util.ParseDuration(texp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Service.SetExposureTime(d.Seconds()); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetScanModes returns the scan mode names as a JSON array
func (h HTTPWrapper) GetScanModes(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Service.ScanModes())
}

// Start starts acquisition
func (h HTTPWrapper) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Start(); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop stops acquisition
func (h HTTPWrapper) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Stop(); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetStatus returns the full status as JSON
func (h HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Service.Status())
}

// StreamStatus upgrades to a websocket and sends the status every
// StreamInterval until the client goes away
func (h HTTPWrapper) StreamStatus(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warning(pkg+"websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tick := time.NewTicker(h.StreamInterval)
	defer tick.Stop()
	for {
		conn.SetWriteDeadline(time.Now().Add(h.StreamInterval + time.Second))
		if err := conn.WriteJSON(h.Service.Status()); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(pkg+"status stream ended", "error", err)
			}
			return
		}
		select {
		case <-gone:
			return
		case <-tick.C:
		}
	}
}

// GetPreview returns the latest preview JPEG
func (h HTTPWrapper) GetPreview(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Preview()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// snapshotCards returns the FITS header cards describing a snapshot
func snapshotCards(s Snapshot) []fitsio.Card {
	return []fitsio.Card{
		{Name: "BUNIT", Value: "photoelectrons", Comment: "pixel unit"},
		{Name: "FRAMEIDX", Value: s.FrameIndex, Comment: "frame index within the session"},
		{Name: "EXPTIME", Value: s.Exposure, Comment: "exposure time, sec"},
		{Name: "DATE-OBS", Value: s.Time.UTC().Format(time.RFC3339Nano), Comment: "time the frame was processed"},
		{Name: "HPOS", Value: s.Subarray.HPos, Comment: "sub-array left column"},
		{Name: "VPOS", Value: s.Subarray.VPos, Comment: "sub-array top row"},
		{Name: "SUBARRAY", Value: s.Subarray.Active, Comment: "sub-array readout active"},
		{Name: "PECOEFF", Value: s.Calibration.Coeff, Comment: "photoelectrons per count"},
		{Name: "PEOFFSET", Value: s.Calibration.Offset, Comment: "count offset"},
	}
}

// GetFrame returns the calibrated frame kept at the last preview tick as a
// FITS file.  fmt may be given as a query parameter and must be fits.
func (h HTTPWrapper) GetFrame(w http.ResponseWriter, r *http.Request) {
	if f := r.URL.Query().Get("fmt"); f != "" && f != "fits" {
		http.Error(w, fmt.Sprintf("unsupported format %q, only fits is available", f), http.StatusBadRequest)
		return
	}
	snap, err := h.Service.Snapshot()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	var buf bytes.Buffer
	if err = imgrec.WriteFits(&buf, snapshotCards(snap), snap.Pix, snap.Width, snap.Height); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.rec != nil && h.rec.Active() {
		if fn, err := h.rec.Record(buf.Bytes()); err != nil {
			h.log.Warning(pkg+"could not record snapshot", "error", err)
		} else {
			h.log.Debug(pkg+"recorded snapshot", "file", fn)
		}
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=image.fits")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ListROIs returns every ROI with its statistics
func (h HTTPWrapper) ListROIs(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Service.Status().ROIs)
}

// AddROI adds an ROI.  A JSON body may give its geometry and enabled flag.
func (h HTTPWrapper) AddROI(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	g := roi.Default("")
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	nr, err := h.Service.AddROIWith(g)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	st, err := h.Service.ROI(nr.Name)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, st)
}

// GetROI returns one ROI with its statistics
func (h HTTPWrapper) GetROI(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.ROI(chi.URLParam(r, "name"))
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, st)
}

// UpdateROI changes the geometry or enabled flag of an ROI.  Fields missing
// from the JSON body keep their value.
func (h HTTPWrapper) UpdateROI(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	name := chi.URLParam(r, "name")
	cur, err := h.Service.ROI(name)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	g := cur.ROI
	if err = json.NewDecoder(r.Body).Decode(&g); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Service.UpdateROI(name, g); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteROI deletes an ROI
func (h HTTPWrapper) DeleteROI(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteROI(chi.URLParam(r, "name")); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetROIEnabled returns the enabled flag of an ROI
func (h HTTPWrapper) GetROIEnabled(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.ROI(chi.URLParam(r, "name"))
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Bool, Bool: st.Enabled}
	hp.EncodeAndRespond(w, r)
}

// SetROIEnabled sets the enabled flag of an ROI from {"bool": value}
func (h HTTPWrapper) SetROIEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	generichttp.SetBool(func(b bool) error { return h.Service.SetROIEnabled(name, b) })(w, r)
}
