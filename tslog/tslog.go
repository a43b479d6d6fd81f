/*Package tslog writes the photoelectron time series of a logging run.

A run has one store for the full frame and one per region of interest that
was enabled when the run began.  Each store is a SQLite database in the log
directory holding three parallel columns (frame index, total, per-pixel mean)
and, for regions, the geometry of the region at the start of the run.

Every Append is committed before it returns; nothing is buffered across
frames.
*/
package tslog

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/roi"
)

const pkg = "tslog: "

// FullFrame is the target name of the full-frame store
const FullFrame = "full_frame"

// Ext is the file extension of a store
const Ext = ".sqlite"

// ErrNotActive is returned by Append outside of a run
var ErrNotActive = errors.New("tslog: no logging run active")

// ErrNoTarget is returned by Append for a target without a store in this run
var ErrNoTarget = errors.New("tslog: target has no store in this run")

const schema = `
	CREATE TABLE meta (
		run_id   TEXT NOT NULL,
		target   TEXT NOT NULL,
		x        INTEGER,
		y        INTEGER,
		width    INTEGER,
		height   INTEGER,
		created  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE records (
		frame_index              INTEGER NOT NULL,
		photoelectron_count      REAL NOT NULL,
		photoelectron_counts_pp  REAL NOT NULL
	);
`

// FileName returns the file name of the store for a target
func FileName(target string) string {
	if target == FullFrame {
		return FullFrame + Ext
	}
	r := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_")
	return "roi_" + r.Replace(target) + Ext
}

type store struct {
	db   *sql.DB
	ins  *sql.Stmt
	path string
}

func (s *store) close() error {
	var err error
	if s.ins != nil {
		err = s.ins.Close()
	}
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sink owns the stores of the current run.  It is not safe for concurrent use;
// one goroutine owns it from Begin to End.
type Sink struct {
	dir    string
	log    logging.Logger
	runID  string
	stores map[string]*store
}

// NewSink returns a Sink writing into dir
func NewSink(dir string, l logging.Logger) *Sink {
	return &Sink{dir: dir, log: l}
}

// Dir is the directory stores are written to
func (s *Sink) Dir() string {
	return s.dir
}

// Active reports if a run is in progress
func (s *Sink) Active() bool {
	return s.stores != nil
}

// RunID is the identifier of the current or last run
func (s *Sink) RunID() string {
	return s.runID
}

// Has reports if target has a store in the current run
func (s *Sink) Has(target string) bool {
	_, ok := s.stores[target]
	return ok
}

// Path returns the path of the store for target
func (s *Sink) Path(target string) string {
	return filepath.Join(s.dir, FileName(target))
}

// Begin starts a run with the full frame and each of rois as targets.  Any
// existing store for a target is removed first; a run still in progress is
// ended.  If any store cannot be created the run is abandoned.
func (s *Sink) Begin(rois []roi.ROI) error {
	if s.Active() {
		if err := s.End(); err != nil {
			s.log.Warning(pkg+"error ending previous run", "error", err)
		}
	}
	if err := os.MkdirAll(s.dir, 0777); err != nil {
		return errors.Wrap(err, pkg+"creating log directory")
	}
	s.runID = uuid.NewString()
	s.stores = make(map[string]*store, len(rois)+1)

	if err := s.create(FullFrame, nil); err != nil {
		s.abandon()
		return err
	}
	for i := range rois {
		if err := s.create(rois[i].Name, &rois[i]); err != nil {
			s.abandon()
			return err
		}
	}
	s.log.Info(pkg+"logging run started", "run", s.runID, "targets", len(s.stores), "dir", s.dir)
	return nil
}

func (s *Sink) create(target string, r *roi.ROI) error {
	path := s.Path(target)
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		err := os.Remove(path + suffix)
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, pkg+"truncating %s", path)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return errors.Wrapf(err, pkg+"opening %s", path)
	}
	db.SetMaxOpenConns(1)
	st := &store{db: db, path: path}

	_, err = db.Exec(`PRAGMA journal_mode=DELETE; PRAGMA synchronous=FULL;`)
	if err == nil {
		_, err = db.Exec(schema)
	}
	if err == nil {
		if r == nil {
			_, err = db.Exec(`INSERT INTO meta (run_id, target) VALUES (?, ?)`, s.runID, target)
		} else {
			_, err = db.Exec(`INSERT INTO meta (run_id, target, x, y, width, height) VALUES (?, ?, ?, ?, ?, ?)`,
				s.runID, target, r.X, r.Y, r.Width, r.Height)
		}
	}
	if err == nil {
		st.ins, err = db.Prepare(`INSERT INTO records (frame_index, photoelectron_count, photoelectron_counts_pp) VALUES (?, ?, ?)`)
	}
	if err != nil {
		st.close()
		return errors.Wrapf(err, pkg+"creating %s", path)
	}
	s.stores[target] = st
	return nil
}

func (s *Sink) abandon() {
	for _, st := range s.stores {
		st.close()
	}
	s.stores = nil
}

// Append durably writes one record to target's store
func (s *Sink) Append(target string, frameIndex int, st photometry.Stats) error {
	if !s.Active() {
		return ErrNotActive
	}
	ts, ok := s.stores[target]
	if !ok {
		return errors.Wrap(ErrNoTarget, target)
	}
	_, err := ts.ins.Exec(frameIndex, st.Total, st.Mean)
	return errors.Wrapf(err, pkg+"appending to %s", ts.path)
}

// End closes every store of the run.  It is a no-op outside a run.
func (s *Sink) End() error {
	if !s.Active() {
		return nil
	}
	var first error
	for target, st := range s.stores {
		if err := st.close(); err != nil && first == nil {
			first = errors.Wrapf(err, pkg+"closing %s", target)
		}
	}
	s.log.Info(pkg+"logging run ended", "run", s.runID)
	s.stores = nil
	return first
}

// Record is one row of a store
type Record struct {
	FrameIndex int
	Total      float64
	Mean       float64
}

// Log is the contents of one store
type Log struct {
	RunID  string
	Target string

	// Geometry is the region at the start of the run, nil for the full frame
	Geometry *roi.ROI

	Records []Record
}

// ReadFile reads a store written by a Sink
func ReadFile(path string) (Log, error) {
	var out Log
	if _, err := os.Stat(path); err != nil {
		return out, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return out, err
	}
	defer db.Close()

	var x, y, w, h sql.NullInt64
	err = db.QueryRow(`SELECT run_id, target, x, y, width, height FROM meta LIMIT 1`).
		Scan(&out.RunID, &out.Target, &x, &y, &w, &h)
	if err != nil {
		return out, errors.Wrapf(err, pkg+"reading meta of %s", path)
	}
	if x.Valid {
		out.Geometry = &roi.ROI{Name: out.Target, X: int(x.Int64), Y: int(y.Int64),
			Width: int(w.Int64), Height: int(h.Int64)}
	}

	rows, err := db.Query(`SELECT frame_index, photoelectron_count, photoelectron_counts_pp FROM records ORDER BY rowid`)
	if err != nil {
		return out, errors.Wrapf(err, pkg+"reading records of %s", path)
	}
	defer rows.Close()
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.FrameIndex, &r.Total, &r.Mean); err != nil {
			return out, err
		}
		out.Records = append(out.Records, r)
	}
	return out, rows.Err()
}
