// Package roi defines regions of interest on the sensor and their persisted
// form.
package roi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ROI is a named rectangle in full-sensor coordinates
type ROI struct {
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Enabled bool   `json:"enabled"`
}

// Prefix is the prefix of generated ROI names
const Prefix = "ROI"

// Default returns a new enabled ROI with the default geometry
func Default(name string) ROI {
	return ROI{Name: name, X: 0, Y: 0, Width: 100, Height: 100, Enabled: true}
}

// Serial returns the numeric suffix of a generated name, or 0 if name was not
// generated by Name
func Serial(name string) int {
	if !strings.HasPrefix(name, Prefix) {
		return 0
	}
	n, err := strconv.Atoi(name[len(Prefix):])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Name returns the generated name with serial n
func Name(n int) string {
	return Prefix + strconv.Itoa(n)
}

// Validate checks that an ROI has a name and positive size
func (r ROI) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("roi: empty name")
	}
	if r.Width < 1 || r.Height < 1 {
		return fmt.Errorf("roi: %s: width and height must be >= 1, got %dx%d", r.Name, r.Width, r.Height)
	}
	return nil
}

// Store persists the ordered set of ROIs
type Store interface {
	Load() ([]ROI, error)
	Save([]ROI) error
}

// FileStore is a Store backed by a JSON file.  A missing file loads as an
// empty set.
type FileStore struct {
	Path string
}

// Load reads the file
func (f FileStore) Load() ([]ROI, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "roi: reading definitions")
	}
	var rois []ROI
	if err := json.Unmarshal(b, &rois); err != nil {
		return nil, errors.Wrapf(err, "roi: decoding %s", f.Path)
	}
	return rois, nil
}

// Save writes the set to a temporary file and renames it over Path, so a
// reader never sees a partial file
func (f FileStore) Save(rois []ROI) error {
	if rois == nil {
		rois = []ROI{}
	}
	b, err := json.MarshalIndent(rois, "", "  ")
	if err != nil {
		return errors.Wrap(err, "roi: encoding definitions")
	}
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".rois-*.json")
	if err != nil {
		return errors.Wrap(err, "roi: creating temporary file")
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "roi: writing definitions")
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "roi: syncing definitions")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "roi: closing definitions")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.Path), "roi: replacing definitions")
}

// MemStore is an in-memory Store
type MemStore struct {
	ROIs []ROI

	// Err, if not nil, is returned by Save and Load
	Err error

	// Saves counts calls to Save
	Saves int
}

// Load returns a copy of the stored set
func (m *MemStore) Load() ([]ROI, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]ROI(nil), m.ROIs...), nil
}

// Save replaces the stored set
func (m *MemStore) Save(rois []ROI) error {
	m.Saves++
	if m.Err != nil {
		return m.Err
	}
	m.ROIs = append([]ROI(nil), rois...)
	return nil
}
