// Package locker provides an HTTP middleware which allows an HTTPHandler to be
// locked, returning 423 (locked) to requests that would change it.
//
// A lock may name its holder, so that people sharing a camera can see who is
// in the middle of a measurement and since when.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/pecam/generichttp"
)

// Inject adds the lock routes to a generichttp.HTTPer
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock/holder"}] = l.HTTPHolder
}

// Holder describes the current lock
type Holder struct {
	Locked bool      `json:"locked"`
	User   string    `json:"user,omitempty"`
	Since  time.Time `json:"since"`
}

// Locker is a non-blocking lock over an HTTP surface.  While locked, requests
// which can mutate state (anything but GET and HEAD) are rejected unless their
// path contains one of DoNotProtect.
type Locker struct {
	mu     sync.RWMutex
	holder Holder

	// DoNotProtect is a list of path fragments not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock locks without naming a holder
func (l *Locker) Lock() {
	l.LockAs("")
}

// LockAs locks on behalf of user.  Locking an already locked Locker changes
// the holder.
func (l *Locker) LockAs(user string) {
	l.mu.Lock()
	l.holder = Holder{Locked: true, User: user, Since: time.Now()}
	l.mu.Unlock()
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.holder = Holder{}
	l.mu.Unlock()
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.Holder().Locked
}

// Holder returns who holds the lock
func (l *Locker) Holder() Holder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holder
}

func (l *Locker) protects(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	for _, frag := range l.DoNotProtect {
		if strings.Contains(r.URL.Path, frag) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that answers http.StatusLocked to protected
// requests while locked, and otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := l.Holder(); h.Locked && l.protects(r) {
			msg := "locked"
			if h.User != "" {
				msg += " by " + h.User
			}
			http.Error(w, msg, http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// lockRequest is the body of POST /lock, {"bool": true, "user": "me"}
type lockRequest struct {
	Bool bool   `json:"bool"`
	User string `json:"user"`
}

// HTTPSet locks or unlocks based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req := lockRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Bool {
		l.LockAs(req.User)
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

// HTTPHolder returns the Holder as JSON
func (l *Locker) HTTPHolder(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, l.Holder())
}
