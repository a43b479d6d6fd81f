package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/pecam/generichttp"
	"github.com/nasa-jpl/pecam/server/middleware/locker"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func TestLockerRejectsMutationsWhileLocked(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	rt := table{
		{Method: http.MethodGet, Path: "/x"}:  ok,
		{Method: http.MethodPost, Path: "/x"}: ok,
	}
	l := locker.New()
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)

	do := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/x", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lock", `{"bool":true}`))
	assert.True(t, l.Locked())
	assert.Equal(t, http.StatusLocked, do(http.MethodPost, "/x", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/x", ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	assert.JSONEq(t, `{"bool":true}`, w.Body.String())

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lock", `{"bool":false}`))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/x", ""))
}

func TestLockerHolder(t *testing.T) {
	l := locker.New()
	rt := table{{Method: http.MethodPost, Path: "/x"}: func(w http.ResponseWriter, r *http.Request) {}}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true,"user":"alice"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	h := l.Holder()
	assert.True(t, h.Locked)
	assert.Equal(t, "alice", h.User)
	assert.False(t, h.Since.IsZero())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Contains(t, w.Body.String(), "locked by alice")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lock/holder", nil))
	assert.Contains(t, w.Body.String(), `"user":"alice"`)

	l.Unlock()
	assert.Equal(t, locker.Holder{}, l.Holder())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
