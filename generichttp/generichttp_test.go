package generichttp_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/pecam/generichttp"
)

type teapot struct{}

func (teapot) Error() string   { return "short and stout" }
func (teapot) StatusCode() int { return http.StatusTeapot }

func TestGetFloat(t *testing.T) {
	h := generichttp.GetFloat(func() (float64, error) { return 1.25, nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"f64":1.25}`, w.Body.String())
}

func TestSetBoolBadBody(t *testing.T) {
	h := generichttp.SetBool(func(bool) error { return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("nope")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetStringStatusFromError(t *testing.T) {
	var got string
	h := generichttp.SetString(func(s string) error {
		got = s
		return teapot{}
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"str":"x"}`)))
	assert.Equal(t, "x", got)
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	generichttp.Error(w, errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouteTableBind(t *testing.T) {
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/a"}:  generichttp.GetInt(func() (int, error) { return 3, nil }),
		{Method: http.MethodPost, Path: "/a"}: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) },
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
	assert.JSONEq(t, `{"int":3}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/a", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	assert.JSONEq(t, `["GET /a","POST /a"]`, w.Body.String())
}

func TestSubMuxSanitize(t *testing.T) {
	assert.Equal(t, "/cam", generichttp.SubMuxSanitize("cam/"))
	assert.Equal(t, "/cam", generichttp.SubMuxSanitize("/cam"))
}
