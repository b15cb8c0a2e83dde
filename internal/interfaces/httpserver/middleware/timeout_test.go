package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutMiddlewarePassesFastHandler(t *testing.T) {
	handler := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}

func TestTimeoutMiddlewareSuppressesLateWrite(t *testing.T) {
	released := make(chan struct{})
	wrote := make(chan error, 1)
	handler := TimeoutMiddleware(10*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-released
		_, err := w.Write([]byte("too late"))
		wrote <- err
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	close(released)
	assert.ErrorIs(t, <-wrote, http.ErrHandlerTimeout)
	assert.NotContains(t, rec.Body.String(), "too late")
}

func TestTimeoutMiddlewareKeepsHandlerResponseOnRace(t *testing.T) {
	started := make(chan struct{})
	handler := TimeoutMiddleware(10*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	}))

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		close(done)
	}()

	<-started
	<-done

	// The handler committed a status first, so the timeout response
	// must not overwrite it.
	assert.Equal(t, http.StatusOK, rec.Code)
}
