package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProbe_OnlineOnAnyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, time.Second)
	assert.True(t, p.Online(context.Background()))
}

func TestHTTPProbe_OfflineWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := NewHTTPProbe(srv.URL, time.Second)
	assert.False(t, p.Online(context.Background()))
}

func TestHTTPProbe_OfflineOnTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p := NewHTTPProbe(srv.URL, 20*time.Millisecond)
	assert.False(t, p.Online(context.Background()))
}

func TestAlways(t *testing.T) {
	assert.True(t, Always(true).Online(context.Background()))
	assert.False(t, Always(false).Online(context.Background()))
}
