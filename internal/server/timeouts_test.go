package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caresuite/hospital/internal/config"
)

func TestNew(t *testing.T) {
	srv := New(config.HTTP{
		ListenAddr:   "127.0.0.1:0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  time.Minute,
	}, http.NotFoundHandler())

	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.NotNil(t, srv.ErrorLog)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := New(config.HTTP{ListenAddr: "127.0.0.1:0", ReadTimeout: time.Second}, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
