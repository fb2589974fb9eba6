// internal/server/timeouts.go
//
// *http.Server construction and graceful shutdown.
//
//   • ReadHeaderTimeout  – abort slow-loris headers
//   • ReadTimeout        – cap request body reads
//   • WriteTimeout       – cap total response time
//   • IdleTimeout        – close idle keep-alives
//
// Values come from config.HTTP, which already carries defaults.

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/config"
)

// New constructs an *http.Server from the HTTP config block.
func New(c config.HTTP, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              c.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: min(c.ReadTimeout, 5*time.Second),
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
		ErrorLog:          zap.NewStdLog(zap.L().Named("http")),
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to grace.  A clean shutdown returns nil.
func Run(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		zap.S().Infow("http listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	zap.S().Infow("http shutting down", "grace", grace)
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
