package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const (
	DefaultShutdownTimeout = 10 * time.Second

	ServerTag = "server"

	entitiesPath = "/entities/"
)

// Server is an HTTP server with the name it is logged under.
type Server struct {
	Name string
	*http.Server
}

// ListenAndServe runs the servers until ctx is done. Servers are then given
// timeout to drain their connections before being closed. It returns the
// first error that stopped a server, once every server stopped.
func ListenAndServe(ctx context.Context, timeout time.Duration, servers ...Server) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logs.WithTag(ServerTag, s.Name).
					Warn(errors.New("graceful shutdown failed").
						WithTag("addr", s.Addr).
						WithTag("timeout", timeout).
						Wrap(err))
				s.Close()
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		errMutex sync.Mutex
		firstErr error
	)

	for _, s := range servers {
		wg.Add(1)

		go func(s Server) {
			defer wg.Done()

			logs.WithTag(ServerTag, s.Name).
				WithTag("addr", s.Addr).
				Info("starting server")

			err := s.ListenAndServe()
			if err == nil || err == http.ErrServerClosed {
				logs.WithTag(ServerTag, s.Name).Info("server stopped")
				return
			}

			err = errors.New("server stopped").
				WithTag(ServerTag, s.Name).
				WithTag("addr", s.Addr).
				Wrap(err)
			logs.Error(err)

			errMutex.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMutex.Unlock()
		}(s)
	}

	wg.Wait()
	return firstErr
}

// MetricsPathFormatter drops the paths of requests that did not reach a
// handler and folds entity ids into a single label.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed:
		return ""
	}

	if strings.HasPrefix(path, entitiesPath) && len(path) > len(entitiesPath) {
		return entitiesPath + "{id}"
	}
	return path
}
