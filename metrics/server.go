package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/logging"
)

// Server serves /metrics for one Metrics set.
type Server struct {
	logger   logging.Logger
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer listens on addr. Use ":0" to pick a free port.
func NewServer(addr string, m *Metrics, logger logging.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %q", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		logger:   logger,
		listener: listener,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	s.logger.Infof("serving metrics at http://%s/metrics", s.listener.Addr())
	goutils.PanicCapturingGo(func() {
		defer close(s.done)
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("metrics server stopped", "error", err)
		}
	})
}

// Shutdown stops the server and waits for Start's goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}
