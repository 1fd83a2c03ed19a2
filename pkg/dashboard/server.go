// Package dashboard serves the fleet view over HTTP for the desktop
// dashboard and the battfleet CLI.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battfleet/pkg/events"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/job"
)

// UnixPrefix marks a listen address as a unix socket path.
const UnixPrefix = "unix://"

// Options configures a Server.
type Options struct {
	// MinHealth is the default alert threshold.
	MinHealth int
	// Title is used by the HTML report.
	Title string
	// RefreshInterval refreshes the view periodically. Zero disables it.
	RefreshInterval time.Duration
	// Scheduler, if set, is exposed on /schedule.
	Scheduler *job.Scheduler
	// SocketMode is applied to a unix socket after it is created.
	SocketMode os.FileMode
}

// Server is the dashboard HTTP server.
type Server struct {
	view   *fleet.View
	hub    *events.Hub
	opts   Options
	router *gin.Engine
}

func NewServer(view *fleet.View, hub *events.Hub, opts Options) *Server {
	if opts.Title == "" {
		opts.Title = "Mac battery health"
	}
	if opts.SocketMode == 0 {
		opts.SocketMode = 0700
	}

	s := &Server{
		view: view,
		hub:  hub,
		opts: opts,
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLog(logrus.StandardLogger()))

	router.GET("/rows", s.getRows)
	router.GET("/summary", s.getSummary)
	router.POST("/refresh", s.postRefresh)
	router.GET("/export.csv", s.getCSV)
	router.GET("/report.html", s.getReport)
	router.GET("/events", s.getEvents)
	router.GET("/schedule", s.getSchedule)
	router.GET("/version", getVersion)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen opens addr, which is either a host:port or UnixPrefix followed by
// a socket path. A stale socket file is removed first.
func (s *Server) Listen(addr string) (net.Listener, error) {
	if !strings.HasPrefix(addr, UnixPrefix) {
		return net.Listen("tcp", addr)
	}

	path := strings.TrimPrefix(addr, UnixPrefix)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, s.opts.SocketMode); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Serve serves on l until ctx is done, then shuts down gracefully. The view
// is refreshed once at startup and then every RefreshInterval.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.refreshLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
		return err
	}
	return nil
}

func (s *Server) refreshLoop(ctx context.Context) {
	refresh := func() {
		if err := s.view.Refresh(ctx); err != nil && !errors.Is(err, fleet.ErrStale) && ctx.Err() == nil {
			logrus.WithError(err).Error("background refresh failed")
		}
	}

	refresh()
	if s.opts.RefreshInterval <= 0 {
		return
	}

	t := time.NewTicker(s.opts.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}
