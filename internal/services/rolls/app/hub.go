package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/grouproll/internal/platform/grpc"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport/wsrelay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HubConfig configures a HubServer.
type HubConfig struct {
	HTTPAddr string
	// GRPCAddr serves the standard health service; empty disables it.
	GRPCAddr          string
	Store             artifact.Store
	FrameRate         int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *zerolog.Logger
}

// HubServer hosts the websocket relay, the metrics endpoint and the gRPC
// health service.
type HubServer struct {
	hub             *wsrelay.Hub
	httpServer      *http.Server
	httpListener    net.Listener
	health          *platformgrpc.HealthServer
	grpcListener    net.Listener
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewHubServer binds the configured listeners. Callers must Serve or Close.
func NewHubServer(cfg HubConfig) (*HubServer, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	hub, err := wsrelay.NewHub(wsrelay.HubConfig{Store: cfg.Store, FrameRate: cfg.FrameRate, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("build relay hub: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", hub.Handler())

	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen http on %s: %w", httpAddr, err)
	}
	s := &HubServer{
		hub:          hub,
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          platformlog.OrComponent(cfg.Logger, "hub"),
	}
	if grpcAddr := strings.TrimSpace(cfg.GRPCAddr); grpcAddr != "" {
		grpcListener, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = httpListener.Close()
			return nil, fmt.Errorf("listen grpc on %s: %w", grpcAddr, err)
		}
		s.grpcListener = grpcListener
		s.health = platformgrpc.NewHealthServer()
	}
	return s, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *HubServer) HTTPAddr() string {
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound health address, or "" when disabled.
func (s *HubServer) GRPCAddr() string {
	if s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Hub exposes the relay.
func (s *HubServer) Hub() *wsrelay.Hub {
	return s.hub
}

// Serve runs every surface until ctx ends, then shuts them down.
func (s *HubServer) Serve(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(gctx)
	})
	if s.health != nil {
		s.health.SetServing(true)
		g.Go(func() error {
			return s.health.Serve(gctx, s.grpcListener)
		})
	}
	g.Go(func() error {
		serveErr := make(chan error, 1)
		s.logger.Info().Str("addr", s.HTTPAddr()).Msg("hub listening")
		go func() {
			serveErr <- s.httpServer.Serve(s.httpListener)
		}()
		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			err := s.httpServer.Shutdown(shutdownCtx)
			cancel()
			s.hub.Close()
			if err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		case err := <-serveErr:
			s.hub.Close()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve http: %w", err)
		}
	})
	return g.Wait()
}

// Close releases the listeners when Serve was never called.
func (s *HubServer) Close() {
	s.hub.Close()
	_ = s.httpListener.Close()
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
}
