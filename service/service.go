package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum-optimism/infra/op-fitnesse/metrics"
	"github.com/ethereum/go-ethereum/log"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080
)

// Config selects the listen addresses. The metrics endpoint is only
// served when MetricsEnabled is set.
type Config struct {
	HealthzAddr    string
	HealthzPort    int
	MetricsEnabled bool
	MetricsAddr    string
	MetricsPort    int
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	cfg Config
	log log.Logger
}

func New(cfg Config, lgr log.Logger, phase PhaseFunc) *Service {
	if lgr == nil {
		lgr = log.Root()
	}
	if cfg.HealthzAddr == "" {
		cfg.HealthzAddr = HealthzHost
	}
	if cfg.HealthzPort == 0 {
		cfg.HealthzPort = HealthzPort
	}
	s := &Service{
		Healthz: NewHealthzServer(lgr, phase),
		cfg:     cfg,
		log:     lgr,
	}
	if cfg.MetricsEnabled {
		s.Metrics = &MetricsServer{}
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	go func() {
		addr := net.JoinHostPort(s.cfg.HealthzAddr, strconv.Itoa(s.cfg.HealthzPort))
		s.log.Info("starting healthz server", "addr", addr)
		if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("healthz", err)
		}
	}()

	if s.Metrics != nil {
		go func() {
			addr := net.JoinHostPort(s.cfg.MetricsAddr, strconv.Itoa(s.cfg.MetricsPort))
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("metrics_server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	if s.Metrics != nil {
		_ = s.Metrics.Shutdown()
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
}
