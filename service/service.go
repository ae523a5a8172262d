package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-isorun/metrics"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config selects which servers run. An empty address disables a server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

// NewConfig builds a Config from the healthz address and the standard
// metrics CLI config.
func NewConfig(healthzAddr string, metricsCfg opmetrics.CLIConfig) Config {
	cfg := Config{HealthzAddr: healthzAddr}
	if metricsCfg.Enabled {
		cfg.MetricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}
	return cfg
}

type Service struct {
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config) *Service {
	s := &Service{
		cfg:     cfg,
		Healthz: &HealthzServer{},
		Metrics: &MetricsServer{},
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	if s.cfg.HealthzAddr == "" && s.cfg.MetricsAddr == "" {
		return
	}
	log.Info("service starting")

	if addr := s.cfg.HealthzAddr; addr != "" {
		go func() {
			log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("healthz_server", err)
			}
		}()
	}

	if addr := s.cfg.MetricsAddr; addr != "" {
		go func() {
			log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("metrics_server", err)
			}
		}()
	}

	log.Info("service started")
}

func (s *Service) Shutdown() {
	if s.cfg.HealthzAddr == "" && s.cfg.MetricsAddr == "" {
		return
	}
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	log.Info("service stopped")
}
