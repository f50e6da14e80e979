package metric

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app"
	"github.com/anyproto/any-snapshot/app/logger"
)

const CName = "snapshot.metric"

var log = logger.NewNamed(CName)

func New() Metric {
	return new(metric)
}

type Config struct {
	Addr string `yaml:"addr"`
}

type configSource interface {
	GetMetric() Config
}

type Metric interface {
	Registry() *prometheus.Registry
	// Addr returns the address /metrics is served on, empty when serving is disabled
	Addr() string
	RequestLog(ctx context.Context, fields ...zap.Field)
	app.ComponentRunnable
}

type metric struct {
	registry *prometheus.Registry
	opLog    logger.CtxLogger
	config   Config
	server   *http.Server
	addr     string
}

func (m *metric) Init(a *app.App) (err error) {
	m.registry = prometheus.NewRegistry()
	m.config = a.MustComponent("config").(configSource).GetMetric()
	m.opLog = logger.NewNamed("snapshot.oplog")
	return m.registry.Register(newVersionCollector())
}

func (m *metric) Name() string {
	return CName
}

func (m *metric) Run(ctx context.Context) (err error) {
	if err = m.registry.Register(collectors.NewBuildInfoCollector()); err != nil {
		return err
	}
	if err = m.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if m.config.Addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return err
	}
	m.addr = lis.Addr().String()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metric server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", m.addr))
	return nil
}

func (m *metric) Registry() *prometheus.Registry {
	return m.registry
}

func (m *metric) Addr() string {
	return m.addr
}

func (m *metric) Close(ctx context.Context) (err error) {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
