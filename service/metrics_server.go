package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsServer struct {
	ctx    context.Context
	server *http.Server
}

func (m *MetricsServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	m.server = &http.Server{
		Handler: m.Handler(),
		Addr:    addr,
	}
	m.ctx = ctx
	return m.server.ListenAndServe()
}

func (m *MetricsServer) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(m.ctx)
}
