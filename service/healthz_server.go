package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// PhaseFunc reports what the orchestrator is doing right now.
type PhaseFunc func() string

type HealthzServer struct {
	ctx    context.Context
	server *http.Server
	phase  PhaseFunc
	log    log.Logger
}

func NewHealthzServer(lgr log.Logger, phase PhaseFunc) *HealthzServer {
	if lgr == nil {
		lgr = log.Root()
	}
	return &HealthzServer{phase: phase, log: lgr}
}

// Handler returns the routed handler without binding a listener.
func (h *HealthzServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Handle).Methods(http.MethodGet)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	h.server = &http.Server{
		Handler: h.Handler(),
		Addr:    addr,
	}
	h.ctx = ctx
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

type healthzResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase,omitempty"`
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	resp := healthzResponse{Status: "OK"}
	if h.phase != nil {
		resp.Phase = h.phase()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
