package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

const (
	telemetryPrefix = "/api/v1/telemetry"
	samplersPrefix  = "/api/v1/samplers"
)

// Router stdlib ServeMux wrapper
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers an http.Handler such as the metrics endpoint
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func method(want string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != want {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterTelemetryRoutes live state, ingest fallback and valve thresholds
func (r *Router) RegisterTelemetryRoutes(h *TelemetryHandler) {
	r.Handle(telemetryPrefix+"/snapshot", method(http.MethodGet, h.GetSnapshot))
	r.Handle(telemetryPrefix+"/sensors", method(http.MethodGet, h.ListSensors))
	r.Handle(telemetryPrefix+"/sensors/active", method(http.MethodGet, h.ListActiveSensors))
	r.Handle(telemetryPrefix+"/ingest", method(http.MethodPost, h.Ingest))

	r.Handle(telemetryPrefix+"/valve/thresholds", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.GetThresholds(w, req)
		case http.MethodPut:
			h.PutThresholds(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterSamplerRoutes per-user sampler control
func (r *Router) RegisterSamplerRoutes(h *SamplerHandler) {
	r.Handle(samplersPrefix, method(http.MethodGet, h.List))

	// {userId}, {userId}/stop, {userId}/reconfigure
	r.Handle(samplersPrefix+"/", func(w http.ResponseWriter, req *http.Request) {
		userID, action, ok := parseUserPath(req.URL.Path, samplersPrefix)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case action == "" && req.Method == http.MethodGet:
			h.Status(w, req, userID)
		case action == "" && req.Method == http.MethodPost:
			h.Start(w, req, userID)
		case action == "stop" && req.Method == http.MethodPost:
			h.Stop(w, req, userID)
		case action == "reconfigure" && req.Method == http.MethodPost:
			h.Reconfigure(w, req, userID)
		case action == "" || action == "stop" || action == "reconfigure":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}
