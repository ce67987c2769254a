// Package adminsrv is the admin/metrics HTTP surface of SPEC_FULL §2
// row 17: /healthz, /metrics, and /debug/pprof, entirely separate
// from the wire-level data and Cockpit admin paths — this is an
// ambient operational concern, not part of the spec's subscribe or
// publish surface.
//
// Grounded on the teacher's cmd/cc-backend/server.go: a gorilla/mux
// Router with gorilla/handlers middleware (CORS, compression,
// recovery, access logging), but serving health/metrics/pprof instead
// of the teacher's GraphQL/REST/web-frontend routes.
package adminsrv

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketfeed/rtcore/internal/rtlog"
)

// HealthFunc reports the current aggregate health of the process;
// returning a non-nil error marks /healthz unhealthy with the error
// text in the JSON body.
type HealthFunc func() error

// Server is the admin/metrics HTTP listener.
type Server struct {
	addr   string
	router *mux.Router
	http   *http.Server
}

// New builds a Server listening on addr, exposing reg's metrics at
// /metrics, health's result at /healthz, and net/http/pprof's
// standard handlers under /debug/pprof.
func New(addr string, reg prometheus.Gatherer, health HealthFunc) *Server {
	router := mux.NewRouter()

	router.Handle("/healthz", healthHandler(health)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.HandleFunc("", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").Handler(http.DefaultServeMux)

	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	logged := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		rtlog.Debugf("adminsrv: %s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(), params.StatusCode,
			time.Since(params.TimeStamp).Milliseconds())
	})

	return &Server{
		addr:   addr,
		router: router,
		http:   &http.Server{Addr: addr, Handler: logged},
	}
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health == nil {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}
		if err := health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ListenAndServe blocks serving admin traffic until the listener
// fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	rtlog.Infof("adminsrv: listening on %s", s.addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the admin server at once: it closes the listener and
// every open connection without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.http.Close()
}
