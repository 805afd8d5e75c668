// Package api is the control-plane HTTP surface: backend self-registration,
// a read-only view of the routing table, health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"github.com/Suhaibinator/CraftRouter/internal/routing"
	"github.com/Suhaibinator/CraftRouter/sdk/hooks"
)

// RegisterResponse is the body returned by a successful registration.
type RegisterResponse struct {
	Hostname string `json:"hostname"`
	Backend  string `json:"backend"`
}

type handler struct {
	table        *routing.Table
	registerPort uint16
	routeHooks   []hooks.ResolvedHook
}

// NewHandler returns the control-plane mux. Registrations store the caller's
// IP with registerPort as the backend for the requested hostname. There is
// no authentication: anyone who can reach this listener can claim any name.
func NewHandler(table *routing.Table, registerPort uint16, routeHooks []hooks.ResolvedHook) http.Handler {
	h := &handler{table: table, registerPort: registerPort, routeHooks: routeHooks}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /register/{hostname}", h.register)
	mux.HandleFunc("GET /routes", h.routes)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	hostname := r.PathValue("hostname")

	// Only the transport-level peer address is trusted; headers such as
	// X-Forwarded-For are ignored.
	remote, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		zap.S().Errorf("Registration for %q: cannot parse remote address %q: %v", hostname, r.RemoteAddr, err)
		http.Error(w, "cannot determine caller address", http.StatusInternalServerError)
		return
	}
	backend := netip.AddrPortFrom(remote.Addr().Unmap(), h.registerPort)

	if err := h.table.Upsert(hostname, backend); err != nil {
		if errors.Is(err, routing.ErrInvalidRoute) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		zap.S().Errorf("Registration for %q failed: %v", hostname, err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	key := routing.NormalizeHostname(hostname)
	metrics.RegistrationsTotal.Inc()
	metrics.Routes.Set(float64(h.table.Len()))
	zap.S().Infof("Registered %q -> %s", key, backend)

	if len(h.routeHooks) > 0 {
		ev := hooks.RouteEvent{Hostname: key, Backend: backend, RemoteAddr: r.RemoteAddr}
		if err := hooks.RunRouteHooks(r.Context(), h.routeHooks, ev); err != nil {
			zap.S().Warnf("Route hooks for %q: %v", key, err)
		}
	}

	writeJSON(w, RegisterResponse{Hostname: key, Backend: backend.String()})
}

func (h *handler) routes(w http.ResponseWriter, r *http.Request) {
	snap := h.table.Snapshot()
	out := make(map[string]string, len(snap))
	for host, addr := range snap {
		out[host] = addr.String()
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Debugf("Writing response: %v", err)
	}
}
