package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/Financial-Times/go-logger"
	"github.com/gorilla/mux"
)

const (
	healthPath         = "/health"
	servicesStatusPath = "/services/status"
)

var defaultExemptPaths = []string{healthPath, servicesStatusPath, "/__health", "/__gtg", "/metrics"}

// availabilityGate decides from the cache alone; it never probes.
type availabilityGate struct {
	cache      *healthCache
	pathPrefix string
	exempt     map[string]bool
	metrics    *gateMetrics
}

func newAvailabilityGate(cache *healthCache, pathPrefix string, exemptPaths []string, metrics *gateMetrics) *availabilityGate {
	exempt := map[string]bool{
		healthPath:         true,
		servicesStatusPath: true,
	}
	for _, p := range exemptPaths {
		if p = strings.TrimSpace(p); p != "" {
			exempt[p] = true
		}
	}
	return &availabilityGate{
		cache:      cache,
		pathPrefix: strings.TrimSuffix(pathPrefix, "/"),
		exempt:     exempt,
		metrics:    metrics,
	}
}

func (g *availabilityGate) isExempt(path string) bool {
	if g.pathPrefix != "" {
		path = strings.TrimPrefix(path, g.pathPrefix)
	}
	return g.exempt[path]
}

// checkOrReject returns a *serviceUnavailableError only when the service is
// cached as explicitly unavailable. Never-checked services are let through.
func (g *availabilityGate) checkOrReject(path string, serviceName string) (gateDecision, error) {
	if g.isExempt(path) {
		return gateDecision{allowed: true, reason: "exempt path"}, nil
	}

	status, found, err := g.cache.get(serviceName)
	if err != nil {
		return gateDecision{}, err
	}
	if !found {
		return gateDecision{allowed: true, reason: "status unknown"}, nil
	}
	if !status.Available {
		unavailable := &serviceUnavailableError{name: serviceName}
		return gateDecision{allowed: false, reason: unavailable.Error()}, unavailable
	}
	return gateDecision{allowed: true}, nil
}

func (g *availabilityGate) middleware(serviceNames ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, name := range serviceNames {
				_, err := g.checkOrReject(r.URL.Path, name)
				if err == nil {
					continue
				}

				var unavailable *serviceUnavailableError
				if errors.As(err, &unavailable) {
					g.metrics.observeRejection(name)
					writeJSONError(w, unavailable.StatusCode(), unavailable.Error())
					return
				}

				log.WithError(err).Errorf("Cannot check availability of service %s for %s", name, r.URL.Path)
				writeJSONError(w, http.StatusInternalServerError, "Cannot check service availability")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"detail": detail}); err != nil {
		log.WithError(err).Error("Cannot encode error response")
	}
}
