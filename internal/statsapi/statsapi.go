// Package statsapi serves read-only pool state over HTTP: a health report
// driven by circuit state, a liveness endpoint, and raw stats snapshots.
package statsapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/joao-brasil/adaptive-pool/internal/pool"
)

// StatsSource is anything that can snapshot a pool. *pool.Pool satisfies it.
type StatsSource interface {
	Stats() pool.Stats
}

// PoolStatus is one pool's entry in the health report.
type PoolStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Circuit   string `json:"circuit"`
	Size      int    `json:"size"`
	InUse     int    `json:"in_use"`
	Available int    `json:"available"`
	Waiters   int    `json:"waiters"`
	Target    int    `json:"target_size"`
	Trips     uint64 `json:"circuit_trips"`
}

// Report is the overall health report.
type Report struct {
	Status     string       `json:"status"`
	Timestamp  string       `json:"timestamp"`
	InstanceID string       `json:"instance_id"`
	Pools      []PoolStatus `json:"pools"`
}

// Server exposes pool state over HTTP.
type Server struct {
	instanceID string
	pools      []StatsSource
}

// NewServer builds a stats server over the given pools.
func NewServer(instanceID string, pools ...StatsSource) *Server {
	return &Server{instanceID: instanceID, pools: pools}
}

// Report assembles the current health report. A pool with an open circuit
// marks the whole report unhealthy; a degraded circuit marks it degraded.
func (s *Server) Report() *Report {
	report := &Report{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		InstanceID: s.instanceID,
	}

	for _, src := range s.pools {
		st := src.Stats()
		status := "healthy"
		switch st.Circuit {
		case pool.CircuitOpen, pool.CircuitHalfOpen:
			status = "unhealthy"
			report.Status = "unhealthy"
		case pool.CircuitDegraded:
			status = "degraded"
			if report.Status == "healthy" {
				report.Status = "degraded"
			}
		}
		report.Pools = append(report.Pools, PoolStatus{
			Name:      st.Name,
			Status:    status,
			Circuit:   st.Circuit.String(),
			Size:      st.Size,
			InUse:     st.InUse,
			Available: st.Available,
			Waiters:   st.Waiters,
			Target:    st.TargetSize,
			Trips:     st.CircuitTrips,
		})
	}

	return report
}

// Handler returns the HTTP handler serving the stats endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	writeReport := func(w http.ResponseWriter) {
		report := s.Report()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w)
	})

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w)
	})

	return mux
}

// Serve starts the HTTP server on the given port and returns it so the
// caller can shut it down.
func (s *Server) Serve(port int) *http.Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("[statsapi] HTTP server listening on :%d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[statsapi] HTTP server error: %v", err)
		}
	}()

	return server
}
