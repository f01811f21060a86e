package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ozgauge/internal/bq25895"
	"ozgauge/internal/gauge"
)

type ChargerClient interface {
	GetStatus() (*bq25895.BQStatus, error)
}

type GaugeClient interface {
	Snapshot() gauge.Snapshot
	Reinit()
}

// BatteryResponse keeps the flat sensor keys home automation already polls.
type BatteryResponse struct {
	Level      int     `json:"sensor.battery_level"`
	Voltage    float64 `json:"sensor.battery_voltage"`
	State      string  `json:"sensor.battery_state"`
	IsCharging bool    `json:"sensor.is_charging"`
}

type Server struct {
	gauge GaugeClient
	bq    ChargerClient
}

// New serves g. bq may be nil when no charger is fitted.
func New(g GaugeClient, bq ChargerClient) *Server {
	return &Server{gauge: g, bq: bq}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.rootHandler)
	r.Get("/health", s.healthHandler)
	r.Route("/battery", func(r chi.Router) {
		r.Get("/", s.batteryHandler)
		r.Post("/reinit", s.reinitHandler)
	})
	r.Get("/charger", s.chargerHandler)
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// batteryState maps the snapshot onto the states the root endpoint reports.
func batteryState(snap gauge.Snapshot) string {
	switch {
	case snap.AdapterPresent && snap.ChargeEnd:
		return "Full"
	case snap.CurrentMa > 0:
		return "Charging"
	case snap.AdapterPresent:
		return "Not Charging"
	default:
		return "Discharging"
	}
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.gauge.Snapshot()
	resp := BatteryResponse{
		Level:   int(snap.StateOfChargePercent),
		Voltage: float64(snap.VoltageMv) / 1000,
		State:   batteryState(snap),
	}
	resp.IsCharging = resp.State == "Charging"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) batteryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gauge.Snapshot())
}

func (s *Server) reinitHandler(w http.ResponseWriter, r *http.Request) {
	s.gauge.Reinit()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reinitializing"})
}

func (s *Server) chargerHandler(w http.ResponseWriter, r *http.Request) {
	if s.bq == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no charger"})
		return
	}
	status, err := s.bq.GetStatus()
	if err != nil {
		log.Printf("Error reading BQ25895: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.gauge.Snapshot()
	if !snap.Initialized {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
