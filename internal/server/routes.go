package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/services/screen"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/presets", s.handlePresets)

	// Scanning
	mux.HandleFunc("/api/scan/status", s.handleScanStatus)
	mux.HandleFunc("/api/scan/results", s.handleScanResults)
	mux.HandleFunc("/api/scan/jobs/", s.handleScanJob)
	mux.HandleFunc("/api/scan/jobs", s.handleScanJobs)
	mux.HandleFunc("/api/scan/history", s.handleScanHistory)
	mux.HandleFunc("/api/scan/ws", s.handleScanWS)
	mux.HandleFunc("/api/scan", s.handleScanStart)
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	info := common.VersionInfo()
	if !s.app.StartupTime.IsZero() {
		info["uptime"] = time.Since(s.app.StartupTime).Round(time.Second).String()
	}
	WriteJSON(w, http.StatusOK, info)
}

// presetsResponse lists the built-in presets and the one this server runs
type presetsResponse struct {
	Active  string          `json:"active"`
	Presets []screen.Preset `json:"presets"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, presetsResponse{
		Active:  s.app.Preset.Name,
		Presets: screen.AllPresets(),
	})
}
