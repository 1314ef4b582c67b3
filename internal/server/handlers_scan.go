package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/models"
)

const (
	defaultJobsLimit   = 20
	maxJobsLimit       = 200
	defaultHistoryDays = 180
)

// handleScanStart handles POST /api/scan
func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	req, ok := decodeScanRequest(w, r)
	if !ok {
		return
	}

	id, err := s.app.ScanService.StartScan(r.Context(), req.Tickers)
	if err != nil {
		writeScanError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// handleScanStatus handles GET /api/scan/status?job_id=
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status, err := s.app.ScanService.GetStatus(r.Context(), r.URL.Query().Get("job_id"))
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// handleScanResults handles GET /api/scan/results?job_id=
func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	results, err := s.app.ScanService.GetResults(r.Context(), r.URL.Query().Get("job_id"))
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, results)
}

// handleScanJobs handles GET /api/scan/jobs?limit=
func (s *Server) handleScanJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, err := positiveQueryInt(r, "limit", defaultJobsLimit, maxJobsLimit)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := s.app.ScanService.ListJobs(r.Context(), limit)
	if err != nil {
		writeScanError(w, err)
		return
	}

	// Job listings omit the candidate payloads; fetch /api/scan/results for those
	summaries := make([]models.ScanStatus, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, models.ScanStatus{
			JobID:            job.ID,
			State:            job.State,
			Progress:         job.Progress(),
			TotalTickers:     job.TotalTickers,
			ProcessedTickers: job.ProcessedTickers,
			SkippedTickers:   job.SkippedTickers,
			StartedAt:        job.StartedAt,
			CompletedAt:      job.CompletedAt,
			Message:          job.Message,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": summaries, "count": len(summaries)})
}

// handleScanJob handles GET /api/scan/jobs/{id}, returning the full persisted job
func (s *Server) handleScanJob(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := jobIDFromPath(r)
	if id == "" {
		s.handleScanJobs(w, r)
		return
	}

	results, err := s.app.ScanService.GetResults(r.Context(), id)
	if err != nil {
		writeScanError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, results)
}

// historyEntry is a detection record with the time its cooldown lapses
type historyEntry struct {
	models.DetectionHistoryRecord
	EligibleAt time.Time `json:"eligible_at"`
}

// handleScanHistory handles GET /api/scan/history?detector=A&days=180
func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var detector models.DetectorID
	switch d := strings.ToUpper(r.URL.Query().Get("detector")); d {
	case "":
	case string(models.DetectorSpike), string(models.DetectorTurnaround):
		detector = models.DetectorID(d)
	default:
		WriteError(w, http.StatusBadRequest, "detector must be A or B")
		return
	}

	days, err := positiveQueryInt(r, "days", defaultHistoryDays, 0)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	since := time.Now().AddDate(0, 0, -days)
	records, err := s.app.Storage.HistoryStore().ListDetections(r.Context(), detector, since)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		window := s.app.Preset.Spike.Cooldown
		if rec.Detector == models.DetectorTurnaround {
			window = s.app.Preset.Turnaround.Cooldown
		}
		entries = append(entries, historyEntry{
			DetectionHistoryRecord: rec,
			EligibleAt:             common.CooldownEnds(rec.DetectedAt, window),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"detections": entries, "count": len(entries)})
}

// handleScanWS handles GET /api/scan/ws
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	if s.app.EventHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	s.app.EventHub.ServeWS(w, r)
}

