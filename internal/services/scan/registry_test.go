package scan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/vire-screen/internal/models"
)

func newTestRegistry(client *stubClient, store *memJobStore, hub *recordingPublisher, universe *staticUniverse) *Registry {
	cfg := RegistryConfig{Preset: "strict", ExchangeSuffix: "TSE", ProgressEvery: 2}
	r := NewRegistry(nil, nil, newTestOrchestrator(client, defaultTestConfig()), nil, cfg, testLogger())
	if store != nil {
		r.store = store
	}
	if hub != nil {
		r.hub = hub
	}
	if universe != nil {
		r.universe = universe
	}
	return r
}

func TestRegistry_NoScanYet(t *testing.T) {
	r := newTestRegistry(newStubClient(), newMemJobStore(), nil, nil)
	ctx := context.Background()

	status, err := r.GetStatus(ctx, "latest")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != models.ScanStateIdle || status.Message != models.MessageNoScan {
		t.Errorf("status = %+v, want idle / no scan yet", status)
	}
	if status.TotalTickers != 0 || status.ProcessedTickers != 0 || status.Progress != 0 {
		t.Errorf("idle status has counters: %+v", status)
	}

	res, err := r.GetResults(ctx, "")
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if res.Message != models.MessageNoScan || res.State != models.ScanStateIdle {
		t.Errorf("results = %+v, want idle / no scan yet", res)
	}
	if res.Combined == nil || res.NearMisses == nil || res.DetectorA.Candidates == nil || res.DetectorB.Candidates == nil {
		t.Error("empty results should carry non-nil lists")
	}
}

func TestRegistry_StartAndComplete(t *testing.T) {
	store := newMemJobStore()
	hub := &recordingPublisher{}
	r := newTestRegistry(mixedClient(), store, hub, nil)
	ctx := context.Background()

	id, err := r.StartScan(ctx, []string{"1001", "1002.TSE", "1003", "1004", "1001"})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDone(t, r, id)

	status, err := r.GetStatus(ctx, "latest")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.JobID != id || status.State != models.ScanStateCompleted {
		t.Fatalf("status = %+v, want completed %s", status, id)
	}
	// Duplicate 1001 is dropped
	if status.TotalTickers != 4 || status.ProcessedTickers != 3 || status.SkippedTickers != 1 {
		t.Errorf("counters = %d/%d/%d, want 4/3/1", status.TotalTickers, status.ProcessedTickers, status.SkippedTickers)
	}
	if status.Progress != 100 {
		t.Errorf("progress = %v, want 100", status.Progress)
	}
	if status.CompletedAt.IsZero() {
		t.Error("completed_at not set")
	}

	res, err := r.GetResults(ctx, id)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if res.TotalProcessed != 3 || res.MatchesFound != 2 || len(res.Combined) != 2 {
		t.Errorf("results = processed %d, matches %d, combined %d", res.TotalProcessed, res.MatchesFound, len(res.Combined))
	}
	if res.DetectorA.Detected != 2 || res.DetectorB.Detected != 1 {
		t.Errorf("detector counts = %d/%d, want 2/1", res.DetectorA.Detected, res.DetectorB.Detected)
	}
	if len(res.NearMisses) != 1 {
		t.Errorf("near misses = %d, want 1", len(res.NearMisses))
	}

	saved, _ := store.GetJob(ctx, id)
	if saved == nil || saved.State != models.ScanStateCompleted || len(saved.Candidates) != 2 {
		t.Errorf("persisted job = %+v, want completed with candidates", saved)
	}

	types := hub.types()
	if len(types) < 2 || types[0] != models.ScanEventStarted || types[len(types)-1] != models.ScanEventCompleted {
		t.Errorf("events = %v, want started ... completed", types)
	}
}

func TestRegistry_InvalidUniverse(t *testing.T) {
	r := newTestRegistry(newStubClient(), newMemJobStore(), nil, nil)

	_, err := r.StartScan(context.Background(), []string{"1001", "abc", "12345"})
	if !errors.Is(err, ErrInvalidUniverse) {
		t.Fatalf("err = %v, want ErrInvalidUniverse", err)
	}
	if !strings.Contains(err.Error(), "abc") || !strings.Contains(err.Error(), "12345") {
		t.Errorf("error should name the malformed tickers: %v", err)
	}

	// No universe source and no tickers
	if _, err := r.StartScan(context.Background(), nil); !errors.Is(err, ErrInvalidUniverse) {
		t.Errorf("empty universe without source: err = %v", err)
	}
	if r.Running() {
		t.Error("rejected scans must not start a job")
	}
}

func TestRegistry_UnknownJob(t *testing.T) {
	r := newTestRegistry(newStubClient(), newMemJobStore(), nil, nil)

	if _, err := r.GetStatus(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetStatus err = %v, want ErrJobNotFound", err)
	}
	if _, err := r.GetResults(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetResults err = %v, want ErrJobNotFound", err)
	}
}

func TestRegistry_PreemptsRunningScan(t *testing.T) {
	client := newStubClient()
	client.blocked["1001.TSE"] = true
	client.blocked["1002.TSE"] = true
	r := newTestRegistry(client, newMemJobStore(), nil, nil)
	ctx := context.Background()

	first, err := r.StartScan(ctx, []string{"1001", "1002"})
	if err != nil {
		t.Fatalf("first StartScan: %v", err)
	}

	second, err := r.StartScan(ctx, []string{"1003"})
	if err != nil {
		t.Fatalf("second StartScan: %v", err)
	}
	waitDone(t, r, first)
	waitDone(t, r, second)

	status, err := r.GetStatus(ctx, first)
	if err != nil {
		t.Fatalf("GetStatus(first): %v", err)
	}
	if status.State != models.ScanStateFailed {
		t.Errorf("first job state = %s, want failed", status.State)
	}
	if status.Message != "superseded by "+second {
		t.Errorf("first job message = %q", status.Message)
	}

	latest, err := r.GetStatus(ctx, "latest")
	if err != nil {
		t.Fatalf("GetStatus(latest): %v", err)
	}
	if latest.JobID != second || latest.State != models.ScanStateCompleted {
		t.Errorf("latest = %s/%s, want %s/completed", latest.JobID, latest.State, second)
	}
}

func newHistoryRegistry(client *stubClient, history *memHistory, hub *recordingPublisher) *Registry {
	cfg := RegistryConfig{Preset: "strict", ExchangeSuffix: "TSE", ProgressEvery: 2}
	r := NewRegistry(newMemJobStore(), nil, newHistoryOrchestrator(client, history, defaultTestConfig()), nil, cfg, testLogger())
	if hub != nil {
		r.hub = hub
	}
	return r
}

func TestRegistry_PreemptedInFlightTickerStaysEligible(t *testing.T) {
	client := newStubClient()
	client.prices["1001.TSE"] = 150
	arrived := client.stall("1001.TSE")
	history := newMemHistory()
	r := newHistoryRegistry(client, history, nil)
	ctx := context.Background()

	first, err := r.StartScan(ctx, []string{"1001"})
	if err != nil {
		t.Fatalf("first StartScan: %v", err)
	}
	waitClosed(t, arrived, "first job to fetch 1001")

	// The first job's fetch returns data after it has been superseded
	second, err := r.StartScan(ctx, []string{"1001"})
	if err != nil {
		t.Fatalf("second StartScan: %v", err)
	}
	waitDone(t, r, first)
	waitDone(t, r, second)

	status, _ := r.GetStatus(ctx, first)
	if status.State != models.ScanStateFailed {
		t.Fatalf("first job state = %s, want failed", status.State)
	}

	res, err := r.GetResults(ctx, second)
	if err != nil {
		t.Fatalf("GetResults(second): %v", err)
	}
	if res.State != models.ScanStateCompleted {
		t.Fatalf("second job state = %s, want completed", res.State)
	}
	if len(res.Combined) != 1 || res.Combined[0].Ticker != "1001.TSE" || res.Combined[0].TotalScore != 15 {
		t.Errorf("second job combined = %+v, want 1001.TSE scoring 15", res.Combined)
	}
	if res.DetectorA.Detected != 1 {
		t.Errorf("second job detector A = %d, want 1", res.DetectorA.Detected)
	}

	// Only the delivered result started a cooldown
	writes := history.written()
	if len(writes) != 1 {
		t.Fatalf("history writes = %d, want 1: %+v", len(writes), writes)
	}
	if writes[0].Ticker != "1001.TSE" || writes[0].Detector != models.DetectorSpike || writes[0].Score != 15 {
		t.Errorf("history record = %+v", writes[0])
	}
}

func TestRegistry_StopDiscardsInFlightDetections(t *testing.T) {
	client := newStubClient()
	client.prices["1001.TSE"] = 150
	client.prices["1002.TSE"] = 180
	arrived := client.stall("1001.TSE")
	history := newMemHistory()
	r := newHistoryRegistry(client, history, nil)

	id, err := r.StartScan(context.Background(), []string{"1001", "1002"})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitClosed(t, arrived, "fetch of 1001")
	r.Stop()

	status, _ := r.GetStatus(context.Background(), id)
	if status.State != models.ScanStateFailed || status.Message != messageStopped {
		t.Errorf("status = %s/%q, want failed/%q", status.State, status.Message, messageStopped)
	}
	if writes := history.written(); len(writes) != 0 {
		t.Errorf("stopped scan wrote history: %+v", writes)
	}
}

func TestRegistry_CompletedScanStartsCooldown(t *testing.T) {
	client := newStubClient()
	client.prices["1001.TSE"] = 150
	history := newMemHistory()
	r := newHistoryRegistry(client, history, nil)
	ctx := context.Background()

	first, _ := r.StartScan(ctx, []string{"1001"})
	waitDone(t, r, first)
	second, _ := r.StartScan(ctx, []string{"1001"})
	waitDone(t, r, second)

	res, _ := r.GetResults(ctx, second)
	if res.DetectorA.Detected != 0 || len(res.Combined) != 0 {
		t.Errorf("rescan inside the cooldown fired: %+v", res)
	}
	if writes := history.written(); len(writes) != 1 {
		t.Errorf("history writes = %d, want 1", len(writes))
	}
}

func TestRegistry_ProgressEventsFireOncePerInterval(t *testing.T) {
	client := newStubClient()
	client.delay = time.Millisecond
	codes := []string{"3001", "3002", "3003", "3004", "3005", "3006", "3007", "3008"}
	for _, code := range codes {
		client.prices[models.Ticker(code+".TSE")] = 120
	}
	hub := &recordingPublisher{}
	r := newHistoryRegistry(client, newMemHistory(), hub)

	id, err := r.StartScan(context.Background(), codes)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDone(t, r, id)

	progress := 0
	for _, typ := range hub.types() {
		if typ == models.ScanEventProgress {
			progress++
		}
	}
	if progress != len(codes)/2 {
		t.Errorf("progress events = %d, want %d", progress, len(codes)/2)
	}
}

func TestRegistry_EnumeratesUniverseSource(t *testing.T) {
	client := mixedClient()
	universe := &staticUniverse{tickers: []string{"1001", "1002", "bogus"}}
	r := newTestRegistry(client, newMemJobStore(), nil, universe)

	id, err := r.StartScan(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDone(t, r, id)

	status, _ := r.GetStatus(context.Background(), id)
	if status.State != models.ScanStateCompleted {
		t.Fatalf("state = %s, want completed", status.State)
	}
	if status.TotalTickers != 2 {
		t.Errorf("total = %d, want 2 after dropping malformed entry", status.TotalTickers)
	}
}

func TestRegistry_EnumerationFailureFailsJob(t *testing.T) {
	hub := &recordingPublisher{}
	universe := &staticUniverse{err: errors.New("listing unavailable")}
	r := newTestRegistry(newStubClient(), newMemJobStore(), hub, universe)

	id, err := r.StartScan(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDone(t, r, id)

	status, _ := r.GetStatus(context.Background(), id)
	if status.State != models.ScanStateFailed {
		t.Errorf("state = %s, want failed", status.State)
	}
	types := hub.types()
	if types[len(types)-1] != models.ScanEventFailed {
		t.Errorf("last event = %s, want scan_failed", types[len(types)-1])
	}
}

func TestRegistry_FetchFailuresStillComplete(t *testing.T) {
	client := newStubClient()
	client.prices["1001.TSE"] = 150
	client.fail["1002.TSE"] = true
	client.fail["1003.TSE"] = true
	r := newTestRegistry(client, newMemJobStore(), nil, nil)

	id, err := r.StartScan(context.Background(), []string{"1001", "1002", "1003"})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDone(t, r, id)

	status, _ := r.GetStatus(context.Background(), id)
	if status.State != models.ScanStateCompleted {
		t.Errorf("state = %s, want completed", status.State)
	}
	if status.ProcessedTickers != 1 || status.SkippedTickers != 2 {
		t.Errorf("processed/skipped = %d/%d, want 1/2", status.ProcessedTickers, status.SkippedTickers)
	}
}

func TestRegistry_PersistenceErrorsDoNotFailJob(t *testing.T) {
	store := newMemJobStore()
	store.err = errors.New("disk full")
	client := newStubClient()
	client.prices["1001.TSE"] = 150
	r := newTestRegistry(client, store, nil, nil)

	id, err := r.StartScan(context.Background(), []string{"1001"})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDone(t, r, id)

	status, _ := r.GetStatus(context.Background(), id)
	if status.State != models.ScanStateCompleted {
		t.Errorf("state = %s, want completed", status.State)
	}
}

func TestRegistry_LatestFromStoreAfterRestart(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	started := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	store.SaveJob(ctx, &models.ScanJob{ID: "old", State: models.ScanStateCompleted, StartedAt: started, TotalTickers: 2, ProcessedTickers: 2})
	store.SaveJob(ctx, &models.ScanJob{ID: "newer", State: models.ScanStateCompleted, StartedAt: started.Add(time.Hour), TotalTickers: 3, ProcessedTickers: 3, MatchesFound: 1})

	r := newTestRegistry(newStubClient(), store, nil, nil)

	status, err := r.GetStatus(ctx, "")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.JobID != "newer" || status.Progress != 100 {
		t.Errorf("latest = %+v, want newer at 100%%", status)
	}

	res, err := r.GetResults(ctx, "old")
	if err != nil {
		t.Fatalf("GetResults(old): %v", err)
	}
	if res.JobID != "old" || res.TotalProcessed != 2 {
		t.Errorf("results = %+v", res)
	}

	jobs, err := r.ListJobs(ctx, 10)
	if err != nil || len(jobs) != 2 || jobs[0].ID != "newer" {
		t.Errorf("ListJobs = %v, %v", jobs, err)
	}
}

func TestRegistry_StopCancelsRunning(t *testing.T) {
	client := newStubClient()
	client.blocked["1001.TSE"] = true
	store := newMemJobStore()
	r := newTestRegistry(client, store, nil, nil)

	id, err := r.StartScan(context.Background(), []string{"1001"})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	r.Stop()

	status, _ := r.GetStatus(context.Background(), id)
	if status.State != models.ScanStateFailed || status.Message != messageStopped {
		t.Errorf("status = %s/%q, want failed/%q", status.State, status.Message, messageStopped)
	}
	saved, _ := store.GetJob(context.Background(), id)
	if saved == nil || saved.State != models.ScanStateFailed {
		t.Errorf("persisted job = %+v, want failed", saved)
	}
	if r.Running() {
		t.Error("no job should be running after Stop")
	}
}
