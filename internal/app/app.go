// Package app wires configuration, storage, clients and the scan service together.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/vire-screen/internal/clients/eodhd"
	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/services/scan"
	"github.com/bobmcallan/vire-screen/internal/services/screen"
	"github.com/bobmcallan/vire-screen/internal/storage"
	"github.com/bobmcallan/vire-screen/internal/universe"
)

// App holds the initialized services shared by the HTTP server and the scheduler.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	EODHDClient *eodhd.Client
	Universe    interfaces.UniverseSource
	Preset      screen.Preset
	Registry    *scan.Registry
	ScanService interfaces.ScanService
	EventHub    *scan.EventHub
	StartupTime time.Time

	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath checks the given path, VIRE_CONFIG, the binary dir, then the dev fallback
func resolveConfigPath(configPath, binDir string) string {
	if configPath == "" {
		configPath = os.Getenv("VIRE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "vire-screen.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/vire-screen.toml"
		}
	}
	return configPath
}

// NewApp loads configuration and initializes storage, clients and the scan registry.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()
	config, err := common.LoadConfig(resolveConfigPath(configPath, binDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	for _, warning := range config.Warnings {
		logger.Warn().Msg(warning)
	}

	preset, err := screen.LookupPreset(config.Scan.Preset)
	if err != nil {
		return nil, err
	}
	if err := preset.Apply(config.Scan, config.DetectorA, config.DetectorB); err != nil {
		return nil, fmt.Errorf("invalid detector settings: %w", err)
	}

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if config.Clients.EODHD.APIKey == "" {
		logger.Warn().Msg("EODHD API key not configured - scans will skip every ticker")
	}
	eodhdCfg := config.Clients.EODHD
	opts := []eodhd.ClientOption{
		eodhd.WithLogger(logger),
		eodhd.WithRateLimit(eodhdCfg.RateLimit),
		eodhd.WithTimeout(eodhdCfg.GetTimeout()),
		eodhd.WithRetry(eodhdCfg.MaxRetries, eodhdCfg.GetRetryBackoff()),
	}
	if eodhdCfg.BaseURL != "" {
		opts = append(opts, eodhd.WithBaseURL(eodhdCfg.BaseURL))
	}
	eodhdClient := eodhd.NewClient(eodhdCfg.APIKey, opts...)

	if config.Universe.File != "" && !filepath.IsAbs(config.Universe.File) {
		if _, err := os.Stat(config.Universe.File); os.IsNotExist(err) {
			config.Universe.File = filepath.Join(binDir, config.Universe.File)
		}
	}
	source, err := universe.New(config.Universe, eodhdClient, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize universe: %w", err)
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		EODHDClient: eodhdClient,
		Universe:    source,
		Preset:      preset,
		EventHub:    scan.NewEventHub(logger),
		StartupTime: startupStart,
	}
	a.Registry = newRegistry(a, eodhdClient)
	a.ScanService = a.Registry

	ctx := context.Background()
	if count, err := storageManager.ScanJobStore().MarkInterrupted(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to settle interrupted scan jobs")
	} else if count > 0 {
		logger.Info().Int("count", count).Msg("Marked interrupted scan jobs as failed")
	}
	purgeHistory(ctx, storageManager.HistoryStore(), preset, time.Now(), logger)

	go a.EventHub.Run()

	logger.Info().
		Str("preset", preset.Name).
		Str("storage", storageManager.Backend()).
		Str("version", common.GetFullVersion()).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// newRegistry builds the detectors and orchestrator for the app's preset
func newRegistry(a *App, client interfaces.MarketSnapshotClient) *scan.Registry {
	history := a.Storage.HistoryStore()
	spike := screen.NewSpikeDetector(a.Preset.Spike, history, a.Logger)
	turnaround := screen.NewTurnaroundDetector(a.Preset.Turnaround, history, a.Logger)

	orchestrator := scan.NewOrchestrator(client, spike, turnaround, history, scan.OrchestratorConfig{
		Concurrency:       a.Config.Scan.Concurrency,
		MaxProcessed:      a.Config.Scan.MaxProcessed,
		MinCandidateScore: a.Preset.Scan.MinCandidateScore,
		NearMissMin:       a.Preset.Scan.NearMissMin,
		NearMissMax:       a.Preset.Scan.NearMissMax,
		ResultLimit:       a.Preset.Scan.ResultLimit,
	}, a.Logger)

	return scan.NewRegistry(a.Storage.ScanJobStore(), a.EventHub, orchestrator, a.Universe, scan.RegistryConfig{
		Preset:         a.Preset.Name,
		ExchangeSuffix: a.Config.Scan.ExchangeSuffix,
		ProgressEvery:  a.Config.Scan.ProgressEvery,
	}, a.Logger)
}

// historyRetention keeps records for twice the longest cooldown
func historyRetention(p screen.Preset) time.Duration {
	longest := p.Spike.Cooldown
	if p.Turnaround.Cooldown > longest {
		longest = p.Turnaround.Cooldown
	}
	return 2 * longest
}

// purgeHistory drops detection records that can no longer suppress anything
func purgeHistory(ctx context.Context, history interfaces.HistoryStore, p screen.Preset, now time.Time, logger *common.Logger) {
	retention := historyRetention(p)
	if retention <= 0 {
		return
	}
	if _, err := history.PurgeBefore(ctx, now.Add(-retention)); err != nil {
		logger.Warn().Err(err).Msg("Failed to purge detection history")
	}
}

// Close releases all resources held by the App.
// Shutdown order: cancel scheduler, stop scans, stop event hub, close storage.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Registry != nil {
		a.Registry.Stop()
	}
	if a.EventHub != nil {
		a.EventHub.Stop()
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

// StartScheduler launches periodic scans when scan.schedule_interval is set.
func (a *App) StartScheduler() {
	interval := a.Config.Scan.GetScheduleInterval()
	if interval <= 0 {
		return
	}
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	a.schedulerCancel = schedulerCancel
	go startScanScheduler(schedulerCtx, a.Registry, interval, a.Logger)
	a.Logger.Info().Dur("interval", interval).Msg("Scan scheduler started")
}
