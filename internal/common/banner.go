package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// storageLabel describes where the configured backend keeps its data
func storageLabel(cfg StorageConfig) string {
	if cfg.Backend == "surrealdb" {
		return fmt.Sprintf("surrealdb %s (%s/%s)", cfg.Address, cfg.Namespace, cfg.Database)
	}
	return fmt.Sprintf("%s %s", cfg.Backend, cfg.Path)
}

// PrintBanner displays the application startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	printBanner(os.Stderr, config)

	logger.Info().
		Str("version", GetVersion()).
		Str("build", GetBuild()).
		Str("commit", GetGitCommit()).
		Str("environment", config.Environment).
		Str("service_url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Str("storage", storageLabel(config.Storage)).
		Str("preset", config.Scan.Preset).
		Msg("Application started")
}

func printBanner(w io.Writer, config *Config) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 64
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` _   _ _           ___`,
		`| | | (_)_ __ ___ / __| __ _ _ ___ ___ _ _`,
		`| |_| | | '__/ -_)\__ \/ _| '_/ -_) -_) ' \`,
		` \___/|_|_|  \___||___/\__|_| \___\___|_||_|`,
	}

	fmt.Fprintf(w, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(w, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s  Equity Spike & Turnaround Screening%s\n\n", textColor, banner.ColorReset)

	kvPad := 16
	kvLines := [][2]string{
		{"Version", GetVersion()},
		{"Build", GetBuild()},
		{"Commit", GetGitCommit()},
		{"Environment", config.Environment},
		{"Service URL", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)},
		{"Storage", storageLabel(config.Storage)},
		{"Preset", config.Scan.Preset},
		{"Concurrency", fmt.Sprintf("%d", config.Scan.Concurrency)},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(w, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}

	fmt.Fprintf(w, "\n%s\n\n", hr)
}

// PrintShutdownBanner displays the application shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	hr := banner.ColorCyan + strings.Repeat("═", 42) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  VIRE SCREEN: SHUTTING DOWN%s\n", banner.ColorBold+banner.ColorWhite, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)

	logger.Info().Msg("Application shutting down")
}
