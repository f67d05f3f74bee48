package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/config"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/logger"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/timeline"
)

var (
	envFile  string
	settings config.Settings
	log      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "vsched",
	Short:         "Daily broadcast scheduler: compiles day schedules and streams them as HLS",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; system env and defaults still apply.
		_ = config.Load(envFile)
		settings = config.FromEnv()
		log = logger.New(settings.LogLevel, settings.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd, compileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if log == nil {
			log = logger.New("error", "json")
		}
		log.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newCompiler builds the timeline compiler from settings.
func newCompiler(loc *time.Location) (*timeline.Compiler, error) {
	return timeline.NewCompiler(timeline.Options{
		Location:     loc,
		FillerAsset:  settings.FillerAsset,
		FillerChunk:  settings.FillerChunk,
		Durations:    settings.ManifestDurations,
		AssetBaseURL: settings.AssetBaseURL,
	})
}

// openStore opens the sqlite schedule store, or an in-memory one when
// DB_PATH is empty.
func openStore() (schedule.Store, func() error, error) {
	if settings.DBPath == "" {
		return schedule.NewMemoryStore(), func() error { return nil }, nil
	}
	st, err := schedule.OpenSQLite(settings.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}
