package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/broadcast"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/daemon"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/engine"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/logger"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/metrics"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/publish"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/session"
)

const shutdownTimeout = 10 * time.Second

var noDaemon bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily trigger and the HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "serve the control surface without the daily trigger")
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := settings.Location()
	if err != nil {
		return err
	}
	hour, minute, err := settings.DailyTrigger()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	compiler, err := newCompiler(loc)
	if err != nil {
		return err
	}

	met := metrics.New()

	var companion session.Companion
	if settings.S3Bucket != "" {
		up, err := publish.NewS3Uploader(ctx, settings.S3Bucket, settings.AWSRegion)
		if err != nil {
			return err
		}
		companion = publish.New(up, publish.Config{
			KeyPrefix:     settings.S3Prefix,
			MaxAttempts:   settings.UploadAttempts,
			BaseBackoff:   settings.UploadBackoff,
			UploadTimeout: settings.UploadTimeout,
			PurgeOnStart:  settings.PurgeRemoteOnStart,
		}, log, met)
	} else {
		log.Warn("S3_BUCKET not set, segments will not be published")
	}

	ff := engine.FFmpeg{Binary: settings.FFmpegBin}
	ctrl := session.NewController(session.Options{
		Engine:      ff.NewExec(log.With(slog.String("component", "engine"))),
		OutputRoot:  settings.OutputDir,
		StopTimeout: settings.StopTimeout,
		Companion:   companion,
		Log:         log,
		Metrics:     met,
	})

	svc := broadcast.NewService(broadcast.Options{
		Store:       store,
		Compiler:    compiler,
		Sessions:    ctrl,
		ManifestDir: settings.ManifestDir,
		Log:         log,
		Metrics:     met,
	})
	h := broadcast.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(ctrl.Active()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{Addr: ":" + settings.Port, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		slog.String("port", settings.Port),
		slog.String("timezone", settings.Timezone),
		slog.String("daily_at", settings.DailyAt),
		slog.Duration("filler_chunk", settings.FillerChunk),
		slog.String("engine", ff.String()),
		slog.String("log_level", settings.LogLevel))

	var wg sync.WaitGroup
	if !noDaemon {
		d, err := daemon.New(daemon.Options{
			Launcher:   svc,
			Location:   loc,
			Hour:       hour,
			Minute:     minute,
			ArchiveDir: settings.ArchiveDir,
			Log:        log,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				log.Error("daemon exited", slog.String("error", err.Error()))
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections")
	case err := <-errCh:
		log.Error("server error", slog.String("error", err.Error()))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	wg.Wait()
	ctrl.Shutdown(shutdownCtx)

	log.Info("server stopped")
	return nil
}
