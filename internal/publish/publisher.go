package publish

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/platform/metrics"
)

const (
	contentTypeSegment  = "video/mp2t"
	contentTypePlaylist = "application/vnd.apple.mpegurl"

	defaultMaxAttempts   = 4
	defaultBaseBackoff   = 500 * time.Millisecond
	defaultMaxBackoff    = 10 * time.Second
	defaultUploadTimeout = 30 * time.Second
	defaultStopTimeout   = 35 * time.Second
)

// ErrStopTimeout is returned by a stop function when the loop did not exit in time.
var ErrStopTimeout = errors.New("publisher did not stop in time")

// Uploader stores one local file under key.
type Uploader interface {
	Upload(ctx context.Context, key, path, contentType string) error
}

// Purger removes remote objects under a prefix. S3Uploader implements it.
type Purger interface {
	Purge(ctx context.Context, prefix string) (int, error)
}

// Config tunes a Publisher.
type Config struct {
	KeyPrefix     string
	TempSuffix    string
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	UploadTimeout time.Duration
	StopTimeout   time.Duration
	// PurgeOnStart deletes the session's previous remote artifacts on Attach.
	PurgeOnStart bool
}

// Publisher uploads finalized artifacts from an engine output directory.
type Publisher struct {
	cfg     Config
	up      Uploader
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Publisher with defaults applied to cfg.
func New(up Uploader, cfg Config, log *slog.Logger, m *metrics.Metrics) *Publisher {
	if cfg.TempSuffix == "" {
		cfg.TempSuffix = DefaultTempSuffix
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{cfg: cfg, up: up, log: log.With(slog.String("component", "publisher")), metrics: m}
}

// Run watches dir and uploads finalized artifacts until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, dir string) error {
	events, err := Watch(ctx, dir, p.cfg.TempSuffix, p.log)
	if err != nil {
		return err
	}
	p.consume(ctx, dir, events)
	return nil
}

// Attach starts a publisher loop for one session and returns its stop
// function. The watch is registered before Attach returns, so nothing the
// engine finalizes afterwards is missed.
func (p *Publisher) Attach(ctx context.Context, key, dir string) (func(context.Context) error, error) {
	log := p.log.With(slog.String("key", key))

	if p.cfg.PurgeOnStart {
		if purger, ok := p.up.(Purger); ok {
			pctx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
			n, err := purger.Purge(pctx, p.cfg.KeyPrefix+key+"_")
			cancel()
			if err != nil {
				log.Warn("purge of previous remote artifacts failed", slog.String("error", err.Error()))
			} else {
				log.Info("purged previous remote artifacts", slog.Int("objects", n))
			}
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := Watch(runCtx, dir, p.cfg.TempSuffix, log)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.consume(runCtx, dir, events)
	}()
	log.Info("publisher attached", slog.String("dir", dir))

	var once sync.Once
	stop := func(stopCtx context.Context) error {
		once.Do(cancel)
		timer := time.NewTimer(p.cfg.StopTimeout)
		defer timer.Stop()
		select {
		case <-done:
			log.Info("publisher stopped")
			return nil
		case <-timer.C:
			return ErrStopTimeout
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
	return stop, nil
}

// consume owns the dedupe set for one session.
func (p *Publisher) consume(ctx context.Context, dir string, events <-chan Finalized) {
	uploaded := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			kind, contentType := classify(ev.Name)
			if kind == "" {
				continue
			}
			if kind == "segment" {
				if _, seen := uploaded[ev.Name]; seen {
					continue
				}
			}
			if p.upload(ctx, ev, kind, contentType) && kind == "segment" {
				uploaded[ev.Name] = time.Now()
			}
		}
	}
}

// upload tries one artifact up to MaxAttempts times. Each attempt runs on a
// context detached from ctx so a stop lets it finish; ctx only ends the
// backoff between attempts.
func (p *Publisher) upload(ctx context.Context, ev Finalized, kind, contentType string) bool {
	key := p.cfg.KeyPrefix + ev.Name
	log := p.log.With(slog.String("artifact", ev.Name), slog.String("object_key", key))

	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.UploadTimeout)
		err = p.up.Upload(actx, key, ev.Path, contentType)
		cancel()
		if err == nil {
			p.metrics.IncUploads(kind)
			log.Debug("uploaded", slog.Int("attempt", attempt))
			return true
		}
		if !retryable(err) || attempt == p.cfg.MaxAttempts {
			break
		}

		p.metrics.IncUploadRetries()
		wait := p.backoff(attempt)
		log.Warn("upload failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn("publisher stopping, abandoning retries", slog.String("error", err.Error()))
			return false
		case <-timer.C:
		}
	}

	p.metrics.IncUploadFailures()
	log.Error("upload permanently failed", slog.String("error", err.Error()))
	return false
}

func (p *Publisher) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return p.cfg.MaxBackoff
	}
	d := p.cfg.BaseBackoff << (attempt - 1)
	if d <= 0 || d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

// classify maps an artifact name to its upload kind and content type.
// Unknown extensions return an empty kind.
func classify(name string) (kind, contentType string) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ts":
		return "segment", contentTypeSegment
	case ".m3u8":
		return "playlist", contentTypePlaylist
	}
	return "", ""
}
