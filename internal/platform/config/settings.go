package config

import (
	"fmt"
	"time"
)

// Settings is the resolved runtime configuration of the scheduler.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string
	Timezone  string
	DBPath    string // DB_PATH="" selects the in-memory store

	ManifestDir       string
	ArchiveDir        string
	OutputDir         string
	FillerAsset       string
	FillerChunk       time.Duration
	ManifestDurations bool
	AssetBaseURL      string

	FFmpegBin   string
	StopTimeout time.Duration

	S3Bucket           string
	S3Prefix           string
	AWSRegion          string
	UploadAttempts     int
	UploadBackoff      time.Duration
	UploadTimeout      time.Duration
	PurgeRemoteOnStart bool

	DailyAt string // HH:MM in Timezone
}

// FromEnv assembles Settings from the environment. Call Load first if a .env
// file should be honored.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),
		Timezone:  GetEnv("TIMEZONE", "Asia/Kolkata"),
		DBPath:    LookupEnv("DB_PATH", "schedule.db"),

		ManifestDir:       GetEnv("MANIFEST_DIR", "event_files"),
		ArchiveDir:        GetEnv("ARCHIVE_DIR", ""),
		OutputDir:         GetEnv("OUTPUT_DIR", "output_videos"),
		FillerAsset:       GetEnv("FILLER_ASSET", "blank_video/text_video.mp4"),
		FillerChunk:       GetEnvDuration("FILLER_CHUNK", 20*time.Second),
		ManifestDurations: GetEnvBool("MANIFEST_DURATIONS", false),
		AssetBaseURL:      GetEnv("ASSET_BASE_URL", ""),

		FFmpegBin:   GetEnv("FFMPEG_BIN", "ffmpeg"),
		StopTimeout: GetEnvDuration("STOP_TIMEOUT", 5*time.Second),

		S3Bucket:           GetEnv("S3_BUCKET", ""),
		S3Prefix:           GetEnv("S3_PREFIX", "hls/"),
		AWSRegion:          GetEnv("AWS_REGION", "ap-south-1"),
		UploadAttempts:     GetEnvInt("UPLOAD_ATTEMPTS", 4),
		UploadBackoff:      GetEnvDuration("UPLOAD_BACKOFF", 500*time.Millisecond),
		UploadTimeout:      GetEnvDuration("UPLOAD_TIMEOUT", 30*time.Second),
		PurgeRemoteOnStart: GetEnvBool("PURGE_REMOTE_ON_START", true),

		DailyAt: GetEnv("DAILY_AT", "00:00"),
	}
}

// Location resolves Timezone.
func (s Settings) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// DailyTrigger parses DailyAt into hour and minute.
func (s Settings) DailyTrigger() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.DailyAt)
	if err != nil {
		return 0, 0, fmt.Errorf("parse DAILY_AT %q: %w", s.DailyAt, err)
	}
	return t.Hour(), t.Minute(), nil
}
