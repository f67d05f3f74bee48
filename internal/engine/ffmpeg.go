package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
)

// FFmpeg holds the HLS output contract of the engine.
type FFmpeg struct {
	Binary         string
	SegmentSeconds int
	ListSize       int
	// ExtraArgs are inserted before the output options, e.g. encoder tuning.
	ExtraArgs []string
}

// SegmentPattern is the engine's segment filename template for key.
func SegmentPattern(key string) string {
	return key + "_segment_%03d.ts"
}

// PlaylistName is the rolling playlist filename for key.
func PlaylistName(key string) string {
	return key + "_playlist.m3u8"
}

// MasterName is the master playlist filename for key. It names the single
// variant playlist so players can start from a stable URL.
func MasterName(key string) string {
	return key + "_master.m3u8"
}

// Args builds the command line: read the concat manifest in real time and
// write a rolling HLS window. temp_file makes ffmpeg write "<name>.tmp" and
// rename into place, which is what the publisher keys uploads on.
func (f FFmpeg) Args(spec Spec) []string {
	segSeconds := f.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 6
	}
	listSize := f.ListSize
	if listSize <= 0 {
		listSize = 20
	}

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "warning",
		"-protocol_whitelist", "file,crypto,data,http,https,tls,tcp",
		"-re", "-f", "concat", "-safe", "0", "-i", spec.Manifest,
		"-vf", "scale=w=854:h=480",
		"-c:v", "libx264", "-b:v", "5000k", "-maxrate", "5350k", "-bufsize", "3500k",
		"-c:a", "aac", "-b:a", "192k", "-ac", "2",
	}
	args = append(args, f.ExtraArgs...)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segSeconds),
		"-hls_list_size", strconv.Itoa(listSize),
		"-hls_delete_threshold", strconv.Itoa(listSize),
		"-hls_flags", "delete_segments+temp_file",
		"-hls_segment_type", "mpegts",
		"-master_pl_name", MasterName(spec.Key),
		"-var_stream_map", "v:0,a:0",
		"-hls_segment_filename", filepath.Join(spec.OutputDir, SegmentPattern(spec.Key)),
		filepath.Join(spec.OutputDir, PlaylistName(spec.Key)),
	)
	return args
}

// NewExec returns an Exec that runs this ffmpeg contract.
func (f FFmpeg) NewExec(log *slog.Logger) *Exec {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Exec{Binary: bin, Args: f.Args, Log: log}
}

func (f FFmpeg) String() string {
	return fmt.Sprintf("ffmpeg(%s, hls_time=%d, list=%d)", f.Binary, f.SegmentSeconds, f.ListSize)
}
