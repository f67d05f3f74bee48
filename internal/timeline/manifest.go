package timeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrManifestWrite wraps any I/O failure while persisting a manifest.
var ErrManifestWrite = errors.New("manifest write failed")

// Kind distinguishes scheduled content from gap filler.
type Kind int

const (
	KindEvent Kind = iota
	KindFiller
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "EVENT"
	case KindFiller:
		return "FILLER"
	default:
		return "UNKNOWN"
	}
}

// Entry is one playable item of a manifest. Path is the locator handed to the
// engine; AssetRef is what the schedule named.
type Entry struct {
	Kind     Kind
	AssetRef string
	Path     string
	Duration time.Duration
}

// Manifest is the compiled, immutable playback order for one broadcast date.
type Manifest struct {
	Date      string
	Entries   []Entry
	Durations bool // render "duration N" after each file line
}

// Empty reports whether there is nothing left to stream.
func (m *Manifest) Empty() bool {
	return m == nil || len(m.Entries) == 0
}

// Total returns the summed duration of entries of the given kind.
func (m *Manifest) Total(kind Kind) time.Duration {
	var total time.Duration
	for _, e := range m.Entries {
		if e.Kind == kind {
			total += e.Duration
		}
	}
	return total
}

// Bytes renders the manifest as an ffmpeg concat directive list:
//
//	file '<path>'
//	duration <seconds>
//
// The duration line is present only when m.Durations is set. Output is a
// pure function of the entries, so equal manifests render byte-identically.
func (m *Manifest) Bytes() []byte {
	var b bytes.Buffer
	for _, e := range m.Entries {
		b.WriteString("file '")
		b.WriteString(quote(e.Path))
		b.WriteString("'\n")
		if m.Durations {
			b.WriteString("duration ")
			b.WriteString(strconv.FormatFloat(e.Duration.Seconds(), 'f', -1, 64))
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

// WriteFile persists the rendered manifest at path via a temp file in the same
// directory and an atomic rename, so the engine never reads a partial list.
func (m *Manifest) WriteFile(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestWrite, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifestWrite, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(m.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrManifestWrite, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestWrite, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestWrite, err)
	}
	return nil
}

// quote escapes a path for a single-quoted concat directive.
func quote(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
