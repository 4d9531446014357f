// Package audiocache persists synthesized WAV files on disk. Entries are
// written atomically and never modified or evicted.
package audiocache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/cachekey"
	"github.com/ekisa-team/speakd/internal/xfs"
)

const (
	filePerm       = 0o644
	labelExtension = ".txt"
)

// Store is a directory of cached WAV files.
type Store struct {
	dir string
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// String renders the stats for logs.
func (s Stats) String() string {
	return fmt.Sprintf("%d entries, %s", s.Entries, humanize.Bytes(uint64(s.Bytes)))
}

// New opens (creating if needed) the cache directory.
func New(dir string) (*Store, error) {
	if err := xfs.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("audiocache: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Lookup reports whether a complete entry exists at path.
func (s *Store) Lookup(path string) bool {
	return xfs.IsFile(path)
}

// Read returns the cached bytes verbatim.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audiocache: read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// Put encodes w as WAV and stores it at path. Concurrent writers to the same
// path each write a private temp file; the last rename wins.
func (s *Store) Put(path string, w *audio.Waveform, sampleRate int) error {
	err := xfs.WriteFileAtomic(path, filePerm, func(f *os.File) error {
		return audio.EncodeWAV(f, w, sampleRate)
	})
	if err != nil {
		return fmt.Errorf("audiocache: store %s: %w", filepath.Base(path), err)
	}

	if info, err := os.Stat(path); err == nil {
		slog.Debug("Cached audio stored", "file", filepath.Base(path), "size", humanize.Bytes(uint64(info.Size())),
			"duration", fmt.Sprintf("%.2fs", w.Duration(sampleRate)))
	}
	return nil
}

// LabelPath returns the sidecar label path for an entry.
func LabelPath(path string) string {
	return strings.TrimSuffix(path, cachekey.Extension) + labelExtension
}

// PutLabel writes a human readable label next to the entry at path.
func (s *Store) PutLabel(path, label string) error {
	if err := xfs.WriteBytesAtomic(LabelPath(path), []byte(label+"\n"), filePerm); err != nil {
		return fmt.Errorf("audiocache: label %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Stats counts the .wav entries and their total size.
func (s *Store) Stats() (Stats, error) {
	var st Stats

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if xfs.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("audiocache: %w", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != cachekey.Extension {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if xfs.IsNotExist(err) {
				continue
			}
			return st, fmt.Errorf("audiocache: %w", err)
		}
		st.Entries++
		st.Bytes += info.Size()
	}
	return st, nil
}

