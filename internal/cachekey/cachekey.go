// Package cachekey derives filesystem-safe cache file names from request text.
//
// In legacy mode (the default) the name is the sanitized text itself, which
// keeps names readable and stable across restarts but lets distinct long texts
// that share a 50 character prefix alias to one entry. Hashed mode keys every
// entry by a digest of the whole text and keeps the readable prefix only as a
// label.
package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mode selects how keys are built.
type Mode string

const (
	// ModeLegacy names entries after the sanitized text.
	ModeLegacy Mode = "legacy"

	// ModeHashed names entries after a digest of the normalized text.
	ModeHashed Mode = "hashed"
)

const (
	// DefaultMaxLength is the number of characters kept from the sanitized text.
	DefaultMaxLength = 50

	// DefaultMinLength is the shortest sanitized name used as-is.
	DefaultMinLength = 2

	// Extension is the file extension of cached audio.
	Extension = ".wav"

	shortHashLength = 12
)

// Resolver maps text to paths inside one cache directory.
type Resolver struct {
	dir    string
	mode   Mode
	maxLen int
	minLen int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMode selects the key mode.
func WithMode(mode Mode) Option {
	return func(r *Resolver) { r.mode = mode }
}

// WithLengths overrides the truncation and fallback thresholds.
func WithLengths(maxLen, minLen int) Option {
	return func(r *Resolver) {
		if maxLen > 0 {
			r.maxLen = maxLen
		}
		if minLen >= 0 {
			r.minLen = minLen
		}
	}
}

// New creates a Resolver rooted at dir.
func New(dir string, opts ...Option) *Resolver {
	r := &Resolver{
		dir:    dir,
		mode:   ModeLegacy,
		maxLen: DefaultMaxLength,
		minLen: DefaultMinLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLegacy:
		return ModeLegacy, nil
	case ModeHashed:
		return ModeHashed, nil
	default:
		return "", fmt.Errorf("cachekey: unknown mode %q", s)
	}
}

// Dir returns the cache directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// Mode returns the active key mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Key returns the file name stem for text.
func (r *Resolver) Key(text string) string {
	normalized := Normalize(text)

	if r.mode == ModeHashed {
		return digest(normalized)
	}

	name := Sanitize(normalized, r.maxLen)
	if len([]rune(name)) < r.minLen {
		return digest(normalized)[:shortHashLength]
	}

	return name
}

// Label returns the human-readable sanitized form of text.
func (r *Resolver) Label(text string) string {
	return Sanitize(Normalize(text), r.maxLen)
}

// Path returns the cache file path for text.
func (r *Resolver) Path(text string) string {
	return filepath.Join(r.dir, r.Key(text)+Extension)
}

// Normalize lowercases text with full Unicode case mapping and trims it.
func Normalize(text string) string {
	return strings.TrimSpace(cases.Lower(language.Und).String(text))
}

// Sanitize keeps letters, numbers and spaces, turns spaces into underscores
// and truncates to maxLen characters.
func Sanitize(normalized string, maxLen int) string {
	var b strings.Builder
	n := 0
	for _, c := range normalized {
		if maxLen > 0 && n >= maxLen {
			break
		}

		switch {
		case c == ' ':
			b.WriteByte('_')
		case unicode.IsLetter(c) || unicode.IsNumber(c):
			b.WriteRune(c)
		default:
			continue
		}
		n++
	}
	return b.String()
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
