package cachekey

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Key(t *testing.T) {
	r := New("/cache")

	tests := []struct {
		name string
		text string
		want string
	}{
		{"simple", "hello", "hello"},
		{"punctuation stripped", "Hello, World! How are you?", "hello_world_how_are_you"},
		{"surrounding whitespace", "   Good Morning  ", "good_morning"},
		{"unicode letters kept", "ÇA VA? Ünïcode 123", "ça_va_ünïcode_123"},
		{"digits only", "42", "42"},
		{"punctuation only falls back to hash", "!!!", "6dd075556eff"},
		{"single char falls back to hash", "A", "0cc175b9c0f1"},
		{"whitespace only hashes empty text", "   ", "d41d8cd98f00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Key(tt.text))
		})
	}
}

func TestResolver_KeyIsDeterministic(t *testing.T) {
	r := New("/cache")
	for _, text := range []string{"hello", "?!", "The quick brown fox", "日本語のテキスト"} {
		first := r.Path(text)
		for range 5 {
			assert.Equal(t, first, New("/cache").Path(text))
		}
	}
}

func TestResolver_Truncation(t *testing.T) {
	r := New("/cache")
	long := strings.Repeat("abcde ", 20)

	key := r.Key(long)
	assert.Len(t, []rune(key), DefaultMaxLength)
	assert.True(t, strings.HasPrefix(key, "abcde_abcde_"))

	// Distinct texts sharing the first 50 sanitized characters alias in legacy mode.
	assert.Equal(t, r.Key(long+"one"), r.Key(long+"two"))
}

func TestResolver_TruncationCountsCharacters(t *testing.T) {
	r := New("/cache")
	key := r.Key(strings.Repeat("é", 80))
	assert.Len(t, []rune(key), DefaultMaxLength)
}

func TestResolver_HashedMode(t *testing.T) {
	r := New("/cache", WithMode(ModeHashed))
	long := strings.Repeat("abcde ", 20)

	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", r.Key("  Hello World "))
	assert.NotEqual(t, r.Key(long+"one"), r.Key(long+"two"))
	assert.Equal(t, "hello_world", r.Label("  Hello World "))
}

func TestResolver_Path(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	assert.Equal(t, filepath.Join(dir, "hello.wav"), r.Path("hello"))
	assert.Equal(t, dir, r.Dir())
}

func TestResolver_WithLengths(t *testing.T) {
	r := New("/cache", WithLengths(5, 4))
	assert.Equal(t, "hello", r.Key("hello world"))
	assert.Equal(t, "0cc175b9c0f1", r.Key("a"))
	assert.Len(t, r.Key("abc"), shortHashLength)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeLegacy, mode)

	mode, err = ParseMode("Hashed")
	require.NoError(t, err)
	assert.Equal(t, ModeHashed, mode)

	_, err = ParseMode("sha1")
	assert.Error(t, err)
}
