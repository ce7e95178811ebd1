// ABOUTME: Sample sources feeding the producer CLI
// ABOUTME: Generates test tones or replays MP3/FLAC files as host blocks
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
)

var (
	// ErrUnsupportedFormat is returned for files other than .mp3 and .flac
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrEmptyFile is returned when a looping file yields no samples
	ErrEmptyFile = errors.New("audio file has no samples")
)

// Source produces consecutive host blocks
type Source interface {
	// Next returns the next n samples of every channel
	Next(n int) (falcon.HostBlock, error)
	SampleRate() float32
	Channels() int
	Close() error
}

// Open returns a tone source when path is empty and a looping file
// source otherwise. File channels are repeated across channels outputs.
func Open(path string, channels int, tone ToneConfig) (Source, error) {
	if path == "" {
		tone.Channels = channels
		return NewTone(tone), nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return openMP3(path, channels)
	case ".flac":
		return openFLAC(path, channels)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac)", ErrUnsupportedFormat, ext)
	}
}
