// ABOUTME: Synthetic multichannel sine source
// ABOUTME: Optionally toggles TTL line 0 at a fixed sample period
package source

import (
	"math"

	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
)

// ToneConfig configures a Tone
type ToneConfig struct {
	Channels   int
	SampleRate float32

	// Frequency of channel 0; channel c plays (c+1) times this (default: 10 Hz)
	Frequency float64

	// Amplitude in microvolts (default: 100)
	Amplitude float64

	// TTLPeriod toggles line 0 every TTLPeriod samples, 0 disables it
	TTLPeriod int
}

// Tone generates sine waves on every channel
type Tone struct {
	config ToneConfig
	next   int64
	ttl    bool
}

// NewTone creates a tone source, applying defaults
func NewTone(config ToneConfig) *Tone {
	if config.Channels < 1 {
		config.Channels = falcon.DefaultChannelCount
	}
	if config.SampleRate <= 0 {
		config.SampleRate = falcon.DefaultSampleRate
	}
	if config.Frequency <= 0 {
		config.Frequency = 10
	}
	if config.Amplitude <= 0 {
		config.Amplitude = 100
	}
	return &Tone{config: config}
}

func (t *Tone) Next(n int) (falcon.HostBlock, error) {
	c := t.config
	block := falcon.HostBlock{
		Channels:          make([][]float32, c.Channels),
		NumSamples:        n,
		FirstSampleNumber: t.next,
		SampleRate:        c.SampleRate,
	}

	for ch := range block.Channels {
		samples := make([]float32, n)
		freq := c.Frequency * float64(ch+1)
		for i := range samples {
			at := float64(t.next+int64(i)) / float64(c.SampleRate)
			samples[i] = float32(c.Amplitude * math.Sin(2*math.Pi*freq*at))
		}
		block.Channels[ch] = samples
	}

	if c.TTLPeriod > 0 {
		for i := 0; i < n; i++ {
			if (t.next+int64(i))%int64(c.TTLPeriod) == 0 {
				t.ttl = !t.ttl
				block.Events = append(block.Events, falcon.TTLEvent{Line: 0, High: t.ttl, Offset: i})
			}
		}
	}

	t.next += int64(n)
	return block, nil
}

func (t *Tone) SampleRate() float32 { return t.config.SampleRate }
func (t *Tone) Channels() int       { return t.config.Channels }
func (t *Tone) Close() error        { return nil }
