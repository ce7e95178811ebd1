// ABOUTME: Looping MP3 and FLAC replay
// ABOUTME: Decodes to normalized floats and spreads file channels over outputs
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
)

// fileAmplitude scales full-scale audio to microvolts
const fileAmplitude = 1000.0

// pcmReader yields interleaved samples in [-1, 1] and rewinds at EOF
type pcmReader interface {
	read(dst []float32) (int, error)
	rewind() error
	close() error
}

type fileSource struct {
	reader       pcmReader
	fileChannels int
	channels     int
	sampleRate   float32
	next         int64
	scratch      []float32
}

func newFileSource(r pcmReader, fileChannels, channels int, rate float32) *fileSource {
	if channels < 1 {
		channels = fileChannels
	}
	return &fileSource{reader: r, fileChannels: fileChannels, channels: channels, sampleRate: rate}
}

func (s *fileSource) Next(n int) (falcon.HostBlock, error) {
	want := n * s.fileChannels
	if cap(s.scratch) < want {
		s.scratch = make([]float32, want)
	}
	buf := s.scratch[:want]

	filled := 0
	rewound := false
	for filled < want {
		got, err := s.reader.read(buf[filled:])
		filled += got
		if got > 0 {
			rewound = false
		}
		if errors.Is(err, io.EOF) {
			if rewound {
				return falcon.HostBlock{}, ErrEmptyFile
			}
			if err := s.reader.rewind(); err != nil {
				return falcon.HostBlock{}, fmt.Errorf("rewind: %w", err)
			}
			rewound = true
			continue
		}
		if err != nil {
			return falcon.HostBlock{}, err
		}
	}

	block := falcon.HostBlock{
		Channels:          make([][]float32, s.channels),
		NumSamples:        n,
		FirstSampleNumber: s.next,
		SampleRate:        s.sampleRate,
	}
	for ch := range block.Channels {
		src := ch % s.fileChannels
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = buf[i*s.fileChannels+src] * fileAmplitude
		}
		block.Channels[ch] = samples
	}

	s.next += int64(n)
	return block, nil
}

func (s *fileSource) SampleRate() float32 { return s.sampleRate }
func (s *fileSource) Channels() int       { return s.channels }
func (s *fileSource) Close() error        { return s.reader.close() }

type mp3Reader struct {
	file    *os.File
	decoder *mp3.Decoder
	bytes   []byte
}

func openMP3(path string, channels int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	slog.Info("replaying mp3", "path", path, "sample_rate", decoder.SampleRate())

	// go-mp3 always produces 16-bit stereo
	r := &mp3Reader{file: f, decoder: decoder}
	return newFileSource(r, 2, channels, float32(decoder.SampleRate())), nil
}

func (r *mp3Reader) read(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(r.bytes) < need {
		r.bytes = make([]byte, need)
	}
	buf := r.bytes[:need]

	n, err := r.decoder.Read(buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768
	}
	return samples, err
}

func (r *mp3Reader) rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	decoder, err := mp3.NewDecoder(r.file)
	if err != nil {
		return err
	}
	r.decoder = decoder
	return nil
}

func (r *mp3Reader) close() error { return r.file.Close() }

type flacReader struct {
	file     *os.File
	stream   *flac.Stream
	channels int
	scale    float32
	pending  []float32
}

func openFLAC(path string, channels int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flac: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode flac: %w", err)
	}

	info := stream.Info
	slog.Info("replaying flac", "path", path,
		"sample_rate", info.SampleRate, "channels", info.NChannels, "bit_depth", info.BitsPerSample)

	r := &flacReader{
		file:     f,
		stream:   stream,
		channels: int(info.NChannels),
		scale:    float32(int64(1) << (info.BitsPerSample - 1)),
	}
	return newFileSource(r, r.channels, channels, float32(info.SampleRate)), nil
}

func (r *flacReader) read(dst []float32) (int, error) {
	for len(r.pending) == 0 {
		frame, err := r.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < r.channels; ch++ {
				r.pending = append(r.pending, float32(frame.Subframes[ch].Samples[i])/r.scale)
			}
		}
	}

	n := copy(dst, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *flacReader) rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	stream, err := flac.New(r.file)
	if err != nil {
		return err
	}
	r.stream = stream
	r.pending = nil
	return nil
}

func (r *flacReader) close() error { return r.file.Close() }
