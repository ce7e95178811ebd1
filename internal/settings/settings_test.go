// ABOUTME: Tests for settings persistence
// ABOUTME: Covers YAML and XML round trips, absent and out-of-range values
package settings

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveLoad(t *testing.T) {
	want := Settings{Address: "10.0.0.2", Port: 4000, ChannelCount: 32, SampleRate: 30000}

	for _, name := range []string{"falcon.yaml", "falcon.yml", "falcon.xml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(path, want))

			got, err := Load(path, quietLogger())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestUnknownFormat(t *testing.T) {
	_, err := Load("settings.json", quietLogger())
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.ErrorIs(t, Save("settings.json", Default()), ErrUnknownFormat)
}

func TestParseXML(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want Settings
	}{
		{
			name: "all attributes",
			doc:  `<PARAMETERS port="5000" numchan="8" fs="20000" address="192.168.1.5"/>`,
			want: Settings{Address: "192.168.1.5", Port: 5000, ChannelCount: 8, SampleRate: 20000},
		},
		{
			name: "absent attributes",
			doc:  `<PARAMETERS port="5000"/>`,
			want: Settings{Address: falcon.DefaultAddress, Port: 5000, ChannelCount: falcon.DefaultChannelCount, SampleRate: falcon.DefaultSampleRate},
		},
		{
			name: "out of range",
			doc:  `<PARAMETERS port="80" numchan="0" fs="60000" address=""/>`,
			want: Default(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.doc), true, quietLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseXMLBadNumber(t *testing.T) {
	_, err := Parse([]byte(`<PARAMETERS port="abc"/>`), true, quietLogger())
	assert.Error(t, err)
}

func TestParseYAMLFallback(t *testing.T) {
	doc := "port: 70000\nnumchan: 4\n"
	got, err := Parse([]byte(doc), false, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, falcon.DefaultPort, got.Port)
	assert.Equal(t, 4, got.ChannelCount)
	assert.Equal(t, falcon.DefaultSampleRate, got.SampleRate)
}

func TestInputConfigRoundTrip(t *testing.T) {
	s := Settings{Address: "10.1.1.1", Port: 3400, ChannelCount: 2, SampleRate: 1000}
	cfg := s.InputConfig(falcon.InputConfig{Transport: "memory"})

	assert.Equal(t, "memory", cfg.Transport)
	assert.Equal(t, s, FromInput(cfg))
}

func TestLoadUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dir.yaml")
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err := Load(path, quietLogger())
	assert.Error(t, err)
}
