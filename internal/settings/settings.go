// ABOUTME: Persisted receiver settings in YAML or the host's XML element
// ABOUTME: Absent or out-of-range values fall back to the defaults
package settings

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for files that are neither YAML nor XML
var ErrUnknownFormat = errors.New("unknown settings format")

// Settings are the receiver parameters that survive a restart
type Settings struct {
	Address      string  `yaml:"address"`
	Port         int     `yaml:"port"`
	ChannelCount int     `yaml:"numchan"`
	SampleRate   float64 `yaml:"fs"`
}

// Default returns the stock receiver settings
func Default() Settings {
	return Settings{
		Address:      falcon.DefaultAddress,
		Port:         falcon.DefaultPort,
		ChannelCount: falcon.DefaultChannelCount,
		SampleRate:   falcon.DefaultSampleRate,
	}
}

// InputConfig copies the settings into an Input configuration
func (s Settings) InputConfig(base falcon.InputConfig) falcon.InputConfig {
	base.Address = s.Address
	base.Port = s.Port
	base.ChannelCount = s.ChannelCount
	base.SampleRate = s.SampleRate
	return base
}

// FromInput captures the current configuration of an Input
func FromInput(config falcon.InputConfig) Settings {
	return Settings{
		Address:      config.Address,
		Port:         config.Port,
		ChannelCount: config.ChannelCount,
		SampleRate:   config.SampleRate,
	}
}

// sanitize replaces out-of-range values with defaults
func (s *Settings) sanitize(logger *slog.Logger) {
	d := Default()
	if err := falcon.ValidateAddress(s.Address); err != nil {
		logger.Warn("settings: invalid address, using default", "value", s.Address, "default", d.Address)
		s.Address = d.Address
	}
	if err := falcon.ValidatePort(s.Port); err != nil {
		logger.Warn("settings: invalid port, using default", "value", s.Port, "default", d.Port)
		s.Port = d.Port
	}
	if err := falcon.ValidateChannelCount(s.ChannelCount); err != nil {
		logger.Warn("settings: invalid channel count, using default", "value", s.ChannelCount, "default", d.ChannelCount)
		s.ChannelCount = d.ChannelCount
	}
	if err := falcon.ValidateSampleRate(s.SampleRate); err != nil {
		logger.Warn("settings: invalid sample rate, using default", "value", s.SampleRate, "default", d.SampleRate)
		s.SampleRate = d.SampleRate
	}
}

type format int

const (
	formatYAML format = iota
	formatXML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".xml":
		return formatXML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load reads settings from path. A missing file yields the defaults.
func Load(path string, logger *slog.Logger) (Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := formatFor(path)
	if err != nil {
		return Default(), err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("settings file not found, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("read settings: %w", err)
	}

	s, err := Parse(data, f == formatXML, logger)
	if err != nil {
		return Default(), fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes YAML, or the XML element when isXML is set
func Parse(data []byte, isXML bool, logger *slog.Logger) (Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := Default()
	var err error
	if isXML {
		err = parseXML(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return Default(), err
	}

	s.sanitize(logger)
	return s, nil
}

// Save writes settings to path in the format implied by its extension
func Save(path string, s Settings) error {
	f, err := formatFor(path)
	if err != nil {
		return err
	}

	var data []byte
	if f == formatXML {
		data, err = marshalXML(s)
	} else {
		data, err = yaml.Marshal(s)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// parameters is the host's <PARAMETERS/> element. Attributes are kept as
// strings so a missing one can be told apart from zero.
type parameters struct {
	XMLName xml.Name `xml:"PARAMETERS"`
	Address *string  `xml:"address,attr"`
	Port    *string  `xml:"port,attr"`
	NumChan *string  `xml:"numchan,attr"`
	Fs      *string  `xml:"fs,attr"`
}

func parseXML(data []byte, s *Settings) error {
	var p parameters
	if err := xml.Unmarshal(data, &p); err != nil {
		return err
	}

	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.Port != nil {
		v, err := strconv.Atoi(strings.TrimSpace(*p.Port))
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		s.Port = v
	}
	if p.NumChan != nil {
		v, err := strconv.Atoi(strings.TrimSpace(*p.NumChan))
		if err != nil {
			return fmt.Errorf("numchan: %w", err)
		}
		s.ChannelCount = v
	}
	if p.Fs != nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(*p.Fs), 64)
		if err != nil {
			return fmt.Errorf("fs: %w", err)
		}
		s.SampleRate = v
	}
	return nil
}

func marshalXML(s Settings) ([]byte, error) {
	port := strconv.Itoa(s.Port)
	numchan := strconv.Itoa(s.ChannelCount)
	fs := strconv.FormatFloat(s.SampleRate, 'f', -1, 64)
	p := parameters{Address: &s.Address, Port: &port, NumChan: &numchan, Fs: &fs}

	out, err := xml.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
