// ABOUTME: Shared configuration defaults and bounds for Falcon endpoints
// ABOUTME: Validation is applied by setters and constructors alike
package falcon

import (
	"errors"
	"fmt"

	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
)

const (
	DefaultAddress      = "127.0.0.1"
	DefaultPort         = 3335
	DefaultChannelCount = 16
	DefaultSampleRate   = 40000.0

	MinPort         = 1024
	MaxPort         = 65534
	MinChannelCount = 1
	MaxChannelCount = 999
	MaxSampleRate   = 50000.0
)

// Configuration errors
var (
	ErrConfigOutOfRange   = errors.New("configuration value out of range")
	ErrAcquisitionRunning = errors.New("acquisition is running")
)

// ValidatePort checks the publish/subscribe port bounds
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: port %d not in [%d, %d]", ErrConfigOutOfRange, port, MinPort, MaxPort)
	}
	return nil
}

// ValidateChannelCount checks the receiver channel count bounds
func ValidateChannelCount(n int) error {
	if n < MinChannelCount || n > MaxChannelCount {
		return fmt.Errorf("%w: channel count %d not in [%d, %d]", ErrConfigOutOfRange, n, MinChannelCount, MaxChannelCount)
	}
	return nil
}

// ValidateSampleRate checks the nominal sample rate, which must lie in (0, 50000)
func ValidateSampleRate(rate float64) error {
	if !(rate > 0 && rate < MaxSampleRate) {
		return fmt.Errorf("%w: sample rate %g not in (0, %g)", ErrConfigOutOfRange, rate, MaxSampleRate)
	}
	return nil
}

// ValidateAddress rejects an empty producer address
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address is empty", ErrConfigOutOfRange)
	}
	return nil
}

// ValidateTransport rejects unknown transport names
func ValidateTransport(name string) error {
	if !transport.Valid(name) {
		return fmt.Errorf("%w: unknown transport %q", ErrConfigOutOfRange, name)
	}
	return nil
}
