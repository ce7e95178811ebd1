// ABOUTME: Unit tests for the NATS transport that need no server
// ABOUTME: Covers subject mapping and connect failures
package natsbus

import (
	"net"
	"testing"
	"time"

	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectForPort(t *testing.T) {
	assert.Equal(t, "falcon.3335", SubjectForPort(3335))
}

func TestConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	config := Config{
		URL:     "nats://" + addr,
		Subject: "falcon.test",
		Timeout: 200 * time.Millisecond,
	}

	_, err = NewPublisher(config)
	assert.ErrorIs(t, err, transport.ErrConnect)

	_, err = NewSubscriber(config)
	assert.ErrorIs(t, err, transport.ErrConnect)
}

func TestSubjectRequired(t *testing.T) {
	_, err := NewPublisher(Config{})
	assert.ErrorIs(t, err, transport.ErrConnect)
}
