package natsbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectNoAddressIsNoOp(t *testing.T) {
	b, err := Connect(Config{Subject: "rtcore"})
	require.NoError(t, err)
	require.False(t, b.Connected())

	// Publish on a disconnected bus must not panic or error.
	b.PublishStatus("BB", "IBM", "up")
	b.PublishUpdate("BB", "IBM", 3)
	b.Close()
}

func TestConnectBadAddressErrors(t *testing.T) {
	_, err := Connect(Config{Address: "nats://127.0.0.1:1", Subject: "rtcore"})
	require.Error(t, err)
}
