package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_Accepts(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		size int
		want bool
	}{
		{"unlimited", Capabilities{}, 1 << 30, true},
		{"fits", Capabilities{MaxMessageSize: 1024}, 1024, true},
		{"too large", Capabilities{MaxMessageSize: 1024}, 1025, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.Accepts(tt.size))
		})
	}
}

func TestPredefinedCapabilities(t *testing.T) {
	assert.True(t, ChannelCapabilities.SupportsSubscribe)
	assert.False(t, ChannelCapabilities.Durable)

	assert.True(t, KafkaCapabilities.SupportsPartitioning)
	assert.EqualValues(t, 1048576, KafkaCapabilities.MaxMessageSize)

	assert.False(t, AWSCapabilities.Accepts(300*1024))
	assert.True(t, SQLiteCapabilities.Durable)
	assert.True(t, PostgresCapabilities.SupportsOrdering)
	assert.False(t, NATSCapabilities.SupportsOrdering)
	assert.True(t, NATSJetStreamCapabilities.SupportsOrdering)

	for _, caps := range []Capabilities{
		ChannelCapabilities, KafkaCapabilities, RabbitMQCapabilities, NATSCapabilities,
		NATSJetStreamCapabilities, AWSCapabilities, SQLiteCapabilities, PostgresCapabilities,
		HTTPCapabilities, IOCapabilities,
	} {
		assert.NotEmpty(t, caps.Name)
	}
}

func TestGetCapabilities_Unknown(t *testing.T) {
	caps := GetCapabilities("no-such-sink")
	assert.Equal(t, "no-such-sink", caps.Name)
	assert.False(t, caps.Durable)
}
