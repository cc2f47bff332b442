package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, "crmflow-worker", []string{"", "  "})

	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("msg-1", nil)
	msg.Metadata.Set("key", "exec-42")

	key, err := partitionKey("crmflow.events", msg)
	require.NoError(t, err)
	assert.Equal(t, "exec-42", key)
}

func TestNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, nonEmpty([]string{" a:9092", "", "b:9092 "}))
	assert.Equal(t, "cg-crmflow-worker", ConsumerGroup("crmflow-worker"))
}
