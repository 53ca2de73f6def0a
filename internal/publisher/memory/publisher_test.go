package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisher_RecordsEventsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "records", map[string]string{"item_id": "exp-1"})
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), "fragments", map[string]string{"item_id": "exp-2"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	events := pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, "records", events[0].Topic)
	require.JSONEq(t, `{"item_id":"exp-1"}`, string(events[0].Payload))
	require.Equal(t, "fragments", events[1].Topic)
}

func TestPublisher_ByTopicFilters(t *testing.T) {
	t.Parallel()

	pub := New()
	for _, topic := range []string{"records", "fragments", "records"} {
		_, err := pub.Publish(context.Background(), topic, topic)
		require.NoError(t, err)
	}

	require.Len(t, pub.ByTopic("records"), 2)
	require.Len(t, pub.ByTopic("fragments"), 1)
	require.Empty(t, pub.ByTopic("other"))
}

func TestPublisher_RejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "records", func() {})
	require.Error(t, err)
	require.Empty(t, pub.Events())
}
