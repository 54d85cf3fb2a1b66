package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRequiresClient(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "topic", "x")
	require.Error(t, err)
	nilPub.Close()

	p := New(nil)
	_, err = p.Publish(context.Background(), "topic", map[string]int{"a": 1})
	require.ErrorContains(t, err, "not configured")
	p.Close()
}
