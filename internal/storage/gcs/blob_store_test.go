package gcs

import (
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	_, err = New(&gstorage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestKeyAppliesPrefix(t *testing.T) {
	t.Parallel()

	s, err := New(&gstorage.Client{}, Config{Bucket: "b", Prefix: "/archives/"})
	require.NoError(t, err)

	key, err := s.key("stories/x.json")
	require.NoError(t, err)
	require.Equal(t, "archives/stories/x.json", key)

	_, err = s.key("")
	require.Error(t, err)

	bare, err := New(&gstorage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	key, err = bare.key("x.json")
	require.NoError(t, err)
	require.Equal(t, "x.json", key)
}
