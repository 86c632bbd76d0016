package blob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRelease(t *testing.T) {
	s := NewStore("http://localhost:8080/api/blobs/", 0)

	url, err := s.Put("session-1", []byte("audio"), "audio/webm")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/api/blobs/"))

	id := strings.TrimPrefix(url, "http://localhost:8080/api/blobs/")
	b, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "audio/webm", b.ContentType)
	assert.Equal(t, []byte("audio"), b.Data)

	_, err = s.Put("session-2", []byte("other"), "")
	require.NoError(t, err)

	assert.Equal(t, 1, s.ReleaseOwner("session-1"))
	_, ok = s.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestPutRejectsBadSizes(t *testing.T) {
	s := NewStore("", 4)

	_, err := s.Put("o", nil, "")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Put("o", []byte("12345"), "")
	assert.ErrorIs(t, err, ErrTooLarge)

	url, err := s.Put("o", []byte("1234"), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/"))
}
