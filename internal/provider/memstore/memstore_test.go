package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe1240/blobseer/internal/metadata"
)

func TestWriteReadRemove(t *testing.T) {
	s := New(1024)
	key := metadata.HashPage([]byte("page-content"))

	_, ok := s.Read(key)
	assert.False(t, ok)

	assert.True(t, s.Write(key, []byte("page-content")))
	got, ok := s.Read(key)
	require.True(t, ok)
	assert.Equal(t, []byte("page-content"), got)

	s.Remove(key)
	_, ok = s.Read(key)
	assert.False(t, ok)
}

func TestGetFreeTracksUsage(t *testing.T) {
	s := New(100)
	assert.EqualValues(t, 100, s.GetFree())

	key := metadata.HashPage([]byte("0123456789"))
	s.Write(key, []byte("0123456789"))
	assert.EqualValues(t, 90, s.GetFree())

	s.Remove(key)
	assert.EqualValues(t, 100, s.GetFree())
}

func TestGetFreeSaturatesAtZero(t *testing.T) {
	s := New(4)
	s.Write(metadata.HashPage([]byte("longer than capacity")), []byte("longer than capacity"))
	assert.EqualValues(t, 0, s.GetFree())
}

func TestReadReturnsACopyNotAnAlias(t *testing.T) {
	s := New(1024)
	key := metadata.HashPage([]byte("abc"))
	s.Write(key, []byte("abc"))

	got, ok := s.Read(key)
	require.True(t, ok)
	got[0] = 'z'

	got2, _ := s.Read(key)
	assert.Equal(t, byte('a'), got2[0], "mutating a read result must not affect stored data")
}
