package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesUpToCapacity(t *testing.T) {
	var created int
	p := New(func() (int, error) {
		created++
		return created, nil
	}, 2)

	a, ok, err := p.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, a)

	b, ok, err := p.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, b)

	_, ok, err = p.Acquire()
	require.NoError(t, err)
	assert.False(t, ok, "pool is at capacity with both members busy")
}

func TestReleaseMakesObjectAvailableAgain(t *testing.T) {
	p := New(func() (string, error) { return "conn", nil }, 1)

	obj, ok, err := p.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, p.Release(obj))

	obj2, ok, err := p.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, obj, obj2)
}

func TestReleaseNonMemberFails(t *testing.T) {
	p := New(func() (string, error) { return "conn", nil }, 1)
	assert.ErrorIs(t, p.Release("not-a-member"), ErrNotInPool)
}

func TestAcquirePropagatesGenError(t *testing.T) {
	p := New(func() (int, error) { return 0, assert.AnError }, 1)
	_, ok, err := p.Acquire()
	assert.False(t, ok)
	assert.ErrorIs(t, err, assert.AnError)
}
