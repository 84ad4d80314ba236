package metadata

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplicaSelectorTryNextExhaustsThenEmpty(t *testing.T) {
	replicas := []ProviderDesc{
		{Host: "a", Service: "1"},
		{Host: "b", Service: "1"},
		{Host: "c", Service: "1"},
	}
	sel := NewReplicaSelector(PageKey{1}, replicas, rand.New(rand.NewSource(1)))

	seen := map[ProviderDesc]bool{}
	for i := 0; i < 3; i++ {
		d := sel.TryNext()
		assert.False(t, d.Empty())
		seen[d] = true
	}
	assert.Len(t, seen, 3, "every replica should be tried exactly once per round")
	assert.True(t, sel.TryNext().Empty(), "round is exhausted")
}

func TestReplicaSelectorTryAgainResetsCursor(t *testing.T) {
	replicas := []ProviderDesc{{Host: "a", Service: "1"}}
	sel := NewReplicaSelector(PageKey{1}, replicas, rand.New(rand.NewSource(1)))

	assert.False(t, sel.TryNext().Empty())
	assert.True(t, sel.TryNext().Empty())

	sel.TryAgain()
	assert.False(t, sel.TryNext().Empty())
}

func TestReplicaSelectorDoesNotMutateCallerSlice(t *testing.T) {
	replicas := []ProviderDesc{{Host: "a"}, {Host: "b"}, {Host: "c"}, {Host: "d"}, {Host: "e"}}
	orig := append([]ProviderDesc(nil), replicas...)

	_ = NewReplicaSelector(PageKey{1}, replicas, rand.New(rand.NewSource(42)))
	assert.Equal(t, orig, replicas)
}
