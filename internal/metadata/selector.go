package metadata

import "math/rand"

// ReplicaSelector is a mutable, stateful iterator over one page's replica
// endpoints in randomly shuffled order. It is the Go analogue of the
// original's random_select: TryNext advances and returns the next replica,
// or the empty ProviderDesc once every replica in the current round has
// been tried; TryAgain restarts the cursor for a further retry round.
//
// A ReplicaSelector is not safe for concurrent use: it is owned by exactly
// one in-flight page operation (read or write) at a time.
type ReplicaSelector struct {
	key      PageKey
	replicas []ProviderDesc
	cursor   int
}

// NewReplicaSelector builds a selector over a shuffled copy of replicas for
// the page identified by key. The caller's slice is not mutated.
func NewReplicaSelector(key PageKey, replicas []ProviderDesc, rnd *rand.Rand) *ReplicaSelector {
	shuffled := make([]ProviderDesc, len(replicas))
	copy(shuffled, replicas)
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return &ReplicaSelector{key: key, replicas: shuffled}
}

// PageKey returns the key of the page this selector walks replicas for.
func (s *ReplicaSelector) PageKey() PageKey {
	return s.key
}

// TryNext returns the next untried replica in this round, advancing the
// cursor, or the empty ProviderDesc when the round is exhausted.
func (s *ReplicaSelector) TryNext() ProviderDesc {
	if s.cursor >= len(s.replicas) {
		return ProviderDesc{}
	}
	d := s.replicas[s.cursor]
	s.cursor++
	return d
}

// TryAgain resets the cursor so a further retry round can walk the same
// shuffled replica order from the start.
func (s *ReplicaSelector) TryAgain() {
	s.cursor = 0
}
