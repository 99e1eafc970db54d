package peersync

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultKnowledgeSize bounds a peer's knowledge set when none is configured.
const DefaultKnowledgeSize = 65536

// KnowledgeSet remembers which message-ids a peer is known to have, either
// because we offered them and the peer answered, or because the peer sent
// them. It is bounded and evicts oldest-first: lookups and repeated adds
// do not refresh an entry's age.
type KnowledgeSet struct {
	cache *lru.Cache[string, struct{}]
}

// NewKnowledgeSet returns a set holding at most size ids.
func NewKnowledgeSet(size int) *KnowledgeSet {
	if size <= 0 {
		size = DefaultKnowledgeSize
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &KnowledgeSet{cache: c}
}

// Add records id.
func (k *KnowledgeSet) Add(id string) {
	k.cache.ContainsOrAdd(id, struct{}{})
}

// Contains reports whether id is recorded.
func (k *KnowledgeSet) Contains(id string) bool {
	return k.cache.Contains(id)
}

// Len is the number of ids held.
func (k *KnowledgeSet) Len() int {
	return k.cache.Len()
}
