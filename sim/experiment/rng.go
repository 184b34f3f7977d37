package experiment

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === ID ===

// hashPrefixLen is the number of content-hash hex digits kept in ID strings.
const hashPrefixLen = 12

// ID identifies an experiment within a batch: its queue position plus the
// content hash of its configuration. Re-running the same queue yields the
// same IDs, which makes results attributable and comparable across runs.
type ID struct {
	Position int
	Hash     string
}

func (id ID) String() string {
	h := id.Hash
	if len(h) > hashPrefixLen {
		h = h[:hashPrefixLen]
	}
	return fmt.Sprintf("%04d-%s", id.Position, h)
}

// === Replica seeds ===

// ReplicaSeed derives the seed for one replica of an experiment.
//
// Derivation formula: baseSeed XOR fnv1a64("<id>/<replica>").
// The result depends only on the experiment ID and replica index, never on
// scheduling order or worker count.
func ReplicaSeed(baseSeed int64, id ID, replica int) int64 {
	return baseSeed ^ fnv1a64(fmt.Sprintf("%s/%d", id, replica))
}

// NewReplicaRand returns a generator seeded for one replica.
// In-process engines use it so replicas are reproducible.
func NewReplicaRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
