package filter

import (
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"repguard/internal/iptype"
)

// Bloom is a bit-packed probabilistic pre-filter. It never produces a
// false negative: might_contain(K) == false guarantees K was never
// inserted. A positive result means K was inserted, or a false
// positive with probability bounded by target_fpr under the expected
// load.
//
// Once a bit is set during the lifetime of one Bloom instance it is
// never cleared; clearing only happens by constructing a fresh
// instance during a rebuild.
type Bloom struct {
	mu sync.RWMutex

	bits []byte
	m    uint64 // number of bits
	k    uint64 // number of hash probes per key

	salt          Salt
	targetFPR     float64
	insertedCount uint64 // monotonic, counts logical inserts not distinct keys

	budget *AllocBudget
}

// BloomConfig configures a Bloom pre-filter at construction or rebuild.
type BloomConfig struct {
	ExpectedItems     uint64
	TargetFPR         float64
	Salt              Salt
}

// SizeBloom computes (m, k) from expected capacity n and target FPR p,
// per the standard Bloom sizing formulas: m = ceil(-n*ln(p)/(ln2)^2),
// clamped to at least 8 bits, k = max(1, round((m/n)*ln2)). Exported so
// a caller driving its own growth policy (the reputation Manager's
// rebuild, which floors m at twice the old filter's size per spec) can
// compute the bare requested m/k without constructing a filter.
func SizeBloom(n uint64, p float64) (m, k uint64) {
	if n == 0 {
		n = 1
	}
	ln2 := math.Ln2
	mFloat := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	m = uint64(mFloat)
	if m < 8 {
		m = 8
	}
	k = roundedK(m, n)
	return m, k
}

// roundedK computes max(1, round((m/n)*ln2)) for a chosen m, n.
func roundedK(m, n uint64) uint64 {
	kFloat := math.Round((float64(m) / float64(n)) * math.Ln2)
	k := uint64(kFloat)
	if k < 1 {
		k = 1
	}
	return k
}

// NewBloom constructs a Bloom pre-filter sized for cfg.ExpectedItems at
// cfg.TargetFPR. Returns InvalidConfig if ExpectedItems <= 0 or TargetFPR
// is outside (0,1); AllocationFailure if the backing bit array would
// exceed a configured memory budget.
func NewBloom(cfg BloomConfig, budget *AllocBudget) (*Bloom, error) {
	if cfg.ExpectedItems == 0 {
		return nil, newError(InvalidConfig, "new_bloom", "expected_items must be greater than 0", nil)
	}
	if cfg.TargetFPR <= 0 || cfg.TargetFPR >= 1 {
		return nil, newError(InvalidConfig, "new_bloom", "target_fpr must be in (0,1)", nil)
	}

	m, k := SizeBloom(cfg.ExpectedItems, cfg.TargetFPR)
	return NewBloomSized(m, k, cfg.Salt, cfg.TargetFPR, budget)
}

// NewBloomSized constructs a Bloom pre-filter at an explicit (m, k)
// rather than deriving them from expected_items/target_fpr. Exported
// for callers (the reputation Manager's rebuild) that must enforce a
// sizing floor SizeBloom alone does not apply.
func NewBloomSized(m, k uint64, salt Salt, targetFPR float64, budget *AllocBudget) (*Bloom, error) {
	numBytes := (m + 7) / 8
	if err := budget.reserve("new_bloom", numBytes); err != nil {
		return nil, err
	}

	return &Bloom{
		bits:      make([]byte, numBytes),
		m:         m,
		k:         k,
		salt:      salt,
		targetFPR: targetFPR,
		budget:    budget,
	}, nil
}

// hashPair derives the two independent base hashes Kirsch-Mitzenmacher
// double hashing combines into k bit positions: h1 = H(salt||0||key),
// h2 = H(salt||1||key), using 64-bit xxHash (XXH64 via xxhash/v2, the
// fast non-cryptographic hash this codebase already depends on).
func hashPair(salt Salt, key iptype.IPKey) (h1, h2 uint64) {
	saltBytes := salt.bytes()
	keyBytes := key.Bytes()

	var buf [16 + 1 + 16]byte
	copy(buf[:16], saltBytes[:])
	copy(buf[17:], keyBytes[:])

	buf[16] = 0
	h1 = xxhash.Sum64(buf[:])
	buf[16] = 1
	h2 = xxhash.Sum64(buf[:])
	return h1, h2
}

// bitPositions derives the k bit positions for a key via the
// Kirsch-Mitzenmacher scheme: position_i = (h1 + i*h2) mod m.
func (b *Bloom) bitPositions(key iptype.IPKey) []uint64 {
	h1, h2 := hashPair(b.salt, key)
	positions := make([]uint64, b.k)
	for i := uint64(0); i < b.k; i++ {
		positions[i] = (h1 + i*h2) % b.m
	}
	return positions
}

// Insert sets the k bits derived from key and increments inserted_count.
// All k bits are set before the write lock is released, so a reader
// can never observe a partially-inserted key (which could only ever
// manifest as a false negative, which Bloom must never produce).
func (b *Bloom) Insert(key iptype.IPKey) {
	positions := b.bitPositions(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pos := range positions {
		b.bits[pos/8] |= 1 << (pos % 8)
	}
	b.insertedCount++
}

// MightContain reports whether key might have been inserted. false is
// an absolute guarantee of absence; true means key was inserted, or is
// a false positive bounded by EstimateFPR.
func (b *Bloom) MightContain(key iptype.IPKey) bool {
	positions := b.bitPositions(key)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, pos := range positions {
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// EstimateFPR returns the theoretical false positive rate given the
// current m, k and inserted_count: (1 - e^(-k*n/m))^k.
func (b *Bloom) EstimateFPR() float64 {
	b.mu.RLock()
	n := b.insertedCount
	m := b.m
	k := b.k
	b.mu.RUnlock()

	if n == 0 {
		return 0
	}
	exponent := -float64(k) * float64(n) / float64(m)
	base := 1 - math.Exp(exponent)
	return math.Pow(base, float64(k))
}

// M returns the number of bits in the filter.
func (b *Bloom) M() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.m
}

// K returns the number of hash probes per key.
func (b *Bloom) K() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.k
}

// InsertedCount returns the monotonic count of logical inserts (not
// distinct keys — repeated inserts of the same key still increment it).
func (b *Bloom) InsertedCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.insertedCount
}

// Salt returns the salt this instance was constructed with.
func (b *Bloom) Salt() Salt {
	return b.salt
}

// sizeBytes reports the backing bit array's allocation size, for
// releasing it against the allocation budget during a rebuild swap.
func (b *Bloom) sizeBytes() uint64 {
	return uint64(len(b.bits))
}

// Release returns this instance's backing allocation to its budget.
// Callers that replace a Bloom instance (e.g. a rebuild swap) must call
// Release on the discarded instance once no reader can still reach it.
func (b *Bloom) Release() {
	if b.budget != nil {
		b.budget.release(b.sizeBytes())
	}
}
