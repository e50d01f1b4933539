package revocation

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/mwistrand/aussie-sub004/internal/config"
)

// filter is a single bloom filter. Bits are set through atomic OR so
// readers never take a lock; double hashing derives the k probe
// positions from one blake2b digest.
type filter struct {
	bits []atomic.Uint64
	m    uint64
	k    int
}

func newFilter(expectedInsertions int, falsePositiveProbability float64) *filter {
	n := float64(expectedInsertions)
	// Standard sizing: m = -n ln p / (ln 2)^2, k = (m/n) ln 2.
	m := uint64(math.Ceil(-n * math.Log(falsePositiveProbability) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round(float64(m) / n * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &filter{
		bits: make([]atomic.Uint64, (m+63)/64),
		m:    m,
		k:    k,
	}
}

func hashPair(value string) (uint64, uint64) {
	sum := blake2b.Sum256([]byte(value))
	h1 := binary.BigEndian.Uint64(sum[0:8])
	// Odd second hash so successive probes never collapse onto one bit.
	h2 := binary.BigEndian.Uint64(sum[8:16]) | 1
	return h1, h2
}

func (f *filter) add(value string) {
	h1, h2 := hashPair(value)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		// CAS loop stands in for atomic.Uint64.Or, which needs Go 1.23+.
		word := &f.bits[bit/64]
		mask := uint64(1) << (bit % 64)
		for {
			old := word.Load()
			if word.CompareAndSwap(old, old|mask) {
				break
			}
		}
	}
}

func (f *filter) mightContain(value string) bool {
	h1, h2 := hashPair(value)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		if f.bits[bit/64].Load()&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// filterPair couples the JTI and user filters so both swap together on
// rebuild.
type filterPair struct {
	jti  *filter
	user *filter
}

// Bloom is the tier-1 membership test of the revocation pipeline. A
// negative answer is definitive; a positive one only means the slower
// tiers must decide. Until the first rebuild completes it answers
// "might be revoked" for everything, which is the safe direction.
type Bloom struct {
	cfg config.BloomConfig

	// mu serializes incremental adds with rebuilds; lookups go through
	// the pointer without locking.
	mu          sync.Mutex
	current     atomic.Pointer[filterPair]
	initialized atomic.Bool
}

func NewBloom(cfg config.BloomConfig) *Bloom {
	return &Bloom{cfg: cfg}
}

// Rebuild constructs fresh filters, populates them through fill, and
// swaps them in. The live pair is untouched when fill fails.
func (b *Bloom) Rebuild(fill func(addJTI, addUser func(string)) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pair := &filterPair{
		jti:  newFilter(b.cfg.ExpectedInsertions, b.cfg.FalsePositiveProbability),
		user: newFilter(b.cfg.ExpectedInsertions, b.cfg.FalsePositiveProbability),
	}
	if err := fill(
		func(jti string) { pair.jti.add(jti) },
		func(userID string) { pair.user.add(userID) },
	); err != nil {
		return err
	}

	b.current.Store(pair)
	b.initialized.Store(true)
	return nil
}

// AddJTI records a newly revoked token id.
func (b *Bloom) AddJTI(jti string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pair := b.current.Load(); pair != nil {
		pair.jti.add(jti)
	}
}

// AddUser records a newly revoked user id.
func (b *Bloom) AddUser(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pair := b.current.Load(); pair != nil {
		pair.user.add(userID)
	}
}

// MightContainJTI reports whether jti could be revoked. False is
// definitive.
func (b *Bloom) MightContainJTI(jti string) bool {
	pair := b.current.Load()
	if pair == nil {
		return true
	}
	return pair.jti.mightContain(jti)
}

// MightContainUser reports whether userID could have a revocation rule.
// False is definitive.
func (b *Bloom) MightContainUser(userID string) bool {
	pair := b.current.Load()
	if pair == nil {
		return true
	}
	return pair.user.mightContain(userID)
}

// Initialized reports whether at least one rebuild has completed.
func (b *Bloom) Initialized() bool {
	return b.initialized.Load()
}
