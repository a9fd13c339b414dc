// Package reputation composes a Bloom pre-filter with a Cuckoo exact
// table into a single IP reputation membership engine: a cheap
// definitive-clean/tentative-suspect probe backed by an authoritative
// disambiguation table, with an adaptive policy that rehashes/rebuilds
// either layer as load or false-positive rate drifts.
package reputation

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"repguard/internal/filter"
	"repguard/internal/iptype"
	"repguard/internal/logging"
)

// CheckResult is the verdict FastCheck returns for a queried address.
type CheckResult int

const (
	// Clean means the Bloom pre-filter reported a definitive miss.
	Clean CheckResult = iota
	// Malicious means the Cuckoo table confirmed the address.
	Malicious
	// BloomFalsePositive means the Bloom filter reported a hit but the
	// Cuckoo table does not hold the address — a false positive bounded
	// by the filter's target FPR, not an error.
	BloomFalsePositive
)

func (r CheckResult) String() string {
	switch r {
	case Clean:
		return "clean"
	case Malicious:
		return "malicious"
	case BloomFalsePositive:
		return "bloom_false_positive"
	default:
		return "unknown"
	}
}

// ReputationEntry is the value stored in the Cuckoo table for every
// known-malicious key.
type ReputationEntry struct {
	Key       iptype.IPKey
	FirstSeen int64 // caller's monotonic clock reading, set once
	LastSeen  int64 // non-decreasing across updates
	// Metadata is an opaque, caller-defined blob; the core never
	// inspects it.
	Metadata []byte
	// Tag is a short caller-defined classification (e.g. "botnet",
	// "scanner") surfaced alongside Metadata without requiring callers
	// to parse the blob just to categorize an entry.
	Tag string
}

// EngineConfig is the enumerated construction configuration from
// spec.md §6, loaded from YAML by pkg/config.
type EngineConfig struct {
	ExpectedItems       uint64  `yaml:"expected_items"`
	FPRLimit            float64 `yaml:"fpr_limit"`
	CuckooLoadLimit     float64 `yaml:"cuckoo_load_limit"`
	GrowthFactor        uint64  `yaml:"growth_factor"`
	FingerprintBits     uint8   `yaml:"fingerprint_bits"` // unused: the Manager always runs the Cuckoo table in exact-key mode, so Bloom can be rebuilt from live keys
	MaintenanceInterval uint64  `yaml:"maintenance_interval"`
	SaltHex             string  `yaml:"salt"` // optional 32 hex chars (128 bits); generated from crypto/rand if empty
	MemoryBudgetBytes   uint64  `yaml:"memory_budget_bytes"`
}

// DefaultEngineConfig returns the spec.md §6 defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ExpectedItems:       1000,
		FPRLimit:            0.05,
		CuckooLoadLimit:     0.95,
		GrowthFactor:        2,
		FingerprintBits:     16,
		MaintenanceInterval: 1000,
		MemoryBudgetBytes:   0,
	}
}

// Validate checks the configuration against spec.md §7's InvalidConfig
// conditions.
func (c EngineConfig) Validate() error {
	if c.ExpectedItems == 0 {
		return fmt.Errorf("reputation: expected_items must be greater than 0")
	}
	if c.FPRLimit <= 0 || c.FPRLimit >= 1 {
		return fmt.Errorf("reputation: fpr_limit must be in (0,1)")
	}
	if c.CuckooLoadLimit <= 0 || c.CuckooLoadLimit >= 1 {
		return fmt.Errorf("reputation: cuckoo_load_limit must be in (0,1)")
	}
	if c.GrowthFactor < 2 {
		return fmt.Errorf("reputation: growth_factor must be >= 2")
	}
	if c.MaintenanceInterval == 0 {
		return fmt.Errorf("reputation: maintenance_interval must be greater than 0")
	}
	if c.SaltHex != "" {
		if len(c.SaltHex) != 32 {
			return fmt.Errorf("reputation: salt must be 32 hex characters (128 bits)")
		}
		if _, err := hex.DecodeString(c.SaltHex); err != nil {
			return fmt.Errorf("reputation: salt is not valid hex: %w", err)
		}
	}
	return nil
}

func resolveSalt(c EngineConfig) (filter.Salt, error) {
	if c.SaltHex == "" {
		return filter.NewSalt(), nil
	}
	raw, err := hex.DecodeString(c.SaltHex)
	if err != nil || len(raw) != 16 {
		return filter.Salt{}, fmt.Errorf("reputation: salt must decode to 16 bytes")
	}
	var s filter.Salt
	for i := 0; i < 2; i++ {
		s[i] = 0
		for j := 0; j < 8; j++ {
			s[i] = s[i]<<8 | uint64(raw[i*8+j])
		}
	}
	return s, nil
}

// counters is the Manager's atomic counter block (spec.md §3
// "Manager state"), snapshotted via Stats.
type counters struct {
	totalQueries       atomic.Uint64
	bloomPositive      atomic.Uint64
	bloomFalsePositive atomic.Uint64
	cuckooHit          atomic.Uint64
	insertions         atomic.Uint64
	rebuildCount       atomic.Uint64
}

// Stats is a read-only snapshot of the Manager's counters and derived
// rates, sizing and estimates (spec.md §6 "Outputs").
type Stats struct {
	TotalQueries       uint64
	BloomPositive      uint64
	BloomFalsePositive uint64
	CuckooHit          uint64
	Insertions         uint64
	RebuildCount       uint64
	CuckooRehashCount  uint64

	ObservedFPR       float64
	BloomPositiveRate float64

	BloomM           uint64
	BloomK           uint64
	CuckooNumBuckets uint64
	CuckooLoadFactor float64

	BloomEstimateFPR  float64
	CuckooEstimateFPR float64
}

// Manager composes a Bloom pre-filter and a Cuckoo exact table behind
// the public operations of spec.md §4.3. It holds no long-lived lock
// of its own during FastCheck: the inner filters' own RWMutexes, plus
// an atomic pointer swap for Bloom rebuilds, suffice.
type Manager struct {
	cfg    EngineConfig
	salt   filter.Salt
	budget *filter.AllocBudget

	bloom  atomic.Pointer[filter.Bloom]
	cuckoo *filter.Cuckoo[ReputationEntry]

	rebuildMu sync.Mutex // serializes Maintenance against concurrent callers and ReportMalicious's Cuckoo+Bloom insert

	opCount  atomic.Uint64
	counters counters
}

// NewManager constructs a Manager from cfg, validating it first.
func NewManager(cfg EngineConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	salt, err := resolveSalt(cfg)
	if err != nil {
		return nil, err
	}

	budget := filter.NewBudget(cfg.MemoryBudgetBytes)

	bloom, err := filter.NewBloom(filter.BloomConfig{
		ExpectedItems: cfg.ExpectedItems,
		TargetFPR:     cfg.FPRLimit,
		Salt:          salt,
	}, budget)
	if err != nil {
		return nil, err
	}

	cuckoo, err := filter.NewCuckoo[ReputationEntry](filter.CuckooConfig{
		Mode:          filter.ExactKeyMode,
		ExpectedItems: cfg.ExpectedItems,
		LoadLimit:     cfg.CuckooLoadLimit,
		GrowthFactor:  cfg.GrowthFactor,
		Salt:          salt,
	}, budget)
	if err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg, salt: salt, budget: budget, cuckoo: cuckoo}
	m.bloom.Store(bloom)

	logging.Info(context.Background(), logging.ComponentManager, logging.ActionStart,
		"reputation manager constructed", map[string]interface{}{
			"expected_items": cfg.ExpectedItems,
			"fpr_limit":      cfg.FPRLimit,
		})

	return m, nil
}

// ReportMalicious normalizes ip, inserts or updates its entry, and
// advances the operation counter that drives the periodic maintenance
// cadence. Ordering is Cuckoo-first-then-Bloom (spec.md §4.3): if the
// Cuckoo insert fails, Bloom is never polluted with the key.
func (m *Manager) ReportMalicious(ctx context.Context, ip string, tag string, metadata []byte, now int64) error {
	key, err := iptype.ParseIPv4(ip)
	if err != nil {
		return &filter.Error{Kind: filter.InvalidInput, Operation: "report_malicious", Message: err.Error(), Cause: err}
	}

	if existing, ok := m.cuckoo.Lookup(key); ok {
		if now > existing.LastSeen {
			existing.LastSeen = now
		}
		existing.Tag = tag
		existing.Metadata = metadata
		m.cuckoo.Update(key, func(ReputationEntry) ReputationEntry { return existing })
	} else {
		entry := ReputationEntry{Key: key, FirstSeen: now, LastSeen: now, Tag: tag, Metadata: metadata}
		m.rebuildMu.Lock()
		if err := m.cuckoo.Insert(key, entry); err != nil {
			m.rebuildMu.Unlock()
			logging.Error(ctx, logging.ComponentManager, logging.ActionInsert,
				"cuckoo insert failed, bloom left untouched", err, map[string]interface{}{"ip": ip})
			return err
		}
		m.bloom.Load().Insert(key)
		m.rebuildMu.Unlock()
	}

	m.counters.insertions.Add(1)
	if m.opCount.Add(1)%m.cfg.MaintenanceInterval == 0 {
		if err := m.Maintenance(ctx, now); err != nil {
			logging.Warn(ctx, logging.ComponentManager, logging.ActionMaintenance,
				"periodic maintenance failed", map[string]interface{}{"error": err.Error()})
		}
	}

	return nil
}

// FastCheck normalizes ip, probes Bloom, and disambiguates a hit
// against Cuckoo. It never fails except on a malformed address.
func (m *Manager) FastCheck(ip string) (CheckResult, error) {
	key, err := iptype.ParseIPv4(ip)
	if err != nil {
		return Clean, &filter.Error{Kind: filter.InvalidInput, Operation: "fast_check", Message: err.Error(), Cause: err}
	}

	m.counters.totalQueries.Add(1)

	if !m.bloom.Load().MightContain(key) {
		return Clean, nil
	}
	m.counters.bloomPositive.Add(1)

	if _, ok := m.cuckoo.Lookup(key); ok {
		m.counters.cuckooHit.Add(1)
		return Malicious, nil
	}

	m.counters.bloomFalsePositive.Add(1)
	return BloomFalsePositive, nil
}

// RemoveMalicious removes ip from the Cuckoo table only. Bloom is left
// untouched (spec.md §3 Non-goals: no deletion-driven Bloom shrinkage);
// the resulting FPR drift is bounded and corrected at the next rebuild.
func (m *Manager) RemoveMalicious(ip string) (bool, error) {
	key, err := iptype.ParseIPv4(ip)
	if err != nil {
		return false, &filter.Error{Kind: filter.InvalidInput, Operation: "remove_malicious", Message: err.Error(), Cause: err}
	}
	return m.cuckoo.Remove(key), nil
}

// Maintenance is an idempotent entry point callers may invoke on their
// own cadence in addition to the automatic per-N-operations trigger
// from ReportMalicious. It rehashes Cuckoo first (so the subsequent
// live-key count is authoritative), then rebuilds Bloom from the
// rehashed Cuckoo if the estimated FPR has drifted past the limit.
func (m *Manager) Maintenance(ctx context.Context, now int64) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	if err := m.cuckoo.MaybeRehash(); err != nil {
		return err
	}

	if m.bloom.Load().EstimateFPR() <= m.cfg.FPRLimit {
		return nil
	}

	return m.rebuildBloomLocked(ctx)
}

// rebuildBloomLocked constructs a new Bloom sized from the live Cuckoo
// key count, carrying the same salt, and installs it atomically. The
// old Bloom remains fully serviceable to concurrent FastCheck callers
// until the pointer swap; no key is ever absent from some active Bloom
// mid-rebuild.
//
// Sizing takes m = max(2 * old m, m_req) (spec §4.3 "to guarantee
// progress"). Because k is rounded to an integer, m_req alone can leave
// estimate_fpr fractionally above fpr_limit (1000 keys at 0.05 gives
// m=6236, k=4, estimate 0.0503), so m is then widened in 1% steps until
// the estimate for the live key count is within fpr_limit.
func (m *Manager) rebuildBloomLocked(ctx context.Context) error {
	keys := m.cuckoo.Keys()
	nActive := uint64(len(keys))
	if nActive == 0 {
		nActive = 1
	}

	oldBloom := m.bloom.Load()

	mReq, _ := filter.SizeBloom(nActive, m.cfg.FPRLimit)
	mNew := mReq
	if floor := oldBloom.M() * 2; floor > mNew {
		mNew = floor
	}
	kNew := uint64(math.Round((float64(mNew) / float64(nActive)) * math.Ln2))
	if kNew < 1 {
		kNew = 1
	}
	for math.Pow(1-math.Exp(-float64(kNew)*float64(nActive)/float64(mNew)), float64(kNew)) > m.cfg.FPRLimit {
		mNew += mNew/100 + 1
		kNew = uint64(math.Round((float64(mNew) / float64(nActive)) * math.Ln2))
		if kNew < 1 {
			kNew = 1
		}
	}

	newBloom, err := filter.NewBloomSized(mNew, kNew, m.salt, m.cfg.FPRLimit, m.budget)
	if err != nil {
		logging.Error(ctx, logging.ComponentManager, logging.ActionRebuild,
			"bloom rebuild allocation failed, old filter remains serviceable", err, nil)
		return err
	}

	for _, k := range keys {
		newBloom.Insert(k)
	}

	m.bloom.Store(newBloom)
	oldBloom.Release()
	m.counters.rebuildCount.Add(1)

	logging.Info(ctx, logging.ComponentManager, logging.ActionRebuild,
		"bloom rebuilt from live cuckoo keys", map[string]interface{}{
			"live_keys": nActive,
			"bloom_m":   newBloom.M(),
			"bloom_k":   newBloom.K(),
		})
	return nil
}

// Stats returns a read-only snapshot of counters, derived rates,
// sizing and estimates.
func (m *Manager) Stats() Stats {
	bloom := m.bloom.Load()
	total := m.counters.totalQueries.Load()
	bfp := m.counters.bloomFalsePositive.Load()
	bpos := m.counters.bloomPositive.Load()

	var observedFPR, bloomPositiveRate float64
	if total > 0 {
		observedFPR = float64(bfp) / float64(total)
		bloomPositiveRate = float64(bpos) / float64(total)
	}

	return Stats{
		TotalQueries:       total,
		BloomPositive:      bpos,
		BloomFalsePositive: bfp,
		CuckooHit:          m.counters.cuckooHit.Load(),
		Insertions:         m.counters.insertions.Load(),
		RebuildCount:       m.counters.rebuildCount.Load(),
		CuckooRehashCount:  m.cuckoo.RehashCount(),

		ObservedFPR:       observedFPR,
		BloomPositiveRate: bloomPositiveRate,

		BloomM:           bloom.M(),
		BloomK:           bloom.K(),
		CuckooNumBuckets: m.cuckoo.NumBuckets(),
		CuckooLoadFactor: m.cuckoo.LoadFactor(),

		BloomEstimateFPR:  bloom.EstimateFPR(),
		CuckooEstimateFPR: m.cuckoo.EstimateFPR(),
	}
}
