package filter_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repguard/internal/filter"
	"repguard/internal/iptype"
)

func mustIP(t *testing.T, s string) iptype.IPKey {
	t.Helper()
	k, err := iptype.ParseIPv4(s)
	require.NoError(t, err, "ParseIPv4(%q)", s)
	return k
}

func newBloom(t *testing.T, n uint64, p float64) *filter.Bloom {
	t.Helper()
	b, err := filter.NewBloom(filter.BloomConfig{
		ExpectedItems: n,
		TargetFPR:     p,
		Salt:          filter.NewSalt(),
	}, nil)
	require.NoError(t, err)
	return b
}

func TestBloomNoFalseNegatives(t *testing.T) {
	b := newBloom(t, 1000, 0.01)

	keys := make([]iptype.IPKey, 0, 500)
	for i := 0; i < 500; i++ {
		ip := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		k := mustIP(t, ip)
		b.Insert(k)
		keys = append(keys, k)
	}

	t.Run("every_inserted_key_reports_present", func(t *testing.T) {
		for _, k := range keys {
			assert.True(t, b.MightContain(k), "false negative for key %s", k)
		}
	})
}

func TestBloomConstructionValidation(t *testing.T) {
	t.Run("zero_expected_items_rejected", func(t *testing.T) {
		_, err := filter.NewBloom(filter.BloomConfig{ExpectedItems: 0, TargetFPR: 0.01}, nil)
		assert.Error(t, err)
	})

	t.Run("fpr_out_of_range_rejected", func(t *testing.T) {
		for _, p := range []float64{0, 1, -0.1, 1.5} {
			_, err := filter.NewBloom(filter.BloomConfig{ExpectedItems: 100, TargetFPR: p}, nil)
			assert.Errorf(t, err, "target_fpr=%v", p)
		}
	})

	t.Run("expected_items_one_is_usable", func(t *testing.T) {
		b := newBloom(t, 1, 0.01)
		k := mustIP(t, "1.2.3.4")
		b.Insert(k)
		assert.True(t, b.MightContain(k))
	})
}

func TestBloomEstimateFPR(t *testing.T) {
	b := newBloom(t, 100, 0.05)

	assert.Zero(t, b.EstimateFPR(), "empty filter should estimate 0 FPR")

	for i := 0; i < 100; i++ {
		b.Insert(mustIP(t, fmt.Sprintf("10.1.%d.%d", i/256, i%256)))
	}

	got := b.EstimateFPR()
	assert.Greater(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}

func TestBloomInsertedCountIsMonotonic(t *testing.T) {
	b := newBloom(t, 10, 0.1)
	k := mustIP(t, "8.8.8.8")

	b.Insert(k)
	b.Insert(k)
	b.Insert(k)

	assert.EqualValues(t, 3, b.InsertedCount(), "inserted_count should count logical inserts, not distinct keys")
}

func TestBloomObservedFPRUnderLoad(t *testing.T) {
	b := newBloom(t, 100, 0.05)
	for i := 0; i < 100; i++ {
		b.Insert(mustIP(t, fmt.Sprintf("10.0.%d.%d", i/256, i%256)))
	}

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		k := mustIP(t, fmt.Sprintf("192.168.%d.%d", (i/256)%256, i%256))
		if b.MightContain(k) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / float64(trials)
	assert.LessOrEqual(t, observed, 0.05*1.5, "observed FPR exceeds fpr_limit*1.5")
}

func TestBloomSaltStabilityAcrossRebuild(t *testing.T) {
	salt := filter.NewSalt()
	b1, err := filter.NewBloom(filter.BloomConfig{ExpectedItems: 100, TargetFPR: 0.05, Salt: salt}, nil)
	require.NoError(t, err)
	k := mustIP(t, "203.0.113.7")
	b1.Insert(k)

	b2, err := filter.NewBloom(filter.BloomConfig{ExpectedItems: 1000, TargetFPR: 0.05, Salt: salt}, nil)
	require.NoError(t, err)
	b2.Insert(k)

	assert.True(t, b2.MightContain(k), "key inserted under the same salt into the rebuilt filter must be present")
}
