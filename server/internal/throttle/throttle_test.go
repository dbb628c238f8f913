package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_EnforcesMinimumInterval(t *testing.T) {
	rules := map[string]Rule{
		"example.test": {MinInterval: 50 * time.Millisecond, MaxRPM: 1000},
	}
	th := NewWithRules(rules, Rule{MinInterval: 50 * time.Millisecond, MaxRPM: 1000})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, th.Wait(ctx, "https://example.test/a"))
	require.NoError(t, th.Wait(ctx, "https://example.test/b"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestWait_SubdomainSuffixMatching(t *testing.T) {
	rules := map[string]Rule{
		"example.test": {MinInterval: time.Millisecond, MaxRPM: 1000},
	}
	th := NewWithRules(rules, Rule{MinInterval: 10 * time.Second, MaxRPM: 1})

	require.NoError(t, th.Wait(context.Background(), "https://news.example.test/a"))
	state := th.stateFor("news.example.test", th.ruleFor("news.example.test"))
	assert.Equal(t, time.Millisecond, state.minInterval)
}

func TestWait_RespectsContextCancellation(t *testing.T) {
	rules := map[string]Rule{
		"example.test": {MinInterval: time.Hour, MaxRPM: 1000},
	}
	th := NewWithRules(rules, Rule{MinInterval: time.Hour, MaxRPM: 1000})

	require.NoError(t, th.Wait(context.Background(), "https://example.test/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := th.Wait(ctx, "https://example.test/b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWait_RPMCapEnforcesRollingWindow(t *testing.T) {
	const maxRPM = 3
	rules := map[string]Rule{
		"example.test": {MinInterval: 0, MaxRPM: maxRPM},
	}
	th := NewWithRules(rules, Rule{MinInterval: 0, MaxRPM: maxRPM})
	state := th.stateFor("example.test", th.ruleFor("example.test"))

	cur := time.Now()
	var slept []time.Duration
	state.now = func() time.Time { return cur }
	state.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		cur = cur.Add(d)
		return nil
	}

	for i := 0; i < maxRPM; i++ {
		require.NoError(t, state.Wait(context.Background()))
		cur = cur.Add(time.Millisecond)
	}
	require.Empty(t, slept, "the first max_rpm admissions must be admitted without sleeping")

	require.NoError(t, state.Wait(context.Background()))
	require.Len(t, slept, 1, "the (max_rpm+1)th admission must wait out the window")
	assert.GreaterOrEqual(t, slept[0], 59*time.Second,
		"the (max_rpm+1)th admission must be delayed past the 60s window boundary, not just the token-bucket refill rate")
}

func TestRuleFor_FallsBackToDefault(t *testing.T) {
	th := New()
	rule := th.ruleFor("totally-unknown-host.example")
	assert.Equal(t, defaultMinInterval, rule.MinInterval)
	assert.Equal(t, defaultMaxRPM, rule.MaxRPM)
}
