package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opnotify/internal/ir"
)

// scenarioFiles lists every scenario under testdata/scenarios.
func scenarioFiles(t *testing.T) []string {
	t.Helper()
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	return paths
}

func TestRun_Scenarios(t *testing.T) {
	for _, path := range scenarioFiles(t) {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/commit_then_verify.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Run(scenario)
		require.NoError(t, err)
		assert.Equal(t, first.Trace, again.Trace)
		assert.Equal(t, first.Pending, again.Pending)
	}
}

func TestRun_SharedOutcomeIsIdentical(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/scenario_d_shared_bucket.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, result.Trace[0].Outcome, result.Trace[1].Outcome)
}

func TestRun_FailingAssertionIsReported(t *testing.T) {
	hash := ir.MustParseTxHash(testHash)
	scenario := &Scenario{
		Name:        "never_dispatched",
		Description: "nothing answers the waiter",
		Steps: []Step{
			{Subscribe: &SubscribeStep{Waiter: "w1", Tx: &hash, Level: ir.Committed}},
		},
		Assertions: []Assertion{
			{Type: AssertDelivered, Waiter: "w1"},
			{Type: AssertPendingCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "w1 not delivered")
	assert.Equal(t, 1, result.Pending)
}

func TestRun_SeedWithoutConfirmIsNotVerified(t *testing.T) {
	hash := ir.MustParseTxHash(testHash)
	tx := []ir.ExecutedEntity{{Tx: &ir.ExecutedTx{Hash: hash, Success: true}}}
	scenario := &Scenario{
		Name:        "unconfirmed_verify",
		Description: "an unconfirmed verify does not answer verified waiters",
		Seed: []SeedOperation{
			{Operation: ir.Operation{Action: ir.ActionCommit, BlockNumber: 6, Entities: tx}, Confirm: true},
			{Operation: ir.Operation{Action: ir.ActionVerify, BlockNumber: 6, Entities: tx}},
		},
		Steps: []Step{
			{Subscribe: &SubscribeStep{Waiter: "committed", Tx: &hash, Level: ir.Committed}},
			{Subscribe: &SubscribeStep{Waiter: "verified", Tx: &hash, Level: ir.Verified}},
		},
		Assertions: []Assertion{
			{Type: AssertDelivered, Waiter: "committed", Outcome: map[string]any{"block_number": 6, "verified": false}},
			{Type: AssertNotDelivered, Waiter: "verified"},
			{Type: AssertPendingCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
}

func TestRun_TraceIdentifiesEntities(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/listener_limit.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, 2)

	assert.Equal(t, "w1", result.Trace[0].Waiter)
	assert.Equal(t, "priority_op", result.Trace[0].Kind)
	assert.Equal(t, "42", result.Trace[0].ID)
	assert.Equal(t, "committed", result.Trace[0].Level)
	assert.True(t, result.Trace[0].Delivered)
	assert.False(t, result.Trace[1].Delivered)
	assert.Nil(t, result.Trace[1].Outcome)
}
