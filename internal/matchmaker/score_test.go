package matchmaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernode-labs/engine/internal/models"
)

func heartbeatAgo(age time.Duration) *time.Time {
	t := time.Now().Add(-age)
	return &t
}

func TestScoreBounds(t *testing.T) {
	tests := []struct {
		name string
		req  models.Requirements
		node models.Node
	}{
		{
			name: "zero node",
			node: models.Node{},
		},
		{
			name: "maxed node",
			node: models.Node{ReputationScore: 1000, JobsCompleted: 10000, VRAMGb: 80},
			req:  models.Requirements{VRAMMin: 8},
		},
		{
			name: "reputation above cap",
			node: models.Node{ReputationScore: 5000},
		},
		{
			name: "vram far below minimum",
			node: models.Node{ReputationScore: 800, VRAMGb: 4},
			req:  models.Requirements{VRAMMin: 48},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Score(tt.req, tt.node)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		})
	}
}

func TestScoreMonotonicity(t *testing.T) {
	base := models.Node{ReputationScore: 500, JobsCompleted: 50, JobsFailed: 50, VRAMGb: 16}
	req := models.Requirements{VRAMMin: 24}

	moreRep := base
	moreRep.ReputationScore = 700
	assert.Greater(t, Score(req, moreRep), Score(req, base), "higher reputation must not lower the score")

	moreSuccess := base
	moreSuccess.JobsCompleted = 90
	moreSuccess.JobsFailed = 10
	assert.Greater(t, Score(req, moreSuccess), Score(req, base), "better success rate must not lower the score")

	moreVRAM := base
	moreVRAM.VRAMGb = 24
	assert.Greater(t, Score(req, moreVRAM), Score(req, base), "better vram fit must not lower the score")
}

func TestScoreDeterministic(t *testing.T) {
	node := models.Node{ReputationScore: 731, JobsCompleted: 42, JobsFailed: 7, VRAMGb: 24}
	req := models.Requirements{VRAMMin: 16}

	first := Score(req, node)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Score(req, node))
	}
}

// Worked example: B wins on reputation despite A's better success rate.
func TestScoreExample(t *testing.T) {
	req := models.Requirements{VRAMMin: 16}
	nodeA := models.Node{NodeID: "node-a", ReputationScore: 800, JobsCompleted: 90, JobsFailed: 10, VRAMGb: 24, LastHeartbeat: heartbeatAgo(time.Minute)}
	nodeB := models.Node{NodeID: "node-b", ReputationScore: 950, JobsCompleted: 40, JobsFailed: 5, VRAMGb: 16, LastHeartbeat: heartbeatAgo(time.Minute)}

	assert.InDelta(t, 0.876, Score(req, nodeA), 0.001)
	assert.InDelta(t, 0.928, Score(req, nodeB), 0.001)

	best, ok := SelectBest(req, []models.Node{nodeA, nodeB})
	require.True(t, ok)
	assert.Equal(t, "node-b", best.Node.NodeID)
}

func TestSelectBestEmpty(t *testing.T) {
	_, ok := SelectBest(models.Requirements{}, nil)
	assert.False(t, ok)

	_, ok = SelectBest(models.Requirements{}, []models.Node{})
	assert.False(t, ok)
}

func TestSelectBestTieBreak(t *testing.T) {
	// Identical stats: lower node id must win, every time
	a := models.Node{NodeID: "aaa", ReputationScore: 600, JobsCompleted: 10, VRAMGb: 16}
	b := models.Node{NodeID: "bbb", ReputationScore: 600, JobsCompleted: 10, VRAMGb: 16}

	for i := 0; i < 20; i++ {
		best, ok := SelectBest(models.Requirements{}, []models.Node{b, a})
		require.True(t, ok)
		assert.Equal(t, "aaa", best.Node.NodeID)
	}
}

func TestFilterCandidatesFreshness(t *testing.T) {
	freshness := 5 * time.Minute
	now := time.Now()

	fresh := models.Node{NodeID: "fresh", VRAMGb: 24, LastHeartbeat: heartbeatAgo(time.Minute)}
	stale := models.Node{NodeID: "stale", VRAMGb: 24, LastHeartbeat: heartbeatAgo(6 * time.Minute)}
	never := models.Node{NodeID: "never", VRAMGb: 24}

	out := FilterCandidates(models.Requirements{}, []models.Node{fresh, stale, never}, now, freshness)
	require.Len(t, out, 1)
	assert.Equal(t, "fresh", out[0].NodeID)
}

func TestFilterCandidatesHardConstraints(t *testing.T) {
	nodes := []models.Node{
		{NodeID: "small", GPUModel: "rtx4090", VRAMGb: 24, LastHeartbeat: heartbeatAgo(time.Minute)},
		{NodeID: "big", GPUModel: "a100", VRAMGb: 80, LastHeartbeat: heartbeatAgo(time.Minute)},
	}

	out := FilterCandidates(models.Requirements{VRAMMin: 32}, nodes, time.Now(), 5*time.Minute)
	require.Len(t, out, 1)
	assert.Equal(t, "big", out[0].NodeID)

	out = FilterCandidates(models.Requirements{GPUModel: "rtx4090"}, nodes, time.Now(), 5*time.Minute)
	require.Len(t, out, 1)
	assert.Equal(t, "small", out[0].NodeID)

	// vramMin nobody meets: empty set, which callers report as no-match
	out = FilterCandidates(models.Requirements{VRAMMin: 128}, nodes, time.Now(), 5*time.Minute)
	assert.Empty(t, out)
}

func TestSelectBestPrefersVRAMFitOnlyAsTiebreakWeight(t *testing.T) {
	// Same reputation and record; the node meeting vramMin exactly scores the
	// same fit as one with headroom, so the id tiebreak decides.
	req := models.Requirements{VRAMMin: 16}
	exact := models.Node{NodeID: "exact", ReputationScore: 500, VRAMGb: 16}
	roomy := models.Node{NodeID: "roomy", ReputationScore: 500, VRAMGb: 48}

	assert.Equal(t, Score(req, exact), Score(req, roomy))

	best, ok := SelectBest(req, []models.Node{roomy, exact})
	require.True(t, ok)
	assert.Equal(t, "exact", best.Node.NodeID)
}
