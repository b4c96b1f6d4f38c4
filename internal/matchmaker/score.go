package matchmaker

import (
	"time"

	"github.com/hypernode-labs/engine/internal/models"
)

// Scoring weights. Reputation and track record dominate; VRAM headroom is a
// mild preference once the hard minimum is met.
const (
	weightReputation  = 0.4
	weightSuccessRate = 0.4
	weightVRAMFit     = 0.2

	maxReputation = 1000.0
)

// Score computes the soft ranking score for a candidate node against a job's
// requirements. The result is always in [0,1].
func Score(req models.Requirements, node models.Node) float64 {
	reputation := clamp(float64(node.ReputationScore)/maxReputation, 0, 1)
	successRate := float64(node.JobsCompleted) / float64(node.JobsCompleted+node.JobsFailed+1)

	vramFit := 1.0
	if req.VRAMMin > 0 {
		vramFit = clamp(float64(node.VRAMGb)/float64(req.VRAMMin), 0, 1)
	}

	score := weightReputation*reputation + weightSuccessRate*successRate + weightVRAMFit*vramFit
	return clamp(score, 0, 1)
}

// FilterCandidates applies the hard constraints: heartbeat freshness, minimum
// VRAM, and exact GPU model when requested. The registry query already filters
// on all three, but freshness is cheap to recheck here so a candidate list that
// sat in flight cannot admit a node that has since gone stale.
func FilterCandidates(req models.Requirements, nodes []models.Node, now time.Time, freshness time.Duration) []models.Node {
	var out []models.Node
	for _, n := range nodes {
		if n.LastHeartbeat == nil || now.Sub(*n.LastHeartbeat) > freshness {
			continue
		}
		if req.VRAMMin > 0 && n.VRAMGb < req.VRAMMin {
			continue
		}
		if req.GPUModel != "" && n.GPUModel != req.GPUModel {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Candidate pairs a node with its computed score
type Candidate struct {
	Node  models.Node
	Score float64
}

// SelectBest scores every candidate and returns the winner. Ties are broken by
// lower node id, then by higher completed-job count, so identical inputs always
// produce the identical selection. The second return is false when the
// candidate set is empty: a no-match, not an error.
func SelectBest(req models.Requirements, nodes []models.Node) (Candidate, bool) {
	if len(nodes) == 0 {
		return Candidate{}, false
	}

	best := Candidate{Node: nodes[0], Score: Score(req, nodes[0])}
	for _, n := range nodes[1:] {
		c := Candidate{Node: n, Score: Score(req, n)}
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

func better(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Node.NodeID != b.Node.NodeID {
		return a.Node.NodeID < b.Node.NodeID
	}
	return a.Node.JobsCompleted > b.Node.JobsCompleted
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
