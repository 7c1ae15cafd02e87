package learner

import (
	"sort"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// Cluster is a group of override events with similar context.
type Cluster struct {
	// Members are the clustered events in step order. The first is the seed.
	Members []*tuning.OverrideEvent

	// Shared is the intersection of every member's token set.
	Shared tuning.TokenSet

	// Confidence is the mean pairwise Jaccard similarity of the members.
	Confidence float64

	seed   tuning.TokenSet
	tokens []tuning.TokenSet
}

// Support is the number of members.
func (c *Cluster) Support() int {
	return len(c.Members)
}

// Newest returns the highest member step.
func (c *Cluster) Newest() int64 {
	var newest int64
	for _, m := range c.Members {
		if m.Step > newest {
			newest = m.Step
		}
	}
	return newest
}

// ClusterEvents groups events greedily in step order. Each event joins the
// first existing cluster whose seed it resembles with Jaccard similarity of
// at least threshold, or seeds a new cluster. The result is deterministic
// for a given input.
func ClusterEvents(events []*tuning.OverrideEvent, threshold float64) []*Cluster {
	ordered := make([]*tuning.OverrideEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Step < ordered[j].Step
	})

	var clusters []*Cluster
	for _, ev := range ordered {
		tokens := tuning.Tokenize(ev.ContextExcerpt)

		var home *Cluster
		for _, c := range clusters {
			if tuning.Jaccard(c.seed, tokens) >= threshold {
				home = c
				break
			}
		}
		if home == nil {
			home = &Cluster{seed: tokens}
			clusters = append(clusters, home)
		}
		home.Members = append(home.Members, ev)
		home.tokens = append(home.tokens, tokens)
	}

	for _, c := range clusters {
		c.Shared = intersectAll(c.tokens)
		c.Confidence = meanPairwise(c.tokens)
	}
	return clusters
}

func intersectAll(sets []tuning.TokenSet) tuning.TokenSet {
	if len(sets) == 0 {
		return tuning.TokenSet{}
	}
	shared := sets[0]
	for _, s := range sets[1:] {
		shared = shared.Intersect(s)
	}
	return shared
}

func meanPairwise(sets []tuning.TokenSet) float64 {
	if len(sets) < 2 {
		return 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += tuning.Jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
