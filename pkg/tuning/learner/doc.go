// Package learner promotes recurring overrides into exception rules.
//
// Every Interval steps the Learner reads the most recent override events of
// each pattern, clusters them by bag-of-tokens Jaccard similarity, and turns
// every cluster with enough support and internal similarity into an
// ExceptionRule whose predicate is the set of tokens all members share.
// Rules that go StalenessWindow steps without matching are retired but kept
// for audit; a retired rule is only replaced when newer evidence arrives.
//
// Clustering is greedy and deterministic: events are visited in step order
// and join the first cluster whose seed they resemble.
package learner
