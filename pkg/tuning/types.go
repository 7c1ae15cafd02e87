package tuning

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Phase is the enforcement phase of a pattern.
type Phase string

const (
	// PhaseObserve counts detections silently.
	PhaseObserve Phase = "OBSERVE"

	// PhaseWarn surfaces a warning with remediation text.
	PhaseWarn Phase = "WARN"

	// PhaseEnforce blocks unless the caller overrides.
	PhaseEnforce Phase = "ENFORCE"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseObserve, PhaseWarn, PhaseEnforce:
		return true
	}
	return false
}

// Action is the verdict returned to the caller.
type Action string

const (
	// ActionAllow lets the behavior proceed silently.
	ActionAllow Action = "ALLOW"

	// ActionWarn lets the behavior proceed with a warning.
	ActionWarn Action = "WARN"

	// ActionBlock stops the behavior.
	ActionBlock Action = "BLOCK"
)

// Context is the per-call input describing the situation being evaluated.
// It is never persisted as-is; only a fingerprint and a redacted excerpt
// reach the override ledger.
type Context struct {
	// RecentWindow holds the caller's trailing actions as opaque JSON values.
	RecentWindow []json.RawMessage `json:"recent_window,omitempty"`

	// OverrideSignal is set when the user explicitly overrode a prior
	// warning or block for this pattern.
	OverrideSignal bool `json:"override_signal,omitempty"`

	// OverrideReason is an optional token describing the override.
	OverrideReason string `json:"override_reason,omitempty"`

	// ComplianceSignal is set when the user acted on a prior warning.
	ComplianceSignal bool `json:"compliance_signal,omitempty"`

	// FreeText is an unstructured description used by the meta-learner.
	FreeText string `json:"free_text,omitempty"`
}

// Decision is the result of evaluating a pattern.
type Decision struct {
	Action        Action `json:"action"`
	Reason        string `json:"reason"`
	MatchedRuleID string `json:"matched_rule_id,omitempty"`
	Phase         Phase  `json:"phase,omitempty"`
	Step          int64  `json:"step,omitempty"`
	Remediation   string `json:"remediation,omitempty"`
}

// OverrideEvent records a single user override. Events are append-only.
type OverrideEvent struct {
	Pattern            string    `json:"pattern"`
	Step               int64     `json:"step"`
	ContextFingerprint string    `json:"context_fingerprint"`
	ContextExcerpt     string    `json:"context_excerpt"`
	Reason             string    `json:"reason,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// ExceptionRule is a learned predicate that pre-empts enforcement for a
// recurring, consistently-overridden context. Rules are only ever replaced
// by superseding writes with a higher version and are never deleted.
type ExceptionRule struct {
	ID               string   `json:"id"`
	Pattern          string   `json:"pattern"`
	PredicateSummary []string `json:"predicate_summary"`
	SupportCount     int      `json:"support_count"`
	Confidence       float64  `json:"confidence"`
	CreatedAt        int64    `json:"created_at"`
	LastMatchedAt    int64    `json:"last_matched_at,omitempty"`
	Retired          bool     `json:"retired"`
	RetiredAt        int64    `json:"retired_at,omitempty"`
	Version          int64    `json:"version"`
}

// Matches reports whether every predicate token is present in tokens.
// A rule with an empty predicate never matches.
func (r *ExceptionRule) Matches(tokens TokenSet) bool {
	if r.Retired || len(r.PredicateSummary) == 0 {
		return false
	}
	for _, tok := range r.PredicateSummary {
		if _, ok := tokens[tok]; !ok {
			return false
		}
	}
	return true
}

// LastActivity returns the most recent step at which the rule was created
// or matched.
func (r *ExceptionRule) LastActivity() int64 {
	if r.LastMatchedAt > r.CreatedAt {
		return r.LastMatchedAt
	}
	return r.CreatedAt
}

// Clone returns a deep copy of the rule.
func (r *ExceptionRule) Clone() *ExceptionRule {
	c := *r
	c.PredicateSummary = append([]string(nil), r.PredicateSummary...)
	return &c
}

// Band bounds the detection threshold of a pattern.
type Band struct {
	Initial float64 `json:"initial" yaml:"initial"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
}

// Validate checks that the band is finite, positive and ordered.
func (b Band) Validate() error {
	for _, v := range []float64{b.Initial, b.Min, b.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("threshold band values must be finite and positive, got %v", b)
		}
	}
	if b.Min > b.Max {
		return fmt.Errorf("threshold min %.2f exceeds max %.2f", b.Min, b.Max)
	}
	if b.Initial < b.Min || b.Initial > b.Max {
		return fmt.Errorf("initial threshold %.2f outside [%.2f, %.2f]", b.Initial, b.Min, b.Max)
	}
	return nil
}

// Clamp limits v to [Min, Max].
func (b Band) Clamp(v float64) float64 {
	return math.Max(b.Min, math.Min(b.Max, v))
}
