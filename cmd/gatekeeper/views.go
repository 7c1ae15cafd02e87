package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// decisionView renders a Decision for text output.
type decisionView tuning.Decision

func (d decisionView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", d.Action, d.Reason)
	if d.Phase != "" {
		fmt.Fprintf(&sb, "phase: %s\n", d.Phase)
	}
	fmt.Fprintf(&sb, "step: %d\n", d.Step)
	if d.MatchedRuleID != "" {
		fmt.Fprintf(&sb, "rule: %s\n", d.MatchedRuleID)
	}
	if d.Remediation != "" {
		fmt.Fprintf(&sb, "remediation: %s\n", d.Remediation)
	}
	return sb.String()
}

// ruleList is a listing of exception rules.
type ruleList []*tuning.ExceptionRule

func (l ruleList) Header() []string {
	return []string{"ID", "PATTERN", "PREDICATE", "SUPPORT", "CONFIDENCE", "CREATED", "LAST MATCHED", "STATUS"}
}

func (l ruleList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		status := "active"
		if r.Retired {
			status = fmt.Sprintf("retired@%d", r.RetiredAt)
		}
		lastMatched := "-"
		if r.LastMatchedAt > 0 {
			lastMatched = strconv.FormatInt(r.LastMatchedAt, 10)
		}
		rows = append(rows, []string{
			r.ID,
			r.Pattern,
			strings.Join(r.PredicateSummary, " "),
			strconv.Itoa(r.SupportCount),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			strconv.FormatInt(r.CreatedAt, 10),
			lastMatched,
			status,
		})
	}
	return rows
}

// overrideList is a listing of override ledger events.
type overrideList []*tuning.OverrideEvent

func (l overrideList) Header() []string {
	return []string{"STEP", "TIME", "FINGERPRINT", "REASON", "EXCERPT"}
}

func (l overrideList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		fp := e.ContextFingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.Step, 10),
			e.Timestamp.UTC().Format(time.RFC3339),
			fp,
			orDash(e.Reason),
			orDash(e.ContextExcerpt),
		})
	}
	return rows
}

// stateView renders one pattern's persisted state as field/value rows.
type stateView struct {
	*tuning.PatternState
}

func (v stateView) Header() []string {
	return []string{"FIELD", "VALUE"}
}

func (v stateView) Rows() [][]string {
	s := v.PatternState
	rows := [][]string{
		{"pattern", s.Pattern},
		{"phase", string(s.Phase)},
		{"threshold", strconv.FormatFloat(s.Threshold, 'f', -1, 64)},
		{"detections", strconv.FormatInt(s.Detections, 10)},
		{"compliances", strconv.FormatInt(s.Compliances, 10)},
		{"overrides", strconv.FormatInt(s.Overrides, 10)},
		{"blocked", strconv.FormatInt(s.Blocked, 10)},
		{"recent_outcomes", strconv.Itoa(len(s.Recent))},
		{"last_tuned_at", strconv.FormatInt(s.LastTunedAt, 10)},
		{"last_transition_at", strconv.FormatInt(s.LastTransitionAt, 10)},
		{"version", strconv.FormatInt(s.Version, 10)},
	}
	for _, a := range s.AdjustmentHistory {
		rows = append(rows, []string{
			fmt.Sprintf("adjustment@%d", a.Step),
			fmt.Sprintf("%s %s -> %s (%s)", a.Field, a.OldValue, a.NewValue, a.Reason),
		})
	}
	return rows
}

// actionTally counts decisions by action during a replay.
type actionTally map[tuning.Action]int

func (t actionTally) Header() []string {
	return []string{"ACTION", "COUNT"}
}

func (t actionTally) Rows() [][]string {
	actions := make([]string, 0, len(t))
	for a := range t {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	rows := make([][]string, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []string{a, strconv.Itoa(t[tuning.Action(a)])})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
