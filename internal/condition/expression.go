// Package condition implements alert expressions: boolean trees of
// predicates over the metric vector, with time windows and
// event-sequence patterns, plus the engine that evaluates active alerts
// against fixture snapshots.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"matchpulse/internal/model"
)

// Node types of the expression tree.
const (
	TypePredicate = "predicate"
	TypeAnd       = "and"
	TypeOr        = "or"
	TypeNot       = "not"
	TypeSequence  = "sequence"
)

// Operator is a predicate comparison operator.
type Operator string

const (
	OpGE          Operator = ">="
	OpGT          Operator = ">"
	OpLE          Operator = "<="
	OpLT          Operator = "<"
	OpEQ          Operator = "=="
	OpNE          Operator = "!="
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// TeamScope selects which side(s) a predicate applies to.
type TeamScope string

const (
	ScopeHome   TeamScope = "home"
	ScopeAway   TeamScope = "away"
	ScopeEither TeamScope = "either"
	ScopeBoth   TeamScope = "both"
)

// Window gates a predicate to a span of match minutes. For counted
// metrics only events inside the window contribute.
type Window struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// Expression is the tagged union of alert condition nodes. Exactly the
// fields for the node's Type are set; the zero fields are omitted from
// JSON so serialization round-trips losslessly.
type Expression struct {
	Type string `json:"type"`

	// And / Or
	Children []*Expression `json:"children,omitempty"`

	// Not
	Child *Expression `json:"child,omitempty"`

	// Predicate
	Metric   string    `json:"metric,omitempty"`
	Team     TeamScope `json:"team,omitempty"`
	Op       Operator  `json:"op,omitempty"`
	Value    float64   `json:"value,omitempty"`
	StrValue string    `json:"str_value,omitempty"` // for contains operators
	Window   *Window   `json:"window,omitempty"`
	PlayerID string    `json:"player_id,omitempty"`

	// Sequence
	Events        []model.EventType `json:"events,omitempty"`
	WithinMinutes int               `json:"within_minutes,omitempty"`
}

// Parse decodes and validates a serialized expression.
func Parse(raw json.RawMessage) (*Expression, error) {
	var expr Expression
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, fmt.Errorf("condition: decode expression: %w", err)
	}
	if err := expr.Validate(); err != nil {
		return nil, err
	}
	return &expr, nil
}

var validOps = map[Operator]bool{
	OpGE: true, OpGT: true, OpLE: true, OpLT: true,
	OpEQ: true, OpNE: true, OpContains: true, OpNotContains: true,
}

// Validate checks structural well-formedness of the tree.
func (e *Expression) Validate() error {
	switch e.Type {
	case TypeAnd, TypeOr:
		if len(e.Children) == 0 {
			return fmt.Errorf("condition: %s node requires children", e.Type)
		}
		for _, c := range e.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	case TypeNot:
		if e.Child == nil {
			return fmt.Errorf("condition: not node requires a child")
		}
		return e.Child.Validate()
	case TypePredicate:
		if e.Metric == "" {
			return fmt.Errorf("condition: predicate requires a metric")
		}
		if !validOps[e.Op] {
			return fmt.Errorf("condition: invalid operator %q", e.Op)
		}
		if e.Window != nil && e.Window.EndMinute < e.Window.StartMinute {
			return fmt.Errorf("condition: window end before start")
		}
	case TypeSequence:
		if len(e.Events) < 2 {
			return fmt.Errorf("condition: sequence requires at least 2 event kinds")
		}
		if e.WithinMinutes <= 0 {
			return fmt.Errorf("condition: sequence requires within_minutes > 0")
		}
	default:
		return fmt.Errorf("condition: unknown node type %q", e.Type)
	}
	return nil
}

// JSON returns the canonical serialized form.
func (e *Expression) JSON() json.RawMessage {
	b, _ := json.Marshal(e)
	return b
}

// Describe renders a short human-readable condition summary for
// notification bodies.
func (e *Expression) Describe() string {
	switch e.Type {
	case TypeAnd:
		return joinDescriptions(e.Children, " AND ")
	case TypeOr:
		return joinDescriptions(e.Children, " OR ")
	case TypeNot:
		return "NOT (" + e.Child.Describe() + ")"
	case TypeSequence:
		kinds := make([]string, len(e.Events))
		for i, k := range e.Events {
			kinds[i] = string(k)
		}
		return fmt.Sprintf("%s within %dm (%s)", strings.Join(kinds, "→"), e.WithinMinutes, e.Team)
	default:
		scope := ""
		if e.Team != "" {
			scope = " (" + string(e.Team) + ")"
		}
		if e.Op == OpContains || e.Op == OpNotContains {
			return fmt.Sprintf("%s %s %q%s", e.Metric, e.Op, e.StrValue, scope)
		}
		return fmt.Sprintf("%s %s %g%s", e.Metric, e.Op, e.Value, scope)
	}
}

func joinDescriptions(children []*Expression, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.Describe()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
