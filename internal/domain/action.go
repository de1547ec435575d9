package domain

import (
	"encoding/json"
	"fmt"
)

// Priority buckets action items the way operators triage them.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
)

func (p Priority) String() string {
	switch p {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	default:
		return "P?"
	}
}

// MarshalJSON renders the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts the priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "P0":
		*p = P0
	case "P1":
		*p = P1
	case "P2":
		*p = P2
	default:
		return fmt.Errorf("unknown priority %q", name)
	}
	return nil
}

// ActionKind enumerates the recommended operations the evaluator can emit.
// These are recommendations only; nothing here mutates bids or budgets.
type ActionKind string

const (
	ActionReview      ActionKind = "REVIEW"
	ActionBidUp       ActionKind = "BID_UP"
	ActionBidDown     ActionKind = "BID_DOWN"
	ActionBudgetUp    ActionKind = "BUDGET_UP"
	ActionCutWaste    ActionKind = "CUT_WASTE"
	ActionRestock     ActionKind = "RESTOCK"
	ActionDiscontinue ActionKind = "DISCONTINUE"
)

// ActionItem is one ranked recommendation for one product. Ephemeral: the
// evaluator recomputes the full list each run.
type ActionItem struct {
	ProductID   string             `json:"product_id"`
	Shop        string             `json:"shop"`
	Action      ActionKind         `json:"action"`
	Priority    Priority           `json:"priority"`
	Score       float64            `json:"score"`
	ReasonCodes []string           `json:"reason_codes"`
	Evidence    map[string]float64 `json:"evidence,omitempty"`
}
