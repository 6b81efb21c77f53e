package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RewardKind string

const (
	RewardMoney   RewardKind = "money"
	RewardPoints  RewardKind = "points"
	RewardSpecial RewardKind = "special"
)

// RewardSpec is a tagged union: exactly one of the payload fields is
// meaningful for a given Kind. Money carries Amount, Points carries Points,
// Special carries Title and Description.
type RewardSpec struct {
	Kind        RewardKind      `json:"kind"`
	Amount      decimal.Decimal `json:"amount,omitempty"`
	Points      int64           `json:"points,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
}

func MoneyReward(amount decimal.Decimal) RewardSpec {
	return RewardSpec{Kind: RewardMoney, Amount: amount}
}

func PointsReward(points int64) RewardSpec {
	return RewardSpec{Kind: RewardPoints, Points: points}
}

func SpecialReward(title, description string) RewardSpec {
	return RewardSpec{Kind: RewardSpecial, Title: title, Description: description}
}

type SpecialStatus string

const (
	SpecialAvailable         SpecialStatus = "available"
	SpecialPendingRedemption SpecialStatus = "pending_redemption"
	SpecialRedeemed          SpecialStatus = "redeemed"
)

// CanTransition reports whether a special reward may move from its current
// status to next. Forward-only: available → pending_redemption → redeemed.
func (s SpecialStatus) CanTransition(next SpecialStatus) bool {
	switch s {
	case SpecialAvailable:
		return next == SpecialPendingRedemption
	case SpecialPendingRedemption:
		return next == SpecialRedeemed
	default:
		return false
	}
}

// SpecialRewardEntry is a non-monetary reward held in a child's ledger. The
// settlement key ties the entry to the task approval or manual grant that
// created it; a given key produces at most one entry. The dispense key is
// set when a parent dispenses the entry, so that event is traceable apart
// from the entry's creation.
type SpecialRewardEntry struct {
	ID            int64         `json:"id"`
	ChildID       int64         `json:"child_id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        SpecialStatus `json:"status"`
	SettlementKey string        `json:"settlement_key"`
	DispenseKey   string        `json:"dispense_key,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// RewardLedger is a child's Ribbit Reserve: money and points balances plus
// any special rewards. Version increments on every mutation and backs the
// optimistic-concurrency write path.
type RewardLedger struct {
	ChildID             int64                `json:"child_id"`
	MoneyBalance        decimal.Decimal      `json:"money_balance"`
	InterestRate        decimal.Decimal      `json:"interest_rate"`
	LastInterestApplied *time.Time           `json:"last_interest_applied"`
	PointsBalance       int64                `json:"points_balance"`
	SpecialRewards      []SpecialRewardEntry `json:"special_rewards"`
	Version             int64                `json:"version"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// SettlementRecord marks a task's reward as credited. Its existence is the
// idempotency guard: a task settles at most once.
type SettlementRecord struct {
	TaskID    int64     `json:"task_id"`
	AppliedAt time.Time `json:"applied_at"`
}
