// Package ledger maintains per-child reward balances (the "Ribbit Reserve")
// and applies task rewards exactly once.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
	"github.com/madisonstylee/thetidytoad-sub000/internal/notify"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
)

var (
	ErrNotFound            = errors.New("ledger: not found")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidTransition   = errors.New("ledger: invalid reward state transition")
	ErrPermissionDenied    = errors.New("ledger: permission denied")
	ErrValidation          = errors.New("ledger: validation failed")

	// ErrConcurrencyConflict surfaces only after internal retries are
	// exhausted. Callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("ledger: concurrent modification, retry")
)

// errAlreadyApplied aborts a settlement transaction whose idempotency key has
// already been recorded. Internal: mapped to success before returning.
var errAlreadyApplied = errors.New("ledger: settlement already applied")

const maxWriteAttempts = 5

// Engine owns all mutations of reward ledgers. Every write goes through a
// version-checked read-modify-write with bounded backoff, so concurrent
// dispense, settle and interest operations never lose updates.
type Engine struct {
	ledgers  *store.LedgerStore
	families *store.FamilyStore
	notifier notify.Dispatcher
	logger   *slog.Logger
}

func NewEngine(ledgers *store.LedgerStore, families *store.FamilyStore, notifier notify.Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{ledgers: ledgers, families: families, notifier: notifier, logger: logger}
}

// checkParent verifies the actor is a parent of the family the child belongs
// to. A parent authenticated in one family gets no reach into another's
// reserves.
func (e *Engine) checkParent(actor auth.Actor, childID int64) error {
	if !actor.IsParent() {
		return ErrPermissionDenied
	}
	child, err := e.families.GetChild(childID)
	if err != nil {
		return err
	}
	if child == nil {
		return ErrNotFound
	}
	if child.FamilyID != actor.FamilyID {
		return ErrPermissionDenied
	}
	return nil
}

// withRetry runs one version-checked mutation attempt, retrying on version
// conflicts with fibonacci backoff. Terminal errors pass through untouched.
func (e *Engine) withRetry(ctx context.Context, childID int64, fn func(l *model.RewardLedger, tx *sql.Tx) error) error {
	b := retry.WithMaxRetries(maxWriteAttempts, retry.NewFibonacci(10*time.Millisecond))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := e.ledgers.Mutate(childID, fn)
		if errors.Is(err, store.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return ErrConcurrencyConflict
	}
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// GetLedger returns a child's ledger including special rewards. Children read
// only their own reserve; parents only their family's.
func (e *Engine) GetLedger(actor auth.Actor, childID int64) (*model.RewardLedger, error) {
	if actor.IsChild() {
		if actor.ID != childID {
			return nil, ErrPermissionDenied
		}
	} else if err := e.checkParent(actor, childID); err != nil {
		return nil, err
	}

	l, err := e.ledgers.Get(childID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNotFound
	}
	return l, nil
}

// Settle credits a task's reward to the child's ledger exactly once; the
// task id is the idempotency key. Re-invocations after a recorded settlement
// return nil without touching the ledger.
func (e *Engine) Settle(ctx context.Context, childID, taskID int64, reward model.RewardSpec) error {
	err := e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		inserted, err := e.ledgers.InsertSettlementRecord(tx, taskID)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}

		switch reward.Kind {
		case model.RewardMoney:
			if reward.Amount.IsNegative() {
				return fmt.Errorf("%w: negative money reward", ErrValidation)
			}
			l.MoneyBalance = l.MoneyBalance.Add(reward.Amount)
		case model.RewardPoints:
			if reward.Points < 0 {
				return fmt.Errorf("%w: negative points reward", ErrValidation)
			}
			l.PointsBalance += reward.Points
		case model.RewardSpecial:
			key := strconv.FormatInt(taskID, 10)
			return e.ledgers.InsertSpecialReward(tx, childID, reward.Title, reward.Description, key)
		default:
			return fmt.Errorf("%w: unknown reward kind %q", ErrValidation, reward.Kind)
		}
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		e.logger.Debug("settlement already applied", "task_id", taskID, "child_id", childID)
		return nil
	}
	return err
}

// DispenseMoney deducts amount from a child's money balance. Parents of the
// child's family only.
func (e *Engine) DispenseMoney(ctx context.Context, actor auth.Actor, childID int64, amount decimal.Decimal) error {
	if err := e.checkParent(actor, childID); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	return e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		if l.MoneyBalance.LessThan(amount) {
			return ErrInsufficientBalance
		}
		l.MoneyBalance = l.MoneyBalance.Sub(amount)
		return nil
	})
}

// DispensePoints deducts points from a child's points balance. Parents of the
// child's family only.
func (e *Engine) DispensePoints(ctx context.Context, actor auth.Actor, childID, points int64) error {
	if err := e.checkParent(actor, childID); err != nil {
		return err
	}
	if points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrValidation)
	}

	return e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		if l.PointsBalance < points {
			return ErrInsufficientBalance
		}
		l.PointsBalance -= points
		return nil
	})
}

// DispenseSpecial moves an available entry to pending_redemption on a
// parent's initiative. A fresh transaction key, distinct from the settlement
// key minted at creation, is stored on the entry so the dispense event is
// traceable on its own.
func (e *Engine) DispenseSpecial(ctx context.Context, actor auth.Actor, childID, rewardID int64) (string, error) {
	if err := e.checkParent(actor, childID); err != nil {
		return "", err
	}

	txnKey := uuid.NewString()
	err := e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		entry, err := e.ledgers.GetSpecialReward(tx, childID, rewardID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrNotFound
		}
		if !entry.Status.CanTransition(model.SpecialPendingRedemption) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.Status, model.SpecialPendingRedemption)
		}
		return e.ledgers.MarkSpecialRewardDispensed(tx, entry.ID, txnKey)
	})
	if err != nil {
		return "", err
	}
	e.logger.Info("special reward dispensed", "child_id", childID, "reward_id", rewardID, "txn_key", txnKey)
	return txnKey, nil
}

// RequestRedemption moves an available entry to pending_redemption on the
// owning child's initiative.
func (e *Engine) RequestRedemption(ctx context.Context, actor auth.Actor, childID, rewardID int64) error {
	if !actor.IsChild() || actor.ID != childID {
		return ErrPermissionDenied
	}

	return e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		return e.transitionSpecial(tx, childID, rewardID, model.SpecialPendingRedemption)
	})
}

// ApproveRedemption moves a pending_redemption entry to redeemed and tells
// the child. Approving an already redeemed entry is a no-op, so duplicate
// clicks are harmless.
func (e *Engine) ApproveRedemption(ctx context.Context, actor auth.Actor, childID, rewardID int64) error {
	if err := e.checkParent(actor, childID); err != nil {
		return err
	}

	var title string
	err := e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		entry, err := e.ledgers.GetSpecialReward(tx, childID, rewardID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrNotFound
		}
		if entry.Status == model.SpecialRedeemed {
			return errAlreadyApplied
		}
		if !entry.Status.CanTransition(model.SpecialRedeemed) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.Status, model.SpecialRedeemed)
		}
		title = entry.Title
		return e.ledgers.UpdateSpecialRewardStatus(tx, entry.ID, model.SpecialRedeemed)
	})
	if errors.Is(err, errAlreadyApplied) {
		return nil
	}
	if err != nil {
		return err
	}

	e.notifier.Notify(ctx, auth.RoleChild, childID, notify.KindRewardRedeemed,
		fmt.Sprintf("%q was redeemed, enjoy!", title), rewardID)
	return nil
}

// GrantSpecial appends an available special reward outside of any task, keyed
// by a fresh grant id, and tells the child.
func (e *Engine) GrantSpecial(ctx context.Context, actor auth.Actor, childID int64, title, description string) error {
	if err := e.checkParent(actor, childID); err != nil {
		return err
	}
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}

	key := "grant:" + uuid.NewString()
	err := e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		return e.ledgers.InsertSpecialReward(tx, childID, title, description, key)
	})
	if err != nil {
		return err
	}

	e.notifier.Notify(ctx, auth.RoleChild, childID, notify.KindRewardSettled,
		fmt.Sprintf("%q was added to your Ribbit Reserve", title), childID)
	return nil
}

// SetInterestRate stores a new interest rate on the ledger. Takes effect for
// subsequent ApplyInterest calls only.
func (e *Engine) SetInterestRate(ctx context.Context, actor auth.Actor, childID int64, rate decimal.Decimal) error {
	if err := e.checkParent(actor, childID); err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: rate must be within [0,1]", ErrValidation)
	}

	return e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		l.InterestRate = rate
		return nil
	})
}

// ApplyInterest credits balance * rate and stamps the application time. Each
// call is an explicit event; nothing gates how often a parent may apply it.
func (e *Engine) ApplyInterest(ctx context.Context, actor auth.Actor, childID int64) (decimal.Decimal, error) {
	if err := e.checkParent(actor, childID); err != nil {
		return decimal.Zero, err
	}

	var credited decimal.Decimal
	err := e.withRetry(ctx, childID, func(l *model.RewardLedger, tx *sql.Tx) error {
		credited = l.MoneyBalance.Mul(l.InterestRate).Round(2)
		l.MoneyBalance = l.MoneyBalance.Add(credited)
		now := time.Now().UTC()
		l.LastInterestApplied = &now
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return credited, nil
}

// transitionSpecial moves an entry to pending_redemption after checking the
// forward-only status machine.
func (e *Engine) transitionSpecial(tx *sql.Tx, childID, rewardID int64, next model.SpecialStatus) error {
	entry, err := e.ledgers.GetSpecialReward(tx, childID, rewardID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotFound
	}
	if !entry.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.Status, next)
	}
	return e.ledgers.UpdateSpecialRewardStatus(tx, entry.ID, next)
}
