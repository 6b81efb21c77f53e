package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/database"
	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
	"github.com/madisonstylee/thetidytoad-sub000/internal/notify"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
)

// captureDispatcher records notifications for assertions.
type captureDispatcher struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (d *captureDispatcher) Notify(ctx context.Context, role auth.Role, userID int64, kind notify.Kind, message string, relatedID int64) {
	d.mu.Lock()
	d.kinds = append(d.kinds, kind)
	d.mu.Unlock()
}

func (d *captureDispatcher) sent() []notify.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Kind(nil), d.kinds...)
}

type engineFixture struct {
	engine  *Engine
	notes   *captureDispatcher
	parent  auth.Actor
	child   auth.Actor
	childID int64
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs := store.NewFamilyStore(db)
	family, err := fs.CreateFamily("The Toads")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	child, err := fs.CreateChild(family.ID, "Tad")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notes := &captureDispatcher{}
	return &engineFixture{
		engine:  NewEngine(store.NewLedgerStore(db), fs, notes, logger),
		notes:   notes,
		parent:  auth.Actor{Role: auth.RoleParent, ID: 100, FamilyID: family.ID},
		child:   auth.Actor{Role: auth.RoleChild, ID: child.ID, FamilyID: family.ID},
		childID: child.ID,
	}
}

func (f *engineFixture) mustBalance(t *testing.T) *model.RewardLedger {
	t.Helper()
	l, err := f.engine.GetLedger(f.parent, f.childID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	return l
}

func TestSettleCreditsOnce(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	reward := model.MoneyReward(decimal.RequireFromString("5.00"))

	if err := f.engine.Settle(ctx, f.childID, 42, reward); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Same task id again: recorded settlement, no second credit.
	if err := f.engine.Settle(ctx, f.childID, 42, reward); err != nil {
		t.Fatalf("settle repeat: %v", err)
	}

	l := f.mustBalance(t)
	if !l.MoneyBalance.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("money balance = %s, want 5.00", l.MoneyBalance)
	}
}

func TestSettlePoints(t *testing.T) {
	f := setupEngine(t)

	if err := f.engine.Settle(context.Background(), f.childID, 7, model.PointsReward(30)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if l := f.mustBalance(t); l.PointsBalance != 30 {
		t.Errorf("points balance = %d, want 30", l.PointsBalance)
	}
}

func TestSettleSpecialUsesTaskKey(t *testing.T) {
	f := setupEngine(t)

	if err := f.engine.Settle(context.Background(), f.childID, 99, model.SpecialReward("Movie night", "Pick the film")); err != nil {
		t.Fatalf("settle: %v", err)
	}

	l := f.mustBalance(t)
	if len(l.SpecialRewards) != 1 {
		t.Fatalf("special rewards = %d, want 1", len(l.SpecialRewards))
	}
	entry := l.SpecialRewards[0]
	if entry.SettlementKey != strconv.FormatInt(99, 10) {
		t.Errorf("settlement key = %q, want %q", entry.SettlementKey, "99")
	}
	if entry.Status != model.SpecialAvailable {
		t.Errorf("status = %s, want %s", entry.Status, model.SpecialAvailable)
	}
}

func TestSettleUnknownChild(t *testing.T) {
	f := setupEngine(t)

	err := f.engine.Settle(context.Background(), 9999, 1, model.PointsReward(5))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDispenseMoney(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.childID, 1, model.MoneyReward(decimal.RequireFromString("100.00"))); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	// One cent over the balance must be rejected without touching it.
	err := f.engine.DispenseMoney(ctx, f.parent, f.childID, decimal.RequireFromString("100.01"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if l := f.mustBalance(t); !l.MoneyBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("balance after rejected dispense = %s, want 100.00", l.MoneyBalance)
	}

	// Dispensing the exact balance is allowed.
	if err := f.engine.DispenseMoney(ctx, f.parent, f.childID, decimal.RequireFromString("100.00")); err != nil {
		t.Fatalf("dispense full balance: %v", err)
	}
	if l := f.mustBalance(t); !l.MoneyBalance.IsZero() {
		t.Errorf("balance = %s, want 0", l.MoneyBalance)
	}
}

func TestDispenseMoneyValidation(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	err := f.engine.DispenseMoney(ctx, f.child, f.childID, decimal.RequireFromString("1.00"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("child dispense err = %v, want ErrPermissionDenied", err)
	}

	err = f.engine.DispenseMoney(ctx, f.parent, f.childID, decimal.Zero)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("zero amount err = %v, want ErrValidation", err)
	}

	err = f.engine.DispenseMoney(ctx, f.parent, f.childID, decimal.RequireFromString("-5.00"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("negative amount err = %v, want ErrValidation", err)
	}
}

func TestCrossFamilyParentDenied(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.childID, 1, model.MoneyReward(decimal.RequireFromString("100.00"))); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	// A parent authenticated in another family has no reach here.
	outsider := auth.Actor{Role: auth.RoleParent, ID: 200, FamilyID: f.parent.FamilyID + 1}

	err := f.engine.DispenseMoney(ctx, outsider, f.childID, decimal.RequireFromString("10.00"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("dispense money err = %v, want ErrPermissionDenied", err)
	}
	if err := f.engine.DispensePoints(ctx, outsider, f.childID, 5); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("dispense points err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.engine.DispenseSpecial(ctx, outsider, f.childID, 1); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("dispense special err = %v, want ErrPermissionDenied", err)
	}
	if err := f.engine.ApproveRedemption(ctx, outsider, f.childID, 1); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("approve redemption err = %v, want ErrPermissionDenied", err)
	}
	if err := f.engine.GrantSpecial(ctx, outsider, f.childID, "Zoo trip", ""); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("grant err = %v, want ErrPermissionDenied", err)
	}
	if err := f.engine.SetInterestRate(ctx, outsider, f.childID, decimal.RequireFromString("0.1")); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("set rate err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.engine.ApplyInterest(ctx, outsider, f.childID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("apply interest err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.engine.GetLedger(outsider, f.childID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("get ledger err = %v, want ErrPermissionDenied", err)
	}

	l := f.mustBalance(t)
	if !l.MoneyBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("balance = %s, want 100.00 untouched", l.MoneyBalance)
	}
	if len(l.SpecialRewards) != 0 {
		t.Errorf("special rewards = %d, want 0", len(l.SpecialRewards))
	}
}

func TestGetLedgerScopedToOwnChild(t *testing.T) {
	f := setupEngine(t)

	if _, err := f.engine.GetLedger(f.child, f.childID); err != nil {
		t.Errorf("own ledger read: %v", err)
	}

	sibling := auth.Actor{Role: auth.RoleChild, ID: f.childID + 1, FamilyID: f.child.FamilyID}
	if _, err := f.engine.GetLedger(sibling, f.childID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("sibling read err = %v, want ErrPermissionDenied", err)
	}
}

func TestDispensePoints(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.childID, 1, model.PointsReward(20)); err != nil {
		t.Fatalf("seed points: %v", err)
	}

	err := f.engine.DispensePoints(ctx, f.parent, f.childID, 25)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if err := f.engine.DispensePoints(ctx, f.parent, f.childID, 20); err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if l := f.mustBalance(t); l.PointsBalance != 0 {
		t.Errorf("points balance = %d, want 0", l.PointsBalance)
	}
}

func TestRedemptionFlow(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.childID, 5, model.SpecialReward("Zoo trip", "")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	rewardID := f.mustBalance(t).SpecialRewards[0].ID

	// Only the owning child may request redemption.
	other := auth.Actor{Role: auth.RoleChild, ID: f.childID + 1, FamilyID: f.child.FamilyID}
	if err := f.engine.RequestRedemption(ctx, other, f.childID, rewardID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other child err = %v, want ErrPermissionDenied", err)
	}

	if err := f.engine.RequestRedemption(ctx, f.child, f.childID, rewardID); err != nil {
		t.Fatalf("request redemption: %v", err)
	}
	if got := f.mustBalance(t).SpecialRewards[0].Status; got != model.SpecialPendingRedemption {
		t.Fatalf("status = %s, want %s", got, model.SpecialPendingRedemption)
	}

	// Requesting again is not a legal transition.
	if err := f.engine.RequestRedemption(ctx, f.child, f.childID, rewardID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("re-request err = %v, want ErrInvalidTransition", err)
	}

	if err := f.engine.ApproveRedemption(ctx, f.child, f.childID, rewardID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("child approve err = %v, want ErrPermissionDenied", err)
	}
	if err := f.engine.ApproveRedemption(ctx, f.parent, f.childID, rewardID); err != nil {
		t.Fatalf("approve redemption: %v", err)
	}
	if got := f.mustBalance(t).SpecialRewards[0].Status; got != model.SpecialRedeemed {
		t.Fatalf("status = %s, want %s", got, model.SpecialRedeemed)
	}

	// Approving a redeemed entry is a no-op.
	if err := f.engine.ApproveRedemption(ctx, f.parent, f.childID, rewardID); err != nil {
		t.Errorf("re-approve err = %v, want nil", err)
	}

	// The child heard about the redemption exactly once.
	var redeemed int
	for _, k := range f.notes.sent() {
		if k == notify.KindRewardRedeemed {
			redeemed++
		}
	}
	if redeemed != 1 {
		t.Errorf("reward_redeemed notifications = %d, want 1", redeemed)
	}
}

func TestDispenseSpecial(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.childID, 8, model.SpecialReward("Ice cream", "")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	rewardID := f.mustBalance(t).SpecialRewards[0].ID

	txnKey, err := f.engine.DispenseSpecial(ctx, f.parent, f.childID, rewardID)
	if err != nil {
		t.Fatalf("dispense special: %v", err)
	}
	if txnKey == "" {
		t.Error("expected non-empty txn key")
	}

	entry := f.mustBalance(t).SpecialRewards[0]
	if entry.Status != model.SpecialPendingRedemption {
		t.Errorf("status = %s, want %s", entry.Status, model.SpecialPendingRedemption)
	}
	// The dispense event is durable, not just logged.
	if entry.DispenseKey != txnKey {
		t.Errorf("dispense key = %q, want %q", entry.DispenseKey, txnKey)
	}
	if entry.DispenseKey == entry.SettlementKey {
		t.Error("dispense key must differ from the settlement key")
	}

	if _, err := f.engine.DispenseSpecial(ctx, f.parent, f.childID, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing reward err = %v, want ErrNotFound", err)
	}
}

func TestGrantSpecial(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.GrantSpecial(ctx, f.parent, f.childID, "", "desc"); !errors.Is(err, ErrValidation) {
		t.Errorf("empty title err = %v, want ErrValidation", err)
	}

	if err := f.engine.GrantSpecial(ctx, f.parent, f.childID, "Sleepover", "One friend"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	l := f.mustBalance(t)
	if len(l.SpecialRewards) != 1 {
		t.Fatalf("special rewards = %d, want 1", len(l.SpecialRewards))
	}
	if l.SpecialRewards[0].Title != "Sleepover" {
		t.Errorf("title = %q, want %q", l.SpecialRewards[0].Title, "Sleepover")
	}

	kinds := f.notes.sent()
	if len(kinds) != 1 || kinds[0] != notify.KindRewardSettled {
		t.Errorf("notifications = %v, want [%s]", kinds, notify.KindRewardSettled)
	}
}

func TestInterest(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	err := f.engine.SetInterestRate(ctx, f.parent, f.childID, decimal.RequireFromString("1.5"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("rate > 1 err = %v, want ErrValidation", err)
	}
	err = f.engine.SetInterestRate(ctx, f.parent, f.childID, decimal.RequireFromString("-0.1"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("negative rate err = %v, want ErrValidation", err)
	}

	if err := f.engine.Settle(ctx, f.childID, 1, model.MoneyReward(decimal.RequireFromString("40.00"))); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := f.engine.SetInterestRate(ctx, f.parent, f.childID, decimal.RequireFromString("0.05")); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	credited, err := f.engine.ApplyInterest(ctx, f.parent, f.childID)
	if err != nil {
		t.Fatalf("apply interest: %v", err)
	}
	if !credited.Equal(decimal.RequireFromString("2.00")) {
		t.Errorf("credited = %s, want 2.00", credited)
	}

	l := f.mustBalance(t)
	if !l.MoneyBalance.Equal(decimal.RequireFromString("42.00")) {
		t.Errorf("balance = %s, want 42.00", l.MoneyBalance)
	}
	if l.LastInterestApplied == nil {
		t.Error("expected LastInterestApplied to be stamped")
	}
}

func TestConcurrentDispenses(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.childID, 1, model.MoneyReward(decimal.RequireFromString("100.00"))); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	ten := decimal.RequireFromString("10.00")
	var wg sync.WaitGroup
	errs := make(chan error, 11)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The engine retries internally; a conflict surfacing here
			// means its budget ran out, so try the whole operation again.
			for {
				err := f.engine.DispenseMoney(ctx, f.parent, f.childID, ten)
				if errors.Is(err, ErrConcurrencyConflict) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			err := f.engine.Settle(ctx, f.childID, 2, model.MoneyReward(decimal.RequireFromString("50.00")))
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			errs <- err
			return
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}

	l := f.mustBalance(t)
	if !l.MoneyBalance.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("final balance = %s, want 50.00", l.MoneyBalance)
	}
}
