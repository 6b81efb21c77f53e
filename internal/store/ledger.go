package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	sqlite "modernc.org/sqlite"

	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
)

// ErrVersionConflict is returned by Mutate when another writer committed
// against the same ledger version first. Callers retry the whole
// read-modify-write.
var ErrVersionConflict = errors.New("ledger version conflict")

type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerCols = `child_id, money_balance, interest_rate, last_interest_applied,
	points_balance, version, updated_at`

func scanLedger(scanner interface{ Scan(...any) error }) (*model.RewardLedger, error) {
	var l model.RewardLedger
	var money, rate string
	var lastInterest sql.NullTime

	err := scanner.Scan(&l.ChildID, &money, &rate, &lastInterest, &l.PointsBalance, &l.Version, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	l.MoneyBalance, err = decimal.NewFromString(money)
	if err != nil {
		return nil, fmt.Errorf("parse money balance %q: %w", money, err)
	}
	l.InterestRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("parse interest rate %q: %w", rate, err)
	}
	if lastInterest.Valid {
		l.LastInterestApplied = &lastInterest.Time
	}
	return &l, nil
}

// Get returns a child's ledger with its special rewards, or nil if the child
// has no ledger.
func (s *LedgerStore) Get(childID int64) (*model.RewardLedger, error) {
	row := s.db.QueryRow(`SELECT `+ledgerCols+` FROM reward_ledgers WHERE child_id = ?`, childID)
	l, err := scanLedger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}

	l.SpecialRewards, err = s.ListSpecialRewards(childID)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Mutate runs fn against a fresh ledger snapshot inside a transaction, then
// writes the balances back conditioned on the version fn saw. Every commit
// increments the version. fn may use tx for related writes (special rewards,
// settlement records) so they land atomically with the balance write.
//
// Returns ErrVersionConflict when the conditional write loses a race; any
// error from fn aborts the transaction untouched. A nil ledger for childID
// yields sql.ErrNoRows wrapped in the returned error.
func (s *LedgerStore) Mutate(childID int64, fn func(l *model.RewardLedger, tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		if isBusy(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+ledgerCols+` FROM reward_ledgers WHERE child_id = ?`, childID)
	l, err := scanLedger(row)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	version := l.Version
	if err := fn(l, tx); err != nil {
		return err
	}

	var lastInterest sql.NullTime
	if l.LastInterestApplied != nil {
		lastInterest = sql.NullTime{Time: l.LastInterestApplied.UTC(), Valid: true}
	}

	result, err := tx.Exec(
		`UPDATE reward_ledgers
		 SET money_balance = ?, interest_rate = ?, last_interest_applied = ?,
		     points_balance = ?, version = version + 1, updated_at = ?
		 WHERE child_id = ? AND version = ?`,
		l.MoneyBalance.String(), l.InterestRate.String(), lastInterest,
		l.PointsBalance, time.Now().UTC(), childID, version,
	)
	if err != nil {
		if isBusy(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("write ledger: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLite lock contention (BUSY or LOCKED),
// which is retryable the same way a version conflict is.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
		return true
	}
	return false
}

// --- Settlement records ---

// InsertSettlementRecord records that taskID's reward has been applied.
// Returns false without error when a record already exists, which is the
// idempotency signal for Settle.
func (s *LedgerStore) InsertSettlementRecord(tx *sql.Tx, taskID int64) (bool, error) {
	result, err := tx.Exec(`INSERT OR IGNORE INTO settlement_records (task_id) VALUES (?)`, taskID)
	if err != nil {
		return false, fmt.Errorf("insert settlement record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *LedgerStore) GetSettlementRecord(taskID int64) (*model.SettlementRecord, error) {
	var r model.SettlementRecord
	err := s.db.QueryRow(
		`SELECT task_id, applied_at FROM settlement_records WHERE task_id = ?`, taskID,
	).Scan(&r.TaskID, &r.AppliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement record: %w", err)
	}
	return &r, nil
}

// --- Special rewards ---

const specialCols = `id, child_id, title, description, status, settlement_key, dispense_key, created_at, updated_at`

func scanSpecial(scanner interface{ Scan(...any) error }) (*model.SpecialRewardEntry, error) {
	var e model.SpecialRewardEntry
	var dispenseKey sql.NullString
	err := scanner.Scan(&e.ID, &e.ChildID, &e.Title, &e.Description, &e.Status, &e.SettlementKey, &dispenseKey, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.DispenseKey = dispenseKey.String
	return &e, nil
}

// InsertSpecialReward appends an available entry within tx. The UNIQUE
// settlement_key constraint enforces at most one entry per key.
func (s *LedgerStore) InsertSpecialReward(tx *sql.Tx, childID int64, title, description, settlementKey string) error {
	_, err := tx.Exec(
		`INSERT INTO special_rewards (child_id, title, description, settlement_key) VALUES (?, ?, ?, ?)`,
		childID, title, description, settlementKey,
	)
	if err != nil {
		return fmt.Errorf("insert special reward: %w", err)
	}
	return nil
}

// GetSpecialReward reads an entry within tx, or nil when missing.
func (s *LedgerStore) GetSpecialReward(tx *sql.Tx, childID, rewardID int64) (*model.SpecialRewardEntry, error) {
	row := tx.QueryRow(
		`SELECT `+specialCols+` FROM special_rewards WHERE id = ? AND child_id = ?`,
		rewardID, childID,
	)
	e, err := scanSpecial(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get special reward: %w", err)
	}
	return e, nil
}

// UpdateSpecialRewardStatus transitions an entry within tx.
func (s *LedgerStore) UpdateSpecialRewardStatus(tx *sql.Tx, rewardID int64, status model.SpecialStatus) error {
	_, err := tx.Exec(
		`UPDATE special_rewards SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), rewardID,
	)
	if err != nil {
		return fmt.Errorf("update special reward status: %w", err)
	}
	return nil
}

// MarkSpecialRewardDispensed moves an entry to pending_redemption and stores
// the dispense transaction key alongside it.
func (s *LedgerStore) MarkSpecialRewardDispensed(tx *sql.Tx, rewardID int64, dispenseKey string) error {
	_, err := tx.Exec(
		`UPDATE special_rewards SET status = ?, dispense_key = ?, updated_at = ? WHERE id = ?`,
		model.SpecialPendingRedemption, dispenseKey, time.Now().UTC(), rewardID,
	)
	if err != nil {
		return fmt.Errorf("mark special reward dispensed: %w", err)
	}
	return nil
}

func (s *LedgerStore) ListSpecialRewards(childID int64) ([]model.SpecialRewardEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+specialCols+` FROM special_rewards WHERE child_id = ? ORDER BY created_at DESC, id DESC`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("list special rewards: %w", err)
	}
	defer rows.Close()

	var entries []model.SpecialRewardEntry
	for rows.Next() {
		e, err := scanSpecial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan special reward: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
