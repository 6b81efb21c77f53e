package store

import (
	"database/sql"
	"fmt"

	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
)

type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

// --- Family methods ---

func (s *FamilyStore) CreateFamily(name string) (*model.Family, error) {
	result, err := s.db.Exec(`INSERT INTO families (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFamily(id)
}

func (s *FamilyStore) GetFamily(id int64) (*model.Family, error) {
	var f model.Family
	err := s.db.QueryRow(
		`SELECT id, name, created_at, updated_at FROM families WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return &f, nil
}

// --- Parent methods ---

const parentCols = `id, family_id, display_name, email, created_at, updated_at`

func scanParent(scanner interface{ Scan(...any) error }) (*model.Parent, error) {
	var p model.Parent
	err := scanner.Scan(&p.ID, &p.FamilyID, &p.DisplayName, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *FamilyStore) CreateParent(familyID int64, displayName, email, passwordHash string) (*model.Parent, error) {
	result, err := s.db.Exec(
		`INSERT INTO parents (family_id, display_name, email, password_hash) VALUES (?, ?, ?, ?)`,
		familyID, displayName, email, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert parent: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetParent(id)
}

func (s *FamilyStore) GetParent(id int64) (*model.Parent, error) {
	row := s.db.QueryRow(`SELECT `+parentCols+` FROM parents WHERE id = ?`, id)
	p, err := scanParent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get parent: %w", err)
	}
	return p, nil
}

func (s *FamilyStore) GetParentByEmail(email string) (*model.Parent, string, error) {
	var p model.Parent
	var hash string
	err := s.db.QueryRow(
		`SELECT `+parentCols+`, password_hash FROM parents WHERE email = ?`, email,
	).Scan(&p.ID, &p.FamilyID, &p.DisplayName, &p.Email, &p.CreatedAt, &p.UpdatedAt, &hash)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get parent by email: %w", err)
	}
	return &p, hash, nil
}

func (s *FamilyStore) ListParents(familyID int64) ([]model.Parent, error) {
	rows, err := s.db.Query(
		`SELECT `+parentCols+` FROM parents WHERE family_id = ? ORDER BY display_name ASC`, familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list parents: %w", err)
	}
	defer rows.Close()

	var parents []model.Parent
	for rows.Next() {
		p, err := scanParent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		parents = append(parents, *p)
	}
	return parents, rows.Err()
}

// --- Child methods ---

const childCols = `id, family_id, display_name, pin_hash IS NOT NULL, created_at, updated_at`

func scanChild(scanner interface{ Scan(...any) error }) (*model.ChildProfile, error) {
	var c model.ChildProfile
	err := scanner.Scan(&c.ID, &c.FamilyID, &c.DisplayName, &c.HasPIN, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChild inserts a child and its reward ledger in one transaction. A
// child always has a ledger; nothing else creates ledger rows.
func (s *FamilyStore) CreateChild(familyID int64, displayName string) (*model.ChildProfile, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO children (family_id, display_name) VALUES (?, ?)`,
		familyID, displayName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO reward_ledgers (child_id) VALUES (?)`, id); err != nil {
		return nil, fmt.Errorf("insert ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetChild(id)
}

func (s *FamilyStore) GetChild(id int64) (*model.ChildProfile, error) {
	row := s.db.QueryRow(`SELECT `+childCols+` FROM children WHERE id = ?`, id)
	c, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return c, nil
}

func (s *FamilyStore) ListChildren(familyID int64) ([]model.ChildProfile, error) {
	rows, err := s.db.Query(
		`SELECT `+childCols+` FROM children WHERE family_id = ? ORDER BY display_name ASC`, familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []model.ChildProfile
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}

// DeleteChild removes a child; the ledger, special rewards and tasks cascade.
func (s *FamilyStore) DeleteChild(id int64) error {
	_, err := s.db.Exec(`DELETE FROM children WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete child: %w", err)
	}
	return nil
}

func (s *FamilyStore) SetChildPIN(id int64, pinHash string) error {
	_, err := s.db.Exec(`UPDATE children SET pin_hash = ? WHERE id = ?`, pinHash, id)
	if err != nil {
		return fmt.Errorf("set child pin: %w", err)
	}
	return nil
}

func (s *FamilyStore) GetChildPINHash(id int64) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRow(`SELECT pin_hash FROM children WHERE id = ?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get child pin hash: %w", err)
	}
	return hash.String, nil
}
