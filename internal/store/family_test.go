package store

import (
	"path/filepath"
	"testing"

	"github.com/madisonstylee/thetidytoad-sub000/internal/database"
)

func setupFamilyTestDB(t *testing.T) *FamilyStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFamilyStore(db)
}

func TestFamilyAndParentCreation(t *testing.T) {
	fs := setupFamilyTestDB(t)

	family, err := fs.CreateFamily("The Toads")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	if family.Name != "The Toads" {
		t.Errorf("name = %q, want %q", family.Name, "The Toads")
	}

	parent, err := fs.CreateParent(family.ID, "Madison", "madison@example.com", "hash")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if parent.FamilyID != family.ID {
		t.Errorf("family_id = %d, want %d", parent.FamilyID, family.ID)
	}

	got, hash, err := fs.GetParentByEmail("madison@example.com")
	if err != nil {
		t.Fatalf("get parent by email: %v", err)
	}
	if got == nil {
		t.Fatal("expected parent, got nil")
	}
	if hash != "hash" {
		t.Errorf("hash = %q, want %q", hash, "hash")
	}

	got, _, err = fs.GetParentByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get missing parent: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestCreateChildCreatesLedger(t *testing.T) {
	fs := setupFamilyTestDB(t)

	family, err := fs.CreateFamily("The Toads")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	child, err := fs.CreateChild(family.ID, "Tad")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.DisplayName != "Tad" {
		t.Errorf("display_name = %q, want %q", child.DisplayName, "Tad")
	}
	if child.HasPIN {
		t.Error("new child should have no PIN")
	}

	ls := NewLedgerStore(fs.db)
	ledger, err := ls.Get(child.ID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger == nil {
		t.Fatal("expected ledger created alongside child")
	}
	if !ledger.MoneyBalance.IsZero() {
		t.Errorf("money balance = %s, want 0", ledger.MoneyBalance)
	}
	if ledger.Version != 1 {
		t.Errorf("version = %d, want 1", ledger.Version)
	}
}

func TestChildPIN(t *testing.T) {
	fs := setupFamilyTestDB(t)

	family, _ := fs.CreateFamily("The Toads")
	child, _ := fs.CreateChild(family.ID, "Tad")

	if err := fs.SetChildPIN(child.ID, "pinhash"); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	got, err := fs.GetChild(child.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if !got.HasPIN {
		t.Error("expected HasPIN after SetChildPIN")
	}

	hash, err := fs.GetChildPINHash(child.ID)
	if err != nil {
		t.Fatalf("get pin hash: %v", err)
	}
	if hash != "pinhash" {
		t.Errorf("hash = %q, want %q", hash, "pinhash")
	}
}

func TestListChildren(t *testing.T) {
	fs := setupFamilyTestDB(t)

	family, _ := fs.CreateFamily("The Toads")
	other, _ := fs.CreateFamily("The Frogs")
	fs.CreateChild(family.ID, "Zoe")
	fs.CreateChild(family.ID, "Abe")
	fs.CreateChild(other.ID, "Stranger")

	children, err := fs.ListChildren(family.ID)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].DisplayName != "Abe" {
		t.Errorf("children[0] = %q, want %q", children[0].DisplayName, "Abe")
	}
}

func TestDeleteChildCascades(t *testing.T) {
	fs := setupFamilyTestDB(t)

	family, _ := fs.CreateFamily("The Toads")
	child, _ := fs.CreateChild(family.ID, "Tad")

	if err := fs.DeleteChild(child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}

	got, err := fs.GetChild(child.ID)
	if err != nil {
		t.Fatalf("get deleted child: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}

	ls := NewLedgerStore(fs.db)
	ledger, err := ls.Get(child.ID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger != nil {
		t.Error("expected ledger deleted with child")
	}
}
