/*
journal.go - Transaction journal

PURPOSE:
  One journal row per business document:
  - purchase: id = purchase id, amount = purchase total
  - order:    id = order id, amount = cumulative amount paid (only while > 0)
  - expense:  fresh id, not paired with any entity

ENTITY PAIRING:
  UpsertForEntity deletes any existing (type, entityID) row, then inserts the
  new one. Run inside the same store transaction as the owning entity's
  ledger deltas, so the pair is replaced atomically.

SEE ALSO:
  - audit.go: Detects missing or mismatched paired rows
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryFields are the caller-supplied parts of a journal row.
type EntryFields struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	PaymentMode string
	Category    string
}

type Journal struct {
	Store Store
	Now   func() time.Time
	NewID func() string
}

func NewJournal(store Store, now func() time.Time, newID func() string) *Journal {
	return &Journal{Store: store, Now: now, NewID: newID}
}

// UpsertForEntity replaces the row paired with (typ, entityID).
func (j *Journal) UpsertForEntity(ctx context.Context, entityID string, typ TransactionType, f EntryFields) (Transaction, error) {
	if typ == TxExpense {
		return Transaction{}, invalid("type", "expense rows are not entity-paired")
	}
	if _, err := j.Store.DeleteEntityTransaction(ctx, typ, entityID); err != nil {
		return Transaction{}, err
	}
	tx := j.row(entityID, typ, entityID, f)
	if err := j.Store.InsertTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// RemoveForEntity deletes the paired row if present.
func (j *Journal) RemoveForEntity(ctx context.Context, entityID string, typ TransactionType) (bool, error) {
	return j.Store.DeleteEntityTransaction(ctx, typ, entityID)
}

// ForEntity returns the paired row.
func (j *Journal) ForEntity(ctx context.Context, entityID string, typ TransactionType) (Transaction, bool, error) {
	txs, err := j.Store.ListTransactions(ctx, TransactionFilter{Type: typ, EntityID: entityID})
	if err != nil || len(txs) == 0 {
		return Transaction{}, false, err
	}
	return txs[0], true, nil
}

// InsertExpense records a manual expense under a fresh id.
func (j *Journal) InsertExpense(ctx context.Context, f EntryFields) (Transaction, error) {
	tx := j.row(j.NewID(), TxExpense, "", f)
	if err := j.Store.InsertTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// DeleteExpense removes an expense row by id. Entity-paired rows are refused.
func (j *Journal) DeleteExpense(ctx context.Context, id string) (Transaction, error) {
	tx, err := j.Store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Type != TxExpense {
		return Transaction{}, invalid("id", "transaction %s is a %s row, delete its %s instead", id, tx.Type, tx.Type)
	}
	if _, err := j.Store.DeleteTransaction(ctx, id); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (j *Journal) row(id string, typ TransactionType, entityID string, f EntryFields) Transaction {
	now := j.Now()
	date := f.Date
	if date.IsZero() {
		date = now
	}
	return Transaction{
		ID:          id,
		Type:        typ,
		EntityID:    entityID,
		Date:        date,
		Amount:      f.Amount,
		Description: f.Description,
		PaymentMode: f.PaymentMode,
		Category:    f.Category,
		CreatedAt:   now,
	}
}
