package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AuditIssueKind classifies a journal pairing problem.
type AuditIssueKind string

const (
	AuditMissingRow     AuditIssueKind = "missing_row"
	AuditAmountMismatch AuditIssueKind = "amount_mismatch"
	AuditUnexpectedRow  AuditIssueKind = "unexpected_row"
	AuditOrphanRow      AuditIssueKind = "orphan_row"
)

type AuditIssue struct {
	Kind     AuditIssueKind
	Type     TransactionType
	EntityID string
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Message  string
}

type AuditReport struct {
	Purchases int
	Orders    int
	Rows      int
	Issues    []AuditIssue
}

func (r AuditReport) OK() bool { return len(r.Issues) == 0 }

// AuditJournal checks that every purchase and paid order has exactly the
// journal row it should, with the right amount, and that no paired row has
// lost its owner. It reads one consistent snapshot and writes nothing.
func (e *Engine) AuditJournal(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	err := e.store.WithTx(ctx, func(s Store) error {
		purchases, err := s.ListPurchases(ctx)
		if err != nil {
			return err
		}
		orders, err := s.ListOrders(ctx, OrderFilter{})
		if err != nil {
			return err
		}
		rows, err := s.ListTransactions(ctx, TransactionFilter{})
		if err != nil {
			return err
		}
		report = auditRows(purchases, orders, rows)
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	if !report.OK() {
		e.log.Warn("journal audit found issues", zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}

type pairKey struct {
	typ TransactionType
	id  string
}

func auditRows(purchases []Purchase, orders []Order, rows []Transaction) AuditReport {
	report := AuditReport{Purchases: len(purchases), Orders: len(orders), Rows: len(rows)}

	paired := make(map[pairKey]Transaction)
	for _, tx := range rows {
		if tx.Type == TxExpense {
			continue
		}
		paired[pairKey{tx.Type, tx.EntityID}] = tx
	}
	seen := make(map[pairKey]bool)

	for _, p := range purchases {
		k := pairKey{TxPurchase, p.ID}
		seen[k] = true
		tx, ok := paired[k]
		switch {
		case !ok:
			report.Issues = append(report.Issues, AuditIssue{
				Kind: AuditMissingRow, Type: TxPurchase, EntityID: p.ID, Expected: p.Total,
				Message: fmt.Sprintf("purchase %s has no journal row", p.ID),
			})
		case !tx.Amount.Equal(p.Total):
			report.Issues = append(report.Issues, AuditIssue{
				Kind: AuditAmountMismatch, Type: TxPurchase, EntityID: p.ID, Expected: p.Total, Actual: tx.Amount,
				Message: fmt.Sprintf("purchase %s journal amount %s, total %s", p.ID, tx.Amount, p.Total),
			})
		}
	}

	for _, o := range orders {
		k := pairKey{TxOrder, o.ID}
		seen[k] = true
		tx, ok := paired[k]
		switch {
		case o.AmountPaid.IsPositive() && !ok:
			report.Issues = append(report.Issues, AuditIssue{
				Kind: AuditMissingRow, Type: TxOrder, EntityID: o.ID, Expected: o.AmountPaid,
				Message: fmt.Sprintf("order %s is paid %s but has no journal row", o.ID, o.AmountPaid),
			})
		case !o.AmountPaid.IsPositive() && ok:
			report.Issues = append(report.Issues, AuditIssue{
				Kind: AuditUnexpectedRow, Type: TxOrder, EntityID: o.ID, Actual: tx.Amount,
				Message: fmt.Sprintf("order %s is unpaid but has a journal row", o.ID),
			})
		case ok && !tx.Amount.Equal(o.AmountPaid):
			report.Issues = append(report.Issues, AuditIssue{
				Kind: AuditAmountMismatch, Type: TxOrder, EntityID: o.ID, Expected: o.AmountPaid, Actual: tx.Amount,
				Message: fmt.Sprintf("order %s journal amount %s, paid %s", o.ID, tx.Amount, o.AmountPaid),
			})
		}
	}

	for k, tx := range paired {
		if !seen[k] {
			report.Issues = append(report.Issues, AuditIssue{
				Kind: AuditOrphanRow, Type: k.typ, EntityID: k.id, Actual: tx.Amount,
				Message: fmt.Sprintf("%s row %s has no owning %s", k.typ, tx.ID, k.typ),
			})
		}
	}
	sort.Slice(report.Issues, func(i, j int) bool {
		a, b := report.Issues[i], report.Issues[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.EntityID < b.EntityID
	})
	return report
}
