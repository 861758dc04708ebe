package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/db"
	"credchain/internal/ledger"
	"credchain/internal/migrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func addr(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[31] = b
	return a
}

func TestTransferMovesFundsAndJournals(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	l := ledger.Ledger{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	alice, bob, token, ref := addr(1), addr(2), addr(9), addr(7)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Credit(ctx, tx, alice, token, 100, ledger.ReasonFaucet, alice); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Transfer(ctx, tx, alice, bob, token, 40, ledger.ReasonFund, ref); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if got, _ := l.Balance(ctx, conn, alice, token); got != 60 {
		t.Fatalf("alice balance = %d", got)
	}
	if got, _ := l.Balance(ctx, conn, bob, token); got != 40 {
		t.Fatalf("bob balance = %d", got)
	}
	entries, err := ledger.Entries(ctx, conn, ledger.EntryFilter{Reference: &ref})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != 40 || entries[0].From != alice || entries[0].To != bob {
		t.Fatalf("unexpected journal: %+v", entries)
	}
	bals, err := ledger.Balances(ctx, conn, bob)
	if err != nil || len(bals) != 1 || bals[0].Token != token {
		t.Fatalf("balances: %v %+v", err, bals)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	l := ledger.Ledger{}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := l.Credit(ctx, tx, addr(1), addr(9), 10, ledger.ReasonFaucet, addr(1)); err != nil {
		t.Fatal(err)
	}
	err = l.Transfer(ctx, tx, addr(1), addr(2), addr(9), 11, ledger.ReasonFund, addr(3))
	if apperr.CodeOf(err) != apperr.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := l.Transfer(ctx, tx, addr(1), addr(2), addr(9), 0, ledger.ReasonFund, addr(3)); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
}

func TestDrain(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	l := ledger.Ledger{}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	moved, err := l.Drain(ctx, tx, addr(1), addr(2), addr(9), ledger.ReasonRefund, addr(3))
	if err != nil || moved != 0 {
		t.Fatalf("drain empty: %d %v", moved, err)
	}
	if err := l.Credit(ctx, tx, addr(1), addr(9), 25, ledger.ReasonFaucet, addr(1)); err != nil {
		t.Fatal(err)
	}
	moved, err = l.Drain(ctx, tx, addr(1), addr(2), addr(9), ledger.ReasonRefund, addr(3))
	if err != nil || moved != 25 {
		t.Fatalf("drain: %d %v", moved, err)
	}
	if got, _ := l.Balance(ctx, tx, addr(2), addr(9)); got != 25 {
		t.Fatalf("destination balance = %d", got)
	}
}
