// Package ledger keeps per-owner token balances and the append-only journal
// of movements between them. Every call runs on the caller's transaction so
// a balance change commits together with the state transition that caused it.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
)

// Reasons recorded on journal entries.
const (
	ReasonFaucet        = "faucet"
	ReasonFund          = "fund_escrow"
	ReasonRelease       = "milestone_release"
	ReasonFee           = "platform_fee"
	ReasonStake         = "dispute_stake"
	ReasonStakeRefund   = "stake_refund"
	ReasonStakeForfeit  = "stake_forfeit"
	ReasonRefund        = "escrow_refund"
	ReasonDisputeSettle = "dispute_settlement"
)

type Ledger struct {
	Now func() time.Time
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l Ledger) now() string {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Balance returns owner's holdings of token; q may be a *sql.DB or *sql.Tx.
func (l Ledger) Balance(ctx context.Context, q querier, owner, token address.Address) (uint64, error) {
	var amt int64
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE owner=? AND token=?`, owner.String(), token.String()).Scan(&amt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(amt), nil
}

// Credit mints amount into owner from outside the system.
func (l Ledger) Credit(ctx context.Context, tx *sql.Tx, owner, token address.Address, amount uint64, reason string, ref address.Address) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := l.add(ctx, tx, owner, token, amount); err != nil {
		return err
	}
	return l.journal(ctx, tx, address.Zero, owner, token, amount, reason, ref)
}

// Transfer moves amount from one owner to another, failing with
// INSUFFICIENT_FUNDS when the source balance is short.
func (l Ledger) Transfer(ctx context.Context, tx *sql.Tx, from, to, token address.Address, amount uint64, reason string, ref address.Address) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	have, err := l.Balance(ctx, tx, from, token)
	if err != nil {
		return err
	}
	if have < amount {
		return apperr.Precondition(apperr.CodeInsufficientFunds, "insufficient funds: %s holds %d, needs %d", from, have, amount).
			With("owner", from.String()).
			With("balance", fmt.Sprint(have)).
			With("required", fmt.Sprint(amount))
	}
	if _, err := tx.ExecContext(ctx, `UPDATE balances SET amount = amount - ? WHERE owner=? AND token=?`, int64(amount), from.String(), token.String()); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if err := l.add(ctx, tx, to, token, amount); err != nil {
		return err
	}
	return l.journal(ctx, tx, from, to, token, amount, reason, ref)
}

// Drain moves the whole balance of from to to and returns the amount moved.
// An empty source is not an error.
func (l Ledger) Drain(ctx context.Context, tx *sql.Tx, from, to, token address.Address, reason string, ref address.Address) (uint64, error) {
	have, err := l.Balance(ctx, tx, from, token)
	if err != nil || have == 0 {
		return 0, err
	}
	return have, l.Transfer(ctx, tx, from, to, token, have, reason, ref)
}

func (l Ledger) add(ctx context.Context, tx *sql.Tx, owner, token address.Address, amount uint64) error {
	have, err := l.Balance(ctx, tx, owner, token)
	if err != nil {
		return err
	}
	if have > math.MaxInt64-amount {
		return apperr.Validation(apperr.CodeInvalidAmount, "balance of %s would overflow", owner)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO balances(owner, token, amount) VALUES (?,?,?)
ON CONFLICT(owner, token) DO UPDATE SET amount = amount + excluded.amount`, owner.String(), token.String(), int64(amount))
	if err != nil {
		return fmt.Errorf("credit %s: %w", owner, err)
	}
	return nil
}

func (l Ledger) journal(ctx context.Context, tx *sql.Tx, from, to, token address.Address, amount uint64, reason string, ref address.Address) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries(ts, token, from_owner, to_owner, amount, reason, reference) VALUES (?,?,?,?,?,?,?)`,
		l.now(), token.String(), from.String(), to.String(), int64(amount), reason, ref.String())
	return err
}

func checkAmount(amount uint64) error {
	if amount == 0 {
		return apperr.Validation(apperr.CodeInvalidAmount, "amount must be > 0")
	}
	if amount > math.MaxInt64 {
		return apperr.Validation(apperr.CodeInvalidAmount, "amount %d exceeds the supported maximum", amount)
	}
	return nil
}

// Balances lists every non-zero balance held by owner.
func Balances(ctx context.Context, db *sql.DB, owner address.Address) ([]domain.Balance, error) {
	rows, err := db.QueryContext(ctx, `SELECT token, amount FROM balances WHERE owner=? AND amount > 0 ORDER BY token`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Balance
	for rows.Next() {
		var token string
		var amt int64
		if err := rows.Scan(&token, &amt); err != nil {
			return nil, err
		}
		t, err := address.Parse(token)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Balance{Owner: owner, Token: t, Amount: uint64(amt)})
	}
	return out, rows.Err()
}

// EntryFilter narrows Entries. Owner matches either side of a movement.
type EntryFilter struct {
	Owner     *address.Address
	Reference *address.Address
	Limit     int
}

// Entries returns journal entries in insertion order.
func Entries(ctx context.Context, db *sql.DB, f EntryFilter) ([]domain.LedgerEntry, error) {
	query := `SELECT id, ts, token, from_owner, to_owner, amount, reason, reference FROM ledger_entries WHERE 1=1`
	var args []any
	if f.Owner != nil {
		query += ` AND (from_owner=? OR to_owner=?)`
		args = append(args, f.Owner.String(), f.Owner.String())
	}
	if f.Reference != nil {
		query += ` AND reference=?`
		args = append(args, f.Reference.String())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts, token, from, to, ref string
		var amt int64
		if err := rows.Scan(&e.ID, &ts, &token, &from, &to, &amt, &e.Reason, &ref); err != nil {
			return nil, err
		}
		if e.TS, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, err
		}
		if e.Token, err = address.Parse(token); err != nil {
			return nil, err
		}
		if e.From, err = address.Parse(from); err != nil {
			return nil, err
		}
		if e.To, err = address.Parse(to); err != nil {
			return nil, err
		}
		if e.Reference, err = address.Parse(ref); err != nil {
			return nil, err
		}
		e.Amount = uint64(amt)
		out = append(out, e)
	}
	return out, rows.Err()
}
