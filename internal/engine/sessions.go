package engine

import (
	"context"
	"database/sql"
	"errors"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/events"
	"credchain/internal/repo"
)

// readContract locks the contract and hands fn a read-only view on tx.
// Used by operations that write their own rows but never touch the header.
func (e Engine) readContract(ctx context.Context, op, contractID string, fn func(tx *sql.Tx, c domain.Contract) error) (err error) {
	addr, err := e.contractAddr(contractID)
	if err != nil {
		return err
	}
	ctx, end := e.trace(ctx, op, addr)
	defer end(&err)
	unlock := e.locks.Lock(addr)
	defer unlock()
	return e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetContract(ctx, tx, addr)
		if err != nil {
			return notFound(err, "contract", contractID)
		}
		return fn(tx, c)
	})
}

// StartSession opens a time session for a milestone. The nonce makes the
// session address write-once.
func (e Engine) StartSession(ctx context.Context, contractID string, index int, nonce uint64, actor address.Address) (domain.TimeSession, error) {
	var s domain.TimeSession
	err := e.readContract(ctx, "StartSession", contractID, func(tx *sql.Tx, c domain.Contract) error {
		if err := requireFreelancer(&c, actor); err != nil {
			return err
		}
		if err := ensureContractStatus(&c, domain.ContractFunded, domain.ContractInProgress); err != nil {
			return err
		}
		if _, err := milestoneAt(&c, index); err != nil {
			return err
		}
		pda, err := derived(e.Deriver.Session(c.Address, nonce))
		if err != nil {
			return err
		}
		_, err = e.Repo.GetSession(ctx, tx, pda.Address)
		switch {
		case err == nil:
			return apperr.Precondition(apperr.CodeSessionExists, "session nonce %d already used for %s", nonce, contractID)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		s = domain.TimeSession{
			Address:        pda.Address,
			Bump:           pda.Bump,
			Contract:       c.Address,
			Freelancer:     actor,
			MilestoneIndex: index,
			Nonce:          nonce,
			StartedAt:      e.now(),
		}
		if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "session.started", events.KindSession, s.Address, actor, events.EventPayload{
			"contract_id":     contractID,
			"milestone_index": index,
			"nonce":           nonce,
		})
	})
	if err != nil {
		return domain.TimeSession{}, err
	}
	return s, nil
}

func (e Engine) EndSession(ctx context.Context, contractID string, nonce uint64, actor address.Address) (domain.TimeSession, error) {
	var s domain.TimeSession
	err := e.readContract(ctx, "EndSession", contractID, func(tx *sql.Tx, c domain.Contract) error {
		if err := requireFreelancer(&c, actor); err != nil {
			return err
		}
		pda, err := derived(e.Deriver.Session(c.Address, nonce))
		if err != nil {
			return err
		}
		loaded, err := e.Repo.GetSession(ctx, tx, pda.Address)
		if err != nil {
			return notFound(err, "session", pda.Address.String())
		}
		if loaded.EndedAt != nil {
			return apperr.Precondition(apperr.CodeSessionClosed, "session %d already ended", nonce)
		}
		now := e.now()
		loaded.EndedAt = &now
		loaded.DurationSeconds = int64(now.Sub(loaded.StartedAt).Seconds())
		if loaded.DurationSeconds < 0 {
			loaded.DurationSeconds = 0
		}
		if err := e.Repo.CloseSession(ctx, tx, loaded); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return apperr.Precondition(apperr.CodeSessionClosed, "session %d already ended", nonce)
			}
			return err
		}
		s = loaded
		return e.appendEvent(ctx, tx, "session.ended", events.KindSession, s.Address, actor, events.EventPayload{
			"contract_id":      contractID,
			"nonce":            nonce,
			"duration_seconds": s.DurationSeconds,
		})
	})
	if err != nil {
		return domain.TimeSession{}, err
	}
	return s, nil
}

func (e Engine) ListSessions(ctx context.Context, contractID string) ([]domain.TimeSession, error) {
	addr, err := e.contractAddr(contractID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListSessions(ctx, addr)
}
