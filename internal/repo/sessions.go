package repo

import (
	"context"
	"database/sql"

	"credchain/internal/address"
	"credchain/internal/domain"
)

const sessionColumns = `address,bump,contract_address,freelancer,milestone_idx,nonce,started_at,ended_at,duration_seconds`

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.TimeSession) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO time_sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.Address.String(), s.Bump, s.Contract.String(), s.Freelancer.String(), s.MilestoneIndex, toInt64(s.Nonce),
		formatTime(s.StartedAt), formatTimePtr(s.EndedAt), s.DurationSeconds)
	return err
}

// CloseSession sets the end time on an open session; closed sessions return ErrStale.
func (r Repo) CloseSession(ctx context.Context, tx *sql.Tx, s domain.TimeSession) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE time_sessions SET ended_at=?, duration_seconds=? WHERE address=? AND ended_at IS NULL`,
		formatTimePtr(s.EndedAt), s.DurationSeconds, s.Address.String()))
}

func (r Repo) GetSession(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.TimeSession, error) {
	return scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM time_sessions WHERE address=?`, addr.String()))
}

func (r Repo) ListSessions(ctx context.Context, contract address.Address) ([]domain.TimeSession, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM time_sessions WHERE contract_address=? ORDER BY started_at, nonce`, contract.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TimeSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(sc scanner) (domain.TimeSession, error) {
	var s domain.TimeSession
	var addr, contract, freelancer, started string
	var nonce int64
	var ended sql.NullString
	if err := sc.Scan(&addr, &s.Bump, &contract, &freelancer, &s.MilestoneIndex, &nonce, &started, &ended, &s.DurationSeconds); err != nil {
		return domain.TimeSession{}, noRows(err)
	}
	var err error
	if s.Address, err = parseAddr(addr); err != nil {
		return domain.TimeSession{}, err
	}
	if s.Contract, err = parseAddr(contract); err != nil {
		return domain.TimeSession{}, err
	}
	if s.Freelancer, err = parseAddr(freelancer); err != nil {
		return domain.TimeSession{}, err
	}
	if s.StartedAt, err = parseTime(started); err != nil {
		return domain.TimeSession{}, err
	}
	if s.EndedAt, err = parseTimePtr(ended); err != nil {
		return domain.TimeSession{}, err
	}
	s.Nonce = fromInt64(nonce)
	return s, nil
}
