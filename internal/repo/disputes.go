package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"credchain/internal/address"
	"credchain/internal/domain"
)

const disputeColumns = `address,bump,contract_address,round,category,reason,COALESCE(description,''),status,initiator,prior_status,stake_amount,client_staked,freelancer_staked,COALESCE(arbitrators_json,''),version,created_at,resolved_at`

type DisputeFilter struct {
	Status     domain.DisputeStatus
	Arbitrator *address.Address
	Limit      int
}

func (r Repo) InsertDispute(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	arbs, err := encodeAddrs(d.Arbitrators)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO disputes(address,bump,contract_address,round,category,reason,description,status,initiator,prior_status,stake_amount,client_staked,freelancer_staked,arbitrators_json,version,created_at,resolved_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.Address.String(), d.Bump, d.Contract.String(), d.Round, string(d.Category), d.Reason, nullable(d.Description),
		string(d.Status), d.Initiator.String(), string(d.PriorStatus), toInt64(d.StakeAmount),
		boolInt(d.ClientStaked), boolInt(d.FreelancerStake), arbs, d.Version, formatTime(d.CreatedAt), formatTimePtr(d.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

// UpdateDispute rewrites every mutable column under a version check. It also
// serves re-opening a cancelled dispute at the same address.
func (r Repo) UpdateDispute(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	arbs, err := encodeAddrs(d.Arbitrators)
	if err != nil {
		return err
	}
	return expectOne(tx.ExecContext(ctx, `UPDATE disputes SET round=?, category=?, reason=?, description=?, status=?, initiator=?, prior_status=?, stake_amount=?, client_staked=?, freelancer_staked=?, arbitrators_json=?, created_at=?, resolved_at=?, version=version+1 WHERE address=? AND version=?`,
		d.Round, string(d.Category), d.Reason, nullable(d.Description), string(d.Status), d.Initiator.String(),
		string(d.PriorStatus), toInt64(d.StakeAmount), boolInt(d.ClientStaked), boolInt(d.FreelancerStake), arbs,
		formatTime(d.CreatedAt), formatTimePtr(d.ResolvedAt), d.Address.String(), d.Version))
}

// InsertVote fails with a constraint error if the arbitrator already voted
// in this round.
func (r Repo) InsertVote(ctx context.Context, tx *sql.Tx, dispute address.Address, round int, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dispute_votes(dispute_address,round,arbitrator,for_client,cast_at) VALUES (?,?,?,?,?)`,
		dispute.String(), round, v.Arbitrator.String(), boolInt(v.ForClient), formatTime(v.CastAt))
	return err
}

// GetDispute loads a dispute and the votes of its current round. tx may be nil.
func (r Repo) GetDispute(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.Dispute, error) {
	q := r.q(tx)
	d, err := scanDispute(q.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE address=?`, addr.String()))
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.Votes, err = loadVotes(ctx, q, d.Address, d.Round); err != nil {
		return domain.Dispute{}, err
	}
	return d, nil
}

func (r Repo) ListDisputes(ctx context.Context, f DisputeFilter) ([]domain.Dispute, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Arbitrator != nil {
		clauses = append(clauses, "arbitrators_json LIKE ?")
		args = append(args, `%"`+f.Arbitrator.String()+`"%`)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM disputes %s ORDER BY created_at DESC, address LIMIT ?`, disputeColumns, whereClause(clauses)), args...)
	if err != nil {
		return nil, err
	}
	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Votes, err = loadVotes(ctx, r.DB, out[i].Address, out[i].Round); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanDispute(s scanner) (domain.Dispute, error) {
	var d domain.Dispute
	var addr, contract, category, status, initiator, prior, arbs, createdAt string
	var stake int64
	var cs, fs int
	var resolved sql.NullString
	if err := s.Scan(&addr, &d.Bump, &contract, &d.Round, &category, &d.Reason, &d.Description, &status, &initiator,
		&prior, &stake, &cs, &fs, &arbs, &d.Version, &createdAt, &resolved); err != nil {
		return domain.Dispute{}, noRows(err)
	}
	var err error
	if d.Address, err = parseAddr(addr); err != nil {
		return domain.Dispute{}, err
	}
	if d.Contract, err = parseAddr(contract); err != nil {
		return domain.Dispute{}, err
	}
	if d.Initiator, err = parseAddr(initiator); err != nil {
		return domain.Dispute{}, err
	}
	if d.Category, err = domain.ParseDisputeCategory(category); err != nil {
		return domain.Dispute{}, err
	}
	if d.Status, err = domain.ParseDisputeStatus(status); err != nil {
		return domain.Dispute{}, err
	}
	if d.PriorStatus, err = domain.ParseContractStatus(prior); err != nil {
		return domain.Dispute{}, err
	}
	if d.Arbitrators, err = decodeAddrs(arbs); err != nil {
		return domain.Dispute{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Dispute{}, err
	}
	if d.ResolvedAt, err = parseTimePtr(resolved); err != nil {
		return domain.Dispute{}, err
	}
	d.StakeAmount = fromInt64(stake)
	d.ClientStaked = cs == 1
	d.FreelancerStake = fs == 1
	return d, nil
}

func loadVotes(ctx context.Context, q querier, dispute address.Address, round int) ([]domain.Vote, error) {
	rows, err := q.QueryContext(ctx, `SELECT arbitrator,for_client,cast_at FROM dispute_votes WHERE dispute_address=? AND round=? ORDER BY cast_at, arbitrator`, dispute.String(), round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var votes []domain.Vote
	for rows.Next() {
		var arb, cast string
		var forClient int
		if err := rows.Scan(&arb, &forClient, &cast); err != nil {
			return nil, err
		}
		v := domain.Vote{ForClient: forClient == 1}
		if v.Arbitrator, err = parseAddr(arb); err != nil {
			return nil, err
		}
		if v.CastAt, err = parseTime(cast); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func encodeAddrs(addrs []address.Address) (any, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeAddrs(s string) ([]address.Address, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var out []address.Address
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode addresses: %w", err)
	}
	return out, nil
}
