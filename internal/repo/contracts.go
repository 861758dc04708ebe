package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"credchain/internal/address"
	"credchain/internal/domain"
)

const contractColumns = `address,bump,contract_id,title,COALESCE(description,''),client,freelancer,total_amount,paid_amount,payment_token,status,nda_signed_client,nda_signed_freelancer,version,created_at,updated_at`

// ContractFilter narrows ListContracts. Party matches either side.
type ContractFilter struct {
	Party  *address.Address
	Status domain.ContractStatus
	Limit  int
}

// InsertContract writes the contract header and all milestones.
func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contracts(`+contractColumnsInsert+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Address.String(), c.Bump, c.ContractID, c.Title, nullable(c.Description), c.Client.String(), c.Freelancer.String(),
		toInt64(c.TotalAmount), toInt64(c.PaidAmount), c.PaymentToken.String(), string(c.Status),
		boolInt(c.NDASignedClient), boolInt(c.NDASignedFreelancer), c.Version, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	for _, m := range c.Milestones {
		notes, err := json.Marshal(m.RevisionNotes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO milestones(contract_address,idx,title,description,amount,deadline,status,revision_count,revision_notes_json,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			c.Address.String(), m.Index, m.Title, nullable(m.Description), toInt64(m.Amount), formatTime(m.Deadline),
			string(m.Status), m.RevisionCount, string(notes), formatTimePtr(m.CompletedAt)); err != nil {
			return fmt.Errorf("insert milestone %d: %w", m.Index, err)
		}
	}
	return nil
}

const contractColumnsInsert = `address,bump,contract_id,title,description,client,freelancer,total_amount,paid_amount,payment_token,status,nda_signed_client,nda_signed_freelancer,version,created_at,updated_at`

// UpdateContract writes the mutable header fields if the stored version still
// equals c.Version, then bumps it. Returns ErrStale otherwise.
func (r Repo) UpdateContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE contracts SET paid_amount=?, status=?, nda_signed_client=?, nda_signed_freelancer=?, updated_at=?, version=version+1 WHERE address=? AND version=?`,
		toInt64(c.PaidAmount), string(c.Status), boolInt(c.NDASignedClient), boolInt(c.NDASignedFreelancer),
		formatTime(c.UpdatedAt), c.Address.String(), c.Version))
}

func (r Repo) UpdateMilestone(ctx context.Context, tx *sql.Tx, contract address.Address, m domain.Milestone) error {
	notes, err := json.Marshal(m.RevisionNotes)
	if err != nil {
		return err
	}
	return expectOne(tx.ExecContext(ctx, `UPDATE milestones SET status=?, revision_count=?, revision_notes_json=?, completed_at=? WHERE contract_address=? AND idx=?`,
		string(m.Status), m.RevisionCount, string(notes), formatTimePtr(m.CompletedAt), contract.String(), m.Index))
}

func (r Repo) InsertDeliverable(ctx context.Context, tx *sql.Tx, contract address.Address, milestone int, d domain.Deliverable) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deliverables(contract_address,milestone_idx,seq,content_ref,file_name,description,uploaded_at) VALUES (?,?,?,?,?,?,?)`,
		contract.String(), milestone, d.Seq, d.ContentRef, nullable(d.FileName), nullable(d.Description), formatTime(d.UploadedAt))
	return err
}

// GetContract loads a contract with milestones and deliverables. tx may be nil.
func (r Repo) GetContract(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.Contract, error) {
	q := r.q(tx)
	c, err := scanContract(q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE address=?`, addr.String()))
	if err != nil {
		return domain.Contract{}, err
	}
	if err := r.loadMilestones(ctx, q, &c); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

func (r Repo) ContractExists(ctx context.Context, tx *sql.Tx, addr address.Address) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM contracts WHERE address=?`, addr.String()).Scan(&n)
	return n > 0, err
}

// ListContracts returns headers newest first. Milestones are loaded too.
func (r Repo) ListContracts(ctx context.Context, f ContractFilter) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if f.Party != nil {
		clauses = append(clauses, "(client=? OR freelancer=?)")
		args = append(args, f.Party.String(), f.Party.String())
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM contracts %s ORDER BY created_at DESC, contract_id LIMIT ?`, contractColumns, whereClause(clauses)), args...)
	if err != nil {
		return nil, err
	}
	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadMilestones(ctx, r.DB, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanContract(s scanner) (domain.Contract, error) {
	var c domain.Contract
	var addr, client, freelancer, token, status, createdAt, updatedAt string
	var total, paid int64
	var ndaC, ndaF int
	if err := s.Scan(&addr, &c.Bump, &c.ContractID, &c.Title, &c.Description, &client, &freelancer, &total, &paid,
		&token, &status, &ndaC, &ndaF, &c.Version, &createdAt, &updatedAt); err != nil {
		return domain.Contract{}, noRows(err)
	}
	var err error
	if c.Address, err = parseAddr(addr); err != nil {
		return domain.Contract{}, err
	}
	if c.Client, err = parseAddr(client); err != nil {
		return domain.Contract{}, err
	}
	if c.Freelancer, err = parseAddr(freelancer); err != nil {
		return domain.Contract{}, err
	}
	if c.PaymentToken, err = parseAddr(token); err != nil {
		return domain.Contract{}, err
	}
	if c.Status, err = domain.ParseContractStatus(status); err != nil {
		return domain.Contract{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Contract{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Contract{}, err
	}
	c.TotalAmount = fromInt64(total)
	c.PaidAmount = fromInt64(paid)
	c.NDASignedClient = ndaC == 1
	c.NDASignedFreelancer = ndaF == 1
	return c, nil
}

func (r Repo) loadMilestones(ctx context.Context, q querier, c *domain.Contract) error {
	rows, err := q.QueryContext(ctx, `SELECT idx,title,COALESCE(description,''),amount,deadline,status,revision_count,COALESCE(revision_notes_json,''),completed_at FROM milestones WHERE contract_address=? ORDER BY idx`, c.Address.String())
	if err != nil {
		return err
	}
	var ms []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		var amount int64
		var deadline, status, notes string
		var completed sql.NullString
		if err := rows.Scan(&m.Index, &m.Title, &m.Description, &amount, &deadline, &status, &m.RevisionCount, &notes, &completed); err != nil {
			rows.Close()
			return err
		}
		m.Amount = fromInt64(amount)
		if m.Deadline, err = parseTime(deadline); err != nil {
			rows.Close()
			return err
		}
		if m.Status, err = domain.ParseMilestoneStatus(status); err != nil {
			rows.Close()
			return err
		}
		if notes != "" && notes != "null" {
			if err := json.Unmarshal([]byte(notes), &m.RevisionNotes); err != nil {
				rows.Close()
				return fmt.Errorf("decode revision notes: %w", err)
			}
		}
		if m.CompletedAt, err = parseTimePtr(completed); err != nil {
			rows.Close()
			return err
		}
		ms = append(ms, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	drows, err := q.QueryContext(ctx, `SELECT milestone_idx,seq,content_ref,COALESCE(file_name,''),COALESCE(description,''),uploaded_at FROM deliverables WHERE contract_address=? ORDER BY milestone_idx, seq`, c.Address.String())
	if err != nil {
		return err
	}
	defer drows.Close()
	for drows.Next() {
		var idx int
		var d domain.Deliverable
		var uploaded string
		if err := drows.Scan(&idx, &d.Seq, &d.ContentRef, &d.FileName, &d.Description, &uploaded); err != nil {
			return err
		}
		if d.UploadedAt, err = parseTime(uploaded); err != nil {
			return err
		}
		if idx >= 0 && idx < len(ms) {
			ms[idx].Deliverables = append(ms[idx].Deliverables, d)
		}
	}
	c.Milestones = ms
	return drows.Err()
}
