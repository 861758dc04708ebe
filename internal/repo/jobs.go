package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"credchain/internal/address"
	"credchain/internal/domain"
	"credchain/internal/skill"
)

const jobColumns = `address,bump,job_id,employer,title,description,budget_min,budget_max,job_type,COALESCE(duration,''),COALESCE(location,''),required_badges_json,status,applicant_count,COALESCE(hired_freelancer,''),version,created_at,updated_at`

type JobFilter struct {
	Status   domain.JobStatus
	Employer *address.Address
	Skill    skill.Category
	Limit    int
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	badges, err := encodeSkills(j.RequiredBadges)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(address,bump,job_id,employer,title,description,budget_min,budget_max,job_type,duration,location,required_badges_json,status,applicant_count,hired_freelancer,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.Address.String(), j.Bump, j.JobID, j.Employer.String(), j.Title, j.Description, toInt64(j.BudgetMin), toInt64(j.BudgetMax),
		string(j.JobType), nullable(j.Duration), nullable(j.Location), badges, string(j.Status), j.ApplicantCount,
		hiredValue(j.HiredFreelancer), j.Version, formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r Repo) UpdateJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE jobs SET status=?, applicant_count=?, hired_freelancer=?, updated_at=?, version=version+1 WHERE address=? AND version=?`,
		string(j.Status), j.ApplicantCount, hiredValue(j.HiredFreelancer), formatTime(j.UpdatedAt), j.Address.String(), j.Version))
}

func (r Repo) GetJob(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.Job, error) {
	return scanJob(r.q(tx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE address=?`, addr.String()))
}

func (r Repo) ListJobs(ctx context.Context, f JobFilter) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Employer != nil {
		clauses = append(clauses, "employer=?")
		args = append(args, f.Employer.String())
	}
	if f.Skill.Valid() {
		clauses = append(clauses, "required_badges_json LIKE ?")
		args = append(args, `%"`+f.Skill.Key()+`"%`)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY created_at DESC, job_id LIMIT ?`, jobColumns, whereClause(clauses)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(s scanner) (domain.Job, error) {
	var j domain.Job
	var addr, employer, jobType, badges, status, hired, createdAt, updatedAt string
	var lo, hi int64
	if err := s.Scan(&addr, &j.Bump, &j.JobID, &employer, &j.Title, &j.Description, &lo, &hi, &jobType, &j.Duration,
		&j.Location, &badges, &status, &j.ApplicantCount, &hired, &j.Version, &createdAt, &updatedAt); err != nil {
		return domain.Job{}, noRows(err)
	}
	var err error
	if j.Address, err = parseAddr(addr); err != nil {
		return domain.Job{}, err
	}
	if j.Employer, err = parseAddr(employer); err != nil {
		return domain.Job{}, err
	}
	if j.JobType, err = domain.ParseJobType(jobType); err != nil {
		return domain.Job{}, err
	}
	if j.Status, err = domain.ParseJobStatus(status); err != nil {
		return domain.Job{}, err
	}
	if j.RequiredBadges, err = decodeSkills(badges); err != nil {
		return domain.Job{}, err
	}
	if hired != "" {
		h, err := parseAddr(hired)
		if err != nil {
			return domain.Job{}, err
		}
		j.HiredFreelancer = &h
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Job{}, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Job{}, err
	}
	j.BudgetMin = fromInt64(lo)
	j.BudgetMax = fromInt64(hi)
	return j, nil
}

const applicationColumns = `address,bump,job_address,freelancer,cover_letter,proposed_budget,COALESCE(timeline,''),COALESCE(portfolio_url,''),status,applied_at,updated_at`

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applications(address,bump,job_address,freelancer,cover_letter,proposed_budget,timeline,portfolio_url,status,applied_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.Address.String(), a.Bump, a.Job.String(), a.Freelancer.String(), a.CoverLetter, toInt64(a.ProposedBudget),
		nullable(a.Timeline), nullable(a.PortfolioURL), string(a.Status), formatTime(a.AppliedAt), formatTime(a.UpdatedAt))
	return err
}

// UpdateApplicationStatus moves an application only if it is still in from.
func (r Repo) UpdateApplicationStatus(ctx context.Context, tx *sql.Tx, addr address.Address, from, to domain.ApplicationStatus, now string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE applications SET status=?, updated_at=? WHERE address=? AND status=?`, string(to), now, addr.String(), string(from)))
}

func (r Repo) GetApplication(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.Application, error) {
	return scanApplication(r.q(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE address=?`, addr.String()))
}

// ListApplications filters by job, freelancer or both.
func (r Repo) ListApplications(ctx context.Context, job, freelancer *address.Address) ([]domain.Application, error) {
	var clauses []string
	var args []any
	if job != nil {
		clauses = append(clauses, "job_address=?")
		args = append(args, job.String())
	}
	if freelancer != nil {
		clauses = append(clauses, "freelancer=?")
		args = append(args, freelancer.String())
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM applications %s ORDER BY applied_at, address`, applicationColumns, whereClause(clauses)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApplication(s scanner) (domain.Application, error) {
	var a domain.Application
	var addr, job, freelancer, status, applied, updated string
	var budget int64
	if err := s.Scan(&addr, &a.Bump, &job, &freelancer, &a.CoverLetter, &budget, &a.Timeline, &a.PortfolioURL, &status, &applied, &updated); err != nil {
		return domain.Application{}, noRows(err)
	}
	var err error
	if a.Address, err = parseAddr(addr); err != nil {
		return domain.Application{}, err
	}
	if a.Job, err = parseAddr(job); err != nil {
		return domain.Application{}, err
	}
	if a.Freelancer, err = parseAddr(freelancer); err != nil {
		return domain.Application{}, err
	}
	if a.Status, err = domain.ParseApplicationStatus(status); err != nil {
		return domain.Application{}, err
	}
	if a.AppliedAt, err = parseTime(applied); err != nil {
		return domain.Application{}, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Application{}, err
	}
	a.ProposedBudget = fromInt64(budget)
	return a, nil
}

func hiredValue(a *address.Address) any {
	if a == nil {
		return nil
	}
	return a.String()
}

// encodeSkills stores categories by key so LIKE filters stay unambiguous.
func encodeSkills(cs []skill.Category) (string, error) {
	keys := make([]string, 0, len(cs))
	for _, c := range cs {
		keys = append(keys, c.Key())
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeSkills(s string) ([]skill.Category, error) {
	var keys []string
	if err := json.Unmarshal([]byte(s), &keys); err != nil {
		return nil, fmt.Errorf("decode required badges: %w", err)
	}
	return skill.ParseList(keys)
}
