package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credchain/internal/address"
	"credchain/internal/domain"
	"credchain/internal/skill"
)

const testResultColumns = `address,bump,candidate,skill,score,duration_seconds,proctored,nonce,passed,badge_minted,ts`

func (r Repo) InsertTestResult(ctx context.Context, tx *sql.Tx, t domain.TestResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO test_results(`+testResultColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.Address.String(), t.Bump, t.Candidate.String(), t.Skill.Key(), t.Score, t.DurationSeconds,
		boolInt(t.Proctored), toInt64(t.Nonce), boolInt(t.Passed), boolInt(t.BadgeMinted), formatTime(t.Timestamp))
	return err
}

// MarkBadgeMinted flips badge_minted once; a second call returns ErrStale.
func (r Repo) MarkBadgeMinted(ctx context.Context, tx *sql.Tx, result address.Address) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE test_results SET badge_minted=1 WHERE address=? AND badge_minted=0`, result.String()))
}

func (r Repo) GetTestResult(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.TestResult, error) {
	return scanTestResult(r.q(tx).QueryRowContext(ctx, `SELECT `+testResultColumns+` FROM test_results WHERE address=?`, addr.String()))
}

// ListTestResults returns a candidate's attempts newest first, optionally for one skill.
func (r Repo) ListTestResults(ctx context.Context, candidate address.Address, c skill.Category) ([]domain.TestResult, error) {
	clauses := []string{"candidate=?"}
	args := []any{candidate.String()}
	if c.Valid() {
		clauses = append(clauses, "skill=?")
		args = append(args, c.Key())
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM test_results %s ORDER BY ts DESC, nonce DESC`, testResultColumns, whereClause(clauses)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TestResult
	for rows.Next() {
		t, err := scanTestResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTestResult(s scanner) (domain.TestResult, error) {
	var t domain.TestResult
	var addr, candidate, sk, ts string
	var nonce int64
	var proctored, passed, minted int
	if err := s.Scan(&addr, &t.Bump, &candidate, &sk, &t.Score, &t.DurationSeconds, &proctored, &nonce, &passed, &minted, &ts); err != nil {
		return domain.TestResult{}, noRows(err)
	}
	var err error
	if t.Address, err = parseAddr(addr); err != nil {
		return domain.TestResult{}, err
	}
	if t.Candidate, err = parseAddr(candidate); err != nil {
		return domain.TestResult{}, err
	}
	if t.Skill, err = skill.Parse(sk); err != nil {
		return domain.TestResult{}, err
	}
	if t.Timestamp, err = parseTime(ts); err != nil {
		return domain.TestResult{}, err
	}
	t.Nonce = fromInt64(nonce)
	t.Proctored = proctored == 1
	t.Passed = passed == 1
	t.BadgeMinted = minted == 1
	return t, nil
}

const badgeColumns = `address,bump,mint,owner,skill,test_score,issue_date,expiry_date,is_valid,revoked,COALESCE(revoked_reason,''),serial_number,version`

func (r Repo) InsertBadge(ctx context.Context, tx *sql.Tx, b domain.Badge) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO badges(address,bump,mint,owner,skill,test_score,issue_date,expiry_date,is_valid,revoked,revoked_reason,serial_number,version) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.Address.String(), b.Bump, b.Mint.String(), b.Owner.String(), b.Skill.Key(), b.TestScore,
		formatTime(b.IssueDate), formatTime(b.ExpiryDate), boolInt(b.IsValid), boolInt(b.Revoked),
		nullable(b.RevokedReason), b.SerialNumber, b.Version)
	return err
}

// UpdateBadge rewrites the renewable fields under a version check.
func (r Repo) UpdateBadge(ctx context.Context, tx *sql.Tx, b domain.Badge) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE badges SET test_score=?, issue_date=?, expiry_date=?, is_valid=?, revoked=?, revoked_reason=?, version=version+1 WHERE address=? AND version=?`,
		b.TestScore, formatTime(b.IssueDate), formatTime(b.ExpiryDate), boolInt(b.IsValid), boolInt(b.Revoked),
		nullable(b.RevokedReason), b.Address.String(), b.Version))
}

func (r Repo) GetBadge(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.Badge, error) {
	return scanBadge(r.q(tx).QueryRowContext(ctx, `SELECT `+badgeColumns+` FROM badges WHERE address=?`, addr.String()))
}

func (r Repo) ListBadges(ctx context.Context, tx *sql.Tx, owner address.Address) ([]domain.Badge, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+badgeColumns+` FROM badges WHERE owner=? ORDER BY serial_number`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBadge(s scanner) (domain.Badge, error) {
	var b domain.Badge
	var addr, mint, owner, sk, issue, expiry string
	var valid, revoked int
	if err := s.Scan(&addr, &b.Bump, &mint, &owner, &sk, &b.TestScore, &issue, &expiry, &valid, &revoked, &b.RevokedReason, &b.SerialNumber, &b.Version); err != nil {
		return domain.Badge{}, noRows(err)
	}
	var err error
	if b.Address, err = parseAddr(addr); err != nil {
		return domain.Badge{}, err
	}
	if b.Mint, err = parseAddr(mint); err != nil {
		return domain.Badge{}, err
	}
	if b.Owner, err = parseAddr(owner); err != nil {
		return domain.Badge{}, err
	}
	if b.Skill, err = skill.Parse(sk); err != nil {
		return domain.Badge{}, err
	}
	if b.IssueDate, err = parseTime(issue); err != nil {
		return domain.Badge{}, err
	}
	if b.ExpiryDate, err = parseTime(expiry); err != nil {
		return domain.Badge{}, err
	}
	b.IsValid = valid == 1
	b.Revoked = revoked == 1
	return b, nil
}

// RecordLeaderboardScore folds one passing score into the candidate's entry:
// attempts and totals always grow, best score and its timestamp only move on
// a strict improvement.
func (r Repo) RecordLeaderboardScore(ctx context.Context, tx *sql.Tx, c skill.Category, candidate address.Address, score int, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leaderboard_entries(skill,candidate,best_score,achieved_at,attempts,total_score) VALUES (?,?,?,?,1,?)
ON CONFLICT(skill,candidate) DO UPDATE SET
  achieved_at = CASE WHEN excluded.best_score > leaderboard_entries.best_score THEN excluded.achieved_at ELSE leaderboard_entries.achieved_at END,
  best_score = MAX(leaderboard_entries.best_score, excluded.best_score),
  attempts = leaderboard_entries.attempts + 1,
  total_score = leaderboard_entries.total_score + excluded.total_score`,
		c.Key(), candidate.String(), score, formatTime(at), score)
	return err
}

// TrimLeaderboard drops entries ranked beyond size.
func (r Repo) TrimLeaderboard(ctx context.Context, tx *sql.Tx, c skill.Category, size int) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM leaderboard_entries WHERE skill=? AND candidate NOT IN (
  SELECT candidate FROM leaderboard_entries WHERE skill=? ORDER BY best_score DESC, achieved_at ASC, candidate ASC LIMIT ?)`,
		c.Key(), c.Key(), size)
	return err
}

// Leaderboard returns ranked entries, best first.
func (r Repo) Leaderboard(ctx context.Context, c skill.Category, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT candidate,best_score,achieved_at,attempts,total_score FROM leaderboard_entries WHERE skill=? ORDER BY best_score DESC, achieved_at ASC, candidate ASC LIMIT ?`, c.Key(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		var candidate, at string
		if err := rows.Scan(&candidate, &e.BestScore, &at, &e.Attempts, &e.TotalScore); err != nil {
			return nil, err
		}
		if e.Candidate, err = parseAddr(candidate); err != nil {
			return nil, err
		}
		if e.AchievedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		if e.Attempts > 0 {
			e.AverageScore = float64(e.TotalScore) / float64(e.Attempts)
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}
