package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/events"
	"credchain/internal/repo"
	"credchain/internal/skill"
)

const maxRevokeReason = 200

type RecordTestOptions struct {
	Candidate       address.Address
	Skill           skill.Category
	Score           int
	DurationSeconds int64
	Proctored       bool
	Nonce           uint64
	Actor           address.Address
}

func validSkill(c skill.Category) error {
	if !c.Valid() {
		return apperr.Validation(apperr.CodeInvalidArgument, "unknown skill category %d", uint8(c))
	}
	return nil
}

// RecordTestCompletion stores a test attempt write-once at its
// (candidate, skill, nonce) address. Passing attempts update the skill
// leaderboard in the same transaction. The candidate or an admin may record.
func (e Engine) RecordTestCompletion(ctx context.Context, opts RecordTestOptions) (res domain.TestResult, err error) {
	if err := validSkill(opts.Skill); err != nil {
		return domain.TestResult{}, err
	}
	if opts.Score < 0 || opts.Score > 100 {
		return domain.TestResult{}, apperr.Validation(apperr.CodeInvalidScore, "score %d outside 0..100", opts.Score)
	}
	if opts.DurationSeconds < 0 {
		return domain.TestResult{}, apperr.Validation(apperr.CodeInvalidArgument, "duration_seconds must be >= 0")
	}
	if opts.Candidate.IsZero() {
		return domain.TestResult{}, apperr.Validation(apperr.CodeInvalidArgument, "candidate is required")
	}
	pda, err := derived(e.Deriver.TestResult(opts.Candidate, opts.Skill, opts.Nonce))
	if err != nil {
		return domain.TestResult{}, err
	}
	ctx, end := e.trace(ctx, "RecordTestCompletion", pda.Address)
	defer end(&err)
	unlock := e.locks.Lock(pda.Address)
	defer unlock()

	res = domain.TestResult{
		Address:         pda.Address,
		Bump:            pda.Bump,
		Candidate:       opts.Candidate,
		Skill:           opts.Skill,
		Score:           opts.Score,
		DurationSeconds: opts.DurationSeconds,
		Proctored:       opts.Proctored,
		Nonce:           opts.Nonce,
		Passed:          opts.Score >= e.Config.Platform.PassingScore,
		Timestamp:       e.now(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if opts.Actor != opts.Candidate {
			admin, err := e.Auth.IsAdmin(ctx, tx, opts.Actor)
			if err != nil {
				return err
			}
			if !admin {
				return apperr.Unauthorized(apperr.CodeNotCandidate, "only the candidate or an admin may record results for %s", opts.Candidate)
			}
		}
		_, err := e.Repo.GetTestResult(ctx, tx, pda.Address)
		switch {
		case err == nil:
			return apperr.Precondition(apperr.CodeAlreadyRecorded, "test result for nonce %d already recorded at %s", opts.Nonce, pda.Address).
				With("address", pda.Address.String())
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if err := e.Repo.InsertTestResult(ctx, tx, res); err != nil {
			return err
		}
		if res.Passed {
			if err := e.Repo.RecordLeaderboardScore(ctx, tx, res.Skill, res.Candidate, res.Score, res.Timestamp); err != nil {
				return err
			}
			if err := e.Repo.TrimLeaderboard(ctx, tx, res.Skill, e.Config.Platform.LeaderboardSize); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, "test.recorded", events.KindTestResult, res.Address, opts.Actor, events.EventPayload{
			"candidate": res.Candidate.String(),
			"skill":     res.Skill.String(),
			"score":     res.Score,
			"nonce":     res.Nonce,
			"passed":    res.Passed,
		})
	})
	if err != nil {
		return domain.TestResult{}, err
	}
	return res, nil
}

type MintBadgeOptions struct {
	Candidate address.Address
	Skill     skill.Category
	Nonce     uint64
	Actor     address.Address
}

func collision(entity string, addr address.Address) error {
	return apperr.Exhausted(apperr.CodeAddressCollision, "%s stored at %s does not match the keys it was derived from", entity, addr).
		With("address", addr.String())
}

// MintBadge issues or re-certifies the (candidate, skill) badge from a
// passing test result. Each result mints at most once.
func (e Engine) MintBadge(ctx context.Context, opts MintBadgeOptions) (b domain.Badge, err error) {
	if err := validSkill(opts.Skill); err != nil {
		return domain.Badge{}, err
	}
	if opts.Actor != opts.Candidate {
		return domain.Badge{}, apperr.Unauthorized(apperr.CodeNotCandidate, "only %s may mint this badge", opts.Candidate)
	}
	resultPDA, err := derived(e.Deriver.TestResult(opts.Candidate, opts.Skill, opts.Nonce))
	if err != nil {
		return domain.Badge{}, err
	}
	badgePDA, err := derived(e.Deriver.Badge(opts.Candidate, opts.Skill))
	if err != nil {
		return domain.Badge{}, err
	}
	ctx, end := e.trace(ctx, "MintBadge", badgePDA.Address)
	defer end(&err)
	unlock := e.locks.Lock(resultPDA.Address, badgePDA.Address)
	defer unlock()

	err = e.inTx(ctx, func(tx *sql.Tx) error {
		result, err := e.Repo.GetTestResult(ctx, tx, resultPDA.Address)
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.Precondition(apperr.CodeNoQualifyingResult, "no test result for %s in %s at nonce %d", opts.Candidate, opts.Skill, opts.Nonce)
		}
		if err != nil {
			return err
		}
		if result.Candidate != opts.Candidate || result.Skill != opts.Skill || result.Nonce != opts.Nonce {
			return collision("test result", resultPDA.Address)
		}
		if pass := e.Config.Platform.PassingScore; result.Score < pass {
			return apperr.Precondition(apperr.CodeScoreBelowThreshold, "score %d is below the passing score %d", result.Score, pass).
				With("score", fmt.Sprint(result.Score)).
				With("passing_score", fmt.Sprint(pass))
		}
		if result.BadgeMinted {
			return apperr.Precondition(apperr.CodeBadgeAlreadyMinted, "test result %s already minted a badge", result.Address)
		}
		now := e.now()
		existing, err := e.Repo.GetBadge(ctx, tx, badgePDA.Address)
		switch {
		case err == nil:
			if existing.Owner != opts.Candidate || existing.Skill != opts.Skill {
				return collision("badge", badgePDA.Address)
			}
			if existing.Revoked {
				return apperr.Precondition(apperr.CodeBadgeRevoked, "badge %s was revoked and cannot be re-certified", existing.Address).
					With("reason", existing.RevokedReason)
			}
			b = existing
			b.TestScore = result.Score
			b.IssueDate = now
			b.ExpiryDate = now.Add(e.Config.Platform.BadgeValidity())
			b.IsValid = true
			if err := e.Repo.UpdateBadge(ctx, tx, b); err != nil {
				return conflict(err, "badge", b.Address)
			}
			b.Version++
		case errors.Is(err, repo.ErrNotFound):
			mint, err := derived(e.Deriver.BadgeMint(opts.Candidate, opts.Skill))
			if err != nil {
				return err
			}
			serial, err := e.Repo.IncrementCounter(ctx, tx, repo.CounterBadges)
			if err != nil {
				return err
			}
			b = domain.Badge{
				Address:      badgePDA.Address,
				Bump:         badgePDA.Bump,
				Mint:         mint.Address,
				Owner:        opts.Candidate,
				Skill:        opts.Skill,
				TestScore:    result.Score,
				IssueDate:    now,
				ExpiryDate:   now.Add(e.Config.Platform.BadgeValidity()),
				IsValid:      true,
				SerialNumber: serial,
				Version:      1,
			}
			if err := e.Repo.InsertBadge(ctx, tx, b); err != nil {
				return err
			}
		default:
			return err
		}
		// Return the row as stored so callers see the same expiry a later read does.
		if b, err = e.Repo.GetBadge(ctx, tx, badgePDA.Address); err != nil {
			return err
		}
		if err := e.Repo.MarkBadgeMinted(ctx, tx, result.Address); err != nil {
			return conflict(err, "test result", result.Address)
		}
		evt := "badge.minted"
		if b.Version > 1 {
			evt = "badge.renewed"
		}
		return e.appendEvent(ctx, tx, evt, events.KindBadge, b.Address, opts.Actor, events.EventPayload{
			"owner":       b.Owner.String(),
			"skill":       b.Skill.String(),
			"score":       b.TestScore,
			"expiry_date": b.ExpiryDate.Format(time.RFC3339),
			"serial":      b.SerialNumber,
			"test_result": result.Address.String(),
		})
	})
	if err != nil {
		return domain.Badge{}, err
	}
	return b, nil
}

func (e Engine) GetBadge(ctx context.Context, owner address.Address, c skill.Category) (domain.Badge, error) {
	if err := validSkill(c); err != nil {
		return domain.Badge{}, err
	}
	pda, err := derived(e.Deriver.Badge(owner, c))
	if err != nil {
		return domain.Badge{}, err
	}
	b, err := e.Repo.GetBadge(ctx, nil, pda.Address)
	if err != nil {
		return domain.Badge{}, notFound(err, "badge", fmt.Sprintf("%s/%s", owner, c.Key()))
	}
	return b, nil
}

// VerifyBadge reports the badge's validity flags as of now.
func (e Engine) VerifyBadge(ctx context.Context, owner address.Address, c skill.Category, now time.Time) (domain.BadgeVerification, error) {
	b, err := e.GetBadge(ctx, owner, c)
	if err != nil {
		return domain.BadgeVerification{}, err
	}
	return verification(b, now), nil
}

func verification(b domain.Badge, now time.Time) domain.BadgeVerification {
	return domain.BadgeVerification{
		Badge:     b.Address,
		Owner:     b.Owner,
		Skill:     b.Skill,
		IsValid:   b.IsValid,
		IsExpired: !now.Before(b.ExpiryDate),
		IsRevoked: b.Revoked,
		Live:      b.Live(now),
		Score:     b.TestScore,
		ExpiresAt: b.ExpiryDate,
	}
}

// RevokeBadge is admin-only and one-way.
func (e Engine) RevokeBadge(ctx context.Context, owner address.Address, c skill.Category, reason string, actor address.Address) (b domain.Badge, err error) {
	if err := validSkill(c); err != nil {
		return domain.Badge{}, err
	}
	if err := checkRequired("reason", reason, maxRevokeReason); err != nil {
		return domain.Badge{}, err
	}
	pda, err := derived(e.Deriver.Badge(owner, c))
	if err != nil {
		return domain.Badge{}, err
	}
	ctx, end := e.trace(ctx, "RevokeBadge", pda.Address)
	defer end(&err)
	unlock := e.locks.Lock(pda.Address)
	defer unlock()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Auth.RequireAdmin(ctx, tx, actor); err != nil {
			return err
		}
		loaded, err := e.Repo.GetBadge(ctx, tx, pda.Address)
		if err != nil {
			return notFound(err, "badge", fmt.Sprintf("%s/%s", owner, c.Key()))
		}
		if loaded.Revoked {
			return apperr.Precondition(apperr.CodeBadgeRevoked, "badge %s is already revoked", loaded.Address)
		}
		loaded.Revoked = true
		loaded.IsValid = false
		loaded.RevokedReason = reason
		if err := e.Repo.UpdateBadge(ctx, tx, loaded); err != nil {
			return conflict(err, "badge", loaded.Address)
		}
		loaded.Version++
		b = loaded
		return e.appendEvent(ctx, tx, "badge.revoked", events.KindBadge, b.Address, actor, events.EventPayload{
			"owner":  b.Owner.String(),
			"skill":  b.Skill.String(),
			"reason": reason,
		})
	})
	if err != nil {
		return domain.Badge{}, err
	}
	return b, nil
}

func (e Engine) ListBadges(ctx context.Context, owner address.Address) ([]domain.Badge, error) {
	return e.Repo.ListBadges(ctx, nil, owner)
}

func (e Engine) ListTestResults(ctx context.Context, candidate address.Address, c skill.Category) ([]domain.TestResult, error) {
	return e.Repo.ListTestResults(ctx, candidate, c)
}

// Leaderboard returns the ranked board for c. It is empty until the first
// passing result.
func (e Engine) Leaderboard(ctx context.Context, c skill.Category) (domain.Leaderboard, error) {
	if err := validSkill(c); err != nil {
		return domain.Leaderboard{}, err
	}
	pda, err := derived(e.Deriver.Leaderboard(c))
	if err != nil {
		return domain.Leaderboard{}, err
	}
	entries, err := e.Repo.Leaderboard(ctx, c, e.Config.Platform.LeaderboardSize)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return domain.Leaderboard{Address: pda.Address, Skill: c, Entries: entries}, nil
}
