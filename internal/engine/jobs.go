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

const (
	maxJobTitle       = 100
	maxJobDescription = 500
	maxJobDuration    = 50
	maxJobLocation    = 100
	maxCoverLetter    = 1000
	maxTimeline       = 100
	maxPortfolioURL   = 200
)

type PostJobOptions struct {
	JobID          string
	Title          string
	Description    string
	BudgetMin      uint64
	BudgetMax      uint64
	JobType        domain.JobType
	Duration       string
	Location       string
	RequiredBadges []skill.Category
	Actor          address.Address
}

func (e Engine) validateJob(opts PostJobOptions) error {
	if err := checkID("job_id", opts.JobID); err != nil {
		return err
	}
	if err := checkRequired("title", opts.Title, maxJobTitle); err != nil {
		return err
	}
	if err := checkRequired("description", opts.Description, maxJobDescription); err != nil {
		return err
	}
	if err := checkLen("duration", opts.Duration, maxJobDuration); err != nil {
		return err
	}
	if err := checkLen("location", opts.Location, maxJobLocation); err != nil {
		return err
	}
	if _, err := domain.ParseJobType(string(opts.JobType)); err != nil {
		return apperr.Validation(apperr.CodeInvalidArgument, "%v", err)
	}
	if opts.BudgetMin == 0 {
		return apperr.Validation(apperr.CodeInvalidBudget, "budget_min must be > 0")
	}
	if opts.BudgetMin > opts.BudgetMax {
		return apperr.Validation(apperr.CodeInvalidBudget, "budget_min %d exceeds budget_max %d", opts.BudgetMin, opts.BudgetMax)
	}
	n, limit := len(opts.RequiredBadges), e.Config.Platform.MaxRequiredBadges
	if n == 0 || n > limit {
		return apperr.Validation(apperr.CodeRequiredBadges, "between 1 and %d required badges; got %d", limit, n)
	}
	seen := make(map[skill.Category]bool, n)
	for _, c := range opts.RequiredBadges {
		if !c.Valid() {
			return apperr.Validation(apperr.CodeRequiredBadges, "unknown skill category %d", uint8(c))
		}
		if seen[c] {
			return apperr.Validation(apperr.CodeRequiredBadges, "required badge %q listed twice", c)
		}
		seen[c] = true
	}
	return nil
}

// PostJob publishes a job owned by the actor.
func (e Engine) PostJob(ctx context.Context, opts PostJobOptions) (j domain.Job, err error) {
	if err := e.validateJob(opts); err != nil {
		return domain.Job{}, err
	}
	pda, err := derived(e.Deriver.Job(opts.JobID))
	if err != nil {
		return domain.Job{}, err
	}
	ctx, end := e.trace(ctx, "PostJob", pda.Address)
	defer end(&err)
	unlock := e.locks.Lock(pda.Address)
	defer unlock()

	now := e.now()
	j = domain.Job{
		Address:        pda.Address,
		Bump:           pda.Bump,
		JobID:          opts.JobID,
		Employer:       opts.Actor,
		Title:          opts.Title,
		Description:    opts.Description,
		BudgetMin:      opts.BudgetMin,
		BudgetMax:      opts.BudgetMax,
		JobType:        opts.JobType,
		Duration:       opts.Duration,
		Location:       opts.Location,
		RequiredBadges: append([]skill.Category(nil), opts.RequiredBadges...),
		Status:         domain.JobOpen,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		_, err := e.Repo.GetJob(ctx, tx, pda.Address)
		switch {
		case err == nil:
			return apperr.Precondition(apperr.CodeJobExists, "job %s already exists at %s", opts.JobID, pda.Address)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
			return err
		}
		if _, err := e.Repo.IncrementCounter(ctx, tx, repo.CounterJobs); err != nil {
			return err
		}
		required := make([]string, len(j.RequiredBadges))
		for i, c := range j.RequiredBadges {
			required[i] = c.String()
		}
		return e.appendEvent(ctx, tx, "job.posted", events.KindJob, j.Address, opts.Actor, events.EventPayload{
			"job_id":          j.JobID,
			"required_badges": required,
			"budget_min":      j.BudgetMin,
			"budget_max":      j.BudgetMax,
		})
	})
	if err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func (e Engine) jobAddr(jobID string) (address.Address, error) {
	if err := checkID("job_id", jobID); err != nil {
		return address.Address{}, err
	}
	pda, err := derived(e.Deriver.Job(jobID))
	return pda.Address, err
}

func (e Engine) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	addr, err := e.jobAddr(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	j, err := e.Repo.GetJob(ctx, nil, addr)
	if err != nil {
		return domain.Job{}, notFound(err, "job", jobID)
	}
	return j, nil
}

func (e Engine) ListJobs(ctx context.Context, f repo.JobFilter) ([]domain.Job, error) {
	return e.Repo.ListJobs(ctx, f)
}

// eligibility compares the candidate's live badges at now with the job's
// required set. It only reads credential state.
func (e Engine) eligibility(ctx context.Context, tx *sql.Tx, j domain.Job, candidate address.Address, now time.Time) (domain.Eligibility, error) {
	badges, err := e.Repo.ListBadges(ctx, tx, candidate)
	if err != nil {
		return domain.Eligibility{}, err
	}
	var live []skill.Category
	for _, b := range badges {
		if b.Live(now) {
			live = append(live, b.Skill)
		}
	}
	missing := skill.Missing(j.RequiredBadges, live)
	return domain.Eligibility{
		Job:       j.Address,
		Candidate: candidate,
		CanApply:  len(missing) == 0,
		Required:  j.RequiredBadges,
		Missing:   missing,
	}, nil
}

// CanApply is a pure read: live badge set must cover the job's requirements.
func (e Engine) CanApply(ctx context.Context, candidate address.Address, jobID string, now time.Time) (domain.Eligibility, error) {
	j, err := e.GetJob(ctx, jobID)
	if err != nil {
		return domain.Eligibility{}, err
	}
	return e.eligibility(ctx, nil, j, candidate, now)
}

type ApplyOptions struct {
	JobID          string
	CoverLetter    string
	ProposedBudget uint64
	Timeline       string
	PortfolioURL   string
	Actor          address.Address
}

// mutateJob locks the job, loads it on tx and persists it after fn under its version.
func (e Engine) mutateJob(ctx context.Context, op, jobID string, fn func(tx *sql.Tx, j *domain.Job) error) (j domain.Job, err error) {
	addr, err := e.jobAddr(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	ctx, end := e.trace(ctx, op, addr)
	defer end(&err)
	unlock := e.locks.Lock(addr)
	defer unlock()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		loaded, err := e.Repo.GetJob(ctx, tx, addr)
		if err != nil {
			return notFound(err, "job", jobID)
		}
		if err := fn(tx, &loaded); err != nil {
			return err
		}
		loaded.UpdatedAt = e.now()
		if err := e.Repo.UpdateJob(ctx, tx, loaded); err != nil {
			return conflict(err, "job", addr)
		}
		loaded.Version++
		j = loaded
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func ensureJobStatus(j *domain.Job, allowed ...domain.JobStatus) error {
	for _, s := range allowed {
		if j.Status == s {
			return nil
		}
	}
	return apperr.StatusMismatch(apperr.CodeJobStatus, "job", string(j.Status), statusStrings(allowed...)...).
		With("job_id", j.JobID)
}

func requireEmployer(j *domain.Job, actor address.Address) error {
	if actor != j.Employer {
		return apperr.Unauthorized(apperr.CodeNotEmployer, "only the employer of %s may do this", j.JobID)
	}
	return nil
}

// ApplyToJob submits an application after the badge gate. Credential state
// is read, never written.
func (e Engine) ApplyToJob(ctx context.Context, opts ApplyOptions) (domain.Application, error) {
	if err := checkRequired("cover_letter", opts.CoverLetter, maxCoverLetter); err != nil {
		return domain.Application{}, err
	}
	if err := checkLen("timeline", opts.Timeline, maxTimeline); err != nil {
		return domain.Application{}, err
	}
	if err := checkLen("portfolio_url", opts.PortfolioURL, maxPortfolioURL); err != nil {
		return domain.Application{}, err
	}
	if opts.ProposedBudget == 0 {
		return domain.Application{}, apperr.Validation(apperr.CodeInvalidBudget, "proposed_budget must be > 0")
	}
	var app domain.Application
	_, err := e.mutateJob(ctx, "ApplyToJob", opts.JobID, func(tx *sql.Tx, j *domain.Job) error {
		if err := ensureJobStatus(j, domain.JobOpen); err != nil {
			return err
		}
		if opts.Actor == j.Employer {
			return apperr.Precondition(apperr.CodeSelfApplication, "employer cannot apply to their own job")
		}
		now := e.now()
		elig, err := e.eligibility(ctx, tx, *j, opts.Actor, now)
		if err != nil {
			return err
		}
		if !elig.CanApply {
			names := make([]string, len(elig.Missing))
			for i, c := range elig.Missing {
				names[i] = c.String()
			}
			return apperr.Precondition(apperr.CodeMissingBadges, "missing live badges: %v", names).
				With("missing", fmt.Sprint(names))
		}
		pda, err := derived(e.Deriver.Application(j.Address, opts.Actor))
		if err != nil {
			return err
		}
		_, err = e.Repo.GetApplication(ctx, tx, pda.Address)
		switch {
		case err == nil:
			return apperr.Precondition(apperr.CodeAlreadyApplied, "%s already applied to %s", opts.Actor, j.JobID)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		app = domain.Application{
			Address:        pda.Address,
			Bump:           pda.Bump,
			Job:            j.Address,
			Freelancer:     opts.Actor,
			CoverLetter:    opts.CoverLetter,
			ProposedBudget: opts.ProposedBudget,
			Timeline:       opts.Timeline,
			PortfolioURL:   opts.PortfolioURL,
			Status:         domain.ApplicationPending,
			AppliedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertApplication(ctx, tx, app); err != nil {
			return err
		}
		j.ApplicantCount++
		if _, err := e.Repo.IncrementCounter(ctx, tx, repo.CounterApplications); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "application.submitted", events.KindApplication, app.Address, opts.Actor, events.EventPayload{
			"job_id":          j.JobID,
			"proposed_budget": app.ProposedBudget,
		})
	})
	if err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// decideApplication moves a Pending application to next. who picks the
// caller check: employer for accept/reject, applicant for withdraw.
func (e Engine) decideApplication(ctx context.Context, op, jobID string, freelancer address.Address, next domain.ApplicationStatus, actor address.Address) (domain.Application, error) {
	var app domain.Application
	_, err := e.mutateJob(ctx, op, jobID, func(tx *sql.Tx, j *domain.Job) error {
		switch next {
		case domain.ApplicationAccepted, domain.ApplicationRejected:
			if err := requireEmployer(j, actor); err != nil {
				return err
			}
		case domain.ApplicationWithdrawn:
			if actor != freelancer {
				return apperr.Unauthorized(apperr.CodeNotApplicant, "only the applicant may withdraw")
			}
		case domain.ApplicationPending:
			return apperr.Validation(apperr.CodeInvalidArgument, "cannot move an application back to Pending")
		}
		if next == domain.ApplicationAccepted {
			if err := ensureJobStatus(j, domain.JobOpen); err != nil {
				return err
			}
		}
		pda, err := derived(e.Deriver.Application(j.Address, freelancer))
		if err != nil {
			return err
		}
		loaded, err := e.Repo.GetApplication(ctx, tx, pda.Address)
		if err != nil {
			return notFound(err, "application", fmt.Sprintf("%s/%s", jobID, freelancer))
		}
		if loaded.Status != domain.ApplicationPending {
			return apperr.StatusMismatch(apperr.CodeApplicationStatus, "application", string(loaded.Status), string(domain.ApplicationPending))
		}
		now := e.now()
		if err := e.Repo.UpdateApplicationStatus(ctx, tx, loaded.Address, domain.ApplicationPending, next, repo.FormatTime(now)); err != nil {
			return conflict(err, "application", loaded.Address)
		}
		loaded.Status = next
		loaded.UpdatedAt = now
		app = loaded
		if next == domain.ApplicationAccepted {
			j.Status = domain.JobInProgress
			hired := freelancer
			j.HiredFreelancer = &hired
		}
		return e.appendEvent(ctx, tx, "application."+statusEventSuffix(next), events.KindApplication, loaded.Address, actor, events.EventPayload{
			"job_id":     j.JobID,
			"freelancer": freelancer.String(),
		})
	})
	if err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

func statusEventSuffix(s domain.ApplicationStatus) string {
	switch s {
	case domain.ApplicationAccepted:
		return "accepted"
	case domain.ApplicationRejected:
		return "rejected"
	case domain.ApplicationWithdrawn:
		return "withdrawn"
	case domain.ApplicationPending:
		return "pending"
	}
	return "updated"
}

func (e Engine) AcceptApplication(ctx context.Context, jobID string, freelancer, actor address.Address) (domain.Application, error) {
	return e.decideApplication(ctx, "AcceptApplication", jobID, freelancer, domain.ApplicationAccepted, actor)
}

func (e Engine) RejectApplication(ctx context.Context, jobID string, freelancer, actor address.Address) (domain.Application, error) {
	return e.decideApplication(ctx, "RejectApplication", jobID, freelancer, domain.ApplicationRejected, actor)
}

func (e Engine) WithdrawApplication(ctx context.Context, jobID string, actor address.Address) (domain.Application, error) {
	return e.decideApplication(ctx, "WithdrawApplication", jobID, actor, domain.ApplicationWithdrawn, actor)
}

// CloseJob stops a job that is open or already underway.
func (e Engine) CloseJob(ctx context.Context, jobID string, actor address.Address) (domain.Job, error) {
	return e.moveJob(ctx, "CloseJob", jobID, actor, domain.JobClosed, domain.JobOpen, domain.JobInProgress)
}

func (e Engine) CompleteJob(ctx context.Context, jobID string, actor address.Address) (domain.Job, error) {
	return e.moveJob(ctx, "CompleteJob", jobID, actor, domain.JobCompleted, domain.JobInProgress)
}

func (e Engine) moveJob(ctx context.Context, op, jobID string, actor address.Address, next domain.JobStatus, from ...domain.JobStatus) (domain.Job, error) {
	return e.mutateJob(ctx, op, jobID, func(tx *sql.Tx, j *domain.Job) error {
		if err := requireEmployer(j, actor); err != nil {
			return err
		}
		if err := ensureJobStatus(j, from...); err != nil {
			return err
		}
		prev := j.Status
		j.Status = next
		return e.appendEvent(ctx, tx, "job.status_changed", events.KindJob, j.Address, actor, events.EventPayload{
			"job_id": j.JobID,
			"from":   string(prev),
			"to":     string(next),
		})
	})
}

// ListApplications lists by job id, by freelancer, or both.
func (e Engine) ListApplications(ctx context.Context, jobID string, freelancer *address.Address) ([]domain.Application, error) {
	var job *address.Address
	if jobID != "" {
		addr, err := e.jobAddr(jobID)
		if err != nil {
			return nil, err
		}
		job = &addr
	}
	return e.Repo.ListApplications(ctx, job, freelancer)
}
