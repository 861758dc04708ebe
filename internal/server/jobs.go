package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"credchain/internal/address"
	"credchain/internal/advisory"
	"credchain/internal/amount"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/repo"
	"credchain/internal/skill"
)

type jobPath struct {
	JobID string `path:"job_id" maxLength:"32"`
}

func registerJobs(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Post a job (caller is the employer)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct{ Body PostJobRequest }) (*out[domain.Job], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		b := input.Body
		minBudget, herr := h.parseAmount("budget_min", b.BudgetMin)
		if herr != nil {
			return nil, herr
		}
		maxBudget, herr := h.parseAmount("budget_max", b.BudgetMax)
		if herr != nil {
			return nil, herr
		}
		jt, err := domain.ParseJobType(b.JobType)
		if err != nil {
			return nil, badRequest(apperr.CodeInvalidArgument, "%v", err)
		}
		required, err := skill.ParseList(b.RequiredBadges)
		if err != nil {
			return nil, badRequest(apperr.CodeRequiredBadges, "%v", err)
		}
		j, err := h.e.PostJob(ctx, engine.PostJobOptions{
			JobID:          b.JobID,
			Title:          b.Title,
			Description:    b.Description,
			BudgetMin:      minBudget,
			BudgetMax:      maxBudget,
			JobType:        jt,
			Duration:       b.Duration,
			Location:       b.Location,
			RequiredBadges: required,
			Actor:          actor,
		})
		return jobResult(ctx, j, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"Open,InProgress,Completed,Closed,Cancelled"`
		Employer string `query:"employer"`
		Skill    string `query:"skill"`
		Limit    int    `query:"limit" default:"50"`
	}) (*out[[]domain.Job], error) {
		f := repo.JobFilter{Limit: normalizeLimit(input.Limit)}
		if input.Status != "" {
			st, err := domain.ParseJobStatus(input.Status)
			if err != nil {
				return nil, badRequest(apperr.CodeInvalidArgument, "%v", err)
			}
			f.Status = st
		}
		if input.Employer != "" {
			emp, herr := parseIdentity("employer", input.Employer)
			if herr != nil {
				return nil, herr
			}
			f.Employer = &emp
		}
		if input.Skill != "" {
			c, herr := parseSkill(input.Skill)
			if herr != nil {
				return nil, herr
			}
			f.Skill = c
		}
		items, err := h.e.ListJobs(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "match-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs/matches",
		Summary:     "Rank open jobs for an identity's live badges",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Identity string `query:"identity" doc:"Defaults to the caller"`
	}) (*out[advisory.Matches], error) {
		who, herr := h.identityOrActor(ctx, input.Identity)
		if herr != nil {
			return nil, herr
		}
		req, err := h.matchRequest(ctx, who)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(h.advisory.MatchJobs(ctx, req)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*out[domain.Job], error) {
		j, err := h.e.GetJob(ctx, input.JobID)
		return jobResult(ctx, j, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-eligibility",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/eligibility",
		Summary:     "Check whether a candidate's live badges cover the job",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID     string `path:"job_id" maxLength:"32"`
		Candidate string `query:"candidate" doc:"Defaults to the caller"`
	}) (*out[domain.Eligibility], error) {
		who, herr := h.identityOrActor(ctx, input.Candidate)
		if herr != nil {
			return nil, herr
		}
		el, err := h.e.CanApply(ctx, who, input.JobID, h.now())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		el.Required = nonNilSlice(el.Required)
		return reply(el), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "apply-to-job",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/applications",
		Summary:       "Apply to a job (caller is the freelancer)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id" maxLength:"32"`
		Body  ApplyRequest
	}) (*out[domain.Application], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		budget, herr := h.parseAmount("proposed_budget", input.Body.ProposedBudget)
		if herr != nil {
			return nil, herr
		}
		a, err := h.e.ApplyToJob(ctx, engine.ApplyOptions{
			JobID:          input.JobID,
			CoverLetter:    input.Body.CoverLetter,
			ProposedBudget: budget,
			Timeline:       input.Body.Timeline,
			PortfolioURL:   input.Body.PortfolioURL,
			Actor:          actor,
		})
		return applicationResult(ctx, a, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/applications",
		Summary:     "List applications for a job",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID      string `path:"job_id" maxLength:"32"`
		Freelancer string `query:"freelancer"`
	}) (*out[[]domain.Application], error) {
		var who *address.Address
		if input.Freelancer != "" {
			f, herr := parseIdentity("freelancer", input.Freelancer)
			if herr != nil {
				return nil, herr
			}
			who = &f
		}
		items, err := h.e.ListApplications(ctx, input.JobID, who)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-application",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/applications/{freelancer}/{action}",
		Summary:     "Accept or reject (employer), or withdraw (applicant) an application",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		JobID      string `path:"job_id" maxLength:"32"`
		Freelancer string `path:"freelancer"`
		Action     string `path:"action" enum:"accept,reject,withdraw"`
	}) (*out[domain.Application], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		freelancer, herr := parseIdentity("freelancer", input.Freelancer)
		if herr != nil {
			return nil, herr
		}
		var (
			a   domain.Application
			err error
		)
		switch input.Action {
		case "accept":
			a, err = h.e.AcceptApplication(ctx, input.JobID, freelancer, actor)
		case "reject":
			a, err = h.e.RejectApplication(ctx, input.JobID, freelancer, actor)
		default:
			if freelancer != actor {
				return nil, handleError(ctx, apperr.Unauthorized(apperr.CodeNotApplicant, "only the applicant can withdraw"))
			}
			a, err = h.e.WithdrawApplication(ctx, input.JobID, actor)
		}
		return applicationResult(ctx, a, err)
	})

	move := func(op func(context.Context, string, address.Address) (domain.Job, error)) func(context.Context, *jobPath) (*out[domain.Job], error) {
		return func(ctx context.Context, input *jobPath) (*out[domain.Job], error) {
			actor, herr := actorFromContext(ctx)
			if herr != nil {
				return nil, herr
			}
			j, err := op(ctx, input.JobID, actor)
			return jobResult(ctx, j, err)
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "close-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/close",
		Summary:     "Close an open job (employer)",
		Errors:      writeErrors,
	}, move(h.e.CloseJob))
	huma.Register(api, huma.Operation{
		OperationID: "complete-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/complete",
		Summary:     "Mark an in-progress job completed (employer)",
		Errors:      writeErrors,
	}, move(h.e.CompleteJob))

	huma.Register(api, huma.Operation{
		OperationID: "improve-job-description",
		Method:      http.MethodPost,
		Path:        "/advice/job-description",
		Summary:     "Suggest a clearer job posting",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct{ Body ImproveJobRequest }) (*out[advisory.Improvement], error) {
		b := input.Body
		if b.Title == "" || b.Description == "" {
			return nil, badRequest(apperr.CodeInvalidArgument, "title and description are required")
		}
		return reply(h.advisory.ImproveJobDescription(ctx, advisory.JobDraft{
			Title:       b.Title,
			Description: b.Description,
			Category:    b.Category,
			Budget:      b.Budget,
			JobType:     b.JobType,
		})), nil
	})
}

func (h handlers) identityOrActor(ctx context.Context, raw string) (address.Address, huma.StatusError) {
	if raw != "" {
		return parseIdentity("identity", raw)
	}
	return actorFromContext(ctx)
}

// matchRequest collects who's live badges, completion count and the open jobs.
func (h handlers) matchRequest(ctx context.Context, who address.Address) (advisory.MatchRequest, error) {
	now := h.now()
	badges, err := h.e.ListBadges(ctx, who)
	if err != nil {
		return advisory.MatchRequest{}, err
	}
	req := advisory.MatchRequest{UserBadges: []string{}, Jobs: []advisory.JobCandidate{}}
	for _, b := range badges {
		if b.Live(now) {
			req.UserBadges = append(req.UserBadges, b.Skill.String())
		}
	}
	certs, err := h.e.ListCertificates(ctx, who)
	if err != nil {
		return advisory.MatchRequest{}, err
	}
	req.UserCompletions = len(certs)
	jobs, err := h.e.ListJobs(ctx, repo.JobFilter{Status: domain.JobOpen, Limit: 200})
	if err != nil {
		return advisory.MatchRequest{}, err
	}
	for _, j := range jobs {
		c := advisory.JobCandidate{
			JobID:          j.JobID,
			Title:          j.Title,
			RequiredBadges: []string{},
			BudgetMin:      amount.Format(j.BudgetMin, h.decimals()),
			BudgetMax:      amount.Format(j.BudgetMax, h.decimals()),
		}
		for _, s := range j.RequiredBadges {
			c.RequiredBadges = append(c.RequiredBadges, s.String())
		}
		req.Jobs = append(req.Jobs, c)
	}
	return req, nil
}

func jobResult(ctx context.Context, j domain.Job, err error) (*out[domain.Job], error) {
	if err != nil {
		return nil, handleError(ctx, err)
	}
	j.RequiredBadges = nonNilSlice(j.RequiredBadges)
	return reply(j), nil
}

func applicationResult(ctx context.Context, a domain.Application, err error) (*out[domain.Application], error) {
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return reply(a), nil
}
