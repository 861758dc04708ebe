package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"credchain/internal/domain"
	"credchain/internal/engine"
)

type badgePath struct {
	Owner string `path:"owner"`
	Skill string `path:"skill" doc:"Skill key such as SolanaDeveloper, or its display name"`
}

func registerCredentials(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-test",
		Method:        http.MethodPost,
		Path:          "/tests",
		Summary:       "Record a skill test completion (candidate or admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct{ Body RecordTestRequest }) (*out[domain.TestResult], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		b := input.Body
		candidate, herr := parseIdentity("candidate", b.Candidate)
		if herr != nil {
			return nil, herr
		}
		c, herr := parseSkill(b.Skill)
		if herr != nil {
			return nil, herr
		}
		res, err := h.e.RecordTestCompletion(ctx, engine.RecordTestOptions{
			Candidate:       candidate,
			Skill:           c,
			Score:           b.Score,
			DurationSeconds: b.DurationSeconds,
			Proctored:       b.Proctored,
			Nonce:           b.Nonce,
			Actor:           actor,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mint-badge",
		Method:        http.MethodPost,
		Path:          "/badges",
		Summary:       "Mint the caller's badge from a passing test result",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct{ Body MintBadgeRequest }) (*out[domain.Badge], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, herr := parseSkill(input.Body.Skill)
		if herr != nil {
			return nil, herr
		}
		b, err := h.e.MintBadge(ctx, engine.MintBadgeOptions{
			Candidate: actor,
			Skill:     c,
			Nonce:     input.Body.Nonce,
			Actor:     actor,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-badges",
		Method:      http.MethodGet,
		Path:        "/badges",
		Summary:     "List an owner's badges",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Owner string `query:"owner" required:"true"`
	}) (*out[[]domain.Badge], error) {
		owner, herr := parseIdentity("owner", input.Owner)
		if herr != nil {
			return nil, herr
		}
		items, err := h.e.ListBadges(ctx, owner)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-badge",
		Method:      http.MethodGet,
		Path:        "/badges/{owner}/{skill}/verify",
		Summary:     "Verify a badge is valid, unexpired and unrevoked",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *badgePath) (*out[domain.BadgeVerification], error) {
		owner, herr := parseIdentity("owner", input.Owner)
		if herr != nil {
			return nil, herr
		}
		c, herr := parseSkill(input.Skill)
		if herr != nil {
			return nil, herr
		}
		v, err := h.e.VerifyBadge(ctx, owner, c, h.now())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-badge",
		Method:      http.MethodPost,
		Path:        "/badges/{owner}/{skill}/revoke",
		Summary:     "Revoke a badge (platform admin)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		Skill string `path:"skill"`
		Body  RevokeBadgeRequest
	}) (*out[domain.Badge], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		owner, herr := parseIdentity("owner", input.Owner)
		if herr != nil {
			return nil, herr
		}
		c, herr := parseSkill(input.Skill)
		if herr != nil {
			return nil, herr
		}
		b, err := h.e.RevokeBadge(ctx, owner, c, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboards/{skill}",
		Summary:     "Ranked leaderboard for a skill",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Skill string `path:"skill"`
	}) (*out[domain.Leaderboard], error) {
		c, herr := parseSkill(input.Skill)
		if herr != nil {
			return nil, herr
		}
		lb, err := h.e.Leaderboard(ctx, c)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		lb.Entries = nonNilSlice(lb.Entries)
		return reply(lb), nil
	})
}
