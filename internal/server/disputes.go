package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/engine"
)

func registerDisputes(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-dispute",
		Method:        http.MethodPost,
		Path:          "/contracts/{contract_id}/dispute",
		Summary:       "Open a dispute (either party)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Body       OpenDisputeRequest
	}) (*out[domain.Dispute], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		cat, err := domain.ParseDisputeCategory(input.Body.Category)
		if err != nil {
			return nil, badRequest(apperr.CodeInvalidArgument, "%v", err)
		}
		d, err := h.e.OpenDispute(ctx, engine.OpenDisputeOptions{
			ContractID:  input.ContractID,
			Category:    cat,
			Reason:      input.Body.Reason,
			Description: input.Body.Description,
			Actor:       actor,
		})
		return disputeResult(ctx, d, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dispute",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/dispute",
		Summary:     "Get the contract's dispute",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*out[domain.Dispute], error) {
		d, err := h.e.GetDispute(ctx, input.ContractID)
		return disputeResult(ctx, d, err)
	})

	step := func(op func(ctx context.Context, contractID string, actor address.Address) (domain.Dispute, error)) func(context.Context, *contractPath) (*out[domain.Dispute], error) {
		return func(ctx context.Context, input *contractPath) (*out[domain.Dispute], error) {
			actor, herr := actorFromContext(ctx)
			if herr != nil {
				return nil, herr
			}
			d, err := op(ctx, input.ContractID, actor)
			return disputeResult(ctx, d, err)
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "stake-dispute",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/dispute/stake",
		Summary:     "Post the dispute stake (either party)",
		Errors:      writeErrors,
	}, step(h.e.StakeDispute))

	huma.Register(api, huma.Operation{
		OperationID: "cancel-dispute",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/dispute/cancel",
		Summary:     "Withdraw an open dispute (initiator)",
		Errors:      writeErrors,
	}, step(h.e.CancelDispute))

	huma.Register(api, huma.Operation{
		OperationID: "assign-arbitrators",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/dispute/arbitrators",
		Summary:     "Assign arbitrators (platform admin)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Body       AssignArbitratorsRequest
	}) (*out[domain.Dispute], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		arbs, herr := identityList("arbitrators", input.Body.Arbitrators)
		if herr != nil {
			return nil, herr
		}
		d, err := h.e.AssignArbitrators(ctx, input.ContractID, arbs, actor)
		return disputeResult(ctx, d, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "cast-vote",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/dispute/votes",
		Summary:     "Cast an arbitration vote (assigned arbitrator)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Body       VoteRequest
	}) (*out[domain.Dispute], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		d, err := h.e.CastVote(ctx, input.ContractID, input.Body.ForClient, actor)
		return disputeResult(ctx, d, err)
	})
}

func disputeResult(ctx context.Context, d domain.Dispute, err error) (*out[domain.Dispute], error) {
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return reply(d), nil
}
