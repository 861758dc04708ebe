package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"credchain/internal/address"
	"credchain/internal/advisory"
	"credchain/internal/amount"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/repo"
)

// out wraps a response body.
type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

type contractPath struct {
	ContractID string `path:"contract_id" maxLength:"32"`
}

type milestonePath struct {
	ContractID string `path:"contract_id" maxLength:"32"`
	Index      int    `path:"index" minimum:"0"`
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func (h handlers) detail(ctx context.Context, c domain.Contract) (ContractDetail, error) {
	bal, err := h.e.EscrowBalance(ctx, c.ContractID)
	if err != nil {
		return ContractDetail{}, err
	}
	d := ContractDetail{Contract: c, EscrowBalance: bal}
	d.Display.TotalAmount = amount.Format(c.TotalAmount, h.decimals())
	d.Display.PaidAmount = amount.Format(c.PaidAmount, h.decimals())
	return d, nil
}

// contractResult renders the committed contract state or the error.
func (h handlers) contractResult(ctx context.Context, c domain.Contract, err error) (*out[ContractDetail], error) {
	if err != nil {
		return nil, handleError(ctx, err)
	}
	d, err := h.detail(ctx, c)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return reply(d), nil
}

func registerContracts(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Create a milestone contract (caller is the client)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct{ Body CreateContractRequest }) (*out[ContractDetail], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		b := input.Body
		freelancer, herr := parseIdentity("freelancer", b.Freelancer)
		if herr != nil {
			return nil, herr
		}
		total, herr := h.parseAmount("total_amount", b.TotalAmount)
		if herr != nil {
			return nil, herr
		}
		opts := engine.CreateContractOptions{
			ContractID:  b.ContractID,
			Title:       b.Title,
			Description: b.Description,
			Client:      actor,
			Freelancer:  freelancer,
			TotalAmount: total,
			Actor:       actor,
		}
		if b.PaymentToken != "" {
			if opts.PaymentToken, herr = parseIdentity("payment_token", b.PaymentToken); herr != nil {
				return nil, herr
			}
		}
		for i, m := range b.Milestones {
			amt, herr := h.parseAmount("milestones.amount", m.Amount)
			if herr != nil {
				return nil, herr
			}
			deadline, err := time.Parse(time.RFC3339, m.Deadline)
			if err != nil {
				return nil, badRequest(apperr.CodeInvalidArgument, "milestones[%d].deadline: %v", i, err)
			}
			opts.Milestones = append(opts.Milestones, engine.MilestoneInput{
				Title:       m.Title,
				Description: m.Description,
				Amount:      amt,
				Deadline:    deadline,
			})
		}
		c, err := h.e.CreateContract(ctx, opts)
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Party  string `query:"party"`
		Status string `query:"status" enum:"Active,Funded,InProgress,Completed,Disputed,Cancelled"`
		Limit  int    `query:"limit" default:"50"`
	}) (*out[[]domain.Contract], error) {
		f := repo.ContractFilter{Limit: normalizeLimit(input.Limit)}
		if input.Party != "" {
			party, herr := parseIdentity("party", input.Party)
			if herr != nil {
				return nil, herr
			}
			f.Party = &party
		}
		if input.Status != "" {
			st, err := domain.ParseContractStatus(input.Status)
			if err != nil {
				return nil, badRequest(apperr.CodeInvalidArgument, "%v", err)
			}
			f.Status = st
		}
		items, err := h.e.ListContracts(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get a contract with its escrow balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*out[ContractDetail], error) {
		c, err := h.e.GetContract(ctx, input.ContractID)
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "deposit-escrow",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/deposit",
		Summary:     "Deposit the full contract amount into escrow (client)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Body       AmountRequest
	}) (*out[ContractDetail], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		amt, herr := h.parseAmount("amount", input.Body.Amount)
		if herr != nil {
			return nil, herr
		}
		c, err := h.e.DepositEscrow(ctx, input.ContractID, amt, actor)
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-nda",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/nda",
		Summary:     "Sign the contract NDA (either party)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *contractPath) (*out[ContractDetail], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, err := h.e.SignNDA(ctx, input.ContractID, actor)
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-deliverable",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/milestones/{index}/deliverables",
		Summary:     "Submit a deliverable for review (freelancer)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Index      int    `path:"index" minimum:"0"`
		Body       DeliverableRequest
	}) (*out[ContractDetail], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, err := h.e.SubmitDeliverable(ctx, engine.SubmitDeliverableOptions{
			ContractID:     input.ContractID,
			MilestoneIndex: input.Index,
			ContentRef:     input.Body.ContentRef,
			FileName:       input.Body.FileName,
			Description:    input.Body.Description,
			Actor:          actor,
		})
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-revision",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/milestones/{index}/revisions",
		Summary:     "Request a revision (client)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Index      int    `path:"index" minimum:"0"`
		Body       RevisionRequest
	}) (*out[ContractDetail], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, err := h.e.RequestRevision(ctx, input.ContractID, input.Index, input.Body.Reason, actor)
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-milestone",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/milestones/{index}/approve",
		Summary:     "Approve a milestone and release its payment (client)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *milestonePath) (*out[ContractDetail], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, err := h.e.ApproveMilestone(ctx, input.ContractID, input.Index, actor)
		return h.contractResult(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/contracts/{contract_id}/sessions",
		Summary:       "Start a time session (freelancer)",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Body       SessionRequest
	}) (*out[domain.TimeSession], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		s, err := h.e.StartSession(ctx, input.ContractID, input.Body.MilestoneIndex, input.Body.Nonce, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-session",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/sessions/{nonce}/end",
		Summary:     "End a time session (freelancer)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id" maxLength:"32"`
		Nonce      uint64 `path:"nonce"`
	}) (*out[domain.TimeSession], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		s, err := h.e.EndSession(ctx, input.ContractID, input.Nonce, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/sessions",
		Summary:     "List time sessions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*out[[]domain.TimeSession], error) {
		items, err := h.e.ListSessions(ctx, input.ContractID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "issue-certificate",
		Method:        http.MethodPost,
		Path:          "/contracts/{contract_id}/certificates",
		Summary:       "Issue a completion certificate to the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *contractPath) (*out[domain.Certificate], error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		cert, err := h.e.IssueCertificate(ctx, input.ContractID, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(cert), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-certificates",
		Method:      http.MethodGet,
		Path:        "/certificates/{party}",
		Summary:     "List certificates held by a party",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Party string `path:"party"`
	}) (*out[[]domain.Certificate], error) {
		party, herr := parseIdentity("party", input.Party)
		if herr != nil {
			return nil, herr
		}
		items, err := h.e.ListCertificates(ctx, party)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "contract-summary",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/summary",
		Summary:     "Plain-language contract summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*out[advisory.ContractSummary], error) {
		c, err := h.e.GetContract(ctx, input.ContractID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(h.advisory.SummarizeContract(ctx, c)), nil
	})
}

// identityList parses a list of base58 identities.
func identityList(field string, in []string) ([]address.Address, huma.StatusError) {
	ids := make([]address.Address, 0, len(in))
	for _, s := range in {
		a, herr := parseIdentity(field, s)
		if herr != nil {
			return nil, herr
		}
		ids = append(ids, a)
	}
	return ids, nil
}
