package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"credchain/internal/address"
	"credchain/internal/amount"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/events"
	"credchain/internal/ledger"
	"credchain/internal/repo"
)

const (
	maxContractTitle       = 64
	maxContractDescription = 200
	maxMilestoneTitle      = 64
	maxMilestoneDesc       = 150
	maxRevisionReason      = 500
	maxContentRef          = 200
	maxFileName            = 200
	maxDeliverableDesc     = 500
)

type MilestoneInput struct {
	Title       string
	Description string
	Amount      uint64
	Deadline    time.Time
}

// CreateContractOptions are parameters for createContract. The actor must be
// the client. PaymentToken defaults to the configured token.
type CreateContractOptions struct {
	ContractID   string
	Title        string
	Description  string
	Client       address.Address
	Freelancer   address.Address
	TotalAmount  uint64
	PaymentToken address.Address
	Milestones   []MilestoneInput
	Actor        address.Address
}

func (e Engine) validateContract(opts CreateContractOptions) error {
	if err := checkID("contract_id", opts.ContractID); err != nil {
		return err
	}
	if err := checkRequired("title", opts.Title, maxContractTitle); err != nil {
		return err
	}
	if err := checkLen("description", opts.Description, maxContractDescription); err != nil {
		return err
	}
	if opts.Client.IsZero() || opts.Freelancer.IsZero() {
		return apperr.Validation(apperr.CodeInvalidArgument, "client and freelancer are required")
	}
	if opts.Client == opts.Freelancer {
		return apperr.Validation(apperr.CodeInvalidArgument, "client and freelancer must differ")
	}
	if len(opts.Milestones) == 0 {
		return apperr.Validation(apperr.CodeMilestonesEmpty, "a contract needs at least one milestone")
	}
	if limit := e.Config.Platform.MaxMilestones; len(opts.Milestones) > limit {
		return apperr.Validation(apperr.CodeMilestonesTooMany, "%d milestones exceeds the cap of %d", len(opts.Milestones), limit)
	}
	var sum uint64
	for i, m := range opts.Milestones {
		if err := checkRequired(fmt.Sprintf("milestones[%d].title", i), m.Title, maxMilestoneTitle); err != nil {
			return err
		}
		if err := checkLen(fmt.Sprintf("milestones[%d].description", i), m.Description, maxMilestoneDesc); err != nil {
			return err
		}
		if m.Amount == 0 {
			return apperr.Validation(apperr.CodeInvalidAmount, "milestones[%d].amount must be > 0", i)
		}
		if m.Deadline.IsZero() {
			return apperr.Validation(apperr.CodeInvalidArgument, "milestones[%d].deadline is required", i)
		}
		if sum > math.MaxInt64-m.Amount {
			return apperr.Validation(apperr.CodeInvalidAmount, "milestone amounts overflow")
		}
		sum += m.Amount
	}
	if sum != opts.TotalAmount {
		return apperr.Validation(apperr.CodeAmountMismatch, "milestone amounts sum to %d; total is %d", sum, opts.TotalAmount).
			With("sum", fmt.Sprint(sum)).
			With("total", fmt.Sprint(opts.TotalAmount))
	}
	return nil
}

func (e Engine) CreateContract(ctx context.Context, opts CreateContractOptions) (c domain.Contract, err error) {
	if err := e.validateContract(opts); err != nil {
		return domain.Contract{}, err
	}
	if opts.Actor != opts.Client {
		return domain.Contract{}, apperr.Unauthorized(apperr.CodeNotClient, "only the client can create a contract")
	}
	pda, err := derived(e.Deriver.Contract(opts.ContractID))
	if err != nil {
		return domain.Contract{}, err
	}
	ctx, end := e.trace(ctx, "CreateContract", pda.Address)
	defer end(&err)
	unlock := e.locks.Lock(pda.Address)
	defer unlock()

	token := opts.PaymentToken
	if token.IsZero() {
		token = e.Config.DefaultToken()
	}
	now := e.now()
	c = domain.Contract{
		Address:      pda.Address,
		Bump:         pda.Bump,
		ContractID:   opts.ContractID,
		Title:        opts.Title,
		Description:  opts.Description,
		Client:       opts.Client,
		Freelancer:   opts.Freelancer,
		TotalAmount:  opts.TotalAmount,
		PaymentToken: token,
		Status:       domain.ContractActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, m := range opts.Milestones {
		c.Milestones = append(c.Milestones, domain.Milestone{
			Index:       i,
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			Deadline:    m.Deadline.UTC(),
			Status:      domain.MilestonePending,
		})
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := e.Repo.ContractExists(ctx, tx, pda.Address)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Precondition(apperr.CodeContractExists, "contract %s already exists at %s", opts.ContractID, pda.Address).
				With("address", pda.Address.String())
		}
		if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
			return err
		}
		if _, err := e.Repo.IncrementCounter(ctx, tx, repo.CounterContracts); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "contract.created", events.KindContract, c.Address, opts.Actor, events.EventPayload{
			"contract_id": c.ContractID,
			"client":      c.Client.String(),
			"freelancer":  c.Freelancer.String(),
			"total":       c.TotalAmount,
			"milestones":  len(c.Milestones),
		})
	})
	if err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// contractAddr derives and bounds the address for a contract id.
func (e Engine) contractAddr(contractID string) (address.Address, error) {
	if err := checkID("contract_id", contractID); err != nil {
		return address.Address{}, err
	}
	pda, err := derived(e.Deriver.Contract(contractID))
	return pda.Address, err
}

func (e Engine) loadContract(ctx context.Context, tx *sql.Tx, contractID string) (domain.Contract, error) {
	addr, err := e.contractAddr(contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	c, err := e.Repo.GetContract(ctx, tx, addr)
	if err != nil {
		return domain.Contract{}, notFound(err, "contract", contractID)
	}
	return c, nil
}

func (e Engine) GetContract(ctx context.Context, contractID string) (domain.Contract, error) {
	return e.loadContract(ctx, nil, contractID)
}

func (e Engine) ListContracts(ctx context.Context, f repo.ContractFilter) ([]domain.Contract, error) {
	return e.Repo.ListContracts(ctx, f)
}

// mutateContract is the shared read-guard-write unit for contract-scoped
// operations: lock the contract address, load it on tx, let fn apply the
// transition, then persist the header under its version.
func (e Engine) mutateContract(ctx context.Context, op, contractID string, fn func(tx *sql.Tx, c *domain.Contract) error) (c domain.Contract, err error) {
	addr, err := e.contractAddr(contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	ctx, end := e.trace(ctx, op, addr)
	defer end(&err)
	unlock := e.locks.Lock(addr)
	defer unlock()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		loaded, err := e.Repo.GetContract(ctx, tx, addr)
		if err != nil {
			return notFound(err, "contract", contractID)
		}
		if err := fn(tx, &loaded); err != nil {
			return err
		}
		loaded.UpdatedAt = e.now()
		if err := e.Repo.UpdateContract(ctx, tx, loaded); err != nil {
			return conflict(err, "contract", addr)
		}
		loaded.Version++
		c = loaded
		return nil
	})
	if err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

func requireClient(c *domain.Contract, actor address.Address) error {
	if actor != c.Client {
		return apperr.Unauthorized(apperr.CodeNotClient, "only the client of %s may do this", c.ContractID).With("actor", actor.String())
	}
	return nil
}

func requireFreelancer(c *domain.Contract, actor address.Address) error {
	if actor != c.Freelancer {
		return apperr.Unauthorized(apperr.CodeNotFreelancer, "only the freelancer of %s may do this", c.ContractID).With("actor", actor.String())
	}
	return nil
}

func requireParty(c *domain.Contract, actor address.Address) error {
	if !c.Party(actor) {
		return apperr.Unauthorized(apperr.CodeNotParty, "%s is not a party to %s", actor, c.ContractID)
	}
	return nil
}

func ensureContractStatus(c *domain.Contract, allowed ...domain.ContractStatus) error {
	for _, s := range allowed {
		if c.Status == s {
			return nil
		}
	}
	return apperr.StatusMismatch(apperr.CodeContractStatus, "contract", string(c.Status), statusStrings(allowed...)...).
		With("contract_id", c.ContractID)
}

// ensureMilestoneTransition guards the milestone state machine:
// Pending -> UnderReview -> {RevisionRequested -> UnderReview}* -> Completed.
func ensureMilestoneTransition(m *domain.Milestone, next domain.MilestoneStatus) error {
	var allowed []domain.MilestoneStatus
	switch next {
	case domain.MilestoneUnderReview:
		allowed = []domain.MilestoneStatus{domain.MilestonePending, domain.MilestoneRevisionRequested}
	case domain.MilestoneRevisionRequested, domain.MilestoneCompleted:
		allowed = []domain.MilestoneStatus{domain.MilestoneUnderReview}
	case domain.MilestonePending:
		allowed = nil
	}
	for _, s := range allowed {
		if m.Status == s {
			return nil
		}
	}
	return apperr.StatusMismatch(apperr.CodeMilestoneStatus, "milestone", string(m.Status), statusStrings(allowed...)...).
		With("milestone_index", fmt.Sprint(m.Index))
}

func milestoneAt(c *domain.Contract, index int) (*domain.Milestone, error) {
	if index < 0 || index >= len(c.Milestones) {
		return nil, apperr.Validation(apperr.CodeInvalidIndex, "milestone index %d out of range 0..%d", index, len(c.Milestones)-1)
	}
	return &c.Milestones[index], nil
}

// DepositEscrow moves exactly the contract total from the client's wallet
// into the escrow vault.
func (e Engine) DepositEscrow(ctx context.Context, contractID string, amt uint64, actor address.Address) (domain.Contract, error) {
	return e.mutateContract(ctx, "DepositEscrow", contractID, func(tx *sql.Tx, c *domain.Contract) error {
		if err := requireClient(c, actor); err != nil {
			return err
		}
		switch c.Status {
		case domain.ContractActive:
		case domain.ContractFunded, domain.ContractInProgress, domain.ContractCompleted:
			return apperr.Precondition(apperr.CodeAlreadyFunded, "contract %s is already funded (status %s)", c.ContractID, c.Status).
				With("current", string(c.Status))
		case domain.ContractDisputed, domain.ContractCancelled:
			return ensureContractStatus(c, domain.ContractActive)
		}
		if amt != c.TotalAmount {
			return apperr.Validation(apperr.CodeAmountMismatch, "deposit must equal the contract total %d; got %d", c.TotalAmount, amt)
		}
		vault, err := derived(e.Deriver.EscrowVault(c.Address))
		if err != nil {
			return err
		}
		if err := e.ledger().Transfer(ctx, tx, c.Client, vault.Address, c.PaymentToken, amt, ledger.ReasonFund, c.Address); err != nil {
			return err
		}
		c.Status = domain.ContractFunded
		return e.appendEvent(ctx, tx, "contract.funded", events.KindContract, c.Address, actor, events.EventPayload{
			"amount": amt,
			"vault":  vault.Address.String(),
		})
	})
}

func (e Engine) SignNDA(ctx context.Context, contractID string, actor address.Address) (domain.Contract, error) {
	return e.mutateContract(ctx, "SignNDA", contractID, func(tx *sql.Tx, c *domain.Contract) error {
		if err := requireParty(c, actor); err != nil {
			return err
		}
		if c.Status.Terminal() {
			return ensureContractStatus(c, domain.ContractActive, domain.ContractFunded, domain.ContractInProgress, domain.ContractDisputed)
		}
		signed := &c.NDASignedClient
		if actor == c.Freelancer {
			signed = &c.NDASignedFreelancer
		}
		if *signed {
			return apperr.Precondition(apperr.CodeNDAAlreadySigned, "%s already signed the NDA for %s", actor, c.ContractID)
		}
		*signed = true
		return e.appendEvent(ctx, tx, "contract.nda_signed", events.KindContract, c.Address, actor, events.EventPayload{
			"client_signed":     c.NDASignedClient,
			"freelancer_signed": c.NDASignedFreelancer,
		})
	})
}

type SubmitDeliverableOptions struct {
	ContractID     string
	MilestoneIndex int
	ContentRef     string
	FileName       string
	Description    string
	Actor          address.Address
}

func (e Engine) SubmitDeliverable(ctx context.Context, opts SubmitDeliverableOptions) (domain.Contract, error) {
	if err := checkRequired("content_ref", opts.ContentRef, maxContentRef); err != nil {
		return domain.Contract{}, err
	}
	if err := checkLen("file_name", opts.FileName, maxFileName); err != nil {
		return domain.Contract{}, err
	}
	if err := checkLen("description", opts.Description, maxDeliverableDesc); err != nil {
		return domain.Contract{}, err
	}
	return e.mutateContract(ctx, "SubmitDeliverable", opts.ContractID, func(tx *sql.Tx, c *domain.Contract) error {
		if err := requireFreelancer(c, opts.Actor); err != nil {
			return err
		}
		if err := ensureContractStatus(c, domain.ContractFunded, domain.ContractInProgress); err != nil {
			return err
		}
		m, err := milestoneAt(c, opts.MilestoneIndex)
		if err != nil {
			return err
		}
		if err := ensureMilestoneTransition(m, domain.MilestoneUnderReview); err != nil {
			return err
		}
		d := domain.Deliverable{
			Seq:         len(m.Deliverables) + 1,
			ContentRef:  opts.ContentRef,
			FileName:    opts.FileName,
			Description: opts.Description,
			UploadedAt:  e.now(),
		}
		if err := e.Repo.InsertDeliverable(ctx, tx, c.Address, m.Index, d); err != nil {
			return err
		}
		m.Deliverables = append(m.Deliverables, d)
		m.Status = domain.MilestoneUnderReview
		if err := e.Repo.UpdateMilestone(ctx, tx, c.Address, *m); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "milestone.submitted", events.KindContract, c.Address, opts.Actor, events.EventPayload{
			"milestone_index": m.Index,
			"seq":             d.Seq,
			"content_ref":     d.ContentRef,
		})
	})
}

func (e Engine) RequestRevision(ctx context.Context, contractID string, index int, reason string, actor address.Address) (domain.Contract, error) {
	if err := checkLen("reason", reason, maxRevisionReason); err != nil {
		return domain.Contract{}, err
	}
	return e.mutateContract(ctx, "RequestRevision", contractID, func(tx *sql.Tx, c *domain.Contract) error {
		if err := requireClient(c, actor); err != nil {
			return err
		}
		if err := ensureContractStatus(c, domain.ContractFunded, domain.ContractInProgress); err != nil {
			return err
		}
		m, err := milestoneAt(c, index)
		if err != nil {
			return err
		}
		if err := ensureMilestoneTransition(m, domain.MilestoneRevisionRequested); err != nil {
			return err
		}
		if limit := e.Config.Platform.MaxRevisions; m.RevisionCount >= limit {
			return apperr.Precondition(apperr.CodeRevisionLimit,
				"milestone %d has used all %d revisions; open a dispute to escalate", m.Index, limit).
				With("revision_count", fmt.Sprint(m.RevisionCount)).
				With("max_revisions", fmt.Sprint(limit))
		}
		m.RevisionCount++
		m.RevisionNotes = append(m.RevisionNotes, reason)
		m.Status = domain.MilestoneRevisionRequested
		if err := e.Repo.UpdateMilestone(ctx, tx, c.Address, *m); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "milestone.revision_requested", events.KindContract, c.Address, actor, events.EventPayload{
			"milestone_index": m.Index,
			"revision_count":  m.RevisionCount,
			"reason":          reason,
		})
	})
}

// ApproveMilestone releases the milestone amount from escrow and completes it.
// The fee share goes to the treasury. Ledger movements, milestone and
// contract updates commit in one transaction.
func (e Engine) ApproveMilestone(ctx context.Context, contractID string, index int, actor address.Address) (domain.Contract, error) {
	return e.mutateContract(ctx, "ApproveMilestone", contractID, func(tx *sql.Tx, c *domain.Contract) error {
		if err := requireClient(c, actor); err != nil {
			return err
		}
		if err := ensureContractStatus(c, domain.ContractFunded, domain.ContractInProgress); err != nil {
			return err
		}
		m, err := milestoneAt(c, index)
		if err != nil {
			return err
		}
		if err := ensureMilestoneTransition(m, domain.MilestoneCompleted); err != nil {
			return err
		}
		fee, err := e.release(ctx, tx, c, m.Amount, ledger.ReasonRelease)
		if err != nil {
			return err
		}
		now := e.now()
		m.Status = domain.MilestoneCompleted
		m.CompletedAt = &now
		if err := e.Repo.UpdateMilestone(ctx, tx, c.Address, *m); err != nil {
			return err
		}
		c.Status = domain.ContractInProgress
		if c.AllMilestonesCompleted() {
			c.Status = domain.ContractCompleted
		}
		if err := e.appendEvent(ctx, tx, "milestone.approved", events.KindContract, c.Address, actor, events.EventPayload{
			"milestone_index": m.Index,
			"amount":          m.Amount,
			"fee":             fee,
			"paid_amount":     c.PaidAmount,
		}); err != nil {
			return err
		}
		if c.Status == domain.ContractCompleted {
			return e.appendEvent(ctx, tx, "contract.completed", events.KindContract, c.Address, actor, events.EventPayload{
				"paid_amount": c.PaidAmount,
			})
		}
		return nil
	})
}

// release pays gross out of the escrow vault: the platform fee to the
// treasury and the rest to the freelancer. paidAmount rises by gross.
func (e Engine) release(ctx context.Context, tx *sql.Tx, c *domain.Contract, gross uint64, reason string) (uint64, error) {
	if gross == 0 {
		return 0, nil
	}
	if c.PaidAmount+gross > c.TotalAmount || c.PaidAmount+gross < c.PaidAmount {
		return 0, &apperr.Error{
			Kind:    apperr.KindInternal,
			Code:    apperr.CodeAmountMismatch,
			Message: fmt.Sprintf("release of %d would push paid %d past total %d", gross, c.PaidAmount, c.TotalAmount),
		}
	}
	vault, err := derived(e.Deriver.EscrowVault(c.Address))
	if err != nil {
		return 0, err
	}
	treasury, err := derived(e.Deriver.Treasury())
	if err != nil {
		return 0, err
	}
	fee := amount.Bps(gross, e.Config.Platform.PlatformFeeBps)
	l := e.ledger()
	if fee > 0 {
		if err := l.Transfer(ctx, tx, vault.Address, treasury.Address, c.PaymentToken, fee, ledger.ReasonFee, c.Address); err != nil {
			return 0, escrowShort(err)
		}
	}
	if net := gross - fee; net > 0 {
		if err := l.Transfer(ctx, tx, vault.Address, c.Freelancer, c.PaymentToken, net, reason, c.Address); err != nil {
			return 0, escrowShort(err)
		}
	}
	c.PaidAmount += gross
	return fee, nil
}

// escrowShort flags a vault that holds less than the books say it should.
func escrowShort(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Code == apperr.CodeInsufficientFunds {
		return ae.With("source", "escrow_vault")
	}
	return err
}
