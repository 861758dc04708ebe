package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"credchain/internal/address"
	"credchain/internal/amount"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/events"
	"credchain/internal/ledger"
	"credchain/internal/repo"
)

const (
	maxDisputeReason      = 100
	maxDisputeDescription = 500
)

type OpenDisputeOptions struct {
	ContractID  string
	Category    domain.DisputeCategory
	Reason      string
	Description string
	Actor       address.Address
}

// disputeStep is one dispute transition. It receives the contract and the
// dispute (nil when none exists yet) loaded on tx and returns the dispute to
// persist.
type disputeStep func(tx *sql.Tx, c *domain.Contract, d *domain.Dispute) (*domain.Dispute, error)

// mutateDispute layers dispute persistence on top of mutateContract so the
// contract header, the dispute row and any ledger movement commit together.
func (e Engine) mutateDispute(ctx context.Context, op, contractID string, step disputeStep) (domain.Dispute, error) {
	var out domain.Dispute
	_, err := e.mutateContract(ctx, op, contractID, func(tx *sql.Tx, c *domain.Contract) error {
		pda, err := derived(e.Deriver.Dispute(c.Address))
		if err != nil {
			return err
		}
		var current *domain.Dispute
		loaded, err := e.Repo.GetDispute(ctx, tx, pda.Address)
		switch {
		case err == nil:
			current = &loaded
		case errors.Is(err, repo.ErrNotFound):
		default:
			return err
		}
		isNew := current == nil
		next, err := step(tx, c, current)
		if err != nil {
			return err
		}
		if next.Address.IsZero() {
			next.Address, next.Bump = pda.Address, pda.Bump
		}
		if isNew {
			next.Version = 1
			if err := e.Repo.InsertDispute(ctx, tx, *next); err != nil {
				return err
			}
		} else {
			if err := e.Repo.UpdateDispute(ctx, tx, *next); err != nil {
				return conflict(err, "dispute", next.Address)
			}
			next.Version++
		}
		out = *next
		return nil
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	return out, nil
}

func requireDispute(c *domain.Contract, d *domain.Dispute) error {
	if d == nil {
		return apperr.Precondition(apperr.CodeNoDispute, "contract %s has no dispute", c.ContractID)
	}
	return nil
}

func ensureDisputeStatus(d *domain.Dispute, allowed ...domain.DisputeStatus) error {
	for _, s := range allowed {
		if d.Status == s {
			return nil
		}
	}
	return apperr.StatusMismatch(apperr.CodeDisputeStatus, "dispute", string(d.Status), statusStrings(allowed...)...).
		With("dispute", d.Address.String())
}

// OpenDispute freezes the contract. A cancelled dispute is re-opened at the
// same address with its round incremented.
func (e Engine) OpenDispute(ctx context.Context, opts OpenDisputeOptions) (domain.Dispute, error) {
	if _, err := domain.ParseDisputeCategory(string(opts.Category)); err != nil {
		return domain.Dispute{}, apperr.Validation(apperr.CodeInvalidArgument, "%v", err)
	}
	if err := checkRequired("reason", opts.Reason, maxDisputeReason); err != nil {
		return domain.Dispute{}, err
	}
	if err := checkLen("description", opts.Description, maxDisputeDescription); err != nil {
		return domain.Dispute{}, err
	}
	return e.mutateDispute(ctx, "OpenDispute", opts.ContractID, func(tx *sql.Tx, c *domain.Contract, d *domain.Dispute) (*domain.Dispute, error) {
		if err := requireParty(c, opts.Actor); err != nil {
			return nil, err
		}
		if d != nil && d.Status.Active() {
			return nil, apperr.Precondition(apperr.CodeDisputeActive, "contract %s already has an %s dispute", c.ContractID, d.Status).
				With("dispute", d.Address.String()).
				With("current", string(d.Status))
		}
		if err := ensureContractStatus(c, domain.ContractActive, domain.ContractFunded, domain.ContractInProgress); err != nil {
			return nil, err
		}
		round := 1
		next := &domain.Dispute{}
		if d != nil {
			round = d.Round + 1
			next.Address, next.Bump, next.Version = d.Address, d.Bump, d.Version
		}
		next.Contract = c.Address
		next.Round = round
		next.Category = opts.Category
		next.Reason = opts.Reason
		next.Description = opts.Description
		next.Status = domain.DisputeOpen
		next.Initiator = opts.Actor
		next.PriorStatus = c.Status
		next.StakeAmount = amount.Bps(c.TotalAmount, e.Config.Platform.DisputeStakeBps)
		next.CreatedAt = e.now()
		c.Status = domain.ContractDisputed
		if _, err := e.Repo.IncrementCounter(ctx, tx, repo.CounterDisputes); err != nil {
			return nil, err
		}
		if err := e.appendEvent(ctx, tx, "dispute.opened", events.KindDispute, c.Address, opts.Actor, events.EventPayload{
			"category":     string(opts.Category),
			"reason":       opts.Reason,
			"round":        round,
			"prior_status": string(next.PriorStatus),
			"stake_amount": next.StakeAmount,
		}); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// StakeDispute posts the caller's stake into the dispute stake vault.
func (e Engine) StakeDispute(ctx context.Context, contractID string, actor address.Address) (domain.Dispute, error) {
	return e.mutateDispute(ctx, "StakeDispute", contractID, func(tx *sql.Tx, c *domain.Contract, d *domain.Dispute) (*domain.Dispute, error) {
		if err := requireDispute(c, d); err != nil {
			return nil, err
		}
		if err := requireParty(c, actor); err != nil {
			return nil, err
		}
		if err := ensureDisputeStatus(d, domain.DisputeOpen); err != nil {
			return nil, err
		}
		staked := &d.ClientStaked
		if actor == c.Freelancer {
			staked = &d.FreelancerStake
		}
		if *staked {
			return nil, apperr.Precondition(apperr.CodeAlreadyStaked, "%s already staked on this dispute", actor)
		}
		if d.StakeAmount > 0 {
			vault, err := derived(e.Deriver.DisputeStakeVault(d.Address))
			if err != nil {
				return nil, err
			}
			if err := e.ledger().Transfer(ctx, tx, actor, vault.Address, c.PaymentToken, d.StakeAmount, ledger.ReasonStake, d.Address); err != nil {
				return nil, err
			}
		}
		*staked = true
		e.maybeUnderReview(d)
		if err := e.appendEvent(ctx, tx, "dispute.staked", events.KindDispute, c.Address, actor, events.EventPayload{
			"amount": d.StakeAmount,
			"status": string(d.Status),
		}); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// AssignArbitrators is admin-only. Arbitrators must hold the arbitrator role,
// be distinct, and not be a party to the contract.
func (e Engine) AssignArbitrators(ctx context.Context, contractID string, arbitrators []address.Address, actor address.Address) (domain.Dispute, error) {
	want := e.Config.Platform.ArbitratorCount
	if len(arbitrators) != want {
		return domain.Dispute{}, apperr.Validation(apperr.CodeInvalidArbitrators, "exactly %d arbitrators required; got %d", want, len(arbitrators))
	}
	seen := make(map[address.Address]bool, len(arbitrators))
	for _, a := range arbitrators {
		if a.IsZero() || seen[a] {
			return domain.Dispute{}, apperr.Validation(apperr.CodeInvalidArbitrators, "arbitrators must be distinct, non-empty identities")
		}
		seen[a] = true
	}
	return e.mutateDispute(ctx, "AssignArbitrators", contractID, func(tx *sql.Tx, c *domain.Contract, d *domain.Dispute) (*domain.Dispute, error) {
		if err := e.Auth.RequireAdmin(ctx, tx, actor); err != nil {
			return nil, err
		}
		if err := requireDispute(c, d); err != nil {
			return nil, err
		}
		if err := ensureDisputeStatus(d, domain.DisputeOpen); err != nil {
			return nil, err
		}
		if len(d.Arbitrators) > 0 {
			return nil, apperr.Precondition(apperr.CodeArbitratorsAssigned, "dispute %s already has arbitrators", d.Address)
		}
		for _, a := range arbitrators {
			if c.Party(a) {
				return nil, apperr.Precondition(apperr.CodeInvalidArbitrators, "%s is a party to %s and cannot arbitrate", a, c.ContractID)
			}
			ok, err := e.Auth.IsArbitrator(ctx, tx, a)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, apperr.Precondition(apperr.CodeInvalidArbitrators, "%s does not hold the arbitrator role", a).With("arbitrator", a.String())
			}
		}
		d.Arbitrators = append([]address.Address(nil), arbitrators...)
		e.maybeUnderReview(d)
		names := make([]string, len(arbitrators))
		for i, a := range arbitrators {
			names[i] = a.String()
		}
		if err := e.appendEvent(ctx, tx, "dispute.arbitrators_assigned", events.KindDispute, c.Address, actor, events.EventPayload{
			"arbitrators": names,
			"status":      string(d.Status),
		}); err != nil {
			return nil, err
		}
		return d, nil
	})
}

func (e Engine) maybeUnderReview(d *domain.Dispute) {
	if d.Status == domain.DisputeOpen && len(d.Arbitrators) > 0 && d.ClientStaked && d.FreelancerStake {
		d.Status = domain.DisputeUnderReview
	}
}

// CastVote records one arbitrator vote. When a side reaches the majority the
// dispute resolves and escrow and stakes settle in the same transaction.
func (e Engine) CastVote(ctx context.Context, contractID string, forClient bool, actor address.Address) (domain.Dispute, error) {
	return e.mutateDispute(ctx, "CastVote", contractID, func(tx *sql.Tx, c *domain.Contract, d *domain.Dispute) (*domain.Dispute, error) {
		if err := requireDispute(c, d); err != nil {
			return nil, err
		}
		if !d.IsArbitrator(actor) {
			return nil, apperr.Unauthorized(apperr.CodeNotArbitrator, "%s is not assigned to dispute %s", actor, d.Address)
		}
		if err := ensureDisputeStatus(d, domain.DisputeUnderReview); err != nil {
			return nil, err
		}
		for _, v := range d.Votes {
			if v.Arbitrator == actor {
				return nil, apperr.Precondition(apperr.CodeAlreadyVoted, "%s already voted in round %d", actor, d.Round)
			}
		}
		vote := domain.Vote{Arbitrator: actor, ForClient: forClient, CastAt: e.now()}
		if err := e.Repo.InsertVote(ctx, tx, d.Address, d.Round, vote); err != nil {
			return nil, err
		}
		d.Votes = append(d.Votes, vote)
		if err := e.appendEvent(ctx, tx, "dispute.vote_cast", events.KindDispute, c.Address, actor, events.EventPayload{
			"for_client": forClient,
			"round":      d.Round,
		}); err != nil {
			return nil, err
		}
		forC, forF := d.Tally()
		majority := e.Config.Platform.Majority()
		switch {
		case forC >= majority:
			return d, e.resolveDispute(ctx, tx, c, d, true, actor)
		case forF >= majority:
			return d, e.resolveDispute(ctx, tx, c, d, false, actor)
		}
		return d, nil
	})
}

func (e Engine) resolveDispute(ctx context.Context, tx *sql.Tx, c *domain.Contract, d *domain.Dispute, forClient bool, actor address.Address) error {
	vault, err := derived(e.Deriver.EscrowVault(c.Address))
	if err != nil {
		return err
	}
	l := e.ledger()
	var settled, fee uint64
	winner, loser := c.Freelancer, c.Client
	if forClient {
		winner, loser = c.Client, c.Freelancer
		if settled, err = l.Drain(ctx, tx, vault.Address, c.Client, c.PaymentToken, ledger.ReasonRefund, c.Address); err != nil {
			return err
		}
		d.Status = domain.DisputeResolvedForClient
		c.Status = domain.ContractCancelled
	} else {
		if settled, err = l.Balance(ctx, tx, vault.Address, c.PaymentToken); err != nil {
			return err
		}
		if fee, err = e.release(ctx, tx, c, settled, ledger.ReasonDisputeSettle); err != nil {
			return err
		}
		d.Status = domain.DisputeResolvedForFreelancer
		c.Status = domain.ContractCompleted
	}
	if err := e.settleStakes(ctx, tx, c, d, winner, loser); err != nil {
		return err
	}
	now := e.now()
	d.ResolvedAt = &now
	return e.appendEvent(ctx, tx, "dispute.resolved", events.KindDispute, c.Address, actor, events.EventPayload{
		"status":          string(d.Status),
		"settled":         settled,
		"fee":             fee,
		"contract_status": string(c.Status),
	})
}

// settleStakes refunds the winner's stake and forfeits the loser's to the treasury.
func (e Engine) settleStakes(ctx context.Context, tx *sql.Tx, c *domain.Contract, d *domain.Dispute, winner, loser address.Address) error {
	if d.StakeAmount == 0 {
		return nil
	}
	stakeVault, err := derived(e.Deriver.DisputeStakeVault(d.Address))
	if err != nil {
		return err
	}
	treasury, err := derived(e.Deriver.Treasury())
	if err != nil {
		return err
	}
	l := e.ledger()
	if e.hasStaked(c, d, winner) {
		if err := l.Transfer(ctx, tx, stakeVault.Address, winner, c.PaymentToken, d.StakeAmount, ledger.ReasonStakeRefund, d.Address); err != nil {
			return err
		}
	}
	if e.hasStaked(c, d, loser) {
		if err := l.Transfer(ctx, tx, stakeVault.Address, treasury.Address, c.PaymentToken, d.StakeAmount, ledger.ReasonStakeForfeit, d.Address); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) hasStaked(c *domain.Contract, d *domain.Dispute, who address.Address) bool {
	switch who {
	case c.Client:
		return d.ClientStaked
	case c.Freelancer:
		return d.FreelancerStake
	}
	return false
}

// CancelDispute lets the initiator withdraw an Open dispute. Stakes are
// refunded and the contract returns to its prior status.
func (e Engine) CancelDispute(ctx context.Context, contractID string, actor address.Address) (domain.Dispute, error) {
	return e.mutateDispute(ctx, "CancelDispute", contractID, func(tx *sql.Tx, c *domain.Contract, d *domain.Dispute) (*domain.Dispute, error) {
		if err := requireDispute(c, d); err != nil {
			return nil, err
		}
		if actor != d.Initiator {
			return nil, apperr.Unauthorized(apperr.CodeNotInitiator, "only the initiator %s may cancel the dispute", d.Initiator)
		}
		if err := ensureDisputeStatus(d, domain.DisputeOpen); err != nil {
			return nil, err
		}
		if d.StakeAmount > 0 {
			vault, err := derived(e.Deriver.DisputeStakeVault(d.Address))
			if err != nil {
				return nil, err
			}
			for _, party := range []address.Address{c.Client, c.Freelancer} {
				if !e.hasStaked(c, d, party) {
					continue
				}
				if err := e.ledger().Transfer(ctx, tx, vault.Address, party, c.PaymentToken, d.StakeAmount, ledger.ReasonStakeRefund, d.Address); err != nil {
					return nil, err
				}
			}
		}
		d.Status = domain.DisputeCancelled
		now := e.now()
		d.ResolvedAt = &now
		c.Status = d.PriorStatus
		if err := e.appendEvent(ctx, tx, "dispute.cancelled", events.KindDispute, c.Address, actor, events.EventPayload{
			"round":           d.Round,
			"contract_status": string(c.Status),
		}); err != nil {
			return nil, err
		}
		return d, nil
	})
}

func (e Engine) GetDispute(ctx context.Context, contractID string) (domain.Dispute, error) {
	addr, err := e.contractAddr(contractID)
	if err != nil {
		return domain.Dispute{}, err
	}
	pda, err := derived(e.Deriver.Dispute(addr))
	if err != nil {
		return domain.Dispute{}, err
	}
	d, err := e.Repo.GetDispute(ctx, nil, pda.Address)
	if err != nil {
		return domain.Dispute{}, notFound(err, "dispute", fmt.Sprintf("for contract %s", contractID))
	}
	return d, nil
}

func (e Engine) ListDisputes(ctx context.Context, f repo.DisputeFilter) ([]domain.Dispute, error) {
	return e.Repo.ListDisputes(ctx, f)
}
