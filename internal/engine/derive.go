package engine

import (
	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/skill"
)

// DeriveParams carries the business keys for an address lookup. Only the
// fields the namespace needs are read.
type DeriveParams struct {
	ContractID string
	JobID      string
	Identity   address.Address
	Skill      skill.Category
	Nonce      uint64
}

// DeriveKinds lists the namespaces Derive accepts.
var DeriveKinds = []string{
	address.NSContract, address.NSEscrow, address.NSDispute, address.NSDisputeStake,
	address.NSSession, address.NSTreasury, address.NSTestResult, address.NSBadge,
	address.NSBadgeMint, address.NSLeaderboard, address.NSCompletion, address.NSJob,
	address.NSApplication,
}

// Derive computes the address for kind from business keys. Contract-scoped
// namespaces start from ContractID; application starts from JobID.
func (e Engine) Derive(kind string, p DeriveParams) (address.PDA, error) {
	d := e.Deriver
	needIdentity := func() error {
		if p.Identity.IsZero() {
			return apperr.Validation(apperr.CodeInvalidArgument, "%s derivation needs an identity", kind)
		}
		return nil
	}
	switch kind {
	case address.NSContract:
		if err := checkID("contract_id", p.ContractID); err != nil {
			return address.PDA{}, err
		}
		return derived(d.Contract(p.ContractID))
	case address.NSEscrow, address.NSDispute, address.NSDisputeStake, address.NSSession:
		c, err := e.contractAddr(p.ContractID)
		if err != nil {
			return address.PDA{}, err
		}
		switch kind {
		case address.NSEscrow:
			return derived(d.EscrowVault(c))
		case address.NSSession:
			return derived(d.Session(c, p.Nonce))
		}
		disp, err := derived(d.Dispute(c))
		if err != nil || kind == address.NSDispute {
			return disp, err
		}
		return derived(d.DisputeStakeVault(disp.Address))
	case address.NSTreasury:
		return derived(d.Treasury())
	case address.NSTestResult, address.NSBadge, address.NSBadgeMint:
		if err := needIdentity(); err != nil {
			return address.PDA{}, err
		}
		if err := validSkill(p.Skill); err != nil {
			return address.PDA{}, err
		}
		switch kind {
		case address.NSTestResult:
			return derived(d.TestResult(p.Identity, p.Skill, p.Nonce))
		case address.NSBadge:
			return derived(d.Badge(p.Identity, p.Skill))
		}
		return derived(d.BadgeMint(p.Identity, p.Skill))
	case address.NSLeaderboard:
		if err := validSkill(p.Skill); err != nil {
			return address.PDA{}, err
		}
		return derived(d.Leaderboard(p.Skill))
	case address.NSCompletion:
		if err := needIdentity(); err != nil {
			return address.PDA{}, err
		}
		if err := checkID("contract_id", p.ContractID); err != nil {
			return address.PDA{}, err
		}
		return derived(d.Completion(p.Identity, p.ContractID))
	case address.NSJob:
		if err := checkID("job_id", p.JobID); err != nil {
			return address.PDA{}, err
		}
		return derived(d.Job(p.JobID))
	case address.NSApplication:
		if err := needIdentity(); err != nil {
			return address.PDA{}, err
		}
		job, err := e.jobAddr(p.JobID)
		if err != nil {
			return address.PDA{}, err
		}
		return derived(d.Application(job, p.Identity))
	}
	return address.PDA{}, apperr.Validation(apperr.CodeInvalidArgument, "unknown address kind %q", kind)
}
