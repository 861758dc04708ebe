package address

import (
	"fmt"

	"credchain/internal/skill"
)

// Seed namespaces. Each is the first seed of its derivation tuple.
const (
	NSContract     = "contract"
	NSEscrow       = "escrow"
	NSDispute      = "dispute"
	NSDisputeStake = "dispute-stake"
	NSSession      = "session"
	NSTreasury     = "treasury"
	NSTestResult   = "test-result"
	NSBadge        = "badge"
	NSBadgeMint    = "badge-mint"
	NSLeaderboard  = "leaderboard"
	NSCompletion   = "completion"
	NSJob          = "job"
	NSApplication  = "application"
)

// PDA is a derived address together with the bump that produced it.
type PDA struct {
	Address Address `json:"address"`
	Bump    uint8   `json:"bump"`
}

// Programs are the namespaces' owning program IDs.
type Programs struct {
	Escrow   Address
	Badge    Address
	JobBoard Address
}

// Deriver computes every address the platform stores state under.
type Deriver struct {
	Programs Programs
}

func derive(program Address, namespace string, seeds ...[]byte) (PDA, error) {
	all := make([][]byte, 0, len(seeds)+1)
	all = append(all, Str(namespace))
	all = append(all, seeds...)
	addr, bump, err := Find(all, program)
	if err != nil {
		return PDA{}, fmt.Errorf("derive %s: %w", namespace, err)
	}
	return PDA{Address: addr, Bump: bump}, nil
}

func skillSeed(c skill.Category) ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid skill category %d", uint8(c))
	}
	return Str(c.String()), nil
}

func (d Deriver) Contract(contractID string) (PDA, error) {
	return derive(d.Programs.Escrow, NSContract, Str(contractID))
}

func (d Deriver) EscrowVault(contract Address) (PDA, error) {
	return derive(d.Programs.Escrow, NSEscrow, Key(contract))
}

func (d Deriver) Dispute(contract Address) (PDA, error) {
	return derive(d.Programs.Escrow, NSDispute, Key(contract))
}

func (d Deriver) DisputeStakeVault(dispute Address) (PDA, error) {
	return derive(d.Programs.Escrow, NSDisputeStake, Key(dispute))
}

func (d Deriver) Session(contract Address, nonce uint64) (PDA, error) {
	return derive(d.Programs.Escrow, NSSession, Key(contract), Nonce(nonce))
}

func (d Deriver) Treasury() (PDA, error) {
	return derive(d.Programs.Escrow, NSTreasury)
}

func (d Deriver) TestResult(candidate Address, c skill.Category, nonce uint64) (PDA, error) {
	s, err := skillSeed(c)
	if err != nil {
		return PDA{}, err
	}
	return derive(d.Programs.Badge, NSTestResult, Key(candidate), s, Nonce(nonce))
}

func (d Deriver) Badge(candidate Address, c skill.Category) (PDA, error) {
	s, err := skillSeed(c)
	if err != nil {
		return PDA{}, err
	}
	return derive(d.Programs.Badge, NSBadge, Key(candidate), s)
}

func (d Deriver) BadgeMint(candidate Address, c skill.Category) (PDA, error) {
	s, err := skillSeed(c)
	if err != nil {
		return PDA{}, err
	}
	return derive(d.Programs.Badge, NSBadgeMint, Key(candidate), s)
}

func (d Deriver) Leaderboard(c skill.Category) (PDA, error) {
	s, err := skillSeed(c)
	if err != nil {
		return PDA{}, err
	}
	return derive(d.Programs.Badge, NSLeaderboard, s)
}

func (d Deriver) Completion(party Address, contractID string) (PDA, error) {
	return derive(d.Programs.Badge, NSCompletion, Key(party), Str(contractID))
}

func (d Deriver) Job(jobID string) (PDA, error) {
	return derive(d.Programs.JobBoard, NSJob, Str(jobID))
}

func (d Deriver) Application(job, freelancer Address) (PDA, error) {
	return derive(d.Programs.JobBoard, NSApplication, Key(job), Key(freelancer))
}
