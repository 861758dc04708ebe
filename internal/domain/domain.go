package domain

import (
	"time"

	"credchain/internal/address"
	"credchain/internal/skill"
)

type Contract struct {
	Address             address.Address `json:"address"`
	Bump                uint8           `json:"bump"`
	ContractID          string          `json:"contract_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Client              address.Address `json:"client"`
	Freelancer          address.Address `json:"freelancer"`
	TotalAmount         uint64          `json:"total_amount"`
	PaidAmount          uint64          `json:"paid_amount"`
	PaymentToken        address.Address `json:"payment_token"`
	Status              ContractStatus  `json:"status"`
	NDASignedClient     bool            `json:"nda_signed_client"`
	NDASignedFreelancer bool            `json:"nda_signed_freelancer"`
	Milestones          []Milestone     `json:"milestones"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Party reports whether id is the client or the freelancer.
func (c Contract) Party(id address.Address) bool {
	return id == c.Client || id == c.Freelancer
}

// AllMilestonesCompleted reports whether every milestone reached Completed.
func (c Contract) AllMilestonesCompleted() bool {
	for _, m := range c.Milestones {
		if m.Status != MilestoneCompleted {
			return false
		}
	}
	return len(c.Milestones) > 0
}

type Milestone struct {
	Index         int             `json:"index"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Amount        uint64          `json:"amount"`
	Deadline      time.Time       `json:"deadline"`
	Status        MilestoneStatus `json:"status"`
	RevisionCount int             `json:"revision_count"`
	RevisionNotes []string        `json:"revision_notes,omitempty"`
	Deliverables  []Deliverable   `json:"deliverables,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Deliverable is an append-only pointer into content-addressed storage.
type Deliverable struct {
	Seq         int       `json:"seq"`
	ContentRef  string    `json:"content_ref"`
	FileName    string    `json:"file_name,omitempty"`
	Description string    `json:"description,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type Dispute struct {
	Address         address.Address   `json:"address"`
	Bump            uint8             `json:"bump"`
	Contract        address.Address   `json:"contract"`
	Round           int               `json:"round"`
	Category        DisputeCategory   `json:"category"`
	Reason          string            `json:"reason"`
	Description     string            `json:"description,omitempty"`
	Status          DisputeStatus     `json:"status"`
	Initiator       address.Address   `json:"initiator"`
	PriorStatus     ContractStatus    `json:"prior_status"`
	StakeAmount     uint64            `json:"stake_amount"`
	ClientStaked    bool              `json:"client_staked"`
	FreelancerStake bool              `json:"freelancer_staked"`
	Arbitrators     []address.Address `json:"arbitrators,omitempty"`
	Votes           []Vote            `json:"votes,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
}

// IsArbitrator reports whether id was assigned to this dispute.
func (d Dispute) IsArbitrator(id address.Address) bool {
	for _, a := range d.Arbitrators {
		if a == id {
			return true
		}
	}
	return false
}

// Tally counts votes for each side.
func (d Dispute) Tally() (forClient, forFreelancer int) {
	for _, v := range d.Votes {
		if v.ForClient {
			forClient++
		} else {
			forFreelancer++
		}
	}
	return forClient, forFreelancer
}

type Vote struct {
	Arbitrator address.Address `json:"arbitrator"`
	ForClient  bool            `json:"for_client"`
	CastAt     time.Time       `json:"cast_at"`
}

type TestResult struct {
	Address         address.Address `json:"address"`
	Bump            uint8           `json:"bump"`
	Candidate       address.Address `json:"candidate"`
	Skill           skill.Category  `json:"skill"`
	Score           int             `json:"score"`
	DurationSeconds int64           `json:"duration_seconds"`
	Proctored       bool            `json:"proctored"`
	Nonce           uint64          `json:"nonce"`
	Passed          bool            `json:"passed"`
	BadgeMinted     bool            `json:"badge_minted"`
	Timestamp       time.Time       `json:"timestamp"`
}

type Badge struct {
	Address       address.Address `json:"address"`
	Bump          uint8           `json:"bump"`
	Mint          address.Address `json:"mint"`
	Owner         address.Address `json:"owner"`
	Skill         skill.Category  `json:"skill"`
	TestScore     int             `json:"test_score"`
	IssueDate     time.Time       `json:"issue_date"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	IsValid       bool            `json:"is_valid"`
	Revoked       bool            `json:"revoked"`
	RevokedReason string          `json:"revoked_reason,omitempty"`
	SerialNumber  int64           `json:"serial_number"`
	Version       int64           `json:"version"`
}

// Live reports isValid && !revoked && now < expiry.
func (b Badge) Live(now time.Time) bool {
	return b.IsValid && !b.Revoked && now.Before(b.ExpiryDate)
}

// BadgeVerification is the read-only view used by job gating and verifiers.
type BadgeVerification struct {
	Badge     address.Address `json:"badge"`
	Owner     address.Address `json:"owner"`
	Skill     skill.Category  `json:"skill"`
	IsValid   bool            `json:"is_valid"`
	IsExpired bool            `json:"is_expired"`
	IsRevoked bool            `json:"is_revoked"`
	Live      bool            `json:"live"`
	Score     int             `json:"score"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type Leaderboard struct {
	Address address.Address    `json:"address"`
	Skill   skill.Category     `json:"skill"`
	Entries []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Rank         int             `json:"rank"`
	Candidate    address.Address `json:"candidate"`
	BestScore    int             `json:"best_score"`
	AchievedAt   time.Time       `json:"achieved_at"`
	Attempts     int             `json:"attempts"`
	TotalScore   int64           `json:"total_score"`
	AverageScore float64         `json:"average_score"`
}

type Job struct {
	Address         address.Address  `json:"address"`
	Bump            uint8            `json:"bump"`
	JobID           string           `json:"job_id"`
	Employer        address.Address  `json:"employer"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	BudgetMin       uint64           `json:"budget_min"`
	BudgetMax       uint64           `json:"budget_max"`
	JobType         JobType          `json:"job_type"`
	Duration        string           `json:"duration,omitempty"`
	Location        string           `json:"location,omitempty"`
	RequiredBadges  []skill.Category `json:"required_badges"`
	Status          JobStatus        `json:"status"`
	ApplicantCount  int64            `json:"applicant_count"`
	HiredFreelancer *address.Address `json:"hired_freelancer,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type Application struct {
	Address        address.Address   `json:"address"`
	Bump           uint8             `json:"bump"`
	Job            address.Address   `json:"job"`
	Freelancer     address.Address   `json:"freelancer"`
	CoverLetter    string            `json:"cover_letter"`
	ProposedBudget uint64            `json:"proposed_budget"`
	Timeline       string            `json:"timeline,omitempty"`
	PortfolioURL   string            `json:"portfolio_url,omitempty"`
	Status         ApplicationStatus `json:"status"`
	AppliedAt      time.Time         `json:"applied_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Eligibility is the outcome of a job gating check.
type Eligibility struct {
	Job       address.Address  `json:"job"`
	Candidate address.Address  `json:"candidate"`
	CanApply  bool             `json:"can_apply"`
	Required  []skill.Category `json:"required"`
	Missing   []skill.Category `json:"missing,omitempty"`
}

// TimeSession tracks work time against a milestone. It is advisory only.
type TimeSession struct {
	Address         address.Address `json:"address"`
	Bump            uint8           `json:"bump"`
	Contract        address.Address `json:"contract"`
	Freelancer      address.Address `json:"freelancer"`
	MilestoneIndex  int             `json:"milestone_index"`
	Nonce           uint64          `json:"nonce"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds int64           `json:"duration_seconds"`
}

// Certificate records completion of a contract for one of its parties.
type Certificate struct {
	Address      address.Address `json:"address"`
	Bump         uint8           `json:"bump"`
	Contract     address.Address `json:"contract"`
	ContractID   string          `json:"contract_id"`
	Party        address.Address `json:"party"`
	Counterparty address.Address `json:"counterparty"`
	Amount       uint64          `json:"amount"`
	SerialNumber int64           `json:"serial_number"`
	IssuedAt     time.Time       `json:"issued_at"`
}

type Balance struct {
	Owner  address.Address `json:"owner"`
	Token  address.Address `json:"token"`
	Amount uint64          `json:"amount"`
}

type LedgerEntry struct {
	ID        int64           `json:"id"`
	TS        time.Time       `json:"ts"`
	Token     address.Address `json:"token"`
	From      address.Address `json:"from"`
	To        address.Address `json:"to"`
	Amount    uint64          `json:"amount"`
	Reason    string          `json:"reason"`
	Reference address.Address `json:"reference"`
}

type Stats struct {
	BadgesMinted          int64 `json:"badges_minted"`
	CertificatesIssued    int64 `json:"certificates_issued"`
	JobsPosted            int64 `json:"jobs_posted"`
	ApplicationsSubmitted int64 `json:"applications_submitted"`
	ContractsCreated      int64 `json:"contracts_created"`
	DisputesOpened        int64 `json:"disputes_opened"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
