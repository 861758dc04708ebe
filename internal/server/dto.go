package server

import (
	"encoding/json"

	"credchain/internal/domain"
)

// Request payloads. Amounts are decimal strings in token units ("12.5").

type DeriveRequest struct {
	Kind       string `json:"kind" enum:"contract,escrow,dispute,dispute-stake,session,treasury,test-result,badge,badge-mint,leaderboard,completion,job,application"`
	ContractID string `json:"contract_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Skill      string `json:"skill,omitempty"`
	Nonce      uint64 `json:"nonce,omitempty"`
}

type MilestoneRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Deadline    string `json:"deadline" format:"date-time"`
}

type CreateContractRequest struct {
	ContractID   string             `json:"contract_id" maxLength:"32"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Freelancer   string             `json:"freelancer"`
	TotalAmount  string             `json:"total_amount"`
	PaymentToken string             `json:"payment_token,omitempty"`
	Milestones   []MilestoneRequest `json:"milestones"`
}

type AmountRequest struct {
	Amount string `json:"amount"`
}

type DeliverableRequest struct {
	ContentRef  string `json:"content_ref"`
	FileName    string `json:"file_name,omitempty"`
	Description string `json:"description,omitempty"`
}

type RevisionRequest struct {
	Reason string `json:"reason"`
}

type SessionRequest struct {
	MilestoneIndex int    `json:"milestone_index"`
	Nonce          uint64 `json:"nonce"`
}

type OpenDisputeRequest struct {
	Category    string `json:"category" enum:"Quality,Deadline,Scope,Payment,Communication,Other"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
}

type AssignArbitratorsRequest struct {
	Arbitrators []string `json:"arbitrators"`
}

type VoteRequest struct {
	ForClient bool `json:"for_client"`
}

type RecordTestRequest struct {
	Candidate       string `json:"candidate"`
	Skill           string `json:"skill"`
	Score           int    `json:"score"`
	DurationSeconds int64  `json:"duration_seconds"`
	Proctored       bool   `json:"proctored"`
	Nonce           uint64 `json:"nonce"`
}

type MintBadgeRequest struct {
	Skill string `json:"skill"`
	Nonce uint64 `json:"nonce"`
}

type RevokeBadgeRequest struct {
	Reason string `json:"reason"`
}

type PostJobRequest struct {
	JobID          string   `json:"job_id" maxLength:"32"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	BudgetMin      string   `json:"budget_min"`
	BudgetMax      string   `json:"budget_max"`
	JobType        string   `json:"job_type" enum:"FullTime,PartTime,Contract,Freelance"`
	Duration       string   `json:"duration,omitempty"`
	Location       string   `json:"location,omitempty"`
	RequiredBadges []string `json:"required_badges,omitempty"`
}

type ApplyRequest struct {
	CoverLetter    string `json:"cover_letter"`
	ProposedBudget string `json:"proposed_budget"`
	Timeline       string `json:"timeline,omitempty"`
	PortfolioURL   string `json:"portfolio_url,omitempty"`
}

type ImproveJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Budget      string `json:"budget,omitempty"`
	JobType     string `json:"job_type,omitempty"`
}

type CreditRequest struct {
	Amount string `json:"amount"`
	Token  string `json:"token,omitempty"`
}

type RoleRequest struct {
	Identity string `json:"identity"`
	Role     string `json:"role" enum:"admin,arbitrator"`
}

// Responses

type DeriveResponse struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

type WhoAmIResponse struct {
	Identity string   `json:"identity"`
	Source   string   `json:"source"`
	Roles    []string `json:"roles"`
}

type ContractDetail struct {
	domain.Contract
	EscrowBalance uint64 `json:"escrow_balance"`
	Display       struct {
		TotalAmount string `json:"total_amount"`
		PaidAmount  string `json:"paid_amount"`
	} `json:"display"`
}

type WalletResponse struct {
	Owner    string           `json:"owner"`
	Balances []domain.Balance `json:"balances"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
