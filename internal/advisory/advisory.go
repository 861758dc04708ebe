// Package advisory talks to the optional text-suggestion service. Every
// answer is checked against a JSON schema; anything unusable degrades to a
// locally computed result so callers never fail on advice.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"credchain/internal/amount"
	"credchain/internal/domain"
	"credchain/internal/skill"
)

const (
	pathImprove   = "/api/improve-job-description"
	pathSummarize = "/api/summarize-contract"
	pathMatch     = "/api/match-jobs"

	maxResponseBytes = 1 << 20
	minFitScore      = 50
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Decimals   int32
	Log        zerolog.Logger
	Now        func() time.Time
}

// New returns a client for baseURL. An empty baseURL disables remote calls.
func New(baseURL string, decimals int32, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Timeout:  15 * time.Second,
		Decimals: decimals,
		Log:      log.With().Str("component", "advisory").Logger(),
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

// call posts body to path, validates the reply against schema and decodes it
// into out. Any failure is returned for the caller to log and degrade.
func (c *Client) call(ctx context.Context, path string, body any, schema *jsonschema.Schema, out any) error {
	if c.BaseURL == "" {
		return errDisabled
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return json.Unmarshal(raw, out)
}

var errDisabled = fmt.Errorf("advisory service not configured")

func (c *Client) degraded(path string, err error) {
	ev := c.Log.Warn()
	if err == errDisabled {
		ev = c.Log.Debug()
	}
	ev.Err(err).Str("endpoint", path).Msg("advisory degraded to local result")
}

type JobDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Budget      string `json:"budget,omitempty"`
	JobType     string `json:"jobType,omitempty"`
}

type Improvement struct {
	ImprovedTitle        string   `json:"improvedTitle"`
	ImprovedDescription  string   `json:"improvedDescription"`
	SuggestedSkills      []string `json:"suggestedSkills"`
	SuggestedBudgetRange string   `json:"suggestedBudgetRange"`
	Improvements         []string `json:"improvements"`
	MissingInfo          []string `json:"missingInfo"`
	Degraded             bool     `json:"degraded"`
}

// ImproveJobDescription asks for a rewritten posting. On failure the draft is
// returned unchanged.
func (c *Client) ImproveJobDescription(ctx context.Context, d JobDraft) Improvement {
	var resp struct {
		Improvement Improvement `json:"improvement"`
	}
	if err := c.call(ctx, pathImprove, d, improveResponse, &resp); err != nil {
		c.degraded(pathImprove, err)
		return Improvement{
			ImprovedTitle:        d.Title,
			ImprovedDescription:  d.Description,
			SuggestedSkills:      []string{},
			SuggestedBudgetRange: d.Budget,
			Improvements:         []string{},
			MissingInfo:          []string{},
			Degraded:             true,
		}
	}
	out := resp.Improvement
	out.SuggestedSkills = knownSkills(out.SuggestedSkills)
	return out
}

// knownSkills keeps suggestions that name a real category, in display form.
func knownSkills(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if c, err := skill.Parse(s); err == nil {
			out = append(out, c.String())
		}
	}
	return out
}

type KeyDetails struct {
	TotalAmount          string  `json:"totalAmount"`
	NumberOfMilestones   int     `json:"numberOfMilestones"`
	CurrentStatus        string  `json:"currentStatus"`
	CompletionPercentage float64 `json:"completionPercentage"`
}

type MilestoneSummary struct {
	Index             int    `json:"index"`
	Title             string `json:"title"`
	Amount            string `json:"amount"`
	Deadline          string `json:"deadline"`
	Status            string `json:"status"`
	DaysUntilDeadline int    `json:"daysUntilDeadline"`
}

type ContractSummary struct {
	Overview       string             `json:"overview"`
	KeyDetails     KeyDetails         `json:"keyDetails"`
	Milestones     []MilestoneSummary `json:"milestones"`
	RiskAssessment string             `json:"riskAssessment"`
	NextSteps      []string           `json:"nextSteps"`
	Degraded       bool               `json:"degraded"`
}

// SummarizeContract returns a plain-language summary of c. The local
// fallback is computed from the contract itself.
func (c *Client) SummarizeContract(ctx context.Context, contract domain.Contract) ContractSummary {
	var resp struct {
		Summary ContractSummary `json:"summary"`
	}
	body := map[string]any{"contract": contract}
	if err := c.call(ctx, pathSummarize, body, summaryResponse, &resp); err != nil {
		c.degraded(pathSummarize, err)
		return c.localSummary(contract)
	}
	return resp.Summary
}

func (c *Client) localSummary(ct domain.Contract) ContractSummary {
	now := c.now()
	s := ContractSummary{
		Overview: fmt.Sprintf("%s: %d milestone(s) between client %s and freelancer %s.", ct.Title, len(ct.Milestones), ct.Client, ct.Freelancer),
		KeyDetails: KeyDetails{
			TotalAmount:        amount.Format(ct.TotalAmount, c.Decimals),
			NumberOfMilestones: len(ct.Milestones),
			CurrentStatus:      string(ct.Status),
		},
		Milestones: make([]MilestoneSummary, 0, len(ct.Milestones)),
		NextSteps:  []string{},
		Degraded:   true,
	}
	if ct.TotalAmount > 0 {
		pct := float64(ct.PaidAmount) / float64(ct.TotalAmount) * 100
		s.KeyDetails.CompletionPercentage = math.Round(pct*100) / 100
	}
	for _, m := range ct.Milestones {
		days := int(math.Ceil(m.Deadline.Sub(now).Hours() / 24))
		s.Milestones = append(s.Milestones, MilestoneSummary{
			Index:             m.Index,
			Title:             m.Title,
			Amount:            amount.Format(m.Amount, c.Decimals),
			Deadline:          m.Deadline.Format("2006-01-02"),
			Status:            string(m.Status),
			DaysUntilDeadline: days,
		})
		if m.Status != domain.MilestoneCompleted && days < 0 {
			s.NextSteps = append(s.NextSteps, fmt.Sprintf("Milestone %d (%s) is past its deadline.", m.Index, m.Title))
		}
	}
	switch ct.Status {
	case domain.ContractActive:
		s.NextSteps = append(s.NextSteps, "Client deposits the full amount into escrow.")
	case domain.ContractFunded, domain.ContractInProgress:
		s.NextSteps = append(s.NextSteps, "Freelancer submits deliverables for the next pending milestone.")
	case domain.ContractDisputed:
		s.NextSteps = append(s.NextSteps, "Both parties stake and await arbitration.")
	case domain.ContractCompleted, domain.ContractCancelled:
	}
	return s
}

type JobCandidate struct {
	JobID          string   `json:"jobId"`
	Title          string   `json:"title"`
	RequiredBadges []string `json:"requiredBadges"`
	BudgetMin      string   `json:"budgetMin,omitempty"`
	BudgetMax      string   `json:"budgetMax,omitempty"`
}

type MatchRequest struct {
	UserBadges      []string       `json:"userBadges"`
	Jobs            []JobCandidate `json:"jobs"`
	UserCompletions int            `json:"userCompletions"`
}

type Match struct {
	JobID         string   `json:"jobId"`
	Title         string   `json:"title"`
	FitScore      float64  `json:"fitScore"`
	Reason        string   `json:"reason"`
	MatchedSkills []string `json:"matchedSkills"`
}

type Matches struct {
	Matches  []Match `json:"matches"`
	Degraded bool    `json:"degraded"`
}

// MatchJobs ranks jobs for a user. Matches for job ids that were not in the
// request, or under the fit threshold, are dropped. The fallback lists every
// job unranked with the badges it shares with the user.
func (c *Client) MatchJobs(ctx context.Context, req MatchRequest) Matches {
	var resp struct {
		Matches []Match `json:"matches"`
	}
	if err := c.call(ctx, pathMatch, req, matchResponse, &resp); err != nil {
		c.degraded(pathMatch, err)
		return Matches{Matches: unranked(req), Degraded: true}
	}
	known := make(map[string]bool, len(req.Jobs))
	for _, j := range req.Jobs {
		known[j.JobID] = true
	}
	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if known[m.JobID] && m.FitScore >= minFitScore {
			out = append(out, m)
		}
	}
	return Matches{Matches: out}
}

func unranked(req MatchRequest) []Match {
	held := make(map[string]bool, len(req.UserBadges))
	for _, b := range req.UserBadges {
		held[b] = true
	}
	out := make([]Match, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		matched := []string{}
		for _, b := range j.RequiredBadges {
			if held[b] {
				matched = append(matched, b)
			}
		}
		out = append(out, Match{JobID: j.JobID, Title: j.Title, MatchedSkills: matched})
	}
	return out
}
