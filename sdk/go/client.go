package credchainsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal CredChain HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set. Only servers
	// started with CREDCHAIN_ALLOW_ACTOR_HEADER accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Milestone is the API milestone model (partial).
type Milestone struct {
	Index         int       `json:"index"`
	Title         string    `json:"title"`
	Amount        uint64    `json:"amount"`
	Deadline      time.Time `json:"deadline"`
	Status        string    `json:"status"`
	RevisionCount int       `json:"revision_count"`
}

// Contract is the API contract model (partial).
type Contract struct {
	Address       string      `json:"address"`
	ContractID    string      `json:"contract_id"`
	Title         string      `json:"title"`
	Client        string      `json:"client"`
	Freelancer    string      `json:"freelancer"`
	TotalAmount   uint64      `json:"total_amount"`
	PaidAmount    uint64      `json:"paid_amount"`
	Status        string      `json:"status"`
	Milestones    []Milestone `json:"milestones"`
	EscrowBalance uint64      `json:"escrow_balance"`
}

// MilestoneInput describes one milestone of a new contract. Amounts are
// decimal token units, e.g. "12.5".
type MilestoneInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Amount      string    `json:"amount"`
	Deadline    time.Time `json:"deadline"`
}

// NewContract is the createContract request body.
type NewContract struct {
	ContractID  string           `json:"contract_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Freelancer  string           `json:"freelancer"`
	TotalAmount string           `json:"total_amount"`
	Milestones  []MilestoneInput `json:"milestones"`
}

type TestResult struct {
	Address   string `json:"address"`
	Candidate string `json:"candidate"`
	Skill     string `json:"skill"`
	Score     int    `json:"score"`
	Nonce     uint64 `json:"nonce"`
	Passed    bool   `json:"passed"`
}

type Badge struct {
	Address      string    `json:"address"`
	Owner        string    `json:"owner"`
	Skill        string    `json:"skill"`
	TestScore    int       `json:"test_score"`
	ExpiryDate   time.Time `json:"expiry_date"`
	Revoked      bool      `json:"revoked"`
	SerialNumber int64     `json:"serial_number"`
}

// BadgeVerification is the result of verifyBadge.
type BadgeVerification struct {
	Owner     string `json:"owner"`
	Skill     string `json:"skill"`
	IsExpired bool   `json:"is_expired"`
	IsRevoked bool   `json:"is_revoked"`
	Live      bool   `json:"live"`
	Score     int    `json:"score"`
}

type Job struct {
	Address        string   `json:"address"`
	JobID          string   `json:"job_id"`
	Employer       string   `json:"employer"`
	Title          string   `json:"title"`
	Status         string   `json:"status"`
	RequiredBadges []string `json:"required_badges"`
	ApplicantCount int64    `json:"applicant_count"`
}

type Eligibility struct {
	CanApply bool     `json:"can_apply"`
	Required []string `json:"required"`
	Missing  []string `json:"missing"`
}

type Application struct {
	Address    string `json:"address"`
	Freelancer string `json:"freelancer"`
	Status     string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateContract creates a contract with the caller as client.
func (c *Client) CreateContract(ctx context.Context, in NewContract) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "contracts", in, &resp)
	return resp, err
}

func (c *Client) GetContract(ctx context.Context, contractID string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, contractPath(contractID, ""), nil, &resp)
	return resp, err
}

// Deposit funds escrow; amount is in decimal token units.
func (c *Client) Deposit(ctx context.Context, contractID, amount string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, contractPath(contractID, "deposit"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

// SubmitDeliverable records a content reference against a milestone.
func (c *Client) SubmitDeliverable(ctx context.Context, contractID string, index int, contentRef, fileName string) (Contract, error) {
	body := map[string]any{
		"content_ref": contentRef,
		"file_name":   fileName,
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, contractPath(contractID, fmt.Sprintf("milestones/%d/deliverables", index)), body, &resp)
	return resp, err
}

func (c *Client) ApproveMilestone(ctx context.Context, contractID string, index int) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, contractPath(contractID, fmt.Sprintf("milestones/%d/approve", index)), nil, &resp)
	return resp, err
}

// RecordTest records a test completion for candidate.
func (c *Client) RecordTest(ctx context.Context, candidate, skill string, score int, nonce uint64) (TestResult, error) {
	body := map[string]any{
		"candidate": candidate,
		"skill":     skill,
		"score":     score,
		"nonce":     nonce,
	}
	var resp TestResult
	err := c.do(ctx, http.MethodPost, "tests", body, &resp)
	return resp, err
}

// MintBadge mints the caller's badge from the passing result at nonce.
func (c *Client) MintBadge(ctx context.Context, skill string, nonce uint64) (Badge, error) {
	var resp Badge
	err := c.do(ctx, http.MethodPost, "badges", map[string]any{"skill": skill, "nonce": nonce}, &resp)
	return resp, err
}

func (c *Client) VerifyBadge(ctx context.Context, owner, skill string) (BadgeVerification, error) {
	var resp BadgeVerification
	endpoint := fmt.Sprintf("badges/%s/%s/verify", url.PathEscape(owner), url.PathEscape(skill))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Eligibility reports whether candidate may apply to a job. An empty
// candidate checks the caller.
func (c *Client) Eligibility(ctx context.Context, jobID, candidate string) (Eligibility, error) {
	endpoint := fmt.Sprintf("jobs/%s/eligibility", url.PathEscape(jobID))
	if candidate != "" {
		endpoint += "?candidate=" + url.QueryEscape(candidate)
	}
	var resp Eligibility
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Apply submits an application; proposedBudget is in decimal token units.
func (c *Client) Apply(ctx context.Context, jobID, coverLetter, proposedBudget string) (Application, error) {
	body := map[string]any{
		"cover_letter":    coverLetter,
		"proposed_budget": proposedBudget,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("jobs/%s/applications", url.PathEscape(jobID)), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func contractPath(contractID, p string) string {
	base := "contracts/" + url.PathEscape(contractID)
	if p == "" {
		return base
	}
	return base + "/" + p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
