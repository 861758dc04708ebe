package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"credchain/internal/address"
	"credchain/internal/domain"
)

func newClient(t *testing.T, h http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	c := New("", 6, zerolog.New(&logs))
	if h != nil {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		c.BaseURL = srv.URL
	}
	c.Now = func() time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) }
	return c, &logs
}

func TestImproveJobDescription(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathImprove {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var d JobDraft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"improvement":{"improvedTitle":"Senior ` + d.Title + `","improvedDescription":"Build it well.","suggestedSkills":["Solana Developer","Juggler","frontenddeveloper"]}}`))
	})
	got := c.ImproveJobDescription(context.Background(), JobDraft{Title: "Rust dev", Description: "build"})
	if got.Degraded {
		t.Fatalf("expected remote result")
	}
	if got.ImprovedTitle != "Senior Rust dev" {
		t.Fatalf("title = %q", got.ImprovedTitle)
	}
	if strings.Join(got.SuggestedSkills, ",") != "Solana Developer,Frontend Developer" {
		t.Fatalf("skills = %v", got.SuggestedSkills)
	}
}

func TestImproveFallsBackOnSchemaViolation(t *testing.T) {
	c, logs := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"improvement":{"improvedTitle":""}}`))
	})
	got := c.ImproveJobDescription(context.Background(), JobDraft{Title: "Rust dev", Description: "build"})
	if !got.Degraded || got.ImprovedTitle != "Rust dev" || got.ImprovedDescription != "build" {
		t.Fatalf("unexpected fallback: %+v", got)
	}
	if !strings.Contains(logs.String(), "advisory degraded") {
		t.Fatalf("expected a warning, got %q", logs.String())
	}
}

func TestFallbackOnServerError(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if got := c.ImproveJobDescription(context.Background(), JobDraft{Title: "t", Description: "d"}); !got.Degraded {
		t.Fatalf("expected degraded result")
	}
}

func TestSummarizeContractLocal(t *testing.T) {
	c, _ := newClient(t, nil)
	now := c.Now()
	ct := domain.Contract{
		Title:       "Site",
		Client:      address.MustParse("FXtdnHTgD2sDEih5s7WgXGrsY9MeGh484h7tzfxqXu6h"),
		TotalAmount: 1_000_000,
		PaidAmount:  400_000,
		Status:      domain.ContractInProgress,
		Milestones: []domain.Milestone{
			{Index: 0, Title: "Design", Amount: 400_000, Deadline: now.Add(-48 * time.Hour), Status: domain.MilestoneCompleted},
			{Index: 1, Title: "Build", Amount: 600_000, Deadline: now.Add(-24 * time.Hour), Status: domain.MilestonePending},
		},
	}
	s := c.SummarizeContract(context.Background(), ct)
	if !s.Degraded {
		t.Fatalf("expected local summary")
	}
	if s.KeyDetails.TotalAmount != "1.000000" || s.KeyDetails.CompletionPercentage != 40 {
		t.Fatalf("key details = %+v", s.KeyDetails)
	}
	if len(s.Milestones) != 2 || s.Milestones[1].DaysUntilDeadline != -1 {
		t.Fatalf("milestones = %+v", s.Milestones)
	}
	if len(s.NextSteps) != 2 || !strings.Contains(s.NextSteps[0], "Build") {
		t.Fatalf("next steps = %v", s.NextSteps)
	}
}

func TestMatchJobsFiltersUnknownAndWeak(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"matches":[
			{"jobId":"j1","fitScore":92,"reason":"strong"},
			{"jobId":"j2","fitScore":30},
			{"jobId":"ghost","fitScore":99}]}`))
	})
	req := MatchRequest{
		UserBadges: []string{"Solana Developer"},
		Jobs: []JobCandidate{
			{JobID: "j1", Title: "one", RequiredBadges: []string{"Solana Developer"}},
			{JobID: "j2", Title: "two"},
		},
	}
	got := c.MatchJobs(context.Background(), req)
	if got.Degraded || len(got.Matches) != 1 || got.Matches[0].JobID != "j1" {
		t.Fatalf("matches = %+v", got)
	}
}

func TestMatchJobsFallback(t *testing.T) {
	c, _ := newClient(t, nil)
	got := c.MatchJobs(context.Background(), MatchRequest{
		UserBadges: []string{"Data Analyst"},
		Jobs: []JobCandidate{
			{JobID: "j1", RequiredBadges: []string{"Data Analyst", "Content Writer"}},
			{JobID: "j2"},
		},
	})
	if !got.Degraded || len(got.Matches) != 2 {
		t.Fatalf("fallback = %+v", got)
	}
	if m := got.Matches[0].MatchedSkills; len(m) != 1 || m[0] != "Data Analyst" {
		t.Fatalf("matched = %v", m)
	}
}
