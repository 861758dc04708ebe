package credchainsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contract_id":"c-1","status":"Funded","paid_amount":0,"total_amount":1000000,"escrow_balance":1000000}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	got, err := c.Deposit(context.Background(), "c-1", "1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotPath != "/v0/contracts/c-1/deposit" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["amount"] != "1" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if got.Status != "Funded" || got.EscrowBalance != 1000000 {
		t.Fatalf("unexpected contract %+v", got)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Actor-Id") != "actor" {
			t.Errorf("expected actor header, got %q", r.Header.Get("X-Actor-Id"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"CONTRACT_STATUS","message":"contract status is Active","details":{"current":"Active"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "actor"
	_, err := c.ApproveMilestone(context.Background(), "c-1", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "CONTRACT_STATUS" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.Details["current"] != "Active" {
		t.Fatalf("expected details, got %v", apiErr.Details)
	}
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("cursor") != "42" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"items":[{"id":41,"type":"badge.minted"}],"next_cursor":"41"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 5, "42")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "badge.minted" || page.NextCursor != "41" {
		t.Fatalf("unexpected page %+v", page)
	}
}
