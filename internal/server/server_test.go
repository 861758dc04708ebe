package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"credchain/internal/address"
	"credchain/internal/config"
	"credchain/internal/db"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/migrate"
	"credchain/internal/skill"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	// Stop cancels the context every request is served under.
	Stop   context.CancelFunc
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func ident(label string) address.Address {
	return address.Address(sha256.Sum256([]byte(label)))
}

func as(id address.Address) map[string]string {
	return map[string]string{"X-Actor-Id": id.String()}
}

func newTestServer(t *testing.T, tweak ...func(*config.Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, fn := range tweak {
		fn(cfg)
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, Logger: zerolog.Nop()},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base, stop := context.WithCancel(context.Background())
	srv := &http.Server{Handler: handler, BaseContext: func(net.Listener) context.Context { return base }}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Stop:   stop,
		client: &http.Client{},
		close: func() {
			stop()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(data))
	}
}

func errorCode(t *testing.T, data []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v: %s", err, string(data))
	}
	return env.Error.Code, env.Error.Details
}

var (
	clientID     = ident("client")
	freelancerID = ident("freelancer")
)

func createContract(t *testing.T, srv *testServer, contractID string) {
	t.Helper()
	deadline := time.Now().UTC().Add(30 * 24 * time.Hour).Format(time.RFC3339)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"contract_id":  contractID,
		"title":        "Landing page",
		"freelancer":   freelancerID.String(),
		"total_amount": "1",
		"milestones": []map[string]any{
			{"title": "Design", "amount": "0.4", "deadline": deadline},
			{"title": "Build", "amount": "0.6", "deadline": deadline},
		},
	}, as(clientID))
	expectStatus(t, res, data, http.StatusCreated)
}

func credit(t *testing.T, srv *testServer, owner address.Address, amt string) {
	t.Helper()
	admin := srv.Engine.Config.Admin()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wallets/"+owner.String()+"/credit",
		map[string]any{"amount": amt}, as(admin))
	expectStatus(t, res, data, http.StatusOK)
}

func TestContractLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	credit(t, srv, clientID, "5")
	createContract(t, srv, "site-1")

	base := srv.URL + "/v0/contracts/site-1"
	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/deposit", map[string]any{"amount": "1"}, as(clientID))
	expectStatus(t, res, data, http.StatusOK)
	var detail ContractDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("decode contract: %v", err)
	}
	if detail.Status != domain.ContractFunded || detail.EscrowBalance != 1_000_000 {
		t.Fatalf("after deposit: status %s escrow %d", detail.Status, detail.EscrowBalance)
	}

	for _, idx := range []string{"0", "1"} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/milestones/"+idx+"/deliverables",
			map[string]any{"content_ref": "bafy" + idx}, as(freelancerID))
		expectStatus(t, res, data, http.StatusOK)
		res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/milestones/"+idx+"/approve", nil, as(clientID))
		expectStatus(t, res, data, http.StatusOK)
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("decode contract: %v", err)
	}
	if detail.Status != domain.ContractCompleted || detail.Display.PaidAmount != "1.000000" || detail.EscrowBalance != 0 {
		t.Fatalf("after approvals: %+v", detail)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/wallets/"+freelancerID.String(), nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	var wallet WalletResponse
	if err := json.Unmarshal(data, &wallet); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if len(wallet.Balances) != 1 || wallet.Balances[0].Amount != 975_000 {
		t.Fatalf("freelancer wallet = %+v", wallet.Balances)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/certificates", nil, as(freelancerID))
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/certificates", nil, as(freelancerID))
	expectStatus(t, res, data, http.StatusConflict)
	if code, _ := errorCode(t, data); code != "CERTIFICATE_ALREADY_ISSUED" {
		t.Fatalf("code = %s", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/summary", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"degraded":true`) {
		t.Fatalf("expected local summary: %s", string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	credit(t, srv, clientID, "5")
	createContract(t, srv, "site-2")
	base := srv.URL + "/v0/contracts/site-2"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/deposit", map[string]any{"amount": "1"}, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts/missing/deposit", map[string]any{"amount": "1"}, as(clientID))
	expectStatus(t, res, data, http.StatusNotFound)

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/deposit", map[string]any{"amount": "1"}, as(freelancerID))
	expectStatus(t, res, data, http.StatusForbidden)
	if code, _ := errorCode(t, data); code != "NOT_CLIENT" {
		t.Fatalf("code = %s", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/milestones/0/deliverables", map[string]any{"content_ref": "x"}, as(freelancerID))
	expectStatus(t, res, data, http.StatusConflict)
	code, details := errorCode(t, data)
	if code != "CONTRACT_STATUS" || details["current"] != "Active" {
		t.Fatalf("code = %s details = %v", code, details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/deposit", map[string]any{"amount": "1.0000001"}, as(clientID))
	expectStatus(t, res, data, http.StatusBadRequest)
	if code, _ := errorCode(t, data); code != "INVALID_AMOUNT" {
		t.Fatalf("code = %s", code)
	}

	deadline := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"contract_id":  "bad-sum",
		"title":        "Mismatch",
		"freelancer":   freelancerID.String(),
		"total_amount": "2",
		"milestones":   []map[string]any{{"title": "Only", "amount": "1", "deadline": deadline}},
	}, as(clientID))
	expectStatus(t, res, data, http.StatusBadRequest)
	if code, _ := errorCode(t, data); code != "AMOUNT_MISMATCH" {
		t.Fatalf("code = %s", code)
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token, err := SignToken(testSecret, clientID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	expectStatus(t, res, data, http.StatusOK)
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Identity != clientID.String() || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)

	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), freelancerID, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": secret})
	expectStatus(t, res, data, http.StatusOK)
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Identity != freelancerID.String() || me.Source != "api_key" {
		t.Fatalf("me = %+v", me)
	}

	admin := srv.Engine.Config.Admin()
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, as(admin))
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"admin"`) {
		t.Fatalf("admin roles missing: %s", string(data))
	}
}

func TestJobGating(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	employer := ident("employer")
	candidate := ident("candidate")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"job_id":          "rust-1",
		"title":           "Program dev",
		"description":     "Write an escrow program",
		"budget_min":      "100",
		"budget_max":      "500",
		"job_type":        "Contract",
		"required_badges": []string{"SolanaDeveloper"},
	}, as(employer))
	expectStatus(t, res, data, http.StatusCreated)

	apply := map[string]any{"cover_letter": "I ship", "proposed_budget": "300"}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs/rust-1/applications", apply, as(candidate))
	expectStatus(t, res, data, http.StatusConflict)
	code, details := errorCode(t, data)
	if code != "MISSING_REQUIRED_BADGES" {
		t.Fatalf("code = %s details = %v", code, details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tests", map[string]any{
		"candidate": candidate.String(),
		"skill":     "Solana Developer",
		"score":     88,
		"nonce":     1,
	}, as(candidate))
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/badges", map[string]any{"skill": "SolanaDeveloper", "nonce": 1}, as(candidate))
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs/rust-1/eligibility", nil, as(candidate))
	expectStatus(t, res, data, http.StatusOK)
	var el domain.Eligibility
	if err := json.Unmarshal(data, &el); err != nil {
		t.Fatalf("decode eligibility: %v", err)
	}
	if !el.CanApply {
		t.Fatalf("eligibility = %+v", el)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs/rust-1/applications", apply, as(candidate))
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs/rust-1/applications/"+candidate.String()+"/accept", nil, as(employer))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs/rust-1", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != domain.JobInProgress || job.HiredFreelancer == nil || *job.HiredFreelancer != candidate {
		t.Fatalf("job = %+v", job)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/leaderboards/SolanaDeveloper", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	var lb domain.Leaderboard
	if err := json.Unmarshal(data, &lb); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].BestScore != 88 {
		t.Fatalf("leaderboard = %+v", lb.Entries)
	}
}

func TestDeriveAddress(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/addresses/derive",
		map[string]any{"kind": "badge", "identity": clientID.String(), "skill": "Data Analyst"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	var got DeriveResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want, err := srv.Engine.Deriver.Badge(clientID, mustSkill(t, "DataAnalyst"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if got.Address != want.Address.String() || got.Bump != want.Bump {
		t.Fatalf("derive = %+v, want %s/%d", got, want.Address, want.Bump)
	}
}

func TestEventStream(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events/stream?after=0&type=wallet.credited"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	credit(t, srv, clientID, "2")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt EventResponse
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "wallet.credited" || evt.EntityKind != "wallet" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const workers = 8
	bodies := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if len(b) == 0 || !bytes.Equal(b, bodies[0]) {
			t.Fatalf("response %d differs or is empty (%d bytes)", i, len(b))
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(bodies[0], &doc); err != nil || doc["openapi"] == nil {
		t.Fatalf("openapi document: %v", err)
	}
}

func TestEventStreamEndsWithServerContext(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	srv.Stop()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected a normal close after the server context ended, got %v", err)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, func(c *config.Config) {
		c.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"contract.created"}, Secret: "s3"}}
	})
	defer cleanup()
	credit(t, srv, clientID, "1")
	createContract(t, srv, "hooked")

	d := NewWebhookDispatcher(srv.Engine, zerolog.Nop())
	d.SetCursor(0, 0)
	d.DispatchOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Type != "contract.created" {
		t.Fatalf("received = %+v", received)
	}
	if headers[0].Get("X-Credchain-Secret") != "s3" || headers[0].Get("X-Credchain-Delivery") == "" {
		t.Fatalf("headers = %v", headers[0])
	}
}

func mustSkill(t *testing.T, s string) skill.Category {
	t.Helper()
	c, err := skill.Parse(s)
	if err != nil {
		t.Fatalf("skill: %v", err)
	}
	return c
}
