package engine_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/config"
	"credchain/internal/db"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/ledger"
	"credchain/internal/migrate"
	"credchain/internal/repo"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time         { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
	Admin  address.Address
}

func id(label string) address.Address {
	return address.Address(sha256.Sum256([]byte(label)))
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, fn := range tweak {
		fn(cfg)
	}
	clk := &clock{now: epoch}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Now = clk.Now
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: clk, Admin: cfg.Admin()}
}

func (env testEnv) fund(t *testing.T, owner address.Address, amt uint64) {
	t.Helper()
	if _, err := env.Engine.CreditWallet(env.Ctx, owner, address.Zero, amt, env.Admin); err != nil {
		t.Fatalf("credit %s: %v", owner, err)
	}
}

func (env testEnv) balance(t *testing.T, owner address.Address) uint64 {
	t.Helper()
	n, err := ledger.Ledger{}.Balance(env.Ctx, env.Engine.DB, owner, env.Engine.Config.DefaultToken())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return n
}

func (env testEnv) treasury(t *testing.T) address.Address {
	t.Helper()
	pda, err := env.Engine.Derive(address.NSTreasury, engine.DeriveParams{})
	if err != nil {
		t.Fatalf("derive treasury: %v", err)
	}
	return pda.Address
}

func expectCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

var (
	client     = id("client")
	freelancer = id("freelancer")
)

func contractOpts(contractID string) engine.CreateContractOptions {
	return engine.CreateContractOptions{
		ContractID:  contractID,
		Title:       "Landing page",
		Client:      client,
		Freelancer:  freelancer,
		TotalAmount: 1000,
		Milestones: []engine.MilestoneInput{
			{Title: "Design", Amount: 400, Deadline: epoch.Add(7 * 24 * time.Hour)},
			{Title: "Build", Amount: 600, Deadline: epoch.Add(14 * 24 * time.Hour)},
		},
		Actor: client,
	}
}

// fundedContract creates and funds a two-milestone contract for 1000.
func (env testEnv) fundedContract(t *testing.T, contractID string) domain.Contract {
	t.Helper()
	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts(contractID)); err != nil {
		t.Fatalf("create contract: %v", err)
	}
	env.fund(t, client, 1000)
	c, err := env.Engine.DepositEscrow(env.Ctx, contractID, 1000, client)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return c
}

func (env testEnv) submit(t *testing.T, contractID string, index int) {
	t.Helper()
	_, err := env.Engine.SubmitDeliverable(env.Ctx, engine.SubmitDeliverableOptions{
		ContractID:     contractID,
		MilestoneIndex: index,
		ContentRef:     "bafy-work",
		FileName:       "work.zip",
		Actor:          freelancer,
	})
	if err != nil {
		t.Fatalf("submit milestone %d: %v", index, err)
	}
}

func TestHappyPathContract(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.ContractActive || c.PaidAmount != 0 || len(c.Milestones) != 2 {
		t.Fatalf("unexpected new contract: %+v", c)
	}
	env.fund(t, client, 1000)
	c, err = env.Engine.DepositEscrow(env.Ctx, "c-1", 1000, client)
	if err != nil || c.Status != domain.ContractFunded {
		t.Fatalf("deposit: %v status=%s", err, c.Status)
	}
	if got := env.balance(t, client); got != 0 {
		t.Fatalf("client balance after deposit = %d", got)
	}

	env.submit(t, "c-1", 0)
	c, err = env.Engine.ApproveMilestone(env.Ctx, "c-1", 0, client)
	if err != nil {
		t.Fatalf("approve 0: %v", err)
	}
	if c.Status != domain.ContractInProgress || c.PaidAmount != 400 {
		t.Fatalf("after first approval status=%s paid=%d", c.Status, c.PaidAmount)
	}
	if c.Milestones[0].Status != domain.MilestoneCompleted || c.Milestones[0].CompletedAt == nil {
		t.Fatalf("milestone 0 not completed: %+v", c.Milestones[0])
	}

	env.submit(t, "c-1", 1)
	c, err = env.Engine.ApproveMilestone(env.Ctx, "c-1", 1, client)
	if err != nil {
		t.Fatalf("approve 1: %v", err)
	}
	if c.Status != domain.ContractCompleted || c.PaidAmount != c.TotalAmount {
		t.Fatalf("after final approval status=%s paid=%d", c.Status, c.PaidAmount)
	}
	// 2.5% of 400 and 600.
	if got := env.balance(t, freelancer); got != 975 {
		t.Fatalf("freelancer balance = %d, want 975", got)
	}
	if got := env.balance(t, env.treasury(t)); got != 25 {
		t.Fatalf("treasury balance = %d, want 25", got)
	}
	if held, err := env.Engine.EscrowBalance(env.Ctx, "c-1"); err != nil || held != 0 {
		t.Fatalf("escrow balance = %d, %v", held, err)
	}

	stored, err := env.Engine.GetContract(env.Ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Milestones[1].Deliverables) != 1 || stored.Milestones[1].Deliverables[0].ContentRef != "bafy-work" {
		t.Fatalf("deliverables not persisted: %+v", stored.Milestones[1])
	}
	evts, err := env.Engine.Repo.AllEvents(env.Ctx, repo.EventFilter{EntityID: c.Address.String()})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) == 0 || evts[len(evts)-1].Type != "contract.completed" {
		t.Fatalf("expected contract.completed as last event, got %d events", len(evts))
	}
}

func TestCreateContractValidation(t *testing.T) {
	env := newTestEnv(t)

	opts := contractOpts("c-bad")
	opts.TotalAmount = 999
	_, err := env.Engine.CreateContract(env.Ctx, opts)
	expectCode(t, err, apperr.CodeAmountMismatch)

	opts = contractOpts("c-bad")
	opts.Milestones = nil
	_, err = env.Engine.CreateContract(env.Ctx, opts)
	expectCode(t, err, apperr.CodeMilestonesEmpty)

	opts = contractOpts("c-bad")
	opts.Milestones = nil
	for i := 0; i < 6; i++ {
		opts.Milestones = append(opts.Milestones, engine.MilestoneInput{Title: "m", Amount: 1, Deadline: epoch})
	}
	opts.TotalAmount = 6
	_, err = env.Engine.CreateContract(env.Ctx, opts)
	expectCode(t, err, apperr.CodeMilestonesTooMany)

	opts = contractOpts("c-bad")
	opts.Freelancer = client
	_, err = env.Engine.CreateContract(env.Ctx, opts)
	expectCode(t, err, apperr.CodeInvalidArgument)

	opts = contractOpts("c-bad")
	opts.Actor = freelancer
	_, err = env.Engine.CreateContract(env.Ctx, opts)
	expectCode(t, err, apperr.CodeNotClient)

	opts = contractOpts("this-contract-id-is-longer-than-32-bytes")
	_, err = env.Engine.CreateContract(env.Ctx, opts)
	expectCode(t, err, apperr.CodeFieldTooLong)

	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-dup")); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateContract(env.Ctx, contractOpts("c-dup"))
	expectCode(t, err, apperr.CodeContractExists)
	if apperr.KindOf(err) != apperr.KindPrecondition {
		t.Fatalf("duplicate contract should be a precondition error, got %s", apperr.KindOf(err))
	}
}

func TestDepositGuards(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-2")); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.DepositEscrow(env.Ctx, "c-2", 1000, client)
	expectCode(t, err, apperr.CodeInsufficientFunds)

	env.fund(t, client, 2000)
	_, err = env.Engine.DepositEscrow(env.Ctx, "c-2", 500, client)
	expectCode(t, err, apperr.CodeAmountMismatch)
	_, err = env.Engine.DepositEscrow(env.Ctx, "c-2", 1000, freelancer)
	expectCode(t, err, apperr.CodeNotClient)

	if _, err := env.Engine.DepositEscrow(env.Ctx, "c-2", 1000, client); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	_, err = env.Engine.DepositEscrow(env.Ctx, "c-2", 1000, client)
	expectCode(t, err, apperr.CodeAlreadyFunded)
	if got := env.balance(t, client); got != 1000 {
		t.Fatalf("double deposit moved funds: client holds %d", got)
	}
}

func TestSubmitRequiresFunding(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-3")); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitDeliverable(env.Ctx, engine.SubmitDeliverableOptions{
		ContractID: "c-3", ContentRef: "bafy", Actor: freelancer,
	})
	expectCode(t, err, apperr.CodeContractStatus)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Metadata["current"] != "Active" {
		t.Fatalf("expected current=Active metadata, got %v", err)
	}
	_, err = env.Engine.ApproveMilestone(env.Ctx, "c-3", 0, client)
	expectCode(t, err, apperr.CodeContractStatus)
}

func TestMilestoneStateMachine(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "c-4")

	_, err := env.Engine.ApproveMilestone(env.Ctx, "c-4", 0, client)
	expectCode(t, err, apperr.CodeMilestoneStatus)
	_, err = env.Engine.RequestRevision(env.Ctx, "c-4", 0, "too early", client)
	expectCode(t, err, apperr.CodeMilestoneStatus)
	_, err = env.Engine.ApproveMilestone(env.Ctx, "c-4", 7, client)
	expectCode(t, err, apperr.CodeInvalidIndex)
	_, err = env.Engine.SubmitDeliverable(env.Ctx, engine.SubmitDeliverableOptions{
		ContractID: "c-4", ContentRef: "bafy", Actor: client,
	})
	expectCode(t, err, apperr.CodeNotFreelancer)

	env.submit(t, "c-4", 0)
	_, err = env.Engine.SubmitDeliverable(env.Ctx, engine.SubmitDeliverableOptions{
		ContractID: "c-4", ContentRef: "bafy-2", Actor: freelancer,
	})
	expectCode(t, err, apperr.CodeMilestoneStatus)
	_, err = env.Engine.ApproveMilestone(env.Ctx, "c-4", 0, freelancer)
	expectCode(t, err, apperr.CodeNotClient)
}

func TestRevisionCap(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "c-5")
	env.submit(t, "c-5", 0)
	for i := 1; i <= 3; i++ {
		c, err := env.Engine.RequestRevision(env.Ctx, "c-5", 0, "needs work", client)
		if err != nil {
			t.Fatalf("revision %d: %v", i, err)
		}
		m := c.Milestones[0]
		if m.RevisionCount != i || m.Status != domain.MilestoneRevisionRequested {
			t.Fatalf("revision %d: count=%d status=%s", i, m.RevisionCount, m.Status)
		}
		env.submit(t, "c-5", 0)
	}
	_, err := env.Engine.RequestRevision(env.Ctx, "c-5", 0, "one more", client)
	expectCode(t, err, apperr.CodeRevisionLimit)
	if !errors.Is(err, apperr.ErrRevisionLimit) {
		t.Fatalf("expected errors.Is(ErrRevisionLimit)")
	}
	c, err := env.Engine.GetContract(env.Ctx, "c-5")
	if err != nil {
		t.Fatal(err)
	}
	if c.Milestones[0].RevisionCount != 3 || c.Milestones[0].Status != domain.MilestoneUnderReview {
		t.Fatalf("cap breach changed state: %+v", c.Milestones[0])
	}
	if len(c.Milestones[0].Deliverables) != 4 {
		t.Fatalf("expected 4 deliverables, got %d", len(c.Milestones[0].Deliverables))
	}
	// Approval is still possible at the cap.
	if _, err := env.Engine.ApproveMilestone(env.Ctx, "c-5", 0, client); err != nil {
		t.Fatalf("approve at cap: %v", err)
	}
}

func TestSignNDA(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-6")); err != nil {
		t.Fatal(err)
	}
	c, err := env.Engine.SignNDA(env.Ctx, "c-6", freelancer)
	if err != nil || !c.NDASignedFreelancer || c.NDASignedClient {
		t.Fatalf("freelancer sign: %v %+v", err, c)
	}
	_, err = env.Engine.SignNDA(env.Ctx, "c-6", freelancer)
	expectCode(t, err, apperr.CodeNDAAlreadySigned)
	_, err = env.Engine.SignNDA(env.Ctx, "c-6", id("stranger"))
	expectCode(t, err, apperr.CodeNotParty)
	c, err = env.Engine.SignNDA(env.Ctx, "c-6", client)
	if err != nil || !c.NDASignedClient {
		t.Fatalf("client sign: %v", err)
	}
}

func TestConcurrentApprovalsSerialize(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "c-7")
	env.submit(t, "c-7", 0)
	env.submit(t, "c-7", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = env.Engine.ApproveMilestone(env.Ctx, "c-7", idx, client)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("approval %d: %v", i, err)
		}
	}
	c, err := env.Engine.GetContract(env.Ctx, "c-7")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != domain.ContractCompleted || c.PaidAmount != 1000 {
		t.Fatalf("status=%s paid=%d", c.Status, c.PaidAmount)
	}
}

func TestConcurrentDepositsFundOnce(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-8")); err != nil {
		t.Fatal(err)
	}
	env.fund(t, client, 5000)
	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.DepositEscrow(env.Ctx, "c-8", 1000, client)
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.CodeOf(err) != apperr.CodeAlreadyFunded:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one deposit, got %d", ok)
	}
	if got := env.balance(t, client); got != 4000 {
		t.Fatalf("client balance = %d", got)
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateContract(env.Ctx, contractOpts("c-9")); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.StartSession(env.Ctx, "c-9", 0, 1, freelancer)
	expectCode(t, err, apperr.CodeContractStatus)

	env.fund(t, client, 1000)
	if _, err := env.Engine.DepositEscrow(env.Ctx, "c-9", 1000, client); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.StartSession(env.Ctx, "c-9", 0, 1, client)
	expectCode(t, err, apperr.CodeNotFreelancer)

	s, err := env.Engine.StartSession(env.Ctx, "c-9", 0, 1, freelancer)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.StartSession(env.Ctx, "c-9", 1, 1, freelancer)
	expectCode(t, err, apperr.CodeSessionExists)

	env.Clock.Advance(90 * time.Minute)
	ended, err := env.Engine.EndSession(env.Ctx, "c-9", 1, freelancer)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Address != s.Address || ended.DurationSeconds != 5400 || ended.EndedAt == nil {
		t.Fatalf("unexpected ended session: %+v", ended)
	}
	_, err = env.Engine.EndSession(env.Ctx, "c-9", 1, freelancer)
	expectCode(t, err, apperr.CodeSessionClosed)

	list, err := env.Engine.ListSessions(env.Ctx, "c-9")
	if err != nil || len(list) != 1 {
		t.Fatalf("list sessions: %v len=%d", err, len(list))
	}
}

func TestCertificates(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "c-10")
	_, err := env.Engine.IssueCertificate(env.Ctx, "c-10", freelancer)
	expectCode(t, err, apperr.CodeContractStatus)

	for i := 0; i < 2; i++ {
		env.submit(t, "c-10", i)
		if _, err := env.Engine.ApproveMilestone(env.Ctx, "c-10", i, client); err != nil {
			t.Fatal(err)
		}
	}
	cert, err := env.Engine.IssueCertificate(env.Ctx, "c-10", freelancer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cert.Amount != 1000 || cert.SerialNumber != 1 || cert.Counterparty != client {
		t.Fatalf("unexpected certificate: %+v", cert)
	}
	_, err = env.Engine.IssueCertificate(env.Ctx, "c-10", freelancer)
	expectCode(t, err, apperr.CodeCertificateIssued)
	_, err = env.Engine.IssueCertificate(env.Ctx, "c-10", id("stranger"))
	expectCode(t, err, apperr.CodeNotParty)

	second, err := env.Engine.IssueCertificate(env.Ctx, "c-10", client)
	if err != nil || second.SerialNumber != 2 {
		t.Fatalf("client certificate: %v %+v", err, second)
	}
	want, err := env.Engine.Derive(address.NSCompletion, engine.DeriveParams{Identity: freelancer, ContractID: "c-10"})
	if err != nil || want.Address != cert.Address {
		t.Fatalf("certificate address does not re-derive: %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreditWallet(env.Ctx, client, address.Zero, 10, client)
	expectCode(t, err, apperr.CodeNotAdmin)

	bal, err := env.Engine.CreditWallet(env.Ctx, client, address.Zero, 10, env.Admin)
	if err != nil || bal.Amount != 10 {
		t.Fatalf("credit: %v %+v", err, bal)
	}
	_, err = env.Engine.CreditWallet(env.Ctx, client, address.Zero, 0, env.Admin)
	expectCode(t, err, apperr.CodeInvalidAmount)

	deputy := id("deputy")
	if err := env.Engine.GrantRole(env.Ctx, deputy, domain.RoleAdmin, env.Admin); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.CreditWallet(env.Ctx, freelancer, address.Zero, 5, deputy); err != nil {
		t.Fatalf("granted admin credit: %v", err)
	}
	roles, err := env.Engine.Roles(env.Ctx, env.Admin)
	if err != nil || len(roles) != 1 || roles[0] != domain.RoleAdmin {
		t.Fatalf("configured admin roles = %v, %v", roles, err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, deputy, domain.RoleAdmin, env.Admin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err = env.Engine.RevokeRole(env.Ctx, deputy, domain.RoleAdmin, env.Admin)
	expectCode(t, err, apperr.CodeNotFound)

	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, client, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil || got.ID != key.ID || got.ActorID != client.String() {
		t.Fatalf("lookup key: %v %+v", err, got)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, key.ID); err != nil {
		t.Fatalf("delete key: %v", err)
	}
	expectCode(t, env.Engine.DeleteAPIKey(env.Ctx, key.ID), apperr.CodeNotFound)
}

func TestDeriveMatchesStoredAddresses(t *testing.T) {
	env := newTestEnv(t)
	c := env.fundedContract(t, "c-11")
	pda, err := env.Engine.Derive(address.NSContract, engine.DeriveParams{ContractID: "c-11"})
	if err != nil || pda.Address != c.Address {
		t.Fatalf("contract derive mismatch: %v", err)
	}
	vault, err := env.Engine.Derive(address.NSEscrow, engine.DeriveParams{ContractID: "c-11"})
	if err != nil {
		t.Fatal(err)
	}
	if got := env.balance(t, vault.Address); got != 1000 {
		t.Fatalf("vault holds %d", got)
	}
	_, err = env.Engine.Derive("nonsense", engine.DeriveParams{})
	expectCode(t, err, apperr.CodeInvalidArgument)
	_, err = env.Engine.Derive(address.NSBadge, engine.DeriveParams{})
	expectCode(t, err, apperr.CodeInvalidArgument)
}

func TestNewRejectsBadProgramID(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default()
	cfg.Programs.Badge = "not-a-program-id"
	if _, err := engine.New(conn, cfg); err == nil {
		t.Fatal("expected an error for an unparseable program id")
	}
}
