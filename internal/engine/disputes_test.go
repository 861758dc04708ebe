package engine_test

import (
	"testing"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/repo"
)

var arbitrators = []address.Address{id("arb-1"), id("arb-2"), id("arb-3")}

func (env testEnv) grantArbitrators(t *testing.T) {
	t.Helper()
	for _, a := range arbitrators {
		if err := env.Engine.GrantRole(env.Ctx, a, domain.RoleArbitrator, env.Admin); err != nil {
			t.Fatalf("grant arbitrator: %v", err)
		}
	}
}

// disputeUnderReview opens a dispute by initiator, posts both stakes and
// seats the arbitrators.
func (env testEnv) disputeUnderReview(t *testing.T, contractID string, initiator address.Address) domain.Dispute {
	t.Helper()
	env.fund(t, client, 50)
	env.fund(t, freelancer, 50)
	if _, err := env.Engine.OpenDispute(env.Ctx, engine.OpenDisputeOptions{
		ContractID: contractID, Category: domain.DisputeQuality, Reason: "late and broken", Actor: initiator,
	}); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	for _, p := range []address.Address{client, freelancer} {
		if _, err := env.Engine.StakeDispute(env.Ctx, contractID, p); err != nil {
			t.Fatalf("stake %s: %v", p, err)
		}
	}
	env.grantArbitrators(t)
	d, err := env.Engine.AssignArbitrators(env.Ctx, contractID, arbitrators, env.Admin)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if d.Status != domain.DisputeUnderReview {
		t.Fatalf("dispute status = %s, want UnderReview", d.Status)
	}
	return d
}

func TestDisputeResolvesForFreelancer(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "d-1")
	env.fund(t, client, 50)
	env.fund(t, freelancer, 50)

	d, err := env.Engine.OpenDispute(env.Ctx, engine.OpenDisputeOptions{
		ContractID: "d-1", Category: domain.DisputePayment, Reason: "client unresponsive", Actor: freelancer,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if d.Status != domain.DisputeOpen || d.StakeAmount != 50 || d.PriorStatus != domain.ContractFunded || d.Round != 1 {
		t.Fatalf("unexpected dispute: %+v", d)
	}
	c, _ := env.Engine.GetContract(env.Ctx, "d-1")
	if c.Status != domain.ContractDisputed {
		t.Fatalf("contract status = %s", c.Status)
	}
	_, err = env.Engine.OpenDispute(env.Ctx, engine.OpenDisputeOptions{
		ContractID: "d-1", Category: domain.DisputeOther, Reason: "again", Actor: client,
	})
	expectCode(t, err, apperr.CodeDisputeActive)
	_, err = env.Engine.SubmitDeliverable(env.Ctx, engine.SubmitDeliverableOptions{ContractID: "d-1", ContentRef: "bafy", Actor: freelancer})
	expectCode(t, err, apperr.CodeContractStatus)

	if _, err := env.Engine.StakeDispute(env.Ctx, "d-1", client); err != nil {
		t.Fatalf("client stake: %v", err)
	}
	_, err = env.Engine.StakeDispute(env.Ctx, "d-1", client)
	expectCode(t, err, apperr.CodeAlreadyStaked)

	_, err = env.Engine.AssignArbitrators(env.Ctx, "d-1", arbitrators, client)
	expectCode(t, err, apperr.CodeNotAdmin)
	_, err = env.Engine.AssignArbitrators(env.Ctx, "d-1", arbitrators, env.Admin)
	expectCode(t, err, apperr.CodeInvalidArbitrators)
	env.grantArbitrators(t)
	_, err = env.Engine.AssignArbitrators(env.Ctx, "d-1", arbitrators[:2], env.Admin)
	expectCode(t, err, apperr.CodeInvalidArbitrators)
	_, err = env.Engine.AssignArbitrators(env.Ctx, "d-1", []address.Address{arbitrators[0], arbitrators[1], client}, env.Admin)
	expectCode(t, err, apperr.CodeInvalidArbitrators)

	d, err = env.Engine.AssignArbitrators(env.Ctx, "d-1", arbitrators, env.Admin)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if d.Status != domain.DisputeOpen {
		t.Fatalf("dispute should wait for the freelancer stake, status=%s", d.Status)
	}
	_, err = env.Engine.CastVote(env.Ctx, "d-1", false, arbitrators[0])
	expectCode(t, err, apperr.CodeDisputeStatus)

	d, err = env.Engine.StakeDispute(env.Ctx, "d-1", freelancer)
	if err != nil || d.Status != domain.DisputeUnderReview {
		t.Fatalf("freelancer stake: %v status=%s", err, d.Status)
	}
	_, err = env.Engine.CastVote(env.Ctx, "d-1", false, id("stranger"))
	expectCode(t, err, apperr.CodeNotArbitrator)

	if _, err := env.Engine.CastVote(env.Ctx, "d-1", false, arbitrators[0]); err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	_, err = env.Engine.CastVote(env.Ctx, "d-1", true, arbitrators[0])
	expectCode(t, err, apperr.CodeAlreadyVoted)
	d, err = env.Engine.CastVote(env.Ctx, "d-1", false, arbitrators[1])
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if d.Status != domain.DisputeResolvedForFreelancer || d.ResolvedAt == nil {
		t.Fatalf("dispute status = %s", d.Status)
	}
	_, err = env.Engine.CastVote(env.Ctx, "d-1", true, arbitrators[2])
	expectCode(t, err, apperr.CodeDisputeStatus)

	c, _ = env.Engine.GetContract(env.Ctx, "d-1")
	if c.Status != domain.ContractCompleted || c.PaidAmount != 1000 {
		t.Fatalf("contract status=%s paid=%d", c.Status, c.PaidAmount)
	}
	if got := env.balance(t, freelancer); got != 975+50 {
		t.Fatalf("freelancer = %d", got)
	}
	if got := env.balance(t, client); got != 0 {
		t.Fatalf("client = %d", got)
	}
	if got := env.balance(t, env.treasury(t)); got != 25+50 {
		t.Fatalf("treasury = %d", got)
	}
}

func TestDisputeResolvesForClientAfterPartialPayment(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "d-2")
	env.submit(t, "d-2", 0)
	if _, err := env.Engine.ApproveMilestone(env.Ctx, "d-2", 0, client); err != nil {
		t.Fatal(err)
	}
	d := env.disputeUnderReview(t, "d-2", client)
	if d.PriorStatus != domain.ContractInProgress {
		t.Fatalf("prior status = %s", d.PriorStatus)
	}
	for _, a := range arbitrators[:2] {
		if _, err := env.Engine.CastVote(env.Ctx, "d-2", true, a); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	d, err := env.Engine.GetDispute(env.Ctx, "d-2")
	if err != nil || d.Status != domain.DisputeResolvedForClient {
		t.Fatalf("dispute: %v status=%s", err, d.Status)
	}
	c, _ := env.Engine.GetContract(env.Ctx, "d-2")
	if c.Status != domain.ContractCancelled || c.PaidAmount != 400 {
		t.Fatalf("contract status=%s paid=%d", c.Status, c.PaidAmount)
	}
	if got := env.balance(t, client); got != 600+50 {
		t.Fatalf("client = %d", got)
	}
	if got := env.balance(t, freelancer); got != 390 {
		t.Fatalf("freelancer = %d", got)
	}
	if got := env.balance(t, env.treasury(t)); got != 10+50 {
		t.Fatalf("treasury = %d", got)
	}
	if held, _ := env.Engine.EscrowBalance(env.Ctx, "d-2"); held != 0 {
		t.Fatalf("escrow still holds %d", held)
	}
	_, err = env.Engine.OpenDispute(env.Ctx, engine.OpenDisputeOptions{
		ContractID: "d-2", Category: domain.DisputeOther, Reason: "again", Actor: freelancer,
	})
	expectCode(t, err, apperr.CodeContractStatus)
}

func TestCancelDisputeRestoresContract(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "d-3")
	env.fund(t, client, 50)
	first, err := env.Engine.OpenDispute(env.Ctx, engine.OpenDisputeOptions{
		ContractID: "d-3", Category: domain.DisputeScope, Reason: "scope creep", Actor: client,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StakeDispute(env.Ctx, "d-3", client); err != nil {
		t.Fatal(err)
	}
	if got := env.balance(t, client); got != 0 {
		t.Fatalf("stake not taken: %d", got)
	}
	_, err = env.Engine.CancelDispute(env.Ctx, "d-3", freelancer)
	expectCode(t, err, apperr.CodeNotInitiator)

	d, err := env.Engine.CancelDispute(env.Ctx, "d-3", client)
	if err != nil || d.Status != domain.DisputeCancelled {
		t.Fatalf("cancel: %v status=%s", err, d.Status)
	}
	c, _ := env.Engine.GetContract(env.Ctx, "d-3")
	if c.Status != domain.ContractFunded {
		t.Fatalf("contract status = %s, want Funded", c.Status)
	}
	if got := env.balance(t, client); got != 50 {
		t.Fatalf("stake not refunded: %d", got)
	}

	again, err := env.Engine.OpenDispute(env.Ctx, engine.OpenDisputeOptions{
		ContractID: "d-3", Category: domain.DisputeDeadline, Reason: "missed deadline", Actor: freelancer,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Address != first.Address || again.Round != 2 || again.ClientStaked || again.Initiator != freelancer {
		t.Fatalf("unexpected reopened dispute: %+v", again)
	}
	_, err = env.Engine.CancelDispute(env.Ctx, "no-such", client)
	expectCode(t, err, apperr.CodeNotFound)
}

func TestStakeWithoutDispute(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "d-4")
	_, err := env.Engine.StakeDispute(env.Ctx, "d-4", client)
	expectCode(t, err, apperr.CodeNoDispute)
	_, err = env.Engine.GetDispute(env.Ctx, "d-4")
	expectCode(t, err, apperr.CodeNotFound)
}

func TestListDisputesFilters(t *testing.T) {
	env := newTestEnv(t)
	env.fundedContract(t, "d-list")
	want := env.disputeUnderReview(t, "d-list", client)

	got, err := env.Engine.ListDisputes(env.Ctx, repo.DisputeFilter{Arbitrator: &arbitrators[1]})
	if err != nil || len(got) != 1 || got[0].Address != want.Address {
		t.Fatalf("by arbitrator: %v %+v", err, got)
	}
	got, err = env.Engine.ListDisputes(env.Ctx, repo.DisputeFilter{Status: domain.DisputeUnderReview})
	if err != nil || len(got) != 1 {
		t.Fatalf("by status: %v len=%d", err, len(got))
	}
	outsider := id("not-an-arbitrator")
	got, err = env.Engine.ListDisputes(env.Ctx, repo.DisputeFilter{Arbitrator: &outsider})
	if err != nil || len(got) != 0 {
		t.Fatalf("outsider: %v len=%d", err, len(got))
	}
}
