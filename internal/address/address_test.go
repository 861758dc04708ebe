package address

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"credchain/internal/skill"
)

func identity(label string) Address {
	return Address(sha256.Sum256([]byte(label)))
}

func testDeriver() Deriver {
	return Deriver{Programs: Programs{
		Escrow:   MustParse("J4cUiyURTW8woQCsc3YQwPPe2jMr8M27HFKWst468tUk"),
		Badge:    MustParse("79s9nmY3ZtsWeKakiBMyagHi6652AGSR413BXRZDZu7Z"),
		JobBoard: MustParse("mUfeb5rs5gH8n92VCqbuVNWPaU333tM6BhKZvTFEfvd"),
	}}
}

func TestParseRoundTrip(t *testing.T) {
	a := identity("alice")
	parsed, err := Parse(a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != a {
		t.Fatalf("round trip mismatch")
	}
	if _, err := Parse("not-base58-0OIl"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := Parse("3mJr7AoUXx2Wqd"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestOnCurveBasePoint(t *testing.T) {
	base, _ := hex.DecodeString("5866666666666666666666666666666666666666666666666666666666666666")
	if !OnCurve(base) {
		t.Fatalf("ed25519 base point should be on curve")
	}
}

func TestFindIsIdempotentAndOffCurve(t *testing.T) {
	d := testDeriver()
	first, err := d.Contract("contract-001")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := d.Contract("contract-001")
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if first != second {
		t.Fatalf("derivation not idempotent: %v vs %v", first, second)
	}
	if OnCurve(first.Address[:]) {
		t.Fatalf("derived address must be off curve")
	}
	again, err := Create([][]byte{Str(NSContract), Str("contract-001"), {first.Bump}}, d.Programs.Escrow)
	if err != nil {
		t.Fatalf("create with bump: %v", err)
	}
	if again != first.Address {
		t.Fatalf("create with found bump should reproduce the address")
	}
}

func TestDistinctTuplesDoNotCollide(t *testing.T) {
	d := testDeriver()
	alice, bob := identity("alice"), identity("bob")
	seen := map[Address]string{}
	add := func(name string, pda PDA, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if prev, ok := seen[pda.Address]; ok {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[pda.Address] = name
	}
	for _, c := range skill.All() {
		pda, err := d.Badge(alice, c)
		add("badge/alice/"+c.Key(), pda, err)
		pda, err = d.Badge(bob, c)
		add("badge/bob/"+c.Key(), pda, err)
		pda, err = d.BadgeMint(alice, c)
		add("mint/alice/"+c.Key(), pda, err)
		for nonce := uint64(0); nonce < 3; nonce++ {
			pda, err = d.TestResult(alice, c, nonce)
			add("result/alice/"+c.Key(), pda, err)
		}
		pda, err = d.Leaderboard(c)
		add("leaderboard/"+c.Key(), pda, err)
	}
	c1, err := d.Contract("job-1")
	add("contract/job-1", c1, err)
	j1, err := d.Job("job-1")
	add("job/job-1", j1, err)
}

func TestOrderSensitivity(t *testing.T) {
	d := testDeriver()
	alice, bob := identity("alice"), identity("bob")
	job, err := d.Job("x")
	if err != nil {
		t.Fatal(err)
	}
	a, err := d.Application(job.Address, alice)
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Application(alice, job.Address)
	if err != nil {
		t.Fatal(err)
	}
	if a.Address == b.Address {
		t.Fatalf("swapping key order must change the address")
	}
	c1, _ := d.Completion(alice, "c-1")
	c2, _ := d.Completion(bob, "c-1")
	if c1.Address == c2.Address {
		t.Fatalf("completion certificates of different parties must differ")
	}
}

func TestSeedLimits(t *testing.T) {
	d := testDeriver()
	_, err := d.Contract(strings.Repeat("x", MaxSeedLen+1))
	if !errors.Is(err, ErrSeedTooLong) {
		t.Fatalf("expected ErrSeedTooLong, got %v", err)
	}
	seeds := make([][]byte, MaxSeeds)
	if _, _, err := Find(seeds, d.Programs.Escrow); !errors.Is(err, ErrTooManySeeds) {
		t.Fatalf("expected ErrTooManySeeds, got %v", err)
	}
	if _, err := d.Badge(identity("alice"), skill.Category(0)); err == nil {
		t.Fatalf("expected invalid category error")
	}
}

func TestNonceIsLittleEndian(t *testing.T) {
	if !bytes.Equal(Nonce(1), []byte{1, 0, 0, 0, 0, 0, 0, 0}) {
		t.Fatalf("unexpected nonce encoding %v", Nonce(1))
	}
}
