package skill

import "testing"

func TestTableIsBijective(t *testing.T) {
	displays := map[string]Category{}
	keys := map[string]Category{}
	for _, c := range All() {
		if prev, ok := displays[c.String()]; ok {
			t.Fatalf("display %q shared by %d and %d", c.String(), prev, c)
		}
		displays[c.String()] = c
		if prev, ok := keys[c.Key()]; ok {
			t.Fatalf("key %q shared by %d and %d", c.Key(), prev, c)
		}
		keys[c.Key()] = c

		fromDisplay, err := Parse(c.String())
		if err != nil || fromDisplay != c {
			t.Fatalf("parse display %q: got %v, %v", c.String(), fromDisplay, err)
		}
		fromKey, err := Parse(c.Key())
		if err != nil || fromKey != c {
			t.Fatalf("parse key %q: got %v, %v", c.Key(), fromKey, err)
		}
	}
	if len(displays) != 6 {
		t.Fatalf("expected 6 categories, got %d", len(displays))
	}
}

func TestCanonicalStrings(t *testing.T) {
	want := map[Category]string{
		SolanaDeveloper:     "Solana Developer",
		UIUXDesigner:        "UI/UX Designer",
		ContentWriter:       "Content Writer",
		DataAnalyst:         "Data Analyst",
		MarketingSpecialist: "Marketing Specialist",
		FrontendDeveloper:   "Frontend Developer",
	}
	for c, s := range want {
		if c.String() != s {
			t.Fatalf("category %d: want %q got %q", c, s, c.String())
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "solana developer", "Designer", "Category(0)"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	if _, err := Parse("uiuxdesigner"); err != nil {
		t.Fatalf("keys are case-insensitive: %v", err)
	}
}

func TestParseListRejectsDuplicates(t *testing.T) {
	if _, err := ParseList([]string{"Data Analyst", "DataAnalyst"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestMissing(t *testing.T) {
	got := Missing([]Category{SolanaDeveloper, DataAnalyst}, []Category{DataAnalyst, ContentWriter})
	if len(got) != 1 || got[0] != SolanaDeveloper {
		t.Fatalf("unexpected missing set %v", got)
	}
}
