package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"credchain/internal/app"
	"credchain/internal/config"
)

func TestParseDeadline(t *testing.T) {
	got, err := parseDeadline("2030-01-02")
	if err != nil {
		t.Fatalf("date: %v", err)
	}
	if !got.Equal(time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected deadline %s", got)
	}
	got, err = parseDeadline("2030-01-02T15:04:05+02:00")
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if got.Hour() != 13 || got.Location() != time.UTC {
		t.Fatalf("expected UTC normalisation, got %s", got)
	}
	if _, err := parseDeadline("next tuesday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseMilestoneUsesWorkspaceDecimals(t *testing.T) {
	viper.Set("decimals", -1)
	defer viper.Set("decimals", -1)
	w := &app.Workspace{Config: config.Default()}

	m, err := parseMilestone(w, "Design | 0.4 | 2030-01-02")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Title != "Design" || m.Amount != 400000 {
		t.Fatalf("unexpected milestone %+v", m)
	}

	viper.Set("decimals", 2)
	m, err = parseMilestone(w, "Build|0.4|2030-01-02")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Amount != 40 {
		t.Fatalf("expected --decimals override, got %d", m.Amount)
	}

	if _, err := parseMilestone(w, "no-amount|2030-01-02"); err == nil {
		t.Fatalf("expected shape error")
	}
}

func TestFieldTable(t *testing.T) {
	tw, err := fieldTable(struct {
		Score  int      `json:"score"`
		Owner  string   `json:"owner"`
		Skills []string `json:"skills"`
	}{Score: 91, Owner: "alice", Skills: []string{"go", "sql"}})
	if err != nil {
		t.Fatalf("field table: %v", err)
	}
	out := tw.Render()
	for _, want := range []string{"FIELD", "VALUE", "alice", "91", `["go","sql"]`} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "owner") > strings.Index(out, "score") {
		t.Fatalf("fields not sorted:\n%s", out)
	}
	if strings.Contains(out, `"alice"`) {
		t.Fatalf("string values should be unquoted:\n%s", out)
	}

	if _, err := fieldTable(make(chan int)); err == nil {
		t.Fatal("expected an error for a value that cannot be encoded")
	}
	if _, err := fieldTable([]int{1, 2}); err == nil {
		t.Fatal("expected an error for a non-object value")
	}
}
