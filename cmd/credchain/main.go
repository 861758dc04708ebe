package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"credchain/internal/address"
	"credchain/internal/amount"
	"credchain/internal/app"
	"credchain/internal/db"
	"credchain/internal/skill"
)

var rootCmd = &cobra.Command{
	Use:   "credchain",
	Short: "CredChain CLI",
	Long: `CredChain runs milestone escrow contracts, skill credentials and a badge-gated job board
against a local workspace.
- Workspace: the .credchain directory holding the database, plus an optional credchain.yml.
- Identities: every party is a base58 address; pass yours with --actor or CREDCHAIN_ACTOR.
- Contracts: client funds escrow, freelancer submits milestones, client approves and payment is released minus the platform fee.
- Disputes: either party freezes a contract, both stake, arbitrators vote, the majority decides.
- Credentials: passing test results mint one badge per skill; badges gate job applications.
- Event log: every state change, view with 'credchain log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CREDCHAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting identity (base58)")
	rootCmd.PersistentFlags().Int32("decimals", -1, "token decimals for amount flags (default: workspace token.decimals)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("decimals", rootCmd.PersistentFlags().Lookup("decimals"))
}

func registerCommands() {
	rootCmd.AddCommand(addressCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(badgeCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	return app.With(ctx, viper.GetString("workspace"), fn)
}

// actor returns the --actor identity; mutating commands require it.
func actor() (address.Address, error) {
	raw := strings.TrimSpace(viper.GetString("actor"))
	if raw == "" {
		return address.Address{}, fmt.Errorf("--actor (or CREDCHAIN_ACTOR) is required")
	}
	a, err := address.Parse(raw)
	if err != nil {
		return address.Address{}, fmt.Errorf("--actor: %w", err)
	}
	return a, nil
}

// actorOr parses raw, falling back to --actor when it is empty.
func actorOr(flag, raw string) (address.Address, error) {
	if raw == "" {
		return actor()
	}
	return identity(flag, raw)
}

func identity(flag, raw string) (address.Address, error) {
	a, err := address.Parse(strings.TrimSpace(raw))
	if err != nil {
		return address.Address{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return a, nil
}

func decimals(w *app.Workspace) int32 {
	if d := viper.GetInt32("decimals"); d >= 0 {
		return d
	}
	return w.Config.Token.Decimals
}

func parseAmount(w *app.Workspace, flag, raw string) (uint64, error) {
	v, err := amount.Parse(raw, decimals(w))
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", flag, err)
	}
	return v, nil
}

func formatAmount(w *app.Workspace, units uint64) string {
	return amount.Format(units, decimals(w))
}

func parseSkill(raw string) (skill.Category, error) {
	if raw == "" {
		return 0, fmt.Errorf("--skill required")
	}
	return skill.Parse(raw)
}

// parseDeadline accepts RFC 3339 or a bare date (midnight UTC).
func parseDeadline(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q: use RFC 3339 or YYYY-MM-DD", raw)
	}
	return t.UTC(), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw, err := fieldTable(v)
	if err != nil {
		return err
	}
	tw.SetOutputMirror(os.Stdout)
	tw.Render()
	return nil
}

// fieldTable lays a single object out as one row per JSON field, sorted by
// name. Nested values are shown as compact JSON.
func fieldTable(v any) (table.Writer, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("render output: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("render output: expected an object: %w", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		raw := fields[k]
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		tw.AppendRow(table.Row{k, s})
	}
	return tw, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func short(a address.Address) string {
	s := a.String()
	if len(s) <= 12 {
		return s
	}
	return s[:5] + ".." + s[len(s)-5:]
}
