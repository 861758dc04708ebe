package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"credchain/internal/app"
	"credchain/internal/engine"
)

func testCmd() *cobra.Command {
	c := &cobra.Command{Use: "test", Short: "Record skill test results"}
	var candidate, skillName string
	var score int
	var duration time.Duration
	var proctored bool
	var nonce uint64
	record := &cobra.Command{
		Use:   "record",
		Short: "Record a test completion (candidate or admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			cand, err := actorOr("candidate", candidate)
			if err != nil {
				return err
			}
			sk, err := parseSkill(skillName)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				res, err := w.Engine.RecordTestCompletion(ctx, engine.RecordTestOptions{
					Candidate:       cand,
					Skill:           sk,
					Score:           score,
					DurationSeconds: int64(duration / time.Second),
					Proctored:       proctored,
					Nonce:           nonce,
					Actor:           who,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	record.Flags().StringVar(&candidate, "candidate", "", "candidate identity (default: --actor)")
	record.Flags().StringVar(&skillName, "skill", "", "skill category")
	record.Flags().IntVar(&score, "score", 0, "score 0-100")
	record.Flags().DurationVar(&duration, "duration", 0, "time taken")
	record.Flags().BoolVar(&proctored, "proctored", false, "proctored attempt")
	record.Flags().Uint64Var(&nonce, "nonce", 0, "attempt nonce")
	_ = record.MarkFlagRequired("score")
	_ = record.MarkFlagRequired("nonce")
	c.AddCommand(record)

	var listCandidate, listSkill string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded test results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cand, err := actorOr("candidate", listCandidate)
			if err != nil {
				return err
			}
			sk, err := parseSkill(listSkill)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListTestResults(ctx, cand, sk)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Nonce", "Score", "Passed", "Proctored", "Minted", "At")
				for _, r := range items {
					tw.AppendRow(table.Row{r.Nonce, r.Score, r.Passed, r.Proctored, r.BadgeMinted, r.Timestamp.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listCandidate, "candidate", "", "candidate identity (default: --actor)")
	list.Flags().StringVar(&listSkill, "skill", "", "skill category")
	c.AddCommand(list)
	return c
}

func badgeCmd() *cobra.Command {
	c := &cobra.Command{Use: "badge", Short: "Mint, verify and revoke skill badges"}
	c.AddCommand(badgeMintCmd())
	c.AddCommand(badgeListCmd())
	c.AddCommand(badgeVerifyCmd())
	c.AddCommand(badgeRevokeCmd())
	return c
}

func badgeMintCmd() *cobra.Command {
	var skillName string
	var nonce uint64
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a badge from a passing test result",
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			sk, err := parseSkill(skillName)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				b, err := w.Engine.MintBadge(ctx, engine.MintBadgeOptions{Candidate: who, Skill: sk, Nonce: nonce, Actor: who})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&skillName, "skill", "", "skill category")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "nonce of the passing test result")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func badgeListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List badges held by an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := actorOr("owner", owner)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListBadges(ctx, o)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				now := w.Engine.Now()
				tw := newTable("Serial", "Skill", "Score", "Issued", "Expires", "Live")
				for _, b := range items {
					tw.AppendRow(table.Row{b.SerialNumber, b.Skill, b.TestScore, b.IssueDate.Format("2006-01-02"), b.ExpiryDate.Format("2006-01-02"), b.Live(now)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner identity (default: --actor)")
	return cmd
}

func badgeVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <owner> <skill>",
		Short: "Verify a badge is live",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := identity("owner", args[0])
			if err != nil {
				return err
			}
			sk, err := parseSkill(args[1])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				v, err := w.Engine.VerifyBadge(ctx, owner, sk, w.Engine.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				state := "live"
				switch {
				case v.IsRevoked:
					state = "revoked"
				case v.IsExpired:
					state = "expired"
				case !v.IsValid:
					state = "invalid"
				}
				fmt.Printf("%s %s: %s (score %d, expires %s)\n", owner, v.Skill, state, v.Score, v.ExpiresAt.Format("2006-01-02"))
				return nil
			})
		},
	}
}

func badgeRevokeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke <owner> <skill>",
		Short: "Revoke a badge (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			owner, err := identity("owner", args[0])
			if err != nil {
				return err
			}
			sk, err := parseSkill(args[1])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				b, err := w.Engine.RevokeBadge(ctx, owner, sk, reason, who)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "revocation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func leaderboardCmd() *cobra.Command {
	c := &cobra.Command{Use: "leaderboard", Short: "Skill leaderboards"}
	c.AddCommand(&cobra.Command{
		Use:   "show <skill>",
		Short: "Show the leaderboard for a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := parseSkill(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				lb, err := w.Engine.Leaderboard(ctx, sk)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(lb)
				}
				tw := newTable("Rank", "Candidate", "Best", "Attempts", "Average", "Achieved")
				for _, e := range lb.Entries {
					tw.AppendRow(table.Row{e.Rank, e.Candidate, e.BestScore, e.Attempts, fmt.Sprintf("%.1f", e.AverageScore), e.AchievedAt.Format("2006-01-02")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}
