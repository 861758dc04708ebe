package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"credchain/internal/address"
	"credchain/internal/app"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/repo"
)

func disputeCmd() *cobra.Command {
	c := &cobra.Command{Use: "dispute", Short: "Open and resolve contract disputes"}
	c.AddCommand(disputeOpenCmd())
	c.AddCommand(disputeShowCmd())
	c.AddCommand(disputeListCmd())
	c.AddCommand(disputeStep("stake <contract-id>", "Stake the dispute bond", cobra.ExactArgs(1),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Dispute, error) {
			return w.Engine.StakeDispute(ctx, args[0], who)
		}))
	c.AddCommand(disputeStep("cancel <contract-id>", "Cancel an unstaked dispute as its initiator", cobra.ExactArgs(1),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Dispute, error) {
			return w.Engine.CancelDispute(ctx, args[0], who)
		}))
	c.AddCommand(disputeStep("assign <contract-id> <arbitrator>...", "Assign arbitrators (admin)", cobra.MinimumNArgs(2),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Dispute, error) {
			arbs := make([]address.Address, 0, len(args)-1)
			for _, raw := range args[1:] {
				a, err := identity("arbitrator", raw)
				if err != nil {
					return domain.Dispute{}, err
				}
				arbs = append(arbs, a)
			}
			return w.Engine.AssignArbitrators(ctx, args[0], arbs, who)
		}))
	c.AddCommand(disputeStep("vote <contract-id> <client|freelancer>", "Cast an arbitrator vote", cobra.ExactArgs(2),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Dispute, error) {
			var forClient bool
			switch strings.ToLower(args[1]) {
			case "client":
				forClient = true
			case "freelancer":
			default:
				return domain.Dispute{}, fmt.Errorf("vote must be client or freelancer, got %q", args[1])
			}
			return w.Engine.CastVote(ctx, args[0], forClient, who)
		}))
	return c
}

func disputeStep(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Dispute, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				d, err := fn(ctx, w, argv, who)
				if err != nil {
					return err
				}
				return printDispute(w, d)
			})
		},
	}
}

func printDispute(w *app.Workspace, d domain.Dispute) error {
	if viper.GetBool("json") {
		return printJSON(d)
	}
	fmt.Printf("dispute %s (round %d)  [%s]\n", d.Address, d.Round, d.Status)
	fmt.Printf("category:   %s\n", d.Category)
	fmt.Printf("reason:     %s\n", d.Reason)
	fmt.Printf("initiator:  %s\n", d.Initiator)
	fmt.Printf("stake:      %s  client=%t freelancer=%t\n", formatAmount(w, d.StakeAmount), d.ClientStaked, d.FreelancerStake)
	forClient, forFreelancer := d.Tally()
	fmt.Printf("votes:      client=%d freelancer=%d of %d arbitrators\n", forClient, forFreelancer, len(d.Arbitrators))
	return nil
}

func disputeOpenCmd() *cobra.Command {
	var category, reason, desc string
	cmd := &cobra.Command{
		Use:   "open <contract-id>",
		Short: "Open a dispute as a contract party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			cat, err := domain.ParseDisputeCategory(category)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				d, err := w.Engine.OpenDispute(ctx, engine.OpenDisputeOptions{
					ContractID:  args[0],
					Category:    cat,
					Reason:      reason,
					Description: desc,
					Actor:       who,
				})
				if err != nil {
					return err
				}
				return printDispute(w, d)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", string(domain.DisputeOther), "Quality, Deadline, Scope, Payment, Communication or Other")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show the dispute on a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				d, err := w.Engine.GetDispute(ctx, args[0])
				if err != nil {
					return err
				}
				return printDispute(w, d)
			})
		},
	}
}

func disputeListCmd() *cobra.Command {
	var status, arbitrator string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disputes",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.DisputeFilter{Limit: limit}
			if status != "" {
				s, err := domain.ParseDisputeStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			if arbitrator != "" {
				a, err := identity("arbitrator", arbitrator)
				if err != nil {
					return err
				}
				f.Arbitrator = &a
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListDisputes(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Dispute", "Contract", "Round", "Category", "Status", "Votes")
				for _, d := range items {
					tw.AppendRow(table.Row{short(d.Address), short(d.Contract), d.Round, d.Category, d.Status, len(d.Votes)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&arbitrator, "arbitrator", "", "only disputes assigned to this arbitrator")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}
