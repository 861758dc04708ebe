package main

import (
	"context"
	"fmt"
	"strconv"
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

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Manage escrow contracts"}
	c.AddCommand(contractCreateCmd())
	c.AddCommand(contractShowCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractDepositCmd())
	c.AddCommand(contractNDACmd())
	c.AddCommand(contractSubmitCmd())
	c.AddCommand(contractReviseCmd())
	c.AddCommand(contractApproveCmd())
	c.AddCommand(contractCertifyCmd())
	return c
}

// parseMilestone reads "title|amount|deadline".
func parseMilestone(w *app.Workspace, raw string) (engine.MilestoneInput, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return engine.MilestoneInput{}, fmt.Errorf("--milestone %q: want title|amount|deadline", raw)
	}
	amt, err := parseAmount(w, "milestone", strings.TrimSpace(parts[1]))
	if err != nil {
		return engine.MilestoneInput{}, err
	}
	deadline, err := parseDeadline(strings.TrimSpace(parts[2]))
	if err != nil {
		return engine.MilestoneInput{}, err
	}
	return engine.MilestoneInput{Title: strings.TrimSpace(parts[0]), Amount: amt, Deadline: deadline}, nil
}

func contractCreateCmd() *cobra.Command {
	var id, title, desc, freelancer, total, token string
	var milestones []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contract as the client",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := actor()
			if err != nil {
				return err
			}
			fl, err := identity("freelancer", freelancer)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				opts := engine.CreateContractOptions{
					ContractID:  id,
					Title:       title,
					Description: desc,
					Client:      client,
					Freelancer:  fl,
					Actor:       client,
				}
				if opts.TotalAmount, err = parseAmount(w, "total", total); err != nil {
					return err
				}
				if token != "" {
					if opts.PaymentToken, err = identity("token", token); err != nil {
						return err
					}
				}
				for _, raw := range milestones {
					m, err := parseMilestone(w, raw)
					if err != nil {
						return err
					}
					opts.Milestones = append(opts.Milestones, m)
				}
				c, err := w.Engine.CreateContract(ctx, opts)
				if err != nil {
					return err
				}
				return printContract(w, c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "contract id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&freelancer, "freelancer", "", "freelancer identity")
	cmd.Flags().StringVar(&total, "total", "", "total amount (decimal)")
	cmd.Flags().StringVar(&token, "token", "", "payment token (default: workspace token)")
	cmd.Flags().StringArrayVar(&milestones, "milestone", nil, "milestone as title|amount|deadline (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("freelancer")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func printContract(w *app.Workspace, c domain.Contract) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	fmt.Printf("%s  %s  [%s]\n", c.ContractID, c.Title, c.Status)
	fmt.Printf("address:    %s\n", c.Address)
	fmt.Printf("client:     %s\n", c.Client)
	fmt.Printf("freelancer: %s\n", c.Freelancer)
	fmt.Printf("paid:       %s / %s\n", formatAmount(w, c.PaidAmount), formatAmount(w, c.TotalAmount))
	fmt.Printf("nda:        client=%t freelancer=%t\n", c.NDASignedClient, c.NDASignedFreelancer)
	tw := newTable("#", "Title", "Amount", "Deadline", "Status", "Revisions", "Deliverables")
	for _, m := range c.Milestones {
		tw.AppendRow(table.Row{m.Index, m.Title, formatAmount(w, m.Amount), m.Deadline.Format("2006-01-02"), m.Status, m.RevisionCount, len(m.Deliverables)})
	}
	tw.Render()
	return nil
}

func contractShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				c, err := w.Engine.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printContract(w, c)
			})
		},
	}
}

func contractListCmd() *cobra.Command {
	var party, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ContractFilter{Limit: limit}
			if party != "" {
				p, err := identity("party", party)
				if err != nil {
					return err
				}
				f.Party = &p
			}
			if status != "" {
				s, err := domain.ParseContractStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListContracts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Status", "Client", "Freelancer", "Paid", "Total")
				for _, c := range items {
					tw.AppendRow(table.Row{c.ContractID, c.Title, c.Status, short(c.Client), short(c.Freelancer), formatAmount(w, c.PaidAmount), formatAmount(w, c.TotalAmount)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&party, "party", "", "client or freelancer identity")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

// contractStep runs a mutation that needs only the acting identity.
func contractStep(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Contract, error)) *cobra.Command {
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
				c, err := fn(ctx, w, argv, who)
				if err != nil {
					return err
				}
				return printContract(w, c)
			})
		},
	}
}

func milestoneArg(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("milestone index %q must be a non-negative integer", raw)
	}
	return n, nil
}

func contractDepositCmd() *cobra.Command {
	return contractStep("deposit <contract-id> <amount>", "Fund escrow as the client", cobra.ExactArgs(2),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Contract, error) {
			amt, err := parseAmount(w, "amount", args[1])
			if err != nil {
				return domain.Contract{}, err
			}
			return w.Engine.DepositEscrow(ctx, args[0], amt, who)
		})
}

func contractNDACmd() *cobra.Command {
	return contractStep("nda <contract-id>", "Sign the contract NDA", cobra.ExactArgs(1),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Contract, error) {
			return w.Engine.SignNDA(ctx, args[0], who)
		})
}

func contractSubmitCmd() *cobra.Command {
	var ref, file, desc string
	cmd := contractStep("submit <contract-id> <milestone>", "Submit a deliverable as the freelancer", cobra.ExactArgs(2),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Contract, error) {
			idx, err := milestoneArg(args[1])
			if err != nil {
				return domain.Contract{}, err
			}
			return w.Engine.SubmitDeliverable(ctx, engine.SubmitDeliverableOptions{
				ContractID:     args[0],
				MilestoneIndex: idx,
				ContentRef:     ref,
				FileName:       file,
				Description:    desc,
				Actor:          who,
			})
		})
	cmd.Flags().StringVar(&ref, "ref", "", "content reference (e.g. an IPFS CID)")
	cmd.Flags().StringVar(&file, "file-name", "", "file name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func contractReviseCmd() *cobra.Command {
	var reason string
	cmd := contractStep("revise <contract-id> <milestone>", "Request a revision as the client", cobra.ExactArgs(2),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Contract, error) {
			idx, err := milestoneArg(args[1])
			if err != nil {
				return domain.Contract{}, err
			}
			return w.Engine.RequestRevision(ctx, args[0], idx, reason, who)
		})
	cmd.Flags().StringVar(&reason, "reason", "", "revision notes")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func contractApproveCmd() *cobra.Command {
	return contractStep("approve <contract-id> <milestone>", "Approve a milestone and release payment", cobra.ExactArgs(2),
		func(ctx context.Context, w *app.Workspace, args []string, who address.Address) (domain.Contract, error) {
			idx, err := milestoneArg(args[1])
			if err != nil {
				return domain.Contract{}, err
			}
			return w.Engine.ApproveMilestone(ctx, args[0], idx, who)
		})
}

func contractCertifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "certify <contract-id>",
		Short: "Issue the completion certificate for the acting party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				cert, err := w.Engine.IssueCertificate(ctx, args[0], who)
				if err != nil {
					return err
				}
				return printJSONOrTable(cert)
			})
		},
	}
}

func sessionCmd() *cobra.Command {
	c := &cobra.Command{Use: "session", Short: "Track work sessions against milestones"}
	c.AddCommand(&cobra.Command{
		Use:   "start <contract-id> <milestone> <nonce>",
		Short: "Start a work session",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			idx, err := milestoneArg(args[1])
			if err != nil {
				return err
			}
			nonce, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("nonce: %w", err)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, err := w.Engine.StartSession(ctx, args[0], idx, nonce, who)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "end <contract-id> <nonce>",
		Short: "End a work session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			nonce, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("nonce: %w", err)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, err := w.Engine.EndSession(ctx, args[0], nonce, who)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "list <contract-id>",
		Short: "List work sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListSessions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Nonce", "Milestone", "Started", "Ended", "Seconds")
				for _, s := range items {
					ended := ""
					if s.EndedAt != nil {
						ended = s.EndedAt.Format("2006-01-02 15:04")
					}
					tw.AppendRow(table.Row{s.Nonce, s.MilestoneIndex, s.StartedAt.Format("2006-01-02 15:04"), ended, s.DurationSeconds})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}
