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
	"credchain/internal/skill"
)

func jobCmd() *cobra.Command {
	c := &cobra.Command{Use: "job", Short: "Badge-gated job board"}
	c.AddCommand(jobPostCmd())
	c.AddCommand(jobListCmd())
	c.AddCommand(jobShowCmd())
	c.AddCommand(jobEligibleCmd())
	c.AddCommand(jobApplyCmd())
	c.AddCommand(jobApplicationsCmd())
	c.AddCommand(jobDecisionCmd("accept", "Accept an application (employer)", func(ctx context.Context, e engine.Engine, jobID string, fl, who address.Address) (domain.Application, error) {
		return e.AcceptApplication(ctx, jobID, fl, who)
	}))
	c.AddCommand(jobDecisionCmd("reject", "Reject an application (employer)", func(ctx context.Context, e engine.Engine, jobID string, fl, who address.Address) (domain.Application, error) {
		return e.RejectApplication(ctx, jobID, fl, who)
	}))
	c.AddCommand(&cobra.Command{
		Use:   "withdraw <job-id>",
		Short: "Withdraw your pending application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				a, err := w.Engine.WithdrawApplication(ctx, args[0], who)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	c.AddCommand(jobMoveCmd("close", "Close an open job (employer)", engine.Engine.CloseJob))
	c.AddCommand(jobMoveCmd("complete", "Mark an in-progress job completed (employer)", engine.Engine.CompleteJob))
	return c
}

func jobPostCmd() *cobra.Command {
	var id, title, desc, budgetMin, budgetMax, jobType, duration, location string
	var badges []string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a job as the employer",
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			jt, err := domain.ParseJobType(jobType)
			if err != nil {
				return err
			}
			required, err := skill.ParseList(badges)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				opts := engine.PostJobOptions{
					JobID:          id,
					Title:          title,
					Description:    desc,
					JobType:        jt,
					Duration:       duration,
					Location:       location,
					RequiredBadges: required,
					Actor:          who,
				}
				if opts.BudgetMin, err = parseAmount(w, "budget-min", budgetMin); err != nil {
					return err
				}
				if opts.BudgetMax, err = parseAmount(w, "budget-max", budgetMax); err != nil {
					return err
				}
				j, err := w.Engine.PostJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJob(w, j)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&budgetMin, "budget-min", "", "minimum budget (decimal)")
	cmd.Flags().StringVar(&budgetMax, "budget-max", "", "maximum budget (decimal)")
	cmd.Flags().StringVar(&jobType, "type", string(domain.JobFreelance), "FullTime, PartTime, Contract or Freelance")
	cmd.Flags().StringVar(&duration, "duration", "", "expected duration")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringArrayVar(&badges, "require", nil, "required badge skill (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("budget-min")
	_ = cmd.MarkFlagRequired("budget-max")
	return cmd
}

func skillNames(cs []skill.Category) string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

func printJob(w *app.Workspace, j domain.Job) error {
	if viper.GetBool("json") {
		return printJSON(j)
	}
	fmt.Printf("%s  %s  [%s]\n", j.JobID, j.Title, j.Status)
	fmt.Printf("employer:   %s\n", j.Employer)
	fmt.Printf("budget:     %s - %s (%s)\n", formatAmount(w, j.BudgetMin), formatAmount(w, j.BudgetMax), j.JobType)
	fmt.Printf("requires:   %s\n", skillNames(j.RequiredBadges))
	fmt.Printf("applicants: %d\n", j.ApplicantCount)
	if j.HiredFreelancer != nil {
		fmt.Printf("hired:      %s\n", *j.HiredFreelancer)
	}
	return nil
}

func jobListCmd() *cobra.Command {
	var status, employer, skillName string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.JobFilter{Limit: limit}
			if status != "" {
				s, err := domain.ParseJobStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			if employer != "" {
				e, err := identity("employer", employer)
				if err != nil {
					return err
				}
				f.Employer = &e
			}
			if skillName != "" {
				sk, err := parseSkill(skillName)
				if err != nil {
					return err
				}
				f.Skill = sk
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Status", "Type", "Budget", "Requires", "Applicants")
				for _, j := range items {
					budget := formatAmount(w, j.BudgetMin) + "-" + formatAmount(w, j.BudgetMax)
					tw.AppendRow(table.Row{j.JobID, j.Title, j.Status, j.JobType, budget, skillNames(j.RequiredBadges), j.ApplicantCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&employer, "employer", "", "employer identity")
	cmd.Flags().StringVar(&skillName, "skill", "", "required skill")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				j, err := w.Engine.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJob(w, j)
			})
		},
	}
}

func jobEligibleCmd() *cobra.Command {
	var candidate string
	cmd := &cobra.Command{
		Use:   "eligible <job-id>",
		Short: "Check whether a candidate holds every required badge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cand, err := actorOr("candidate", candidate)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				el, err := w.Engine.CanApply(ctx, cand, args[0], w.Engine.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(el)
				}
				if el.CanApply {
					fmt.Printf("%s can apply to %s\n", cand, args[0])
					return nil
				}
				fmt.Printf("%s cannot apply to %s; missing: %s\n", cand, args[0], skillNames(el.Missing))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate identity (default: --actor)")
	return cmd
}

func jobApplyCmd() *cobra.Command {
	var cover, budget, timeline, portfolio string
	cmd := &cobra.Command{
		Use:   "apply <job-id>",
		Short: "Apply to a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				proposed, err := parseAmount(w, "budget", budget)
				if err != nil {
					return err
				}
				a, err := w.Engine.ApplyToJob(ctx, engine.ApplyOptions{
					JobID:          args[0],
					CoverLetter:    cover,
					ProposedBudget: proposed,
					Timeline:       timeline,
					PortfolioURL:   portfolio,
					Actor:          who,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&cover, "cover-letter", "", "cover letter")
	cmd.Flags().StringVar(&budget, "budget", "", "proposed budget (decimal)")
	cmd.Flags().StringVar(&timeline, "timeline", "", "proposed timeline")
	cmd.Flags().StringVar(&portfolio, "portfolio", "", "portfolio URL")
	_ = cmd.MarkFlagRequired("cover-letter")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func jobApplicationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applications <job-id>",
		Short: "List applications to a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListApplications(ctx, args[0], nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Freelancer", "Status", "Budget", "Timeline", "Applied")
				for _, a := range items {
					tw.AppendRow(table.Row{a.Freelancer, a.Status, formatAmount(w, a.ProposedBudget), a.Timeline, a.AppliedAt.Format("2006-01-02")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func jobDecisionCmd(use, short string, fn func(ctx context.Context, e engine.Engine, jobID string, fl, who address.Address) (domain.Application, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id> <freelancer>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			fl, err := identity("freelancer", args[1])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				a, err := fn(ctx, w.Engine, args[0], fl, who)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func jobMoveCmd(use, short string, fn func(engine.Engine, context.Context, string, address.Address) (domain.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				j, err := fn(w.Engine, ctx, args[0], who)
				if err != nil {
					return err
				}
				return printJob(w, j)
			})
		},
	}
}
