package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"credchain/internal/address"
	"credchain/internal/app"
	"credchain/internal/config"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/events"
	"credchain/internal/ledger"
	"credchain/internal/repo"
	"credchain/internal/server"
)

func addressCmd() *cobra.Command {
	c := &cobra.Command{Use: "address", Short: "Deterministic address derivation"}
	var contractID, jobID, ident, skillName string
	var nonce uint64
	derive := &cobra.Command{
		Use:       "derive <kind>",
		Short:     "Derive the address of a record",
		Args:      cobra.ExactArgs(1),
		ValidArgs: engine.DeriveKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := engine.DeriveParams{ContractID: contractID, JobID: jobID, Nonce: nonce}
			if ident != "" {
				id, err := identity("identity", ident)
				if err != nil {
					return err
				}
				p.Identity = id
			}
			if skillName != "" {
				sk, err := parseSkill(skillName)
				if err != nil {
					return err
				}
				p.Skill = sk
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				pda, err := w.Engine.Derive(args[0], p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pda)
				}
				fmt.Printf("%s (bump %d)\n", pda.Address, pda.Bump)
				return nil
			})
		},
	}
	derive.Flags().StringVar(&contractID, "contract", "", "contract id")
	derive.Flags().StringVar(&jobID, "job", "", "job id")
	derive.Flags().StringVar(&ident, "identity", "", "candidate, party or freelancer identity")
	derive.Flags().StringVar(&skillName, "skill", "", "skill category")
	derive.Flags().Uint64Var(&nonce, "nonce", 0, "session or test nonce")
	c.AddCommand(derive)
	return c
}

func walletCmd() *cobra.Command {
	c := &cobra.Command{Use: "wallet", Short: "Token balances and the transfer journal"}

	var token string
	credit := &cobra.Command{
		Use:   "credit <owner> <amount>",
		Short: "Mint test funds into a wallet (admin)",
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
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				amt, err := parseAmount(w, "amount", args[1])
				if err != nil {
					return err
				}
				tok := w.Config.DefaultToken()
				if token != "" {
					if tok, err = identity("token", token); err != nil {
						return err
					}
				}
				bal, err := w.Engine.CreditWallet(ctx, owner, tok, amt, who)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bal)
				}
				fmt.Printf("%s balance: %s\n", owner, formatAmount(w, bal.Amount))
				return nil
			})
		},
	}
	credit.Flags().StringVar(&token, "token", "", "token (default: workspace token)")
	c.AddCommand(credit)

	var showOwner string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show wallet balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actorOr("owner", showOwner)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.WalletBalances(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Token", "Balance")
				for _, b := range items {
					tw.AppendRow(table.Row{b.Token, formatAmount(w, b.Amount)})
				}
				tw.Render()
				return nil
			})
		},
	}
	show.Flags().StringVar(&showOwner, "owner", "", "owner identity (default: --actor)")
	c.AddCommand(show)

	var histOwner, histRef string
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := ledger.EntryFilter{Limit: limit}
			if histOwner != "" {
				o, err := identity("owner", histOwner)
				if err != nil {
					return err
				}
				f.Owner = &o
			}
			if histRef != "" {
				r, err := identity("reference", histRef)
				if err != nil {
					return err
				}
				f.Reference = &r
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.LedgerEntries(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "When", "From", "To", "Amount", "Reason")
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), short(e.From), short(e.To), formatAmount(w, e.Amount), e.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	history.Flags().StringVar(&histOwner, "owner", "", "either side of the movement")
	history.Flags().StringVar(&histRef, "reference", "", "contract or dispute address")
	history.Flags().IntVar(&limit, "limit", 100, "max rows")
	c.AddCommand(history)
	return c
}

func roleCmd() *cobra.Command {
	c := &cobra.Command{Use: "role", Short: "Grant and revoke platform roles"}
	change := func(use, short string, grant bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <identity> <admin|arbitrator>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				who, err := actor()
				if err != nil {
					return err
				}
				id, err := identity("identity", args[0])
				if err != nil {
					return err
				}
				role, err := domain.ParseRole(args[1])
				if err != nil {
					return err
				}
				return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
					if grant {
						err = w.Engine.GrantRole(ctx, id, role, who)
					} else {
						err = w.Engine.RevokeRole(ctx, id, role, who)
					}
					if err != nil {
						return err
					}
					roles, err := w.Engine.Roles(ctx, id)
					if err != nil {
						return err
					}
					return printJSONOrTable(map[string]any{"identity": id, "roles": roles})
				})
			},
		}
	}
	c.AddCommand(change("grant", "Grant a role (admin)", true))
	c.AddCommand(change("revoke", "Revoke a role (admin)", false))
	c.AddCommand(&cobra.Command{
		Use:   "list <admin|arbitrator>",
		Short: "List holders of a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				grants, err := w.Engine.RoleGrants(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(grants)
				}
				tw := newTable("Identity", "Granted By", "Granted At")
				for _, g := range grants {
					tw.AppendRow(table.Row{g.ActorID, g.GrantedBy, g.GrantedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				key, secret, err := w.Engine.CreateAPIKey(ctx, who, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, secret)
				fmt.Println("store the key now; only its hash is kept")
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	c.AddCommand(create)

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *address.Address
			if owner != "" {
				o, err := identity("owner", owner)
				if err != nil {
					return err
				}
				filter = &o
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				keys, err := w.Engine.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Identity", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "owner identity")
	c.AddCommand(list)

	c.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				if err := w.Engine.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	return c
}

func authCmd() *cobra.Command {
	c := &cobra.Command{Use: "auth", Short: "Server credentials"}
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --actor with CREDCHAIN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			env, err := config.ParseServerEnv()
			if err != nil {
				return err
			}
			if env.JWTSecret == "" {
				return errors.New("CREDCHAIN_JWT_SECRET is not set")
			}
			tok, err := server.SignToken(env.JWTSecret, who, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	c.AddCommand(token)
	return c
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default credchain.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	c.AddCommand(initCmd)
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate credchain.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "The append-only event log"}
	var f repo.EventFilter
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				evts, err := w.Engine.Repo.LatestEvents(ctx, limit, 0, f)
				if err != nil {
					return err
				}
				return printEvents(evts)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "max events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity", "", "entity address")
	tail.Flags().StringVar(&f.ActorID, "by", "", "actor identity")
	c.AddCommand(tail)

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export the whole log as zstd-compressed JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				evts, err := w.Engine.Repo.AllEvents(ctx, repo.EventFilter{})
				if err != nil {
					return err
				}
				if err := events.WriteArchiveFile(out, evts); err != nil {
					return err
				}
				fmt.Printf("exported %d events to %s\n", len(evts), out)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "events.jsonl.zst", "archive path")
	c.AddCommand(export)

	c.AddCommand(&cobra.Command{
		Use:   "read <archive>",
		Short: "Print events from an exported archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()
			evts, err := events.ReadArchive(fh)
			if err != nil {
				return err
			}
			return printEvents(evts)
		},
	})
	return c
}

func printEvents(evts []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(evts)
	}
	tw := newTable("ID", "When", "Type", "Entity", "Actor")
	for _, e := range evts {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += " " + e.EntityID
		}
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID})
	}
	tw.Render()
	return nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Platform counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, err := w.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable("Counter", "Value")
				tw.AppendRow(table.Row{"contracts created", s.ContractsCreated})
				tw.AppendRow(table.Row{"disputes opened", s.DisputesOpened})
				tw.AppendRow(table.Row{"badges minted", s.BadgesMinted})
				tw.AppendRow(table.Row{"certificates issued", s.CertificatesIssued})
				tw.AppendRow(table.Row{"jobs posted", s.JobsPosted})
				tw.AppendRow(table.Row{"applications submitted", s.ApplicationsSubmitted})
				tw.Render()
				return nil
			})
		},
	}
}
