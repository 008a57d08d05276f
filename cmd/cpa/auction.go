package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"copyauction/internal/app"
	"copyauction/internal/domain"
	"copyauction/internal/engine"
	"copyauction/internal/repo"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Users are identified by email. A user needs a ledger address before it can start, bid on or end auctions.",
	}
	u.AddCommand(userAddCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userBindAddressCmd())
	u.AddCommand(userSetStatusCmd("disable", domain.UserDisabled))
	u.AddCommand(userSetStatusCmd("enable", domain.UserActive))
	return u
}

func userAddCmd() *cobra.Command {
	var email, username, address string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" || strings.TrimSpace(username) == "" {
				return fmt.Errorf("--email and --username are required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					Email:     email,
					Username:  username,
					Status:    domain.UserActive,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if address != "" {
					u.LedgerAddress = &address
				}
				id, err := r.InsertUser(ctx, u)
				if err != nil {
					return err
				}
				created, err := r.GetUser(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&username, "username", "", "display name")
	cmd.Flags().StringVar(&address, "address", "", "ledger address")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Email", "Username", "Status", "Ledger address")
				for _, u := range users {
					addr := ""
					if u.LedgerAddress != nil {
						addr = *u.LedgerAddress
					}
					tw.AppendRow(table.Row{u.ID, u.Email, u.Username, u.Status, addr})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userBindAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bind-address <email> <address>",
		Short: "Bind a ledger address to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserByEmail(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				if err := r.BindLedgerAddress(ctx, u.ID, args[1]); err != nil {
					return err
				}
				u, err = r.GetUser(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func userSetStatusCmd(use string, status domain.UserStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: fmt.Sprintf("Mark a user %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserByEmail(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				if err := r.SetUserStatus(ctx, u.ID, status); err != nil {
					return err
				}
				fmt.Printf("%s is %s\n", u.Email, status)
				return nil
			})
		},
	}
}

func workCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "work",
		Short: "Manage works",
		Long:  "Works mirror the ledger's work registry. The work id is the one the ledger assigned at registration.",
	}
	w.AddCommand(workAddCmd())
	w.AddCommand(workListCmd())
	w.AddCommand(workSetCopyrightCmd())
	return w
}

func workAddCmd() *cobra.Command {
	var id int64
	var owner, title, description, image, category, copyright string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a ledger-registered work",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 || owner == "" || title == "" {
				return fmt.Errorf("--id, --owner and --title are required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserByEmail(ctx, owner)
				if err != nil {
					return fmt.Errorf("owner %s: %w", owner, err)
				}
				now := time.Now().UTC().Format(time.RFC3339)
				w := domain.Work{
					WorkID:      id,
					OwnerID:     u.ID,
					Title:       title,
					Description: description,
					ImageURL:    image,
					Category:    category,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if copyright != "" {
					w.CopyrightID = &copyright
				}
				if err := r.InsertWork(ctx, w); err != nil {
					return err
				}
				created, err := r.GetWork(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "ledger work id")
	cmd.Flags().StringVar(&owner, "owner", "", "owner email")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&image, "image-url", "", "image url")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&copyright, "copyright", "", "copyright certificate id")
	return cmd
}

func workListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List works",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var ownerID int64
				if owner != "" {
					u, err := r.GetUserByEmail(ctx, owner)
					if err != nil {
						return fmt.Errorf("owner %s: %w", owner, err)
					}
					ownerID = u.ID
				}
				works, err := r.ListWorks(ctx, ownerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(works)
				}
				tw := newTable("Work", "Title", "Owner", "Copyright", "On auction")
				for _, w := range works {
					cert := ""
					if w.CopyrightID != nil {
						cert = *w.CopyrightID
					}
					tw.AppendRow(table.Row{w.WorkID, w.Title, w.OwnerID, cert, w.IsOnAuction})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner email filter")
	return cmd
}

func workSetCopyrightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-copyright <work_id> <certificate>",
		Short: "Record the copyright certificate of a work",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work id")
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SetCopyright(ctx, id, args[1], time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				w, err := r.GetWork(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func auctionCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "auction",
		Short: "Run auctions",
		Long: `Every mutating subcommand calls the ledger first and projects the outcome afterwards.
When a call ends without a receipt the outcome is unknown: check 'cpa auction status' before retrying.`,
	}
	a.AddCommand(auctionListCmd())
	a.AddCommand(auctionShowCmd())
	a.AddCommand(auctionStartCmd())
	a.AddCommand(auctionBidCmd())
	a.AddCommand(auctionEndCmd())
	a.AddCommand(auctionStatusCmd())
	a.AddCommand(auctionBidsCmd())
	return a
}

func auctionListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active auctions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if all {
					items, err := r.ListAuctions(ctx, "", 0)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(items)
					}
					tw := newTable("Auction", "Work", "Status", "Start", "Current", "Ends")
					for _, a := range items {
						tw.AppendRow(table.Row{a.AuctionID, a.WorkID, a.Status, a.StartPrice, a.CurrentPrice, a.EndTime})
					}
					tw.Render()
					return nil
				}
				items, err := r.ListActiveAuctionSummaries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Auction", "Work", "Title", "Seller", "Start", "Current", "Ends")
				for _, s := range items {
					tw.AppendRow(table.Row{s.AuctionID, s.WorkID, s.Title, s.SellerUsername, s.StartPrice, s.CurrentPrice, s.EndTime})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include ended auctions")
	return cmd
}

func auctionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <work_id>",
		Short: "Show the active auction of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workID, err := parseID(args[0], "work id")
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.GetAuctionDetail(ctx, workID, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Auction %d: %s (work %d, certificate %s)\n", d.AuctionID, d.Title, d.WorkID, d.CopyrightID)
				fmt.Printf("Seller %s, start %s, current %s, ends %s\n", d.SellerUsername, d.StartPrice, d.CurrentPrice, d.EndTime)
				tw := newTable("Bidder", "Amount", "Tx", "At")
				for _, b := range d.Bids {
					tw.AppendRow(table.Row{b.BidderUsername, b.Amount, shortHash(b.TxHash), b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func auctionStartCmd() *cobra.Command {
	var workID, duration int64
	var price string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an auction for a work you own",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := actingUser()
			if err != nil {
				return err
			}
			amount, err := domain.ParseAmount(price)
			if err != nil {
				return fmt.Errorf("invalid --price: %w", err)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.StartAuction(ctx, engine.StartAuctionRequest{
					Email:           email,
					WorkID:          workID,
					StartPrice:      amount,
					DurationSeconds: duration,
					Credential:      viper.GetString("credential"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Int64Var(&workID, "work", 0, "work id")
	cmd.Flags().StringVar(&price, "price", "", "start price")
	cmd.Flags().Int64Var(&duration, "duration", 3600, "duration in seconds")
	return cmd
}

func auctionBidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bid <auction_id> <amount>",
		Short: "Place a bid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := actingUser()
			if err != nil {
				return err
			}
			auctionID, err := parseID(args[0], "auction id")
			if err != nil {
				return err
			}
			amount, err := domain.ParseAmount(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.PlaceBid(ctx, engine.PlaceBidRequest{
					Email:      email,
					AuctionID:  auctionID,
					Amount:     amount,
					Credential: viper.GetString("credential"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func auctionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <auction_id>",
		Short: "End an auction you are selling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := actingUser()
			if err != nil {
				return err
			}
			auctionID, err := parseID(args[0], "auction id")
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.EndAuction(ctx, engine.EndAuctionRequest{
					Email:      email,
					AuctionID:  auctionID,
					Credential: viper.GetString("credential"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func auctionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <auction_id>",
		Short: "Compare the ledger's view of an auction with the projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auctionID, err := parseID(args[0], "auction id")
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				st, err := rt.Engine.LedgerAuctionStatus(ctx, auctionID)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func auctionBidsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bids <auction_id>",
		Short: "List accepted bids in ledger order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auctionID, err := parseID(args[0], "auction id")
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				bids, err := r.ListBids(ctx, auctionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bids)
				}
				tw := newTable("Block", "Index", "Bidder", "Amount", "Tx")
				for _, b := range bids {
					tw.AppendRow(table.Row{b.BlockNumber, b.TxIndex, b.BidderID, b.Amount, shortHash(b.TxHash)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	rc := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay confirmed ledger ops into the projection",
	}
	rc.AddCommand(reconcileRunCmd())
	rc.AddCommand(reconcileListCmd())
	return rc
}

func reconcileRunCmd() *cobra.Command {
	var opID string
	var limit int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay one op, or every confirmed op past the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if opID != "" {
					op, err := rt.Engine.ReconcileOp(ctx, opID)
					if err != nil {
						return err
					}
					return printJSONOrTable(op)
				}
				report, err := rt.Engine.ReconcilePending(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	cmd.Flags().StringVar(&opID, "op", "", "ledger op id")
	cmd.Flags().IntVar(&limit, "limit", 0, "max ops per pass (defaults to reconcile.batch)")
	return cmd
}

func reconcileListCmd() *cobra.Command {
	var f repo.LedgerOpFilters
	var status, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled ledger ops",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.LedgerOpStatus(status)
			f.Kind = domain.LedgerOpKind(kind)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ops, err := r.ListLedgerOps(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ops)
				}
				tw := newTable("ID", "Kind", "Status", "Auction", "Tx", "Attempts", "Error")
				for _, op := range ops {
					auction := ""
					if op.AuctionID != nil {
						auction = strconv.FormatInt(*op.AuctionID, 10)
					}
					tx := ""
					if op.TxHash != nil {
						tx = shortHash(*op.TxHash)
					}
					tw.AppendRow(table.Row{op.ID, op.Kind, op.Status, auction, tx, op.Attempts, op.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "submitted|confirmed|reconciled|failed|unknown")
	cmd.Flags().StringVar(&kind, "kind", "", "start_auction|place_bid|end_auction")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, raw)
	}
	return id, nil
}
