package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "bourse/internal/cli"
	"bourse/internal/config"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "bst",
		Short:        "Bourse market client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newStocksCmd(&apiBase),
		newNewsCmd(&apiBase),
		newOrderCmd(&apiBase),
		newRankCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("not logged in: run `bst login` first")
	}
	return session, nil
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Username (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := cmdContext(cmd)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, username)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `bst login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login and store a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show wallet and positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Dashboard(ctx, session.AccessToken)
			if err != nil {
				return err
			}

			var dash struct {
				Phase               string  `json:"phase"`
				BalanceMicros       float64 `json:"balance_micros"`
				PortfolioMicros     float64 `json:"portfolio_micros"`
				PeakPortfolioMicros float64 `json:"peak_portfolio_micros"`
				Positions           []struct {
					Ticker           string  `json:"ticker"`
					QuantityUnits    float64 `json:"quantity_units"`
					AvgPriceMicros   float64 `json:"avg_price_micros"`
					PriceMicros      float64 `json:"price_micros"`
					UnrealizedMicros float64 `json:"unrealized_micros"`
				} `json:"positions"`
			}
			if err := decodePayload(out, &dash); err != nil {
				return err
			}

			printHeader(fmt.Sprintf("Market %s | balance %s | portfolio %s (peak %s)",
				dash.Phase, points(dash.BalanceMicros), points(dash.PortfolioMicros), points(dash.PeakPortfolioMicros)))
			if len(dash.Positions) == 0 {
				printInfo("No open positions.")
				return nil
			}
			for _, p := range dash.Positions {
				line := fmt.Sprintf("%-8s %10s sh  avg %10s  now %10s  unrealized %10s",
					p.Ticker, shares(p.QuantityUnits), points(p.AvgPriceMicros), points(p.PriceMicros), points(p.UnrealizedMicros))
				if p.UnrealizedMicros < 0 {
					danger.Println(line)
				} else {
					success.Println(line)
				}
			}
			return nil
		},
	}
}

func newStocksCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stocks [ticker]",
		Short: "List instruments, or show one with its price series",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			client := newClient(apiBase)

			if len(args) == 1 {
				out, err := client.StockDetail(ctx, session.AccessToken, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			}

			out, err := client.ListStocks(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			var payload struct {
				Stocks []struct {
					Ticker          string  `json:"ticker"`
					DisplayName     string  `json:"display_name"`
					Sector          string  `json:"sector"`
					PriceMicros     float64 `json:"price_micros"`
					LastCloseMicros float64 `json:"last_close_micros"`
				} `json:"stocks"`
			}
			if err := decodePayload(out, &payload); err != nil {
				return err
			}
			for _, s := range payload.Stocks {
				line := fmt.Sprintf("%-8s %-24s %-10s %10s (close %s)",
					s.Ticker, s.DisplayName, s.Sector, points(s.PriceMicros), points(s.LastCloseMicros))
				if s.PriceMicros < s.LastCloseMicros {
					danger.Println(line)
				} else {
					success.Println(line)
				}
			}
			return nil
		},
	}
	return cmd
}

func newNewsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "news",
		Short: "Show active market events",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).News(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			var payload struct {
				Events []struct {
					Headline  string   `json:"headline"`
					Sentiment string   `json:"sentiment"`
					ImpactBps float64  `json:"impact_bps"`
					Sectors   []string `json:"sectors"`
				} `json:"events"`
			}
			if err := decodePayload(out, &payload); err != nil {
				return err
			}
			if len(payload.Events) == 0 {
				printInfo("No active events.")
				return nil
			}
			for _, e := range payload.Events {
				scope := "market-wide"
				if len(e.Sectors) > 0 {
					scope = strings.Join(e.Sectors, ",")
				}
				line := fmt.Sprintf("[%s] %s (%+.0f bps, %s)", e.Sentiment, e.Headline, e.ImpactBps, scope)
				switch e.Sentiment {
				case "positive":
					success.Println(line)
				case "negative":
					danger.Println(line)
				default:
					neutral.Println(line)
				}
			}
			return nil
		},
	}
}

func newOrderCmd(apiBase *string) *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage conditional orders",
	}

	create := &cobra.Command{
		Use:   "create <ticker> <buy|sell> <price_above|price_below|profit_rate> <target> <quantity>",
		Short: "Place a conditional order (escrow is taken immediately)",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			target, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid target %q", args[3])
			}
			qty, err := strconv.ParseFloat(args[4], 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[4])
			}
			days, _ := cmd.Flags().GetInt("days")

			body := map[string]any{
				"ticker":          strings.ToUpper(args[0]),
				"order_type":      strings.ToLower(args[1]),
				"condition_type":  strings.ToLower(args[2]),
				"quantity":        qty,
				"expires_in_days": days,
			}
			if strings.ToLower(args[2]) == "profit_rate" {
				body["target_rate_percent"] = target
			} else {
				body["target_price"] = target
			}

			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).CreateConditionalOrder(ctx, session.AccessToken, uuid.NewString(), body)
			if err != nil {
				return err
			}
			printSuccess("Order placed.")
			printJSON(out)
			return nil
		},
	}
	create.Flags().Int("days", 7, "days until the order expires at market close")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your conditional orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			status, _ := cmd.Flags().GetString("status")
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).ListConditionalOrders(ctx, session.AccessToken, status)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	list.Flags().String("status", "", "filter: pending, executed, cancelled, expired")

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending order and release its escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(apiBase).CancelConditionalOrder(ctx, session.AccessToken, id); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Order %d cancelled, escrow refunded.", id))
			return nil
		},
	}

	order.AddCommand(create, list, cancelCmd)
	return order
}

func newRankCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Show your ladder standing",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Rank(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			var view struct {
				Tier         string  `json:"tier"`
				Division     float64 `json:"division"`
				RankPoints   float64 `json:"rank_points"`
				PeakTier     string  `json:"peak_tier"`
				PeakDivision float64 `json:"peak_division"`
				Shield       float64 `json:"demotion_shield"`
			}
			if err := decodePayload(out, &view); err != nil {
				return err
			}
			standing := view.Tier
			if view.Division > 0 {
				standing = fmt.Sprintf("%s %d", view.Tier, int(view.Division))
			}
			peak := view.PeakTier
			if view.PeakDivision > 0 {
				peak = fmt.Sprintf("%s %d", view.PeakTier, int(view.PeakDivision))
			}
			printHeader(fmt.Sprintf("%s — %d RP (peak %s)", standing, int(view.RankPoints), peak))
			if view.Shield > 0 {
				printInfo(fmt.Sprintf("Demotion shield: %d games", int(view.Shield)))
			}
			return nil
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the season ladder",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx, session.AccessToken, limit)
			if err != nil {
				return err
			}
			var payload struct {
				Leaderboard []struct {
					Rank       float64 `json:"rank"`
					Username   string  `json:"username"`
					Tier       string  `json:"tier"`
					Division   float64 `json:"division"`
					RankPoints float64 `json:"rank_points"`
				} `json:"leaderboard"`
			}
			if err := decodePayload(out, &payload); err != nil {
				return err
			}
			for _, row := range payload.Leaderboard {
				standing := row.Tier
				if row.Division > 0 {
					standing = fmt.Sprintf("%s %d", row.Tier, int(row.Division))
				}
				printInfo(fmt.Sprintf("%3d. %-20s %-14s %3d RP", int(row.Rank), row.Username, standing, int(row.RankPoints)))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "number of rows")
	return cmd
}
