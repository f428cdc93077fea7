package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/studiodesk/studiodesk/internal/app/runtime"
	"github.com/studiodesk/studiodesk/internal/app/services/referrals"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// withApplication builds the application against the configured stores
// without starting the HTTP server or the background workers.
func withApplication(cmd *cobra.Command, fn func(*runtime.Application) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Logger())
	application, err := runtime.NewApplication(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("shutdown failed")
		}
	}()
	return fn(application)
}

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Referral commission payouts",
	}

	var period string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create pending payments for a month (defaults to the previous month)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, func(a *runtime.Application) error {
				p := period
				if p == "" {
					p = referrals.PreviousPeriod(time.Now().In(a.App().Appointments.Location()))
				}
				payments, err := a.App().Referrals.GeneratePayments(cmd.Context(), p)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tREFERRER\tPERIOD\tAMOUNT\tSTATUS")
				for _, pay := range payments {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", pay.ID, pay.ReferrerID, pay.Period, formatCents(pay.AmountCents), pay.Status)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d payment(s) for %s\n", len(payments), p)
				return nil
			})
		},
	}
	generate.Flags().StringVar(&period, "period", "", "billing month as YYYY-MM")
	cmd.AddCommand(generate)
	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner account administration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "promote <username>",
		Short: "Grant the admin role to an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(a *runtime.Application) error {
				owner, err := a.App().Tenants.PromoteAdmin(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", owner.Username, owner.ID, owner.Role)
				return nil
			})
		},
	})
	return cmd
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s.%02d", sign, humanize.Comma(cents/100), cents%100)
}
