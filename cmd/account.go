package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/satriahrh/arunika/companion/internal/billing"
)

const accountTimeout = 30 * time.Second

func newAccountClient(b *base) *billing.AccountClient {
	return billing.NewAccountClient(b.cfg.Base.URL, b.identity.Token, &http.Client{Timeout: accountTimeout}, b.logger)
}

func newCheckoutCmd() *cobra.Command {
	var req billing.CheckoutRequest
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create a checkout session for a plan or a credits pack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			url, err := newAccountClient(b).CreateCheckout(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Open %s to complete the purchase\n", color.CyanString(url))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Type, "type", billing.CheckoutSubscription, "subscription or credits")
	cmd.Flags().StringVar(&req.Plan, "plan", "", "plan name for a subscription")
	cmd.Flags().IntVar(&req.Credits, "credits", 0, "credits pack size")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download all data the server keeps for this account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			data, err := newAccountClient(b).ExportData(cmd.Context())
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, data, "", "  "); err != nil {
				pretty.Reset()
				pretty.Write(data)
			}
			pretty.WriteByte('\n')

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(pretty.Bytes())
				return err
			}
			if err := os.WriteFile(out, pretty.Bytes(), 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported account data to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newDeleteAccountCmd() *cobra.Command {
	var password string
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Permanently delete the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete the account without --yes")
			}
			b, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := newAccountClient(b).DeleteAccount(cmd.Context(), password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("Account deleted"))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
