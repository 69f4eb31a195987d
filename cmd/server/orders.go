package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	"github.com/spf13/cobra"
)

// OrdersOptions holds flags for the orders command.
type OrdersOptions struct {
	*RootOptions
	JSON bool
}

// NewOrdersCommand creates the orders command, which prints the event
// history of one workflow.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrdersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "orders <correlation-id>",
		Short: "Show the event history of a workflow",
		Long: `Show every event recorded for one correlation ID in log order and
whether the sequence follows the buy or sell path.

Examples:
  orchestrator orders 6f1c2b9e-8d3a-4a57-9a0e-2f6b1d4c8e90
  orchestrator orders 6f1c2b9e-8d3a-4a57-9a0e-2f6b1d4c8e90 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := store.Open(ctx, opts.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer st.Close()

			history, err := st.History(ctx, args[0])
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("no events for %s", args[0])
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tKIND\tDETAIL")
			for _, e := range history {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04:05.000"), e.Kind, detail(e))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			kinds := make([]domain.Kind, len(history))
			for i, e := range history {
				kinds[i] = e.Kind
			}
			if err := engine.ValidateSequence(kinds); err != nil {
				fmt.Fprintf(out, "\nsequence: INVALID (%v)\n", err)
				return nil
			}
			if next, ok := engine.NextKind(kinds); ok {
				fmt.Fprintf(out, "\nsequence: valid, next %s\n", next)
			} else {
				fmt.Fprintln(out, "\nsequence: complete")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print events as JSON")
	return cmd
}

// detail summarises the values a kind introduces.
func detail(e domain.Event) string {
	switch e.Kind {
	case domain.KindBuyOrderCreated, domain.KindSellOrderCreated:
		return "amount=" + e.OrderAmount.Decimal.String()
	case domain.KindSettlementReceived:
		return fmt.Sprintf("received=%s fee=%s net=%s", e.SettlementReceived.Decimal, e.BuyFee.Decimal, e.NetBuyValue.Decimal)
	case domain.KindTokenReceived:
		return "tokens=" + e.TokenReceived.Decimal.String()
	case domain.KindAssetPurchased:
		return fmt.Sprintf("qty=%s price=%s", e.MintQuantity.Decimal, e.MintPrice.Decimal)
	case domain.KindAssetSold:
		return fmt.Sprintf("qty=%s price=%s net=%s", e.BurnQuantity.Decimal, e.BurnPrice.Decimal, e.SellNetValue.Decimal)
	case domain.KindRedemptionSettled:
		return "sent=" + e.RedemptionSent.Decimal.String()
	}
	if e.SettlementTxHash != nil {
		return "tx=" + *e.SettlementTxHash
	}
	if e.InitiationTxHash != nil {
		return "tx=" + *e.InitiationTxHash
	}
	return ""
}
