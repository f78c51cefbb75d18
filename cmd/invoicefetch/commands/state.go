package commands

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"invoicefetch/lib/invoicestore"

	"github.com/antzucaro/matchr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	stateListCmd.Flags().String("order", "", "Only list invoices recorded for this order id.")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateFindCmd)
	stateCmd.AddCommand(stateStatsCmd)
	rootCmd.AddCommand(stateCmd)
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Diagnostics over the processed-invoice state database.",
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

var stateListCmd = &cobra.Command{
	Use:   "list [--order <id>]",
	Short: "Lists the invoices recorded as processed.",
	Run: func(cmd *cobra.Command, args []string) {
		store, cleanup := openStore()
		defer cleanup()

		orderID, err := cmd.Flags().GetString("order")
		if err != nil {
			log.Fatal(err)
		}

		var records []invoicestore.Record
		if orderID != "" {
			records, err = store.ListForOrder(cmd.Context(), orderID)
		} else {
			records, err = store.List(cmd.Context())
		}
		if err != nil {
			log.Fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Order", "Invoice Ref", "Local Path", "Remote ID", "Recorded"})
		for _, rec := range records {
			t.AppendRow(table.Row{
				rec.OrderID,
				rec.Ref,
				rec.LocalPath,
				rec.RemoteID,
				rec.RecordedAt.Format(time.ANSIC),
			})
		}
		t.Render()
	},
}

var stateFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Fuzzy-searches observed orders by id, for locating an order from a partial or garbled number.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, cleanup := openStore()
		defer cleanup()

		orders, err := store.Orders(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		query := strings.ToLower(args[0])
		type match struct {
			order       invoicestore.OrderRow
			correlation float64
		}
		matches := make([]match, len(orders))
		for i, order := range orders {
			matches[i] = match{
				order:       order,
				correlation: matchr.JaroWinkler(query, strings.ToLower(order.OrderID), false),
			}
		}
		sort.SliceStable(matches, func(a, b int) bool {
			return matches[a].correlation > matches[b].correlation
		})
		if len(matches) > 10 {
			matches = matches[:10]
		}

		t := newTable()
		t.AppendHeader(table.Row{"Order", "Date", "Total", "Invoices", "Correlation"})
		for _, m := range matches {
			t.AppendRow(table.Row{
				m.order.OrderID,
				m.order.Date,
				m.order.Total,
				m.order.InvoiceCount,
				fmt.Sprintf("%.3f", m.correlation),
			})
		}
		t.Render()
	},
}

var stateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows state database totals.",
	Run: func(cmd *cobra.Command, args []string) {
		store, cleanup := openStore()
		defer cleanup()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		t := newTable()
		t.AppendRow(table.Row{"Orders observed", stats.Orders})
		t.AppendRow(table.Row{"Invoices recorded", stats.Invoices})
		t.AppendRow(table.Row{"Delivered locally", stats.LocalDeliveries})
		t.AppendRow(table.Row{"Uploaded to paperless", stats.RemoteUploads})
		t.Render()
	},
}
