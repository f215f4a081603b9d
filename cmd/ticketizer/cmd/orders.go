package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ticketizer/ledger"
	"github.com/jmcleod/ticketizer/rail"
)

func printReceipts(w io.Writer, receipts []ledger.Receipt) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Order\tTrain\tDeparture\tFrom\tTo\tPassengers\tBooked")
	for _, r := range receipts {
		names := make([]string, 0, len(r.Seats))
		for _, s := range r.Seats {
			names = append(names, s.Passenger)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.OrderID,
			r.Train,
			r.DepartureAt.In(rail.Location).Format("2006-01-02 15:04"),
			r.Departure,
			r.Destination,
			strings.Join(names, ", "),
			r.Created.In(rail.Location).Format("2006-01-02 15:04"),
		)
	}
	return tw.Flush()
}

func newOrdersCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		remove     string
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders placed from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			l := ledger.New(repo, ledger.WithLogger(a.logger))
			if remove != "" {
				r, err := l.Find(remove)
				if err != nil {
					return fmt.Errorf("finding order %q: %w", remove, err)
				}
				if err := l.Delete(r.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted order %s.\n", r.OrderID)
				return nil
			}
			receipts, err := l.List()
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(receipts)
			}
			if len(receipts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No orders recorded.")
				return nil
			}
			return printReceipts(cmd.OutOrStdout(), receipts)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output receipts as JSON")
	cmd.Flags().StringVar(&remove, "delete", "", "Forget the receipt with this receipt or order id")
	return cmd
}
