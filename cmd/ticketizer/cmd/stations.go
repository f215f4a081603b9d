package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ticketizer/rail"
)

func printStations(w io.Writer, stations []rail.Station) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tName\tPinyin\tAbbreviation")
	for _, s := range stations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Pinyin, s.Abbreviation)
	}
	return tw.Flush()
}

func newStationsCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "stations [prefix]",
		Short: "List stations, optionally those whose name, pinyin or abbreviation starts with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			table, err := a.loadStations(cmd.Context(), repo, a.newClient(), refresh)
			if err != nil {
				return err
			}
			list := table.All()
			if len(args) == 1 {
				list = table.Match(args[0])
				if len(list) == 0 {
					return fmt.Errorf("no station matches %q", args[0])
				}
			}
			return printStations(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refetch the station table")
	return cmd
}
