package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ticketizer/auth"
	"github.com/jmcleod/ticketizer/captcha"
	"github.com/jmcleod/ticketizer/ledger"
	"github.com/jmcleod/ticketizer/purchase"
	"github.com/jmcleod/ticketizer/rail"
)

type buyFlags struct {
	search     searchFlags
	train      string
	username   string
	passengers []string
	seat       string
	roundTrip  bool
	wait       bool
	waitQueue  bool
}

func findTrain(trains []*rail.Train, name string) (*rail.Train, error) {
	for _, t := range trains {
		if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("train %q is not in the list", name)
}

// pickPassengers resolves each ref as an index into list or a passenger
// name. A name matching several passengers selects the first one not yet
// picked.
func pickPassengers(list []*rail.Passenger, refs []string) ([]*rail.Passenger, error) {
	var out []*rail.Passenger
	picked := map[*rail.Passenger]bool{}
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		var p *rail.Passenger
		if i, err := strconv.Atoi(ref); err == nil {
			if i < 0 || i >= len(list) {
				return nil, fmt.Errorf("passenger %d is out of range", i)
			}
			p = list[i]
		} else {
			for _, cand := range list {
				if cand.Name == ref && !picked[cand] {
					p = cand
					break
				}
			}
			if p == nil {
				return nil, fmt.Errorf("no passenger named %q", ref)
			}
		}
		if picked[p] {
			return nil, fmt.Errorf("passenger %q is selected twice", p.Name)
		}
		picked[p] = true
		out = append(out, p)
	}
	return out, nil
}

// availableTickets lists the seat classes that can be ordered, in display order.
func availableTickets(t *rail.Train) []*rail.Ticket {
	var out []*rail.Ticket
	for _, typ := range rail.TicketTypes {
		if tk := t.Ticket(typ); tk.Available() {
			out = append(out, tk)
		}
	}
	return out
}

func printPassengers(w io.Writer, list []*rail.Passenger) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tName\tType\tID type")
	for i, p := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, p.Name, p.Type, p.IDType)
	}
	return tw.Flush()
}

func printTickets(w io.Writer, list []*rail.Ticket) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCount\tType")
	for i, t := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i, t, t.Type)
	}
	return tw.Flush()
}

// selectSeats pairs every passenger with a ticket, from the --seat flag or by
// asking.
func selectSeats(c *console, train *rail.Train, passengers []*rail.Passenger, seat string) ([]purchase.Selection, error) {
	if seat != "" {
		typ, ok := rail.ParseTicketAbbreviation(strings.ToLower(seat))
		if !ok {
			return nil, fmt.Errorf("unknown seat class %q", seat)
		}
		tk := train.Ticket(typ)
		if !tk.Available() {
			return nil, fmt.Errorf("%s has no %s tickets available", train.Name, typ)
		}
		out := make([]purchase.Selection, 0, len(passengers))
		for _, p := range passengers {
			out = append(out, purchase.Selection{Passenger: p, Ticket: tk})
		}
		return out, nil
	}

	tickets := availableTickets(train)
	if len(tickets) == 0 {
		return nil, fmt.Errorf("%s has no tickets available", train.Name)
	}
	if err := printTickets(c.out, tickets); err != nil {
		return nil, err
	}
	out := make([]purchase.Selection, 0, len(passengers))
	for _, p := range passengers {
		idx, err := c.choose("Enter ticket type # for "+p.Name, len(tickets))
		if err != nil {
			return nil, err
		}
		out = append(out, purchase.Selection{Passenger: p, Ticket: tickets[idx[0]]})
	}
	return out, nil
}

func newBuyCmd(a *app) *cobra.Command {
	var f buyFlags
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Order tickets on a train",
		Long: `Search for trains, log in, and order tickets for passengers registered on
the account. Completed orders are recorded in the local ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.buy(cmd, &f)
		},
	}
	f.search.register(cmd.Flags())
	cmd.Flags().StringVarP(&f.train, "train", "t", "", "Train name to order, e.g. G101")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Account name (default from config)")
	cmd.Flags().StringSliceVarP(&f.passengers, "passengers", "p", nil, "Passengers by list index or name")
	cmd.Flags().StringVar(&f.seat, "seat", "", "Seat class abbreviation for every passenger, e.g. ze")
	cmd.Flags().BoolVar(&f.roundTrip, "round-trip", false, "Order the return leg of a round trip")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Keep waiting in the order queue without asking")
	cmd.Flags().BoolVar(&f.waitQueue, "wait-queue", false, "Wait for the queue to empty before solving the purchase captcha")
	return cmd
}

func (a *app) buy(cmd *cobra.Command, f *buyFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	c := newConsole(cmd.InOrStdin(), out)

	repo, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	client := a.newClient()
	table, err := a.loadStations(ctx, repo, client, false)
	if err != nil {
		return err
	}
	trains, q, err := a.runSearch(ctx, client, table, &f.search)
	if err != nil {
		return err
	}
	if len(trains) == 0 {
		return fmt.Errorf("no trains, try searching for something else")
	}
	name := f.train
	if name == "" {
		if err := printTrains(out, trains); err != nil {
			return err
		}
		if name, err = c.ask("Enter a train name", ""); err != nil {
			return err
		}
	}
	train, err := findTrain(trains, name)
	if err != nil {
		return err
	}

	creds, err := a.credentials(c, f.username)
	if err != nil {
		return err
	}
	defer creds.Destroy()

	captchas := captcha.NewCache(client)
	m := auth.New(client, auth.WithLogger(a.logger), auth.WithCaptchaCache(captchas))
	solver := c.captchaSolver(a.cfg.Purchase.CaptchaDir)
	retries := a.cfg.Purchase.CaptchaRetries
	direction := rail.OneWay
	if f.roundTrip {
		direction = rail.RoundTrip
	}
	observer := c.queueObserver(f.wait)

	return auth.WithSession(ctx, m, creds, solver, retries, func(ctx context.Context) error {
		tx, err := m.Purchaser(ctx, train,
			purchase.WithDirection(direction),
			purchase.WithPricing(q.Pricing),
			purchase.WithObserver(observer),
			purchase.WithPollInterval(a.cfg.Purchase.PollInterval),
		)
		if err != nil {
			return err
		}
		if err := tx.Begin(ctx); err != nil {
			return err
		}
		list, err := tx.Passengers(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("the account has no registered passengers")
		}
		var passengers []*rail.Passenger
		if len(f.passengers) > 0 {
			passengers, err = pickPassengers(list, f.passengers)
		} else {
			if err := printPassengers(out, list); err != nil {
				return err
			}
			var idx []int
			idx, err = c.choose("Select passenger number(s), separated by commas", len(list))
			for _, i := range idx {
				passengers = append(passengers, list[i])
			}
		}
		if err != nil {
			return err
		}
		selections, err := selectSeats(c, train, passengers, f.seat)
		if err != nil {
			return err
		}
		if f.waitQueue {
			if err := purchase.WaitQueue(ctx, tx, selections, observer, a.cfg.Purchase.PollInterval); err != nil {
				return err
			}
		}
		solved, err := tx.SolveCaptcha(ctx, solver, retries)
		if err != nil {
			return err
		}
		orderID, err := tx.Continue(ctx, selections, solved)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Order completed! ID: %s\n", orderID)

		l := ledger.New(repo, ledger.WithLogger(a.logger))
		if _, err := l.Record(ledger.NewReceipt(m.Username(), orderID, train, selections)); err != nil {
			a.logger.Error("order placed but not recorded",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}
