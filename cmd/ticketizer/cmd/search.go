package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/rail"
	"github.com/jmcleod/ticketizer/search"
	"github.com/jmcleod/ticketizer/station"
)

type searchFlags struct {
	from           string
	to             string
	date           string
	student        bool
	sort           []string
	reverse        bool
	trainTypes     string
	seats          []string
	skipSoldOut    bool
	skipNotYetSold bool
	departAfter    string
	departBefore   string
	arriveAfter    string
	arriveBefore   string
	maxDuration    string
	favorites      []string
	only           []string
	exclude        []string
}

func (f *searchFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.from, "from", "", "Departure station: telecode, abbreviation, name or pinyin")
	fs.StringVar(&f.to, "to", "", "Destination station")
	fs.StringVar(&f.date, "date", "tomorrow", "Travel date: YYYY-MM-DD, today, tomorrow or +N days")
	fs.BoolVar(&f.student, "student", false, "Query student fares")
	fs.StringSliceVar(&f.sort, "sort", nil, "Sort keys applied in turn: name, departure, arrival, duration, price")
	fs.BoolVar(&f.reverse, "reverse", false, "Reverse every sort key")
	fs.StringVar(&f.trainTypes, "types", "", "Train type letters to keep, e.g. GD (O for other)")
	fs.StringSliceVar(&f.seats, "seats", nil, "Seat classes to consider by abbreviation, e.g. ze,zy")
	fs.BoolVar(&f.skipSoldOut, "skip-sold-out", false, "Ignore sold out seat classes")
	fs.BoolVar(&f.skipNotYetSold, "skip-not-yet-sold", false, "Ignore seat classes not yet on sale")
	fs.StringVar(&f.departAfter, "depart-after", "", "Earliest departure time of day (H:MM)")
	fs.StringVar(&f.departBefore, "depart-before", "", "Latest departure time of day (H:MM)")
	fs.StringVar(&f.arriveAfter, "arrive-after", "", "Earliest arrival time of day (H:MM)")
	fs.StringVar(&f.arriveBefore, "arrive-before", "", "Latest arrival time of day (H:MM)")
	fs.StringVar(&f.maxDuration, "max-duration", "", "Longest journey (H:MM)")
	fs.StringSliceVar(&f.favorites, "favorite", nil, "Train names listed first")
	fs.StringSliceVar(&f.only, "only", nil, "Train names always kept")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "Train names always dropped")
}

// parseDate reads a travel date relative to now, in the backend's zone.
func parseDate(text string, now time.Time) (time.Time, error) {
	now = now.In(rail.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, rail.Location)
	switch text := strings.ToLower(strings.TrimSpace(text)); {
	case text == "" || text == "today":
		return today, nil
	case text == "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case strings.HasPrefix(text, "+"):
		n, err := strconv.Atoi(text[1:])
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("date %q: expected +N days", text)
		}
		return today.AddDate(0, 0, n), nil
	default:
		d, err := time.ParseInLocation(rail.DateLayout, text, rail.Location)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q: expected YYYY-MM-DD", text)
		}
		return d, nil
	}
}

func clockRange(lower, upper string) (search.Range[time.Duration], error) {
	var r search.Range[time.Duration]
	for _, b := range []struct {
		text string
		dst  **time.Duration
	}{{lower, &r.Lower}, {upper, &r.Upper}} {
		if b.text == "" {
			continue
		}
		d, err := search.ParseClock(b.text)
		if err != nil {
			return r, err
		}
		*b.dst = &d
	}
	return r, nil
}

func (f *searchFlags) filter() (*search.Filter, error) {
	flt := search.NewFilter()
	if f.trainTypes != "" {
		flt.Types = rail.TrainNone
		for _, r := range f.trainTypes {
			letter := strings.ToUpper(string(r))
			if letter == "O" {
				flt.Types |= rail.TrainOther
				continue
			}
			t, ok := rail.ParseTrainType(letter)
			if !ok {
				return nil, fmt.Errorf("unknown train type %q", letter)
			}
			flt.Types |= t
		}
	}
	if len(f.seats) > 0 {
		flt.Tickets.Types = rail.TicketNone
		for _, s := range f.seats {
			t, ok := rail.ParseTicketAbbreviation(strings.ToLower(strings.TrimSpace(s)))
			if !ok {
				return nil, fmt.Errorf("unknown seat class %q", s)
			}
			flt.Tickets.Types |= t
		}
	}
	flt.Tickets.SkipSoldOut = f.skipSoldOut
	flt.Tickets.SkipNotYetSold = f.skipNotYetSold
	for _, name := range f.only {
		flt.Whitelist[strings.ToUpper(name)] = true
	}
	for _, name := range f.exclude {
		flt.Blacklist[strings.ToUpper(name)] = true
	}

	var err error
	if flt.Departure, err = clockRange(f.departAfter, f.departBefore); err != nil {
		return nil, fmt.Errorf("departure time: %w", err)
	}
	if flt.Arrival, err = clockRange(f.arriveAfter, f.arriveBefore); err != nil {
		return nil, fmt.Errorf("arrival time: %w", err)
	}
	if flt.Duration, err = clockRange("", f.maxDuration); err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	return flt, nil
}

func (f *searchFlags) sorter(defaults, favorites []string) (*search.Sorter, error) {
	keys := f.sort
	if len(keys) == 0 {
		keys = defaults
	}
	so := &search.Sorter{Favorites: favorites}
	if len(f.favorites) > 0 {
		so.Favorites = f.favorites
	}
	for _, k := range keys {
		m, ok := search.ParseMethod(strings.TrimSpace(k), f.reverse)
		if !ok {
			return nil, fmt.Errorf("unknown sort key %q", k)
		}
		so.Methods = append(so.Methods, m)
	}
	return so, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (a *app) query(table *station.Table, f *searchFlags) (search.Query, error) {
	var q search.Query
	from := firstNonEmpty(f.from, a.cfg.Search.From)
	to := firstNonEmpty(f.to, a.cfg.Search.To)
	if from == "" || to == "" {
		return q, fmt.Errorf("both --from and --to are required")
	}
	var err error
	if q.Departure, err = table.Resolve(from); err != nil {
		return q, err
	}
	if q.Destination, err = table.Resolve(to); err != nil {
		return q, err
	}
	if q.Date, err = parseDate(f.date, time.Now()); err != nil {
		return q, err
	}
	q.Pricing = rail.PricingNormal
	if f.student || a.cfg.Search.Student {
		q.Pricing = rail.PricingStudent
	}
	return q, nil
}

// runSearch resolves the stations and returns the filtered, sorted listing.
func (a *app) runSearch(ctx context.Context, client *backend.Client, table *station.Table, f *searchFlags) ([]*rail.Train, search.Query, error) {
	q, err := a.query(table, f)
	if err != nil {
		return nil, q, err
	}
	flt, err := f.filter()
	if err != nil {
		return nil, q, err
	}
	so, err := f.sorter(a.cfg.Search.Sort, a.cfg.Search.Favorites)
	if err != nil {
		return nil, q, err
	}
	s := search.New(client,
		search.WithStations(table),
		search.WithFilter(flt),
		search.WithSorter(so),
		search.WithLogger(a.logger),
	)
	trains, err := s.Trains(ctx, q)
	return trains, q, err
}

var seatColumns = []struct {
	typ   rail.TicketType
	label string
}{
	{rail.TicketBusiness, "Business"},
	{rail.TicketSpecial, "Special"},
	{rail.TicketFirstClass, "1st"},
	{rail.TicketSecondClass, "2nd"},
	{rail.TicketSoftSleeperPro, "Sleeper+"},
	{rail.TicketSoftSleeper, "Soft sl."},
	{rail.TicketHardSleeper, "Hard sl."},
	{rail.TicketSoftSeat, "Soft seat"},
	{rail.TicketHardSeat, "Hard seat"},
	{rail.TicketNoSeat, "No seat"},
	{rail.TicketOther, "Other"},
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func printTrains(w io.Writer, trains []*rail.Train) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"Name", "Date", "From", "To", "Depart", "Arrive", "Duration"}
	for _, c := range seatColumns {
		header = append(header, c.label)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, t := range trains {
		row := []string{
			t.Name,
			t.DepartureTime.In(rail.Location).Format("01/02"),
			t.DepartureStation.ID,
			t.DestinationStation.ID,
			t.DepartureTime.In(rail.Location).Format("15:04"),
			t.ArrivalTime.In(rail.Location).Format("15:04"),
			formatClock(t.Duration),
		}
		for _, c := range seatColumns {
			cell := rail.StatusNotApplicable.String()
			if tk := t.Ticket(c.typ); tk != nil {
				cell = tk.String()
			}
			row = append(row, cell)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		f       searchFlags
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List trains between two stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			client := a.newClient()
			table, err := a.loadStations(ctx, repo, client, refresh)
			if err != nil {
				return err
			}
			trains, q, err := a.runSearch(ctx, client, table, &f)
			if err != nil {
				return err
			}
			if len(trains) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No trains from %s to %s on %s.\n",
					q.Departure.Name, q.Destination.Name, q.Date.Format(rail.DateLayout))
				return nil
			}
			return printTrains(cmd.OutOrStdout(), trains)
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().BoolVar(&refresh, "refresh-stations", false, "Refetch the station table first")
	return cmd
}
