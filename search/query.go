// Package search queries the backend for trains between two stations and
// narrows and orders the result for display.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/rail"
)

// Query describes a one-day listing request.
type Query struct {
	Date        time.Time
	Departure   rail.Station
	Destination rail.Station
	Pricing     rail.Pricing
}

// StationResolver completes the stations found in a listing. Implemented by
// station.Table.
type StationResolver interface {
	ByID(id string) (rail.Station, bool)
}

// Searcher runs queries and applies the optional filter and sorter.
type Searcher struct {
	client   *backend.Client
	stations StationResolver
	filter   *Filter
	sorter   *Sorter
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithStations completes listing stations from r.
func WithStations(r StationResolver) Option {
	return func(s *Searcher) {
		s.stations = r
	}
}

// WithFilter drops trains f rejects.
func WithFilter(f *Filter) Option {
	return func(s *Searcher) {
		s.filter = f
	}
}

// WithSorter orders the result with so.
func WithSorter(so *Sorter) Option {
	return func(s *Searcher) {
		s.sorter = so
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// New creates a Searcher for client.
func New(client *backend.Client, opts ...Option) *Searcher {
	s := &Searcher{
		client: client,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "search")
	return s
}

// Trains runs q and returns the filtered, sorted listing.
func (s *Searcher) Trains(ctx context.Context, q Query) ([]*rail.Train, error) {
	trains, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if s.filter != nil {
		trains = s.filter.Apply(trains)
	}
	if s.sorter != nil {
		s.sorter.Sort(trains)
	}
	return trains, nil
}

func (s *Searcher) query(ctx context.Context, q Query) ([]*rail.Train, error) {
	if q.Departure.ID == "" || q.Destination.ID == "" {
		return nil, fmt.Errorf("%w: departure and destination stations are required", rail.ErrInvalidOperation)
	}
	pricing := q.Pricing
	if pricing == "" {
		pricing = rail.PricingNormal
	}
	query := backend.OrderedQuery(
		"leftTicketDTO.train_date", q.Date.In(rail.Location).Format(rail.DateLayout),
		"leftTicketDTO.from_station", q.Departure.ID,
		"leftTicketDTO.to_station", q.Destination.ID,
		"purpose_codes", string(pricing),
	)
	env, err := s.client.GetJSON(ctx, backend.PathTrainQuery, query)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, rail.Rejected(rail.ErrInvalidRequest, env.Messages...)
	}
	var rows []trainRow
	if err := env.DecodeData(&rows); err != nil {
		return nil, err
	}
	trains := make([]*rail.Train, 0, len(rows))
	for i, row := range rows {
		t, err := s.parseTrain(row)
		if err != nil {
			return nil, fmt.Errorf("train %d: %w", i, err)
		}
		trains = append(trains, t)
	}
	s.logger.Debug("fetched train list",
		slog.String("date", q.Date.In(rail.Location).Format(rail.DateLayout)),
		slog.String("from", q.Departure.ID),
		slog.String("to", q.Destination.ID),
		slog.Int("trains", len(trains)),
	)
	return trains, nil
}

type trainRow struct {
	DTO       map[string]json.RawMessage `json:"queryLeftNewDTO"`
	SecretStr string                     `json:"secretStr"`
}

func (r trainRow) text(key string) string {
	var s string
	if err := json.Unmarshal(r.DTO[key], &s); err != nil {
		return ""
	}
	return s
}

func (r trainRow) require(key string) (string, error) {
	s := r.text(key)
	if s == "" {
		return "", fmt.Errorf("%w: listing has no %s", rail.ErrProtocolShapeMismatch, key)
	}
	return s, nil
}

func (s *Searcher) station(id, name string) rail.Station {
	if s.stations != nil {
		if st, ok := s.stations.ByID(id); ok {
			return st
		}
	}
	return rail.Station{Name: name, ID: id}
}

func (s *Searcher) parseTrain(row trainRow) (*rail.Train, error) {
	if row.DTO == nil {
		return nil, fmt.Errorf("%w: listing has no queryLeftNewDTO", rail.ErrProtocolShapeMismatch)
	}
	fields := map[string]string{}
	for _, key := range []string{
		"train_no", "station_train_code", "from_station_telecode", "to_station_telecode",
		"start_train_date", "start_time", "lishi",
	} {
		v, err := row.require(key)
		if err != nil {
			return nil, err
		}
		fields[key] = v
	}
	departure, err := time.ParseInLocation("20060102 15:04", fields["start_train_date"]+" "+fields["start_time"], rail.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: departure time: %v", rail.ErrProtocolShapeMismatch, err)
	}
	duration, err := ParseClock(fields["lishi"])
	if err != nil {
		return nil, fmt.Errorf("%w: duration: %v", rail.ErrProtocolShapeMismatch, err)
	}

	name := fields["station_train_code"]
	t := &rail.Train{
		ID:                 fields["train_no"],
		Name:               name,
		Type:               rail.TrainTypeOf(name),
		DepartureStation:   s.station(fields["from_station_telecode"], row.text("from_station_name")),
		DestinationStation: s.station(fields["to_station_telecode"], row.text("to_station_name")),
		DepartureTime:      departure,
		ArrivalTime:        departure.Add(duration),
		Duration:           duration,
		SecretKey:          row.SecretStr,
		LocationCode:       row.text("location_code"),
		TicketCount:        row.text("yp_info"),
		Tickets:            make(map[rail.TicketType]*rail.Ticket, len(rail.TicketTypes)),
	}
	for _, typ := range rail.TicketTypes {
		t.Tickets[typ] = parseTicket(typ, row.text(typ.Abbreviation()+"_num"))
	}
	return t, nil
}

// parseTicket reads a seat count cell: a number, or one of the status
// markers. Unknown text (e.g. a sale start time) means not yet on sale.
func parseTicket(typ rail.TicketType, cell string) *rail.Ticket {
	t := &rail.Ticket{Type: typ}
	cell = strings.TrimSpace(cell)
	if cell == "" {
		t.Status = rail.StatusNotApplicable
		return t
	}
	if n, err := strconv.Atoi(cell); err == nil {
		t.Status, t.Count = rail.StatusAvailable, n
		if n == 0 {
			t.Status = rail.StatusSoldOut
		}
		return t
	}
	status, ok := rail.ParseTicketStatus(cell)
	if !ok {
		status = rail.StatusNotYetSold
	}
	t.Status = status
	if status == rail.StatusAvailable {
		t.Count = rail.ManyTickets
	}
	return t
}

// ParseClock parses a duration or a time of day written as H:MM.
func ParseClock(s string) (time.Duration, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%q is not H:MM", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("%q is not H:MM", s)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 || hours < 0 {
		return 0, fmt.Errorf("%q is not H:MM", s)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}
