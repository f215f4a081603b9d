package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/internal/fakebackend"
	"github.com/jmcleod/ticketizer/rail"
	"github.com/jmcleod/ticketizer/session"
)

var (
	beijingSouth = rail.Station{Name: "北京南", ID: "VNP", Pinyin: "beijingnan", Abbreviation: "bjn"}
	shanghai     = rail.Station{Name: "上海虹桥", ID: "AOH", Pinyin: "shanghaihongqiao", Abbreviation: "shq"}
)

type stationMap map[string]rail.Station

func (m stationMap) ByID(id string) (rail.Station, bool) {
	s, ok := m[id]
	return s, ok
}

func listing(code, start, lishi string, cells map[string]string) map[string]any {
	row := map[string]any{
		"train_no":              "24000" + code,
		"station_train_code":    code,
		"from_station_telecode": "VNP",
		"from_station_name":     "北京南",
		"to_station_telecode":   "AOH",
		"to_station_name":       "上海虹桥",
		"start_train_date":      "20261020",
		"start_time":            start,
		"lishi":                 lishi,
		"location_code":         "P2",
		"yp_info":               "yp-" + code,
		"secretStr":             "secret%2B" + code,
	}
	for k, v := range cells {
		row[k+"_num"] = v
	}
	return row
}

func newTestSearcher(t *testing.T, rows []map[string]any, opts ...Option) (*fakebackend.Backend, *Searcher) {
	t.Helper()
	fb := fakebackend.New()
	t.Cleanup(fb.Close)
	fb.Set(func(c *fakebackend.Config) { c.Trains = rows })
	client := backend.New(session.New(), backend.WithBaseURL(fb.URL()))
	return fb, New(client, opts...)
}

func query() Query {
	return Query{Date: time.Date(2026, 10, 20, 0, 0, 0, 0, rail.Location), Departure: beijingSouth, Destination: shanghai}
}

func TestTrains_ParsesListing(t *testing.T) {
	rows := []map[string]any{
		listing("G101", "06:44", "05:54", map[string]string{"ze": "有", "zy": "12", "swz": "无", "wz": "--", "yz": "*"}),
		listing("T109", "20:05", "14:58", map[string]string{"yw": "5", "rw": "0", "yz": "18点起售"}),
	}
	_, s := newTestSearcher(t, rows, WithStations(stationMap{"VNP": beijingSouth}))

	trains, err := s.Trains(t.Context(), query())
	require.NoError(t, err)
	require.Len(t, trains, 2)

	g := trains[0]
	assert.Equal(t, "24000G101", g.ID)
	assert.Equal(t, "G101", g.Name)
	assert.Equal(t, rail.TrainG, g.Type)
	assert.Equal(t, beijingSouth, g.DepartureStation)
	assert.Equal(t, rail.Station{Name: "上海虹桥", ID: "AOH"}, g.DestinationStation)
	assert.Equal(t, time.Date(2026, 10, 20, 6, 44, 0, 0, rail.Location), g.DepartureTime)
	assert.Equal(t, 5*time.Hour+54*time.Minute, g.Duration)
	assert.Equal(t, time.Date(2026, 10, 20, 12, 38, 0, 0, rail.Location), g.ArrivalTime)
	assert.Equal(t, "secret%2BG101", g.SecretKey)
	assert.Equal(t, "P2", g.LocationCode)
	assert.Equal(t, "yp-G101", g.TicketCount)
	assert.Equal(t, "2026-10-20", g.Date())

	assert.Equal(t, rail.StatusAvailable, g.Ticket(rail.TicketSecondClass).Status)
	assert.Equal(t, rail.ManyTickets, g.Ticket(rail.TicketSecondClass).Count)
	assert.Equal(t, 12, g.Ticket(rail.TicketFirstClass).Count)
	assert.Equal(t, rail.StatusSoldOut, g.Ticket(rail.TicketBusiness).Status)
	assert.Equal(t, rail.StatusNotApplicable, g.Ticket(rail.TicketNoSeat).Status)
	assert.Equal(t, rail.StatusNotYetSold, g.Ticket(rail.TicketHardSeat).Status)
	assert.Equal(t, rail.StatusNotApplicable, g.Ticket(rail.TicketSoftSleeper).Status)

	overnight := trains[1]
	assert.Equal(t, rail.TrainT, overnight.Type)
	assert.Equal(t, time.Date(2026, 10, 21, 11, 3, 0, 0, rail.Location), overnight.ArrivalTime)
	assert.Equal(t, rail.StatusSoldOut, overnight.Ticket(rail.TicketSoftSleeper).Status)
	assert.Equal(t, rail.StatusNotYetSold, overnight.Ticket(rail.TicketHardSeat).Status)
}

func TestTrains_SendsOrderedQuery(t *testing.T) {
	fb, s := newTestSearcher(t, nil)
	q := query()
	q.Pricing = rail.PricingStudent

	trains, err := s.Trains(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, trains)
	assert.Equal(t, 1, fb.Calls(backend.PathTrainQuery))
}

func TestTrains_RequiresStations(t *testing.T) {
	fb, s := newTestSearcher(t, nil)
	_, err := s.Trains(t.Context(), Query{Date: time.Now(), Departure: beijingSouth})
	assert.ErrorIs(t, err, rail.ErrInvalidOperation)
	assert.Equal(t, 0, fb.TotalCalls())
}

func TestTrains_MalformedListing(t *testing.T) {
	row := listing("G1", "07:00", "4:28", nil)
	delete(row, "start_time")
	_, s := newTestSearcher(t, []map[string]any{row})
	_, err := s.Trains(t.Context(), query())
	assert.ErrorIs(t, err, rail.ErrProtocolShapeMismatch)

	row = listing("G1", "07:00", "four hours", nil)
	_, s = newTestSearcher(t, []map[string]any{row})
	_, err = s.Trains(t.Context(), query())
	assert.ErrorIs(t, err, rail.ErrProtocolShapeMismatch)
}

func TestTrains_FilterAndSort(t *testing.T) {
	rows := []map[string]any{
		listing("K1", "08:00", "10:00", map[string]string{"yz": "有"}),
		listing("G7", "09:00", "04:30", map[string]string{"ze": "有"}),
		listing("G3", "10:00", "04:40", map[string]string{"ze": "无"}),
		listing("D2", "07:00", "06:00", map[string]string{"ze": "--"}),
	}
	f := NewFilter()
	f.Tickets.SkipSoldOut = true
	_, s := newTestSearcher(t, rows, WithFilter(f), WithSorter(&Sorter{Methods: []Method{ByName(false)}}))

	trains, err := s.Trains(t.Context(), query())
	require.NoError(t, err)
	assert.Equal(t, []string{"K1", "G7"}, names(trains))
}

func names(trains []*rail.Train) []string {
	out := make([]string, 0, len(trains))
	for _, t := range trains {
		out = append(out, t.Name)
	}
	return out
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("5:07")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Hour+7*time.Minute, d)

	d, err = ParseClock("26:00")
	require.NoError(t, err)
	assert.Equal(t, 26*time.Hour, d)

	for _, bad := range []string{"", "12", "a:10", "1:60", "1:-1"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}
