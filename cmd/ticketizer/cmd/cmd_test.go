package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/internal/fakebackend"
	"github.com/jmcleod/ticketizer/ledger"
	"github.com/jmcleod/ticketizer/rail"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const stationScript = "var station_names ='@bjn|北京南|VNP|beijingnan|bjn|0@shhq|上海虹桥|AOH|shanghaihongqiao|shhq|1@sh|上海|SHH|shanghai|sh|2';"

func listing(code, start, lishi string, cells map[string]string) map[string]any {
	row := map[string]any{
		"train_no":              "24000" + code,
		"station_train_code":    code,
		"from_station_telecode": "VNP",
		"to_station_telecode":   "AOH",
		"start_train_date":      "20261020",
		"start_time":            start,
		"lishi":                 lishi,
		"secretStr":             "secret%2B" + code,
	}
	for k, v := range cells {
		row[k+"_num"] = v
	}
	return row
}

type harness struct {
	fb         *fakebackend.Backend
	configPath string
	captchaDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fb := fakebackend.New()
	t.Cleanup(fb.Close)
	fb.Set(func(c *fakebackend.Config) {
		c.CaptchaAnswer = "abcd"
		c.Users = map[string]string{"alice": "s3cret"}
		c.StationNames = stationScript
		c.Trains = []map[string]any{
			listing("T109", "20:05", "14:58", map[string]string{"yw": "5", "yz": "无"}),
			listing("G101", "06:44", "05:54", map[string]string{"ze": "有", "zy": "12"}),
		}
		c.SubmitStatus = true
		c.Passengers = []fakebackend.Passenger{
			{Name: "Alice", IDType: "1", IDNumber: "110101199001011234", Phone: "13800000000", Type: "1"},
			{Name: "Bob", IDType: "1", IDNumber: "110101199202021234", Phone: "13900000000", Type: "1"},
		}
		c.CheckOrderOK = true
		c.ConfirmOK = true
		c.OrderID = "E123456"
		c.WaitRounds = 1
	})

	dir := t.TempDir()
	h := &harness{fb: fb, captchaDir: filepath.Join(dir, "captcha")}
	require.NoError(t, os.MkdirAll(h.captchaDir, 0o700))
	h.configPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`backend:
  base_url: %s
paths:
  data_dir: %s
account:
  username: alice
purchase:
  captcha_retries: 0
  poll_interval: 1ms
  captcha_dir: %s
log:
  level: error
`, fb.URL(), filepath.Join(dir, "data"), h.captchaDir)
	require.NoError(t, os.WriteFile(h.configPath, []byte(cfg), 0o600))
	return h
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", h.configPath}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestStations(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "stations", "shanghai")
	require.NoError(t, err)
	assert.Contains(t, out, "AOH")
	assert.Contains(t, out, "SHH")
	assert.NotContains(t, out, "VNP")

	_, err = h.run(t, "", "stations", "guangzhou")
	assert.Error(t, err)

	// The table is cached in the data directory.
	_, err = h.run(t, "", "stations")
	require.NoError(t, err)
	assert.Equal(t, 1, h.fb.Calls(backend.PathStationNames))

	_, err = h.run(t, "", "stations", "--refresh")
	require.NoError(t, err)
	assert.Equal(t, 2, h.fb.Calls(backend.PathStationNames))
}

func TestSearch(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "search", "--from", "bjn", "--to", "上海虹桥", "--sort", "departure")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Name"))
	assert.True(t, strings.HasPrefix(lines[1], "G101"))
	assert.True(t, strings.HasPrefix(lines[2], "T109"))
	assert.Contains(t, lines[1], "12:38")

	out, err = h.run(t, "", "search", "--from", "bjn", "--to", "shhq", "--types", "T", "--seats", "yz", "--skip-sold-out")
	require.NoError(t, err)
	assert.Contains(t, out, "No trains")

	_, err = h.run(t, "", "search", "--from", "bjn")
	assert.Error(t, err)
	_, err = h.run(t, "", "search", "--from", "bjn", "--to", "nowhere")
	assert.ErrorIs(t, err, rail.ErrInvalidOperation)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "s3cret\nabcd\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in with username: alice")
	assert.Equal(t, 1, h.fb.Calls(backend.PathLogout))

	_, err = h.run(t, "wrong\nabcd\n", "login")
	assert.ErrorIs(t, err, rail.ErrLoginFailed)

	_, err = h.run(t, "s3cret\nABORT\n", "login")
	assert.ErrorIs(t, err, rail.ErrAborted)
	assert.Equal(t, 2, h.fb.Calls(backend.PathLogin))
}

func TestBuyAndOrders(t *testing.T) {
	h := newHarness(t)

	// password, login captcha, purchase captcha, one queue prompt
	out, err := h.run(t, "s3cret\nabcd\nabcd\n\n",
		"buy", "--from", "bjn", "--to", "shhq", "--train", "g101", "--passengers", "0,Bob", "--seat", "ze")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Waiting in line, 1 ahead")
	assert.Contains(t, out, "Order completed! ID: E123456")
	assert.Equal(t, 1, h.fb.Calls(backend.PathLogout))

	form := h.fb.LastForm(backend.PathConfirmForQueue)
	assert.Equal(t, "O,0,1,Alice,1,110101199001011234,13800000000,N_O,0,1,Bob,1,110101199202021234,13900000000,N",
		form.Get("passengerTicketStr"))

	entries, err := os.ReadDir(h.captchaDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "captcha images are removed after answering")

	out, err = h.run(t, "", "orders", "--json")
	require.NoError(t, err)
	var receipts []ledger.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipts))
	require.Len(t, receipts, 1)
	assert.Equal(t, "E123456", receipts[0].OrderID)
	assert.Equal(t, "alice", receipts[0].Username)
	assert.Equal(t, "G101", receipts[0].Train)
	assert.Len(t, receipts[0].Seats, 2)

	out, err = h.run(t, "", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "E123456")
	assert.Contains(t, out, "Alice, Bob")

	out, err = h.run(t, "", "orders", "--delete", "E123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted order E123456.")
	_, err = h.run(t, "", "orders", "--delete", receipts[0].ID)
	assert.Error(t, err)

	out, err = h.run(t, "", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "No orders recorded.")
}

func TestBuy_InteractiveSelection(t *testing.T) {
	h := newHarness(t)
	h.fb.Set(func(c *fakebackend.Config) { c.WaitRounds = 0 })

	// train, password, login captcha, passengers, ticket for Bob, purchase captcha
	out, err := h.run(t, "G101\ns3cret\nabcd\n1\n0\nabcd\n", "buy", "--from", "bjn", "--to", "shhq")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Enter ticket type # for Bob")
	assert.Contains(t, out, "Order completed! ID: E123456")

	form := h.fb.LastForm(backend.PathConfirmForQueue)
	assert.True(t, strings.HasPrefix(form.Get("passengerTicketStr"), "M,0,1,Bob,"), form.Get("passengerTicketStr"))
}

func TestBuy_QueueAbort(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "s3cret\nabcd\nabcd\nABORT\n",
		"buy", "--from", "bjn", "--to", "shhq", "-t", "G101", "-p", "Alice", "--seat", "zy")
	assert.ErrorIs(t, err, rail.ErrAborted)
	assert.Equal(t, 1, h.fb.Calls(backend.PathLogout))

	out, err := h.run(t, "", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "No orders recorded.")
}

func TestBuy_UnavailableSeat(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "s3cret\nabcd\n",
		"buy", "--from", "bjn", "--to", "shhq", "-t", "T109", "-p", "0", "--seat", "yz")
	assert.Error(t, err)
	assert.Equal(t, 0, h.fb.Calls(backend.PathCheckOrderInfo))
	assert.Equal(t, 1, h.fb.Calls(backend.PathLogout))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC) // 07:30 on the 20th in CST
	day := func(d int) time.Time { return time.Date(2026, 10, d, 0, 0, 0, 0, rail.Location) }

	for input, want := range map[string]time.Time{
		"":           day(20),
		"today":      day(20),
		"Tomorrow":   day(21),
		"+3":         day(23),
		"2026-10-25": day(25),
	} {
		got, err := parseDate(input, now)
		require.NoError(t, err, input)
		assert.True(t, want.Equal(got), "%s: got %v", input, got)
	}
	for _, bad := range []string{"+x", "+-1", "25/10/2026"} {
		_, err := parseDate(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestParseIndexes(t *testing.T) {
	idx, err := parseIndexes(" 2, 0 ,", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, idx)

	for _, bad := range []string{"", "3", "-1", "a", "1,1"} {
		_, err := parseIndexes(bad, 3)
		assert.Error(t, err, bad)
	}
}

func TestSearchFlags_Filter(t *testing.T) {
	f := searchFlags{
		trainTypes:  "gdo",
		seats:       []string{"ze", " ZY"},
		skipSoldOut: true,
		departAfter: "8:00",
		maxDuration: "6:00",
		only:        []string{"k1"},
		exclude:     []string{"g7"},
	}
	flt, err := f.filter()
	require.NoError(t, err)
	assert.Equal(t, rail.TrainG|rail.TrainD|rail.TrainOther, flt.Types)
	assert.Equal(t, rail.TicketSecondClass|rail.TicketFirstClass, flt.Tickets.Types)
	assert.True(t, flt.Tickets.SkipSoldOut)
	assert.True(t, flt.Whitelist["K1"])
	assert.True(t, flt.Blacklist["G7"])
	require.NotNil(t, flt.Departure.Lower)
	assert.Equal(t, 8*time.Hour, *flt.Departure.Lower)
	assert.Nil(t, flt.Departure.Upper)
	require.NotNil(t, flt.Duration.Upper)
	assert.Equal(t, 6*time.Hour, *flt.Duration.Upper)

	for _, bad := range []searchFlags{
		{trainTypes: "X"},
		{seats: []string{"first"}},
		{departBefore: "noon"},
	} {
		_, err := bad.filter()
		assert.Error(t, err)
	}
}

func TestSearchFlags_Sorter(t *testing.T) {
	f := searchFlags{}
	so, err := f.sorter([]string{"price", "departure"}, []string{"G1"})
	require.NoError(t, err)
	assert.Len(t, so.Methods, 2)
	assert.Equal(t, []string{"G1"}, so.Favorites)

	f = searchFlags{sort: []string{"name"}, favorites: []string{"D3"}}
	so, err = f.sorter([]string{"price", "departure"}, []string{"G1"})
	require.NoError(t, err)
	assert.Len(t, so.Methods, 1)
	assert.Equal(t, []string{"D3"}, so.Favorites)

	f = searchFlags{sort: []string{"colour"}}
	_, err = f.sorter(nil, nil)
	assert.Error(t, err)
}

func TestPickPassengers(t *testing.T) {
	a1 := &rail.Passenger{Name: "Alice"}
	a2 := &rail.Passenger{Name: "Alice"}
	b := &rail.Passenger{Name: "Bob"}
	list := []*rail.Passenger{a1, a2, b}

	got, err := pickPassengers(list, []string{"Alice", "Alice", "2"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Same(t, a1, got[0])
	assert.Same(t, a2, got[1])
	assert.Same(t, b, got[2])

	_, err = pickPassengers(list, []string{"0", "Alice", "Alice"})
	assert.Error(t, err)
	_, err = pickPassengers(list, []string{"2", "Bob"})
	assert.Error(t, err)
	_, err = pickPassengers(list, []string{"5"})
	assert.Error(t, err)
	_, err = pickPassengers(list, []string{"Carol"})
	assert.Error(t, err)
}

func TestPrintTrains(t *testing.T) {
	d := time.Date(2026, 10, 20, 6, 44, 0, 0, rail.Location)
	train := &rail.Train{
		Name:               "G101",
		DepartureStation:   rail.Station{ID: "VNP"},
		DestinationStation: rail.Station{ID: "AOH"},
		DepartureTime:      d,
		ArrivalTime:        d.Add(5*time.Hour + 54*time.Minute),
		Duration:           5*time.Hour + 54*time.Minute,
		Tickets: map[rail.TicketType]*rail.Ticket{
			rail.TicketFirstClass: {Type: rail.TicketFirstClass, Status: rail.StatusAvailable, Count: 12},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, printTrains(&buf, []*rail.Train{train}))
	fields := strings.Fields(strings.Split(buf.String(), "\n")[1])
	assert.Equal(t, []string{"G101", "10/20", "VNP", "AOH", "06:44", "12:38", "5:54", "--", "--", "12"}, fields[:10])
}
