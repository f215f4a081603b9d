package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ticketizer/purchase"
	"github.com/jmcleod/ticketizer/rail"
	"github.com/jmcleod/ticketizer/storage"
	"github.com/jmcleod/ticketizer/storage/bbolt"
	"github.com/jmcleod/ticketizer/storage/memory"
)

func testTrain() *rail.Train {
	return &rail.Train{
		Name:               "G101",
		DepartureStation:   rail.Station{Name: "北京南", ID: "VNP"},
		DestinationStation: rail.Station{Name: "上海虹桥", ID: "AOH"},
		DepartureTime:      time.Date(2026, 10, 20, 6, 44, 0, 0, rail.Location),
	}
}

func TestNewReceipt(t *testing.T) {
	alice := &rail.Passenger{Name: "Alice", IDType: rail.IDSecondGen, Type: rail.PassengerAdult}
	bob := &rail.Passenger{Name: "Bob", IDType: rail.IDSecondGen, Type: rail.PassengerAdult}
	seat := &rail.Ticket{Type: rail.TicketSecondClass, Status: rail.StatusAvailable}

	r := NewReceipt("alice", "E123", testTrain(), []purchase.Selection{
		{Passenger: alice, Ticket: seat},
		{Passenger: bob, Ticket: seat},
	})
	assert.Equal(t, "E123", r.OrderID)
	assert.Equal(t, "G101", r.Train)
	assert.Equal(t, "北京南", r.Departure)
	assert.Equal(t, "上海虹桥", r.Destination)
	assert.Equal(t, []Seat{
		{Passenger: "Alice", Ticket: rail.TicketSecondClass.String()},
		{Passenger: "Bob", Ticket: rail.TicketSecondClass.String()},
	}, r.Seats)
}

func TestLedger_RecordAndList(t *testing.T) {
	l := New(memory.NewRepository())
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	first, err := l.Record(Receipt{OrderID: "E1", Train: "G1"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, now, first.Created)

	now = now.Add(time.Hour)
	second, err := l.Record(Receipt{OrderID: "E2", Train: "G2"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := l.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	all, err := l.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "E2", all[0].OrderID)
	assert.Equal(t, "E1", all[1].OrderID)

	require.NoError(t, l.Delete(first.ID))
	_, err = l.Get(first.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedger_RequiresOrderID(t *testing.T) {
	l := New(memory.NewRepository())
	_, err := l.Record(Receipt{Train: "G1"})
	assert.ErrorIs(t, err, rail.ErrInvalidOperation)

	all, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := bbolt.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	r, err := New(store).Record(NewReceipt("alice", "E9", testTrain(), nil))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = bbolt.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	all, err := New(store).List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, r.ID, all[0].ID)
	assert.True(t, r.DepartureAt.Equal(all[0].DepartureAt))
}

func TestLedger_OrderIDIndex(t *testing.T) {
	for name, open := range map[string]func(t *testing.T) storage.Repository{
		"memory": func(*testing.T) storage.Repository { return memory.NewRepository() },
		"bbolt": func(t *testing.T) storage.Repository {
			store, err := bbolt.NewRepositoryFromFile(filepath.Join(t.TempDir(), "ledger.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	} {
		t.Run(name, func(t *testing.T) {
			l := New(open(t))
			r, err := l.Record(Receipt{OrderID: "E1", Train: "G1"})
			require.NoError(t, err)

			got, err := l.ByOrderID("E1")
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)

			_, err = l.Record(Receipt{OrderID: "E1", Train: "G1"})
			assert.ErrorIs(t, err, ErrAlreadyRecorded)
			all, err := l.List()
			require.NoError(t, err)
			assert.Len(t, all, 1, "a rejected receipt is not stored")

			byID, err := l.Find(r.ID)
			require.NoError(t, err)
			byOrder, err := l.Find("E1")
			require.NoError(t, err)
			assert.Equal(t, byID, byOrder)
			_, err = l.Find("E404")
			assert.True(t, storage.IsNotFound(err))

			require.NoError(t, l.Delete(r.ID))
			_, err = l.ByOrderID("E1")
			assert.True(t, storage.IsNotFound(err))
			assert.True(t, storage.IsNotFound(l.Delete(r.ID)))

			_, err = l.Record(Receipt{OrderID: "E1", Train: "G1"})
			assert.NoError(t, err, "a deleted order can be recorded again")
		})
	}
}
