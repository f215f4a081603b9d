// Package ledger keeps a local record of completed orders.
package ledger

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmcleod/ticketizer/internal/uuid"
	"github.com/jmcleod/ticketizer/purchase"
	"github.com/jmcleod/ticketizer/rail"
	"github.com/jmcleod/ticketizer/storage"
)

const (
	namespace  = "ledger"
	recordType = "order"
	indexType  = "order-id"
)

// ErrAlreadyRecorded is returned when a receipt for the order id exists.
var ErrAlreadyRecorded = errors.New("order already recorded")

type indexEntry struct {
	ID string `json:"id"`
}

// Seat is one passenger on a receipt.
type Seat struct {
	Passenger string `json:"passenger"`
	Ticket    string `json:"ticket"`
}

// Receipt describes an order the backend accepted.
type Receipt struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Username    string    `json:"username"`
	Train       string    `json:"train"`
	Departure   string    `json:"departure"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	Seats       []Seat    `json:"seats"`
	Created     time.Time `json:"created"`
}

// NewReceipt describes an order placed for selections on train.
func NewReceipt(username, orderID string, train *rail.Train, selections []purchase.Selection) Receipt {
	r := Receipt{
		OrderID:     orderID,
		Username:    username,
		Train:       train.Name,
		Departure:   train.DepartureStation.Name,
		Destination: train.DestinationStation.Name,
		DepartureAt: train.DepartureTime,
	}
	for _, s := range selections {
		r.Seats = append(r.Seats, Seat{Passenger: s.Passenger.Name, Ticket: s.Ticket.Type.String()})
	}
	return r
}

// Ledger stores receipts in a storage.Repository.
type Ledger struct {
	repo   storage.Repository
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New creates a Ledger over repo.
func New(repo storage.Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// Record stores r under a new id and returns the stored receipt. The receipt
// and its order id index are written together; an order id is recorded once.
func (l *Ledger) Record(r Receipt) (Receipt, error) {
	if r.OrderID == "" {
		return Receipt{}, fmt.Errorf("%w: receipt has no order id", rail.ErrInvalidOperation)
	}
	r.ID = uuid.New()
	r.Created = l.now().UTC()
	rec, err := storage.Encode(r, 1)
	if err != nil {
		return Receipt{}, err
	}
	idx, err := storage.Encode(indexEntry{ID: r.ID}, 1)
	if err != nil {
		return Receipt{}, err
	}
	err = l.repo.Batch(namespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(indexType, r.OrderID, 0, idx); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return fmt.Errorf("%w: %s", ErrAlreadyRecorded, r.OrderID)
			}
			return err
		}
		return tx.PutCAS(recordType, r.ID, 0, rec)
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("recording order %s: %w", r.OrderID, err)
	}
	l.logger.Info("recorded order", slog.String("id", r.ID), slog.String("order_id", r.OrderID), slog.String("train", r.Train))
	return r, nil
}

// ByOrderID returns the receipt recorded for the backend order id.
func (l *Ledger) ByOrderID(orderID string) (Receipt, error) {
	rec, err := l.repo.Get(namespace, indexType, orderID)
	if err != nil {
		return Receipt{}, err
	}
	var idx indexEntry
	if err := rec.Decode(&idx); err != nil {
		return Receipt{}, err
	}
	return l.Get(idx.ID)
}

// Find looks ref up as a receipt id, then as an order id.
func (l *Ledger) Find(ref string) (Receipt, error) {
	r, err := l.Get(ref)
	if storage.IsNotFound(err) {
		return l.ByOrderID(ref)
	}
	return r, err
}

// Get returns the receipt with the given id.
func (l *Ledger) Get(id string) (Receipt, error) {
	rec, err := l.repo.Get(namespace, recordType, id)
	if err != nil {
		return Receipt{}, err
	}
	var r Receipt
	if err := rec.Decode(&r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

// List returns every receipt, newest first.
func (l *Ledger) List() ([]Receipt, error) {
	ids, err := l.repo.List(namespace, recordType)
	if err != nil {
		return nil, err
	}
	out := make([]Receipt, 0, len(ids))
	for _, id := range ids {
		r, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Receipt) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Delete removes the receipt with the given id and its order id index.
func (l *Ledger) Delete(id string) error {
	r, err := l.Get(id)
	if err != nil {
		return err
	}
	err = l.repo.Batch(namespace, func(tx storage.BatchTx) error {
		if err := tx.Delete(recordType, id); err != nil {
			return err
		}
		if err := tx.Delete(indexType, r.OrderID); err != nil && !storage.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting receipt %s: %w", id, err)
	}
	l.logger.Info("deleted order", slog.String("id", id), slog.String("order_id", r.OrderID))
	return nil
}
