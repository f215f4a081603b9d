package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcleod/ticketizer/rail"
)

// Decision is a Queue Wait Observer's answer to a poll.
type Decision int

const (
	// Continue keeps waiting.
	Continue Decision = iota
	// Abort stops the wait with rail.ErrAborted.
	Abort
)

// QueueStatus is what one poll of the backend queue reported.
type QueueStatus struct {
	// Round counts polls from 1.
	Round int
	// Count is the number of orders ahead of this one.
	Count int
	// Wait is the backend's estimate, zero when it gave none.
	Wait time.Duration
}

// Observer is consulted after every poll that did not finish a wait.
type Observer func(ctx context.Context, status QueueStatus) Decision

func continueAlways(context.Context, QueueStatus) Decision {
	return Continue
}

// WaitQueue polls the queue count of tx until it reaches zero. After every
// non-zero poll observer decides whether to keep going; interval separates
// polls. The transaction remains submitted whatever the result.
func WaitQueue(ctx context.Context, tx *Transaction, selections []Selection, observer Observer, interval time.Duration) error {
	if observer == nil {
		observer = continueAlways
	}
	for round := 1; ; round++ {
		n, err := tx.QueueCount(ctx, selections)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if observer(ctx, QueueStatus{Round: round, Count: n}) == Abort {
			return fmt.Errorf("queue wait: %w", rail.ErrAborted)
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
