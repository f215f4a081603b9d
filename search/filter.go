package search

import (
	"cmp"
	"time"

	"github.com/jmcleod/ticketizer/rail"
)

// Range is an optionally bounded closed interval.
type Range[T cmp.Ordered] struct {
	Lower *T
	Upper *T
}

// Bounded reports whether either end is set.
func (r Range[T]) Bounded() bool {
	return r.Lower != nil || r.Upper != nil
}

// Contains reports whether v lies within the range.
func (r Range[T]) Contains(v T) bool {
	if r.Lower != nil && v < *r.Lower {
		return false
	}
	if r.Upper != nil && v > *r.Upper {
		return false
	}
	return true
}

// Between builds a range; nil ends are unbounded.
func Between[T cmp.Ordered](lower, upper *T) Range[T] {
	return Range[T]{Lower: lower, Upper: upper}
}

// TicketFilter selects the tickets of a train worth showing.
type TicketFilter struct {
	Types rail.TicketType
	// Price is in fen. A ticket without a known price fails a bounded range.
	Price          Range[int64]
	SkipSoldOut    bool
	SkipNotYetSold bool
}

// Match reports whether t passes the filter. Tickets the train does not
// offer never do.
func (f *TicketFilter) Match(t *rail.Ticket) bool {
	switch {
	case t == nil, t.Status == rail.StatusNotApplicable:
		return false
	case f.SkipSoldOut && t.Status == rail.StatusSoldOut:
		return false
	case f.SkipNotYetSold && t.Status == rail.StatusNotYetSold:
		return false
	case f.Types&t.Type != t.Type:
		return false
	}
	if f.Price.Bounded() {
		return t.Price != nil && f.Price.Contains(*t.Price)
	}
	return true
}

// Tickets returns the tickets of train that pass, in display order.
func (f *TicketFilter) Tickets(train *rail.Train) []*rail.Ticket {
	var out []*rail.Ticket
	for _, typ := range rail.TicketTypes {
		if t := train.Ticket(typ); f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Filter selects trains. Times of day are durations since midnight in
// rail.Location.
type Filter struct {
	Types rail.TrainType
	// Whitelisted trains pass regardless of the other criteria.
	Whitelist map[string]bool
	Blacklist map[string]bool
	Departure Range[time.Duration]
	Arrival   Range[time.Duration]
	Duration  Range[time.Duration]
	Tickets   TicketFilter
}

// NewFilter returns a filter that passes every train with at least one
// ticket class on offer.
func NewFilter() *Filter {
	return &Filter{
		Types:     rail.TrainAll,
		Whitelist: map[string]bool{},
		Blacklist: map[string]bool{},
		Tickets:   TicketFilter{Types: rail.TicketAll},
	}
}

// Match reports whether train passes.
func (f *Filter) Match(train *rail.Train) bool {
	switch {
	case f.Whitelist[train.Name]:
		return true
	case f.Blacklist[train.Name]:
		return false
	case f.Types&train.Type != train.Type:
		return false
	case !f.Departure.Contains(clock(train.DepartureTime)):
		return false
	case !f.Arrival.Contains(clock(train.ArrivalTime)):
		return false
	case !f.Duration.Contains(train.Duration):
		return false
	}
	return len(f.Tickets.Tickets(train)) > 0
}

// Apply returns the trains that pass, keeping their order.
func (f *Filter) Apply(trains []*rail.Train) []*rail.Train {
	out := make([]*rail.Train, 0, len(trains))
	for _, t := range trains {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func clock(t time.Time) time.Duration {
	t = t.In(rail.Location)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}
