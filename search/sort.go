package search

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"unicode"

	"github.com/jmcleod/ticketizer/rail"
)

// Method reorders trains in place. Methods must be stable so that
// successive methods refine earlier ones.
type Method func(trains []*rail.Train)

// Sorter applies its methods in turn, then moves favorites to the front in
// the order they are listed.
type Sorter struct {
	Methods   []Method
	Favorites []string
}

// Sort orders trains in place.
func (s *Sorter) Sort(trains []*rail.Train) {
	for _, m := range s.Methods {
		m(trains)
	}
	if len(s.Favorites) == 0 {
		return
	}
	rank := make(map[string]int, len(s.Favorites))
	for i, name := range s.Favorites {
		if _, dup := rank[name]; !dup {
			rank[name] = i
		}
	}
	slices.SortStableFunc(trains, func(a, b *rail.Train) int {
		return cmp.Compare(rankOf(rank, a.Name), rankOf(rank, b.Name))
	})
}

func rankOf(rank map[string]int, name string) int {
	if r, ok := rank[name]; ok {
		return r
	}
	return len(rank)
}

func by[T cmp.Ordered](key func(*rail.Train) T, reverse bool) Method {
	return func(trains []*rail.Train) {
		slices.SortStableFunc(trains, func(a, b *rail.Train) int {
			if reverse {
				return cmp.Compare(key(b), key(a))
			}
			return cmp.Compare(key(a), key(b))
		})
	}
}

// ByName orders by train type, then by number within a type.
func ByName(reverse bool) Method {
	number := by(trainNumber, reverse)
	kind := by(func(t *rail.Train) rail.TrainType { return t.Type }, reverse)
	return func(trains []*rail.Train) {
		number(trains)
		kind(trains)
	}
}

func trainNumber(t *rail.Train) int {
	name := t.Name
	if name != "" && unicode.IsLetter(rune(name[0])) {
		name = name[1:]
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		return math.MaxInt
	}
	return n
}

// ByDepartureTime orders by departure.
func ByDepartureTime(reverse bool) Method {
	return by(func(t *rail.Train) int64 { return t.DepartureTime.Unix() }, reverse)
}

// ByArrivalTime orders by arrival.
func ByArrivalTime(reverse bool) Method {
	return by(func(t *rail.Train) int64 { return t.ArrivalTime.Unix() }, reverse)
}

// ByDuration orders by travel time.
func ByDuration(reverse bool) Method {
	return by(func(t *rail.Train) int64 { return int64(t.Duration) }, reverse)
}

// ByPrice orders ascending by the cheapest known ticket, or descending by
// the dearest. Unknown prices sort last ascending and count as zero
// descending, so reversing an ascending sort is not the same as a
// descending one.
func ByPrice(reverse bool) Method {
	if reverse {
		return by(func(t *rail.Train) int64 {
			var most int64
			for _, tk := range t.Tickets {
				if tk.Price != nil {
					most = max(most, *tk.Price)
				}
			}
			return most
		}, true)
	}
	return by(func(t *rail.Train) int64 {
		least := int64(math.MaxInt64)
		for _, tk := range t.Tickets {
			if tk.Price != nil {
				least = min(least, *tk.Price)
			}
		}
		return least
	}, false)
}

// ParseMethod maps a method name used on the command line to a Method.
func ParseMethod(name string, reverse bool) (Method, bool) {
	switch name {
	case "name":
		return ByName(reverse), true
	case "departure":
		return ByDepartureTime(reverse), true
	case "arrival":
		return ByArrivalTime(reverse), true
	case "duration":
		return ByDuration(reverse), true
	case "price":
		return ByPrice(reverse), true
	}
	return nil, false
}
