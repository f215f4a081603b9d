// Package station loads the backend's station table and resolves user input
// to stations.
package station

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/rail"
)

// Parse reads station_name.js. The script assigns one quoted string of
// '@'-separated entries, each "order|name|id|pinyin|abbreviation|index".
func Parse(script []byte) ([]rail.Station, error) {
	parts := strings.Split(string(script), "'")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: station list is not a single quoted string", rail.ErrProtocolShapeMismatch)
	}
	entries := strings.Split(parts[1], "@")
	if len(entries) < 2 {
		return nil, fmt.Errorf("%w: station list is empty", rail.ErrProtocolShapeMismatch)
	}
	stations := make([]rail.Station, 0, len(entries)-1)
	for i, entry := range entries[1:] {
		fields := strings.Split(entry, "|")
		if len(fields) < 5 || fields[1] == "" || fields[2] == "" {
			return nil, fmt.Errorf("%w: station entry %d: %q", rail.ErrProtocolShapeMismatch, i, entry)
		}
		stations = append(stations, rail.Station{
			Name:         fields[1],
			ID:           fields[2],
			Pinyin:       fields[3],
			Abbreviation: fields[4],
		})
	}
	return stations, nil
}

// Fetch downloads and parses the station table.
func Fetch(ctx context.Context, client *backend.Client) ([]rail.Station, error) {
	resp, err := client.Get(ctx, backend.PathStationNames, "")
	if err != nil {
		return nil, fmt.Errorf("fetching station list: %w", err)
	}
	return Parse(resp.Body)
}

// Table indexes stations by each of their names. Lookups ignore case, width
// and surrounding space.
type Table struct {
	stations []rail.Station
	byID     map[string]int
	byName   map[string]int
	byPinyin map[string]int
	byAbbrev map[string]int
}

// NewTable indexes stations. On duplicate keys the first station wins.
func NewTable(stations []rail.Station) *Table {
	t := &Table{
		stations: slices.Clone(stations),
		byID:     make(map[string]int, len(stations)),
		byName:   make(map[string]int, len(stations)),
		byPinyin: make(map[string]int, len(stations)),
		byAbbrev: make(map[string]int, len(stations)),
	}
	for i, s := range t.stations {
		index(t.byID, s.ID, i)
		index(t.byName, s.Name, i)
		index(t.byPinyin, s.Pinyin, i)
		index(t.byAbbrev, s.Abbreviation, i)
	}
	return t
}

func index(m map[string]int, key string, i int) {
	k := normalize(key)
	if k == "" {
		return
	}
	if _, ok := m[k]; !ok {
		m[k] = i
	}
}

func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

func (t *Table) lookup(m map[string]int, key string) (rail.Station, bool) {
	i, ok := m[normalize(key)]
	if !ok {
		return rail.Station{}, false
	}
	return t.stations[i], true
}

// ByID looks a station up by telecode.
func (t *Table) ByID(id string) (rail.Station, bool) {
	return t.lookup(t.byID, id)
}

// ByName looks a station up by its display name.
func (t *Table) ByName(name string) (rail.Station, bool) {
	return t.lookup(t.byName, name)
}

// ByPinyin looks a station up by its full pinyin.
func (t *Table) ByPinyin(pinyin string) (rail.Station, bool) {
	return t.lookup(t.byPinyin, pinyin)
}

// ByAbbreviation looks a station up by its pinyin initials.
func (t *Table) ByAbbreviation(abbrev string) (rail.Station, bool) {
	return t.lookup(t.byAbbrev, abbrev)
}

// Find resolves free text, trying telecode, abbreviation, name and pinyin in
// that order.
func (t *Table) Find(text string) (rail.Station, bool) {
	for _, m := range []map[string]int{t.byID, t.byAbbrev, t.byName, t.byPinyin} {
		if s, ok := t.lookup(m, text); ok {
			return s, true
		}
	}
	return rail.Station{}, false
}

// Resolve is Find with an error for unknown stations.
func (t *Table) Resolve(text string) (rail.Station, error) {
	s, ok := t.Find(text)
	if !ok {
		return rail.Station{}, fmt.Errorf("%w: unknown station %q", rail.ErrInvalidOperation, text)
	}
	return s, nil
}

// Match returns stations whose name, pinyin or abbreviation starts with
// prefix, in table order.
func (t *Table) Match(prefix string) []rail.Station {
	p := normalize(prefix)
	if p == "" {
		return nil
	}
	var out []rail.Station
	for _, s := range t.stations {
		for _, k := range []string{s.Name, s.Pinyin, s.Abbreviation} {
			if strings.HasPrefix(normalize(k), p) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// All returns the stations in table order.
func (t *Table) All() []rail.Station {
	return slices.Clone(t.stations)
}

// Len returns the number of stations.
func (t *Table) Len() int {
	return len(t.stations)
}
