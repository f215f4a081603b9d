// Package rail defines the train, ticket, station and passenger records shared by
// the session, captcha, auth and purchase packages, together with the error
// taxonomy reported by the ticketing engine.
package rail

import (
	"fmt"
	"time"
)

// Location is the backend's wall-clock zone (UTC+8).
var Location = time.FixedZone("CST", 8*60*60)

// DateLayout is the date format the backend accepts in form fields.
const DateLayout = "2006-01-02"

// ManyTickets is the Count of a ticket the backend only reports as plentiful.
const ManyTickets = -1

// Station is a stop in the backend's station table. Stations compare by ID.
type Station struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	Pinyin       string `json:"pinyin"`
	Abbreviation string `json:"abbreviation"`
}

func (s Station) String() string {
	return fmt.Sprintf("%s (ID: %s)", s.Name, s.ID)
}

// Ticket is one seat class on a train listing.
type Ticket struct {
	Type   TicketType
	Status TicketStatus
	Count  int
	// Price is in fen; nil until someone fetches it.
	Price *int64
}

// Available reports whether the ticket can be selected for an order.
func (t *Ticket) Available() bool {
	return t != nil && t.Status == StatusAvailable
}

func (t *Ticket) String() string {
	switch {
	case t.Status != StatusAvailable:
		return t.Status.String()
	case t.Count == ManyTickets:
		return StatusAvailable.String()
	default:
		return fmt.Sprintf("%d", t.Count)
	}
}

// Train is a single listing returned by a train query.
type Train struct {
	ID                 string
	Name               string
	Type               TrainType
	DepartureStation   Station
	DestinationStation Station
	DepartureTime      time.Time
	ArrivalTime        time.Time
	Duration           time.Duration
	// SecretKey is the URL-encoded token the listing was issued with.
	SecretKey    string
	LocationCode string
	// TicketCount is the backend's opaque left-ticket string.
	TicketCount string
	Tickets     map[TicketType]*Ticket
}

// Ticket returns the ticket of the given class, or nil.
func (t *Train) Ticket(typ TicketType) *Ticket {
	return t.Tickets[typ]
}

// Date returns the departure date formatted for order forms.
func (t *Train) Date() string {
	return t.DepartureTime.In(Location).Format(DateLayout)
}

// Passenger is an entry in the account's passenger list. Identity is by
// pointer: two passengers with equal fields are still distinct selections.
type Passenger struct {
	Name     string
	IDType   IDType
	IDNumber string
	Phone    string
	Type     PassengerType
}
