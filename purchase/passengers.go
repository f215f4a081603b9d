package purchase

import (
	"fmt"
	"strings"

	"github.com/jmcleod/ticketizer/rail"
)

// Selection assigns a ticket to a passenger. An order is an ordered list of
// selections; the order is kept in both passenger encodings.
type Selection struct {
	Passenger *rail.Passenger
	Ticket    *rail.Ticket
}

func validateSelections(selections []Selection) error {
	if len(selections) == 0 {
		return fmt.Errorf("%w: no passengers selected", rail.ErrInvalidOperation)
	}
	seen := make(map[*rail.Passenger]bool, len(selections))
	for i, s := range selections {
		if s.Passenger == nil || s.Ticket == nil {
			return fmt.Errorf("%w: selection %d is incomplete", rail.ErrInvalidOperation, i)
		}
		if seen[s.Passenger] {
			return fmt.Errorf("%w: passenger %s selected twice", rail.ErrInvalidOperation, s.Passenger.Name)
		}
		seen[s.Passenger] = true
		if !s.Ticket.Available() {
			return fmt.Errorf("%w: %s ticket is %s", rail.ErrInvalidOperation, s.Ticket.Type, s.Ticket.Status)
		}
		if _, ok := s.Ticket.Type.SeatCode(); !ok {
			return fmt.Errorf("%w: %s tickets cannot be ordered", rail.ErrInvalidOperation, s.Ticket.Type)
		}
	}
	return nil
}

// EncodePassengers builds the legacy and current passenger strings the
// order endpoints expect, using the raw codes of the enums. Both walk selections in the same order, so segment
// i of each describes the same passenger. Selections must be validated.
//
//	legacy:  name,idType,idNumber,passengerType_ ... _   (trailing separator)
//	current: seatCode,0,passengerType,name,idType,idNumber,phone,N_ ...
func EncodePassengers(selections []Selection) (legacy, current string) {
	var old, cur strings.Builder
	for i, s := range selections {
		p := s.Passenger
		seat, _ := s.Ticket.Type.SeatCode()
		fmt.Fprintf(&old, "%s,%s,%s,%s_", p.Name, string(p.IDType), p.IDNumber, string(p.Type))
		if i > 0 {
			cur.WriteByte('_')
		}
		fmt.Fprintf(&cur, "%s,0,%s,%s,%s,%s,%s,N", seat, string(p.Type), p.Name, string(p.IDType), p.IDNumber, p.Phone)
	}
	return old.String(), cur.String()
}
