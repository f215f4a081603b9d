package rail

import "strings"

// TrainType is a bit flag identifying the class of a train.
type TrainType uint8

const (
	TrainOther TrainType = 1 << iota
	TrainK
	TrainT
	TrainZ
	TrainD
	TrainG

	TrainNone TrainType = 0
	TrainAll  TrainType = TrainOther | TrainK | TrainT | TrainZ | TrainD | TrainG
)

type trainTypeInfo struct {
	name   string
	letter string
}

var trainTypes = map[TrainType]trainTypeInfo{
	TrainOther: {name: "其他", letter: ""},
	TrainK:     {name: "快速", letter: "K"},
	TrainT:     {name: "特快", letter: "T"},
	TrainZ:     {name: "直达", letter: "Z"},
	TrainD:     {name: "动车", letter: "D"},
	TrainG:     {name: "高铁", letter: "G"},
}

var trainTypeByLetter = func() map[string]TrainType {
	m := make(map[string]TrainType, len(trainTypes))
	for t, info := range trainTypes {
		if info.letter != "" {
			m[info.letter] = t
		}
	}
	return m
}()

// String returns the full Chinese name of the train type.
func (t TrainType) String() string {
	if info, ok := trainTypes[t]; ok {
		return info.name
	}
	return "unknown"
}

// Letter returns the train-name prefix for the type, empty for TrainOther.
func (t TrainType) Letter() string {
	return trainTypes[t].letter
}

// ParseTrainType returns the type for a prefix letter such as "G".
func ParseTrainType(letter string) (TrainType, bool) {
	t, ok := trainTypeByLetter[strings.ToUpper(letter)]
	return t, ok
}

// TrainTypeOf derives the type from a train name such as "G101" or "1461".
func TrainTypeOf(name string) TrainType {
	if name == "" {
		return TrainOther
	}
	if t, ok := trainTypeByLetter[strings.ToUpper(name[:1])]; ok {
		return t
	}
	return TrainOther
}

// TicketType is a bit flag identifying a seat class.
type TicketType uint16

const (
	TicketOther TicketType = 1 << iota
	TicketNoSeat
	TicketHardSeat
	TicketSoftSeat
	TicketHardSleeper
	TicketSoftSleeper
	TicketSoftSleeperPro
	TicketSecondClass
	TicketFirstClass
	TicketSpecial
	TicketBusiness

	TicketNone TicketType = 0
	TicketAll  TicketType = TicketBusiness<<1 - 1
)

type ticketTypeInfo struct {
	name   string
	abbrev string
	code   string
	code2  string
}

var ticketTypes = map[TicketType]ticketTypeInfo{
	TicketOther:          {name: "其他", abbrev: "qt"},
	TicketNoSeat:         {name: "无座", abbrev: "wz", code: "W", code2: "WZ"},
	TicketHardSeat:       {name: "硬座", abbrev: "yz", code: "1", code2: "A1"},
	TicketSoftSeat:       {name: "软座", abbrev: "rz", code: "2", code2: "A2"},
	TicketHardSleeper:    {name: "硬卧", abbrev: "yw", code: "3", code2: "A3"},
	TicketSoftSleeper:    {name: "软卧", abbrev: "rw", code: "4", code2: "A4"},
	TicketSoftSleeperPro: {name: "高级软卧", abbrev: "gr", code: "6", code2: "A6"},
	TicketSecondClass:    {name: "二等座", abbrev: "ze", code: "O", code2: "O"},
	TicketFirstClass:     {name: "一等座", abbrev: "zy", code: "M", code2: "M"},
	TicketSpecial:        {name: "特等座", abbrev: "tz", code: "P", code2: "P"},
	TicketBusiness:       {name: "商务座", abbrev: "swz", code: "9", code2: "A9"},
}

// TicketTypes lists every concrete ticket type in display order.
var TicketTypes = []TicketType{
	TicketBusiness, TicketSpecial, TicketFirstClass, TicketSecondClass,
	TicketSoftSleeperPro, TicketSoftSleeper, TicketHardSleeper,
	TicketSoftSeat, TicketHardSeat, TicketNoSeat, TicketOther,
}

var (
	ticketTypeByAbbrev = map[string]TicketType{}
	ticketTypeByCode   = map[string]TicketType{}
	ticketTypeByCode2  = map[string]TicketType{}
)

func init() {
	for t, info := range ticketTypes {
		ticketTypeByAbbrev[info.abbrev] = t
		if info.code != "" {
			ticketTypeByCode[info.code] = t
			ticketTypeByCode2[info.code2] = t
		}
	}
}

func (t TicketType) String() string {
	if info, ok := ticketTypes[t]; ok {
		return info.name
	}
	return "unknown"
}

// Abbreviation returns the field prefix the query endpoint uses, e.g. "yz".
func (t TicketType) Abbreviation() string {
	return ticketTypes[t].abbrev
}

// SeatCode returns the code the order endpoints expect. TicketOther has none.
func (t TicketType) SeatCode() (string, bool) {
	info, ok := ticketTypes[t]
	if !ok || info.code == "" {
		return "", false
	}
	return info.code, true
}

// ParseTicketAbbreviation maps a query field prefix back to its type.
func ParseTicketAbbreviation(abbrev string) (TicketType, bool) {
	t, ok := ticketTypeByAbbrev[strings.ToLower(abbrev)]
	return t, ok
}

// ParseSeatCode maps an order seat code back to its type.
func ParseSeatCode(code string) (TicketType, bool) {
	if t, ok := ticketTypeByCode[code]; ok {
		return t, true
	}
	t, ok := ticketTypeByCode2[code]
	return t, ok
}

// TicketStatus describes whether a ticket can be bought.
type TicketStatus int

const (
	StatusNotApplicable TicketStatus = iota
	StatusNotYetSold
	StatusAvailable
	StatusSoldOut
)

var ticketStatusText = map[TicketStatus]string{
	StatusNotApplicable: "--",
	StatusNotYetSold:    "*",
	StatusAvailable:     "有",
	StatusSoldOut:       "无",
}

var ticketStatusByText = func() map[string]TicketStatus {
	m := make(map[string]TicketStatus, len(ticketStatusText))
	for s, text := range ticketStatusText {
		m[text] = s
	}
	return m
}()

func (s TicketStatus) String() string {
	return ticketStatusText[s]
}

// ParseTicketStatus maps the query endpoint's status marker to a status.
func ParseTicketStatus(text string) (TicketStatus, bool) {
	s, ok := ticketStatusByText[text]
	return s, ok
}

// Pricing selects the fare class of an order.
type Pricing string

const (
	PricingNormal  Pricing = "ADULT"
	PricingStudent Pricing = "0X00"
)

// Direction selects one-way or round-trip ordering.
type Direction string

const (
	OneWay    Direction = "dc"
	RoundTrip Direction = "fc"
)

// IDType is the kind of identity document held by a passenger.
type IDType string

const (
	IDSecondGen     IDType = "1"
	IDFirstGen      IDType = "2"
	IDHongKongMacau IDType = "C"
	IDTaiwan        IDType = "G"
	IDPassport      IDType = "B"
)

var idTypeText = map[IDType]string{
	IDSecondGen:     "二代身份证",
	IDFirstGen:      "一代身份证",
	IDHongKongMacau: "港澳通行证",
	IDTaiwan:        "台湾通行证",
	IDPassport:      "护照",
}

func (t IDType) String() string {
	if s, ok := idTypeText[t]; ok {
		return s
	}
	return string(t)
}

// PassengerType is the fare category of a passenger.
type PassengerType string

const (
	PassengerAdult    PassengerType = "1"
	PassengerChild    PassengerType = "2"
	PassengerStudent  PassengerType = "3"
	PassengerDisabled PassengerType = "4"
)

var passengerTypeText = map[PassengerType]string{
	PassengerAdult:    "成人",
	PassengerChild:    "儿童",
	PassengerStudent:  "学生",
	PassengerDisabled: "残疾军人",
}

func (t PassengerType) String() string {
	if s, ok := passengerTypeText[t]; ok {
		return s
	}
	return string(t)
}
