// Package purchase implements the order protocol of the ticketing backend.
//
// An order is a single-use Transaction that moves Idle -> Submitted -> Idle:
//
//  1. Begin submits the order and reads the transaction token and key from
//     the confirmation page.
//  2. The caller fetches PurchaseCaptcha and Passengers, solves the captcha
//     and chooses a ticket per passenger.
//  3. Continue verifies the order, polls the queue once, confirms, and waits
//     for the backend to issue an order id.
//
// Any failure in Continue returns the transaction to Idle; Begin must be
// called again before retrying.
package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/captcha"
	"github.com/jmcleod/ticketizer/internal/pagevars"
	"github.com/jmcleod/ticketizer/internal/uuid"
	"github.com/jmcleod/ticketizer/rail"
)

const (
	// DefaultPollInterval separates order-id polls.
	DefaultPollInterval = 2 * time.Second

	unfinishedOrderPrefix = "您还有未处理的订单"
	dataExpiredPrefix     = "车票信息已过期"

	queueDateLayout = "Mon Jan 02 2006 00:00:00 GMT+0800 (China Standard Time)"
)

// Transaction is one purchase attempt for one train. It is not safe for
// concurrent use.
type Transaction struct {
	client       *backend.Client
	captchas     *captcha.Cache
	train        *rail.Train
	direction    rail.Direction
	pricing      rail.Pricing
	observer     Observer
	pollInterval time.Duration
	pick         func(n int) int
	baseLogger   *slog.Logger
	logger       *slog.Logger

	submitToken    string
	transactionKey string
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithDirection selects one-way (default) or round-trip ordering.
func WithDirection(d rail.Direction) Option {
	return func(t *Transaction) {
		t.direction = d
	}
}

// WithPricing selects the fare class. Default: rail.PricingNormal.
func WithPricing(p rail.Pricing) Option {
	return func(t *Transaction) {
		t.pricing = p
	}
}

// WithCaptchaCache shares a captcha cache with other components of the
// same engine.
func WithCaptchaCache(c *captcha.Cache) Option {
	return func(t *Transaction) {
		t.captchas = c
	}
}

// WithObserver sets the observer consulted while waiting for the order id.
func WithObserver(o Observer) Option {
	return func(t *Transaction) {
		t.observer = o
	}
}

// WithPollInterval sets the delay between order-id polls.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transaction) {
		t.pollInterval = d
	}
}

// WithLogger sets the logger. Records carry the train name and, once Begin
// ran, an attempt id.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transaction) {
		t.baseLogger = logger
	}
}

// New creates an idle transaction for train.
func New(client *backend.Client, train *rail.Train, opts ...Option) *Transaction {
	t := &Transaction{
		client:       client,
		train:        train,
		direction:    rail.OneWay,
		pricing:      rail.PricingNormal,
		observer:     continueAlways,
		pollInterval: DefaultPollInterval,
		pick:         rand.IntN,
		baseLogger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.captchas == nil {
		t.captchas = captcha.NewCache(client)
	}
	if t.observer == nil {
		t.observer = continueAlways
	}
	t.baseLogger = t.baseLogger.With("component", "purchase")
	if train != nil {
		t.baseLogger = t.baseLogger.With("train", train.Name)
	}
	t.logger = t.baseLogger
	return t
}

// Train returns the train being ordered.
func (t *Transaction) Train() *rail.Train {
	return t.train
}

// Submitted reports whether Begin succeeded and the transaction was not yet
// consumed.
func (t *Transaction) Submitted() bool {
	return t.submitToken != "" && t.transactionKey != ""
}

func (t *Transaction) reset() {
	t.submitToken = ""
	t.transactionKey = ""
}

func (t *Transaction) ensureSubmitted() error {
	if !t.Submitted() {
		return fmt.Errorf("%w: order has not been submitted", rail.ErrInvalidOperation)
	}
	return nil
}

// Begin submits the order and acquires the transaction token and key. Calling
// it on a submitted transaction starts over. The tokens are stored only when
// every step succeeded.
func (t *Transaction) Begin(ctx context.Context) error {
	t.reset()
	if t.train == nil {
		return fmt.Errorf("%w: no train", rail.ErrInvalidOperation)
	}
	secret, err := url.PathUnescape(t.train.SecretKey)
	if err != nil {
		return fmt.Errorf("%w: malformed secret key: %v", rail.ErrInvalidOperation, err)
	}
	t.logger = t.baseLogger.With("attempt", uuid.Short())
	t.logger.Debug("submitting order", slog.String("date", t.train.Date()))

	form := url.Values{
		"back_train_date":         {t.train.Date()},
		"purpose_codes":           {string(t.pricing)},
		"query_from_station_name": {t.train.DepartureStation.Name},
		"query_to_station_name":   {t.train.DestinationStation.Name},
		"secretStr":               {secret},
		"tour_flag":               {string(t.direction)},
		"train_date":              {t.train.Date()},
	}
	env, err := t.client.PostJSON(ctx, backend.PathSubmitOrder, form)
	if err != nil {
		return err
	}
	if !env.Status {
		return classifySubmit(env.Messages)
	}

	page, err := t.client.PostForm(ctx, t.confirmPath(), url.Values{"_json_att": {""}})
	if err != nil {
		return err
	}
	token, key, err := extractTokens(page.Text())
	if err != nil {
		return err
	}
	t.submitToken, t.transactionKey = token, key
	t.logger.Info("order submitted")
	return nil
}

func (t *Transaction) confirmPath() string {
	if t.direction == rail.RoundTrip {
		return backend.PathConfirmRoundTrip
	}
	return backend.PathConfirmOneWay
}

func classifySubmit(messages []string) error {
	for _, m := range messages {
		switch {
		case strings.HasPrefix(m, unfinishedOrderPrefix):
			return rail.Rejected(rail.ErrUnfinishedTransaction, messages...)
		case strings.HasPrefix(m, dataExpiredPrefix):
			return rail.Rejected(rail.ErrDataExpired, messages...)
		}
	}
	return rail.Rejected(rail.ErrInvalidRequest, messages...)
}

func extractTokens(page string) (token, key string, err error) {
	vars, err := pagevars.Vars(page, "globalRepeatSubmitToken")
	if err != nil {
		return "", "", err
	}
	token, err = pagevars.RequireText(vars, "globalRepeatSubmitToken")
	if err != nil {
		return "", "", err
	}
	v, ok, err := pagevars.Property(page, backend.FieldKeyCheckIsChange)
	if err != nil {
		return "", "", err
	}
	if !ok || v.Null {
		return "", "", fmt.Errorf("%w: %s not found in page", rail.ErrProtocolShapeMismatch, backend.FieldKeyCheckIsChange)
	}
	if token == "" || v.Text == "" {
		return "", "", fmt.Errorf("%w: empty transaction token", rail.ErrProtocolShapeMismatch)
	}
	return token, v.Text, nil
}

func (t *Transaction) tokenParams() url.Values {
	return url.Values{backend.FieldRepeatSubmit: {t.submitToken}}
}

// PurchaseCaptcha returns a purchase captcha bound to this transaction,
// reusing the cached one while it is still valid.
func (t *Transaction) PurchaseCaptcha(ctx context.Context) (*captcha.Captcha, error) {
	if err := t.ensureSubmitted(); err != nil {
		return nil, err
	}
	c, err := t.captchas.Get(ctx, captcha.Purchase, t.tokenParams())
	if err != nil {
		return nil, err
	}
	if c.CheckParams.Get(backend.FieldRepeatSubmit) != t.submitToken {
		return t.captchas.Refresh(ctx, captcha.Purchase, t.tokenParams())
	}
	return c, nil
}

// SolveCaptcha runs the captcha loop for this transaction.
func (t *Transaction) SolveCaptcha(ctx context.Context, solver captcha.Solver, retries int) (*captcha.Captcha, error) {
	if err := t.ensureSubmitted(); err != nil {
		return nil, err
	}
	source := func(ctx context.Context, refresh bool) (*captcha.Captcha, error) {
		if refresh {
			return t.captchas.Refresh(ctx, captcha.Purchase, t.tokenParams())
		}
		return t.PurchaseCaptcha(ctx)
	}
	return captcha.Solve(ctx, t.client, source, solver, captcha.SolveOptions{Retries: retries, Logger: t.logger})
}

type passengerDTO struct {
	Name     string `json:"passenger_name"`
	IDType   string `json:"passenger_id_type_code"`
	IDNumber string `json:"passenger_id_no"`
	Phone    string `json:"mobile_no"`
	Type     string `json:"passenger_type"`
}

// Passengers returns the passengers registered on the account.
func (t *Transaction) Passengers(ctx context.Context) ([]*rail.Passenger, error) {
	if err := t.ensureSubmitted(); err != nil {
		return nil, err
	}
	env, err := t.client.PostJSON(ctx, backend.PathPassengers, t.tokenParams())
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, rail.Rejected(rail.ErrInvalidRequest, env.Messages...)
	}
	var data struct {
		Normal *[]passengerDTO `json:"normal_passengers"`
	}
	if err := env.DecodeData(&data); err != nil {
		return nil, err
	}
	if data.Normal == nil {
		return nil, fmt.Errorf("%w: passenger list missing", rail.ErrProtocolShapeMismatch)
	}
	out := make([]*rail.Passenger, 0, len(*data.Normal))
	for _, p := range *data.Normal {
		out = append(out, &rail.Passenger{
			Name:     p.Name,
			IDType:   rail.IDType(p.IDType),
			IDNumber: p.IDNumber,
			Phone:    p.Phone,
			Type:     rail.PassengerType(p.Type),
		})
	}
	t.logger.Debug("fetched passenger list", slog.Int("count", len(out)))
	return out, nil
}

// Continue places the order for selections using the solved purchase
// captcha c and returns the order id. The transaction is consumed whatever
// the outcome: both tokens are cleared before Continue returns.
func (t *Transaction) Continue(ctx context.Context, selections []Selection, c *captcha.Captcha) (string, error) {
	if err := t.ensureSubmitted(); err != nil {
		return "", err
	}
	defer t.reset()

	if err := validateSelections(selections); err != nil {
		return "", err
	}
	if err := captcha.EnsureUsable(t.client, c, captcha.Purchase); err != nil {
		return "", err
	}
	if c.CheckParams.Get(backend.FieldRepeatSubmit) != t.submitToken {
		return "", fmt.Errorf("%w: %w: purchase captcha belongs to an earlier transaction", rail.ErrInvalidOperation, rail.ErrStaleCaptcha)
	}
	if c.Answer == "" {
		return "", fmt.Errorf("%w: purchase captcha has not been solved", rail.ErrInvalidOperation)
	}

	legacy, current := EncodePassengers(selections)
	if err := t.checkOrder(ctx, legacy, current, c.Answer); err != nil {
		return "", err
	}
	if _, err := t.queueCount(ctx, selections); err != nil {
		return "", err
	}
	if err := t.confirm(ctx, legacy, current, c.Answer); err != nil {
		return "", err
	}
	orderID, err := t.waitOrderID(ctx)
	if err != nil {
		return "", err
	}
	t.logger.Info("order placed", slog.String("order_id", orderID), slog.Int("passengers", len(selections)))
	return orderID, nil
}

func (t *Transaction) checkOrder(ctx context.Context, legacy, current, answer string) error {
	form := url.Values{
		backend.FieldRepeatSubmit: {t.submitToken},
		"bed_level_order_num":     {"000000000000000000000000000000"},
		"cancel_flag":             {"2"},
		"oldPassengerStr":         {legacy},
		"passengerTicketStr":      {current},
		"randCode":                {answer},
		"tour_flag":               {string(t.direction)},
	}
	env, err := t.client.PostJSON(ctx, backend.PathCheckOrderInfo, form)
	if err != nil {
		return err
	}
	if !env.Flag("submitStatus") {
		return rail.Rejected(rail.ErrPurchaseFailed, rejectionMessages(env, "errMsg")...)
	}
	return nil
}

// QueueCount polls the queue once and returns the number of orders ahead.
// The transaction must be submitted; it stays submitted on failure.
func (t *Transaction) QueueCount(ctx context.Context, selections []Selection) (int, error) {
	if err := t.ensureSubmitted(); err != nil {
		return 0, err
	}
	if err := validateSelections(selections); err != nil {
		return 0, err
	}
	return t.queueCount(ctx, selections)
}

func (t *Transaction) queueCount(ctx context.Context, selections []Selection) (int, error) {
	// Any selection's seat type will do for this request.
	seat, _ := selections[t.pick(len(selections))].Ticket.Type.SeatCode()
	form := url.Values{
		backend.FieldRepeatSubmit: {t.submitToken},
		"fromStationTelecode":     {t.train.DepartureStation.ID},
		"toStationTelecode":       {t.train.DestinationStation.ID},
		"leftTicket":              {t.train.TicketCount},
		"purpose_codes":           {string(t.pricing)},
		"seatType":                {seat},
		"stationTrainCode":        {t.train.Name},
		"train_no":                {t.train.ID},
		"train_date":              {t.train.DepartureTime.In(rail.Location).Format(queueDateLayout)},
	}
	env, err := t.client.PostJSON(ctx, backend.PathQueueCount, form)
	if err != nil {
		return 0, err
	}
	if !env.Status {
		return 0, rail.Rejected(rail.ErrPurchaseFailed, env.Messages...)
	}
	if env.Flag("op_2") {
		return 0, rail.Rejected(rail.ErrPurchaseFailed, "too many people in queue")
	}
	n, err := backend.Int(env.Field("countT"))
	if err != nil {
		return 0, fmt.Errorf("queue count: %w", err)
	}
	if n > 0 {
		t.logger.Debug("people in queue", slog.Int("count", n))
	}
	return n, nil
}

func (t *Transaction) confirm(ctx context.Context, legacy, current, answer string) error {
	form := url.Values{
		backend.FieldRepeatSubmit:     {t.submitToken},
		backend.FieldKeyCheckIsChange: {t.transactionKey},
		"train_location":              {t.train.LocationCode},
		"leftTicketStr":               {t.train.TicketCount},
		"purpose_codes":               {string(t.pricing)},
		"oldPassengerStr":             {legacy},
		"passengerTicketStr":          {current},
		"randCode":                    {answer},
	}
	env, err := t.client.PostJSON(ctx, backend.PathConfirmForQueue, form)
	if err != nil {
		return err
	}
	if !env.Flag("submitStatus") {
		return rail.Rejected(rail.ErrPurchaseFailed, rejectionMessages(env, "errMsg")...)
	}
	return nil
}

// Negative wait times that come without an order id while the backend is
// still working on the order. Any other negative value is final.
const (
	waitProcessing = -4
	waitRequery    = -100
)

type waitReply struct {
	WaitTime  json.RawMessage `json:"waitTime"`
	WaitCount json.RawMessage `json:"waitCount"`
	OrderID   *string         `json:"orderId"`
	Msg       string          `json:"msg"`
}

func (t *Transaction) waitOrderID(ctx context.Context) (string, error) {
	for round := 1; ; round++ {
		query := backend.OrderedQuery(
			"random", strconv.FormatInt(time.Now().UnixMilli(), 10),
			"tourFlag", string(t.direction),
			"_json_att", "",
			backend.FieldRepeatSubmit, t.submitToken,
		)
		env, err := t.client.GetJSON(ctx, backend.PathOrderWaitTime, query)
		if err != nil {
			return "", err
		}
		var reply waitReply
		if err := env.DecodeData(&reply); err != nil {
			return "", err
		}
		if reply.OrderID != nil && *reply.OrderID != "" {
			return *reply.OrderID, nil
		}
		wait, err := backend.Int(reply.WaitTime)
		if err != nil {
			return "", fmt.Errorf("order wait time: %w", err)
		}
		switch {
		case wait == waitProcessing || wait == waitRequery:
			wait = 0
		case wait < 0:
			msgs := env.Messages
			if reply.Msg != "" {
				msgs = append(msgs, reply.Msg)
			}
			if len(msgs) == 0 {
				msgs = []string{fmt.Sprintf("order wait ended with code %d", wait)}
			}
			return "", rail.Rejected(rail.ErrPurchaseFailed, msgs...)
		}
		count, _ := backend.Int(reply.WaitCount)
		status := QueueStatus{Round: round, Count: count, Wait: time.Duration(wait) * time.Second}
		t.logger.Debug("waiting for order id", slog.Int("round", round), slog.Int("count", count), slog.Int("wait_seconds", wait))
		if t.observer(ctx, status) == Abort {
			return "", fmt.Errorf("order wait: %w", rail.ErrAborted)
		}
		if err := sleep(ctx, t.pollInterval); err != nil {
			return "", err
		}
	}
}

// rejectionMessages collects the envelope messages and the named data field.
func rejectionMessages(env *backend.Envelope, field string) []string {
	msgs := append([]string(nil), env.Messages...)
	var s string
	if raw := env.Field(field); raw != nil && json.Unmarshal(raw, &s) == nil && s != "" {
		msgs = append(msgs, s)
	}
	return msgs
}
