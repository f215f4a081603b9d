// Package fakebackend is an in-process stand-in for the ticketing backend,
// used by the package tests. It keeps per-session login and captcha state
// and counts every call by path.
package fakebackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

const sessionCookie = "JSESSIONID"

// Passenger is a row of the passenger list endpoint.
type Passenger struct {
	Name     string `json:"passenger_name"`
	IDType   string `json:"passenger_id_type_code"`
	IDNumber string `json:"passenger_id_no"`
	Phone    string `json:"mobile_no"`
	Type     string `json:"passenger_type"`
}

// Config controls how the fake answers. Zero values describe a backend that
// rejects everything, so tests opt into the behavior they need.
type Config struct {
	CaptchaAnswer      string
	CaptchaContentType string
	Users              map[string]string

	SubmitStatus   bool
	SubmitMessages []string
	// ConfirmPage replaces the generated confirmation page when non-empty.
	ConfirmPage  string
	SubmitToken  string
	KeyCheck     string
	Passengers   []Passenger
	CheckOrderOK bool
	QueueCrowded bool
	QueueCount   string
	ConfirmOK    bool
	OrderID      string
	WaitRounds   int
	// PendingWaitTime replaces the wait time of pending order polls when non-zero.
	PendingWaitTime int
	OrderFailure    string
	// StatusCodes answers the listed paths with a bare HTTP status.
	StatusCodes    map[string]int
	Trains         []map[string]any
	StationNames   string
	IndexVarsBlock string
}

type sessionState struct {
	user string
}

// Backend is a running fake.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	cfg      Config
	sessions map[string]*sessionState
	nextID   int
	calls    map[string]int
	forms    map[string]url.Values
	waits    int
}

// New starts a fake with default tokens and an image content type.
func New() *Backend {
	b := &Backend{
		cfg: Config{
			CaptchaContentType: "image/jpeg",
			SubmitToken:        "tok-123",
			KeyCheck:           "key-456",
			QueueCount:         "0",
		},
		sessions: make(map[string]*sessionState),
		calls:    make(map[string]int),
		forms:    make(map[string]url.Values),
	}
	b.Server = httptest.NewServer(b.router())
	return b
}

// Close stops the server.
func (b *Backend) Close() {
	b.Server.Close()
}

// URL is the backend root to hand to backend.WithBaseURL.
func (b *Backend) URL() string {
	return b.Server.URL + "/otn/"
}

// Set mutates the configuration under the backend lock.
func (b *Backend) Set(fn func(*Config)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.cfg)
}

// Calls returns how many requests hit path, e.g. "login/checkUser".
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// TotalCalls returns the number of requests served.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

// LastForm returns the last form posted to path.
func (b *Backend) LastForm(path string) url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forms[path]
}

// ExpireSessions logs every session out on the server side only.
func (b *Backend) ExpireSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		s.user = ""
	}
}

type ctxKey struct{}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.track)
	r.Route("/otn", func(r chi.Router) {
		r.Get("/passcodeNew/getPassCodeNew.do", b.captchaImage)
		r.Post("/passcodeNew/checkRandCodeAnsyn", b.captchaCheck)
		r.Post("/login/loginAysnSuggest", b.login)
		r.Post("/login/checkUser", b.checkUser)
		r.Get("/login/loginOut", b.logout)
		r.Get("/index/init", b.index)
		r.Get("/leftTicket/query", b.query)
		r.Get("/resources/js/framework/station_name.js", b.stationNames)
		r.Post("/leftTicket/submitOrderRequest", b.submitOrder)
		r.Post("/confirmPassenger/initDc", b.confirmPage)
		r.Post("/confirmPassenger/initWc", b.confirmPage)
		r.Post("/confirmPassenger/getPassengerDTOs", b.passengers)
		r.Post("/confirmPassenger/checkOrderInfo", b.checkOrderInfo)
		r.Post("/confirmPassenger/getQueueCount", b.queueCount)
		r.Post("/confirmPassenger/confirmSingleForQueue", b.confirmForQueue)
		r.Get("/confirmPassenger/queryOrderWaitTime", b.orderWaitTime)
	})
	return r
}

// track counts the call, records the form and binds the request to a
// session, issuing a new one when the cookie is missing or unknown.
func (b *Backend) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		path := strings.TrimPrefix(r.URL.Path, "/otn/")

		b.mu.Lock()
		b.calls[path]++
		if r.Method == http.MethodPost {
			b.forms[path] = r.PostForm
		}
		if code, ok := b.cfg.StatusCodes[path]; ok {
			b.mu.Unlock()
			http.Error(w, http.StatusText(code), code)
			return
		}
		id := ""
		if ck, err := r.Cookie(sessionCookie); err == nil {
			if _, ok := b.sessions[ck.Value]; ok {
				id = ck.Value
			}
		}
		if id == "" {
			id = b.newSessionLocked()
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/otn"})
		}
		b.mu.Unlock()

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (b *Backend) newSessionLocked() string {
	b.nextID++
	id := fmt.Sprintf("sess-%d", b.nextID)
	b.sessions[id] = &sessionState{}
	return id
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// session returns the caller's state; callers hold b.mu.
func (b *Backend) session(r *http.Request) *sessionState {
	if s, ok := b.sessions[sessionID(r)]; ok {
		return s
	}
	return &sessionState{}
}

func writeEnvelope(w http.ResponseWriter, status bool, data any, messages ...string) {
	if messages == nil {
		messages = []string{}
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	json.NewEncoder(w).Encode(map[string]any{
		"validateMessagesShowId": "_validatorMessage",
		"status":                 status,
		"httpstatus":             200,
		"data":                   data,
		"messages":               messages,
		"validateMessages":       map[string]any{},
	})
}

func yn(ok bool) string {
	if ok {
		return "Y"
	}
	return "N"
}

func (b *Backend) captchaImage(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", b.cfg.CaptchaContentType)
	fmt.Fprintf(w, "image-%s-%d", r.URL.Query().Get("module"), b.calls["passcodeNew/getPassCodeNew.do"])
}

func (b *Backend) captchaCheck(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.cfg.CaptchaAnswer != "" && r.PostForm.Get("randCode") == b.cfg.CaptchaAnswer
	if r.PostForm.Get("rand") == "randp" {
		ok = ok && r.PostForm.Get("REPEAT_SUBMIT_TOKEN") == b.cfg.SubmitToken
	}
	writeEnvelope(w, true, yn(ok))
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user := r.PostForm.Get("loginUserDTO.user_name")
	pass, known := b.cfg.Users[user]
	switch {
	case r.PostForm.Get("randCode") != b.cfg.CaptchaAnswer:
		writeEnvelope(w, true, map[string]any{}, "验证码不正确！")
	case !known || pass != r.PostForm.Get("userDTO.password"):
		writeEnvelope(w, true, map[string]any{}, "密码输入错误。")
	default:
		b.session(r).user = user
		writeEnvelope(w, true, map[string]any{"loginCheck": "Y"})
	}
}

func (b *Backend) checkUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeEnvelope(w, true, map[string]any{"flag": b.session(r).user != ""})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID(r))
	id := b.newSessionLocked()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/otn"})
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<html>bye</html>"))
}

func (b *Backend) index(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	block := b.cfg.IndexVarsBlock
	if block == "" {
		user := "null"
		if u := b.session(r).user; u != "" {
			user = "'" + u + "'"
		}
		block = "var ctx='/otn/';\nvar globalRepeatSubmitToken = null;\nvar global_lang = 'zh_CN';\nvar sessionInit = " + user + ";\nvar isShowNotice = null;\n"
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, "<html><head><script>\n/*<![CDATA[*/\n%s/*]]>*/\n</script></head></html>", block)
}

func (b *Backend) query(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !strings.HasPrefix(r.URL.RawQuery, "leftTicketDTO.train_date=") {
		writeEnvelope(w, false, "", "参数顺序错误")
		return
	}
	rows := make([]map[string]any, 0, len(b.cfg.Trains))
	for _, t := range b.cfg.Trains {
		rows = append(rows, map[string]any{
			"queryLeftNewDTO": t,
			"secretStr":       t["secretStr"],
			"buttonTextInfo":  "预订",
		})
	}
	writeEnvelope(w, true, rows)
}

func (b *Backend) stationNames(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", "application/javascript")
	w.Write([]byte(b.cfg.StationNames))
}

func (b *Backend) submitOrder(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session(r).user == "" {
		writeEnvelope(w, false, "", "用户未登录")
		return
	}
	if !b.cfg.SubmitStatus {
		writeEnvelope(w, false, "", b.cfg.SubmitMessages...)
		return
	}
	writeEnvelope(w, true, "N")
}

func (b *Backend) confirmPage(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", "text/html")
	if b.cfg.ConfirmPage != "" {
		w.Write([]byte(b.cfg.ConfirmPage))
		return
	}
	fmt.Fprintf(w, `<html><script type="text/javascript">
	var ctx='/otn/';
	var globalRepeatSubmitToken = '%s';
	var global_lang = 'zh_CN';
</script>
<script>
	var ticketInfoForPassengerForm={'cardTypes':[],'isAsync':'1','key_check_isChange':'%s','leftTicketStr':'x'};
</script></html>`, b.cfg.SubmitToken, b.cfg.KeyCheck)
}

func (b *Backend) tokenOK(r *http.Request) bool {
	return r.PostForm.Get("REPEAT_SUBMIT_TOKEN") == b.cfg.SubmitToken
}

func (b *Backend) passengers(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tokenOK(r) {
		writeEnvelope(w, false, "", "系统忙")
		return
	}
	list := b.cfg.Passengers
	if list == nil {
		list = []Passenger{}
	}
	writeEnvelope(w, true, map[string]any{"isExist": true, "normal_passengers": list, "dj_passengers": []any{}})
}

func (b *Backend) checkOrderInfo(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.cfg.CheckOrderOK && b.tokenOK(r) && r.PostForm.Get("randCode") == b.cfg.CaptchaAnswer
	data := map[string]any{"submitStatus": ok}
	if !ok {
		data["errMsg"] = "订单校验失败"
	}
	writeEnvelope(w, true, data)
}

func (b *Backend) queueCount(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeEnvelope(w, true, map[string]any{
		"count":  "0",
		"ticket": "1",
		"op_2":   fmt.Sprintf("%t", b.cfg.QueueCrowded),
		"countT": b.cfg.QueueCount,
		"op_1":   "true",
	})
}

func (b *Backend) confirmForQueue(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.cfg.ConfirmOK && b.tokenOK(r) && r.PostForm.Get("key_check_isChange") == b.cfg.KeyCheck
	writeEnvelope(w, true, map[string]any{"submitStatus": ok})
}

func (b *Backend) orderWaitTime(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.OrderFailure != "" {
		writeEnvelope(w, true, map[string]any{
			"queryOrderWaitTimeStatus": true, "waitTime": -2, "waitCount": 0, "orderId": nil, "msg": b.cfg.OrderFailure,
		})
		return
	}
	if b.waits < b.cfg.WaitRounds {
		b.waits++
		wait := 4
		if b.cfg.PendingWaitTime != 0 {
			wait = b.cfg.PendingWaitTime
		}
		writeEnvelope(w, true, map[string]any{
			"queryOrderWaitTimeStatus": true, "waitTime": wait, "waitCount": b.cfg.WaitRounds - b.waits + 1, "orderId": nil,
		})
		return
	}
	writeEnvelope(w, true, map[string]any{
		"queryOrderWaitTimeStatus": true, "waitTime": -1, "waitCount": 0, "orderId": b.cfg.OrderID,
	})
}
