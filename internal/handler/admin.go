package handler

import (
	"cmp"
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sakif/user-admin/internal/apperror"
	"github.com/sakif/user-admin/internal/userlist"
)

//go:embed templates/admin.html
var templateFS embed.FS

// Page sizes offered by the table, smallest first.
var pageSizes = []int{7, 14, 21}

const (
	flushTimeout = 2 * time.Second

	// Websocket keepalive, after the gorilla chat example.
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// UserListView is the slice of *userlist.Controller the admin surfaces use.
type UserListView interface {
	Snapshot() userlist.Snapshot
	Subscribe(fn func(userlist.Snapshot)) (unsubscribe func())
	Flush(ctx context.Context) error

	Refresh()
	DeleteByEmail(email string)
	SetSearchTerm(term string)
	DismissError()
	DismissSuccess()
}

// AdminHandler serves the admin page and its small intent API.
//
// The page owns no state. Every request renders the controller's latest
// snapshot, and every button posts an intent back to the controller.
type AdminHandler struct {
	view     UserListView
	tmpl     *template.Template
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewAdminHandler parses the embedded page template.
func NewAdminHandler(view UserListView, logger *slog.Logger) (*AdminHandler, error) {
	tmpl, err := template.New("admin.html").Funcs(template.FuncMap{
		"providerLabel": userlist.ProviderLabel,
		"createdLabel":  userlist.CreatedLabel,
	}).ParseFS(templateFS, "templates/admin.html")
	if err != nil {
		return nil, err
	}

	return &AdminHandler{
		view: view,
		tmpl: tmpl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}, nil
}

// StateResponse is the JSON projection of a snapshot.
type StateResponse struct {
	Rows           []userlist.Row `json:"rows"`
	Total          int            `json:"total"`
	Loading        bool           `json:"loading"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	SuccessMessage string         `json:"successMessage,omitempty"`
	SearchTerm     string         `json:"searchTerm"`
	Version        uint64         `json:"version"`
}

func newStateResponse(s userlist.Snapshot) StateResponse {
	return StateResponse{
		Rows:           s.Rows(),
		Total:          len(s.Records),
		Loading:        s.Loading,
		ErrorMessage:   s.ErrorMessage,
		SuccessMessage: s.SuccessMessage,
		SearchTerm:     s.SearchTerm,
		Version:        s.Version,
	}
}

// =========================================================================
// PAGE
// =========================================================================

type pageData struct {
	State    StateResponse
	Rows     []userlist.Row // current page only
	Page     int
	Pages    int
	Columns  []column
	Sizes    []link
	PrevPage template.URL
	NextPage template.URL

	// Query is appended to every form action so a post redirects back to
	// the same page, size and sort order.
	Query template.URL
}

type column struct {
	Label string
	Href  template.URL
	Arrow string // "▲", "▼" or ""
}

type link struct {
	Label string
	Href  template.URL
}

// Sortable columns, in table order. The key is the query value.
var sortColumns = []struct{ key, label string }{
	{"name", "Name"},
	{"email", "Email"},
	{"provider", "Provider"},
	{"createdAt", "Created"},
}

// pageQuery is the page, size and sort order parsed from the URL.
type pageQuery struct {
	page int
	size int
	sort string // "" = controller order
	desc bool
}

func parsePageQuery(r *http.Request) pageQuery {
	q := r.URL.Query()
	pq := pageQuery{page: 1, size: pageSizes[0]}

	if v, err := strconv.Atoi(q.Get("size")); err == nil && slices.Contains(pageSizes, v) {
		pq.size = v
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 1 {
		pq.page = v
	}
	for _, c := range sortColumns {
		if q.Get("sort") == c.key {
			pq.sort = c.key
			pq.desc = q.Get("dir") == "desc"
		}
	}
	return pq
}

// url renders pq as a query string, omitting defaults. The result is
// "" or starts with "?".
func (pq pageQuery) url() template.URL {
	v := url.Values{}
	if pq.page > 1 {
		v.Set("page", strconv.Itoa(pq.page))
	}
	if pq.size != pageSizes[0] {
		v.Set("size", strconv.Itoa(pq.size))
	}
	if pq.sort != "" {
		v.Set("sort", pq.sort)
		if pq.desc {
			v.Set("dir", "desc")
		}
	}
	if len(v) == 0 {
		return ""
	}
	return template.URL("?" + v.Encode())
}

// SortRows orders the visible rows by a column for display. Rows keep their
// Index, and the controller's record order is never touched. Unknown keys
// leave the order as is.
func SortRows(rows []userlist.Row, key string, desc bool) []userlist.Row {
	var compare func(a, b userlist.Row) int
	switch key {
	case "name":
		compare = func(a, b userlist.Row) int { return compareFold(a.Name, b.Name) }
	case "email":
		compare = func(a, b userlist.Row) int { return compareFold(a.Email, b.Email) }
	case "provider":
		compare = func(a, b userlist.Row) int { return compareFold(a.Provider, b.Provider) }
	case "createdAt":
		compare = func(a, b userlist.Row) int { return compareCreated(a.CreatedAt, b.CreatedAt) }
	default:
		return rows
	}

	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b userlist.Row) int {
		if desc {
			return compare(b, a)
		}
		return compare(a, b)
	})
	return out
}

func compareFold(a, b string) int {
	return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
}

// compareCreated compares timestamps by instant when both parse, textually
// otherwise.
func compareCreated(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return cmp.Compare(a, b)
}

// HandlePage renders the user table.
//
// HTTP: GET /?page=1&size=7&sort=name&dir=asc
func (h *AdminHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	state := newStateResponse(h.view.Snapshot())
	pq := parsePageQuery(r)

	rows := SortRows(state.Rows, pq.sort, pq.desc)

	pages := max(1, (len(rows)+pq.size-1)/pq.size)
	pq.page = min(pq.page, pages)
	start := (pq.page - 1) * pq.size
	end := min(start+pq.size, len(rows))

	data := pageData{
		State: state,
		Rows:  rows[start:end],
		Page:  pq.page,
		Pages: pages,
		Query: pq.url(),
	}

	for _, c := range sortColumns {
		next := pageQuery{page: 1, size: pq.size, sort: c.key}
		col := column{Label: c.label}
		if pq.sort == c.key {
			next.desc = !pq.desc
			col.Arrow = "▲"
			if pq.desc {
				col.Arrow = "▼"
			}
		}
		col.Href = "/" + next.url()
		data.Columns = append(data.Columns, col)
	}
	for _, size := range pageSizes {
		next := pq
		next.page, next.size = 1, size
		data.Sizes = append(data.Sizes, link{Label: strconv.Itoa(size), Href: "/" + next.url()})
	}
	prev, nextPage := pq, pq
	prev.page--
	nextPage.page++
	data.PrevPage = "/" + prev.url()
	data.NextPage = "/" + nextPage.url()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, "admin.html", data); err != nil {
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// =========================================================================
// INTENT API
// =========================================================================
//
// Every intent accepts a JSON body or an HTML form. Form posts redirect back
// to the page (303). JSON posts get the state back: 202 for intents that
// start network I/O, 200 for purely local ones.

// HandleState returns the current snapshot.
//
// HTTP: GET /api/state
func (h *AdminHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(h.view.Snapshot()))
}

// HandleRefresh asks for a reload. Ignored by the controller while one is
// outstanding.
//
// HTTP: POST /api/refresh
func (h *AdminHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.view.Refresh()
	h.respond(w, r, http.StatusAccepted)
}

type deleteIntent struct {
	Email string `json:"email"`
}

// HandleDelete dispatches a delete. The outcome arrives later as a message.
//
// HTTP: POST /api/users/delete
// REQUEST BODY: {"email": "ada@example.com"} or email=ada%40example.com
func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteIntent
	if err := h.decode(w, r, &req, func() { req.Email = r.PostFormValue("email") }); err != nil {
		writeError(w, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, apperror.ValidationFailed("email", "email is required"))
		return
	}

	h.view.DeleteByEmail(req.Email)
	h.respond(w, r, http.StatusAccepted)
}

type searchIntent struct {
	Term string `json:"term"`
}

// HandleSearch sets the search term. The term is used as typed, spaces
// included.
//
// HTTP: POST /api/search
// REQUEST BODY: {"term": "google"} or term=google
func (h *AdminHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchIntent
	if err := h.decode(w, r, &req, func() { req.Term = r.PostFormValue("term") }); err != nil {
		writeError(w, err)
		return
	}

	h.view.SetSearchTerm(req.Term)
	h.respond(w, r, http.StatusOK)
}

// HandleDismiss clears one message.
//
// HTTP: POST /api/dismiss/{kind}   kind = error | success
func (h *AdminHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	switch kind := chi.URLParam(r, "kind"); kind {
	case "error":
		h.view.DismissError()
	case "success":
		h.view.DismissSuccess()
	default:
		writeError(w, apperror.ValidationFailed("kind", "kind must be error or success"))
		return
	}
	h.respond(w, r, http.StatusOK)
}

// decode reads a JSON body, or runs fromForm for form posts.
func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, dst any, fromForm func()) error {
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return apperror.ValidationFailed("body", "invalid form body")
		}
		fromForm()
		return nil
	}
	return decodeJSON(w, r, dst)
}

// respond waits for the intent to be applied, then redirects form posts or
// returns the state as JSON.
func (h *AdminHandler) respond(w http.ResponseWriter, r *http.Request, status int) {
	ctx, cancel := context.WithTimeout(r.Context(), flushTimeout)
	defer cancel()
	if err := h.view.Flush(ctx); err != nil {
		h.logger.Warn("intent not applied before response", slog.String("error", err.Error()))
	}

	if isForm(r) {
		target := "/"
		if q := r.URL.Query().Encode(); q != "" {
			target += "?" + q
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	writeJSON(w, status, newStateResponse(h.view.Snapshot()))
}

// =========================================================================
// STREAM
// =========================================================================

// HandleStream pushes the state to a websocket client: once on connect and
// again after every change. Bursts of changes collapse into one message
// carrying the latest state.
//
// HTTP: GET /api/stream (websocket upgrade)
func (h *AdminHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	unsubscribe := h.view.Subscribe(func(userlist.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// The client never sends anything meaningful; reading only surfaces
	// close frames and pongs.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	send := func() bool {
		payload, err := json.Marshal(newStateResponse(h.view.Snapshot()))
		if err != nil {
			h.logger.Error("failed to encode state", slog.String("error", err.Error()))
			return false
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("websocket send failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-changed:
			if !send() {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
