package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"alma/internal/gateway"
	"alma/internal/services"
	"alma/internal/session"
	"alma/internal/storage"
	"alma/internal/voice"
	"alma/internal/wizard"
)

// fakeBank is a minimal backend: one user, one account, payments recorded.
type fakeBank struct {
	mu          sync.Mutex
	payments    []map[string]any
	failPayment bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBank) handler() http.Handler {
	mux := http.NewServeMux()
	user := map[string]any{"user_id": "u1", "name": "Ada Lovelace", "email": "ada@example.com"}
	// Each carer manages a different person.
	overseers := map[string]struct {
		id, name string
		users    []map[string]any
	}{
		"07700900123": {"o1", "Grace", []map[string]any{user}},
		"07700900456": {"o2", "Alan", []map[string]any{{"user_id": "u2", "name": "Charles Babbage", "email": "charles@example.com"}}},
	}

	mux.HandleFunc("POST /api/user/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "backend_session", Value: "abc", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	})
	mux.HandleFunc("POST /api/user/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/user/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, user)
	})
	mux.HandleFunc("GET /api/truelayer/my-accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accounts": []map[string]any{{
			"account_id":   "acc-1",
			"display_name": "Current Account",
			"currency":     "GBP",
			"balance":      map[string]any{"current": 1250.75, "available": 1200},
		}}})
	})
	mux.HandleFunc("POST /api/overseer/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		overseer, ok := overseers[req["number"]]
		if !ok || req["password"] != "carer" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "backend_overseer", Value: req["number"], Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{"user_id": overseer.id, "name": overseer.name})
	})
	mux.HandleFunc("GET /api/overseer/users", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("backend_overseer")
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not signed in"})
			return
		}
		writeJSON(w, http.StatusOK, overseers[c.Value].users)
	})
	mux.HandleFunc("POST /api/payments/create", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		fail := b.failPayment
		if !fail {
			b.payments = append(b.payments, req)
		}
		b.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "payment provider unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "pay_123", "status": "succeeded"})
	})
	return mux
}

func (b *fakeBank) recorded() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.payments...)
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []storage.Alert
}

func (f *fakeAlerts) ListAlerts(_ context.Context, userIDs []string, limit int, includeAcknowledged bool) ([]storage.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Alert
	for _, a := range f.alerts {
		if slices.Contains(userIDs, a.UserID) && (includeAcknowledged || !a.Acknowledged) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlerts) AcknowledgeAlert(_ context.Context, userIDs []string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id && slices.Contains(userIDs, f.alerts[i].UserID) {
			f.alerts[i].Acknowledged = true
			return nil
		}
	}
	return storage.ErrNotFound
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	srv     *Server
	web     *httptest.Server
	bank    *fakeBank
	backend *httptest.Server
}

func newTestEnv(t *testing.T, deps Dependencies) *testEnv {
	t.Helper()
	bank := &fakeBank{}
	backend := httptest.NewServer(bank.handler())
	t.Cleanup(backend.Close)

	client, err := gateway.NewClient(backend.URL, gateway.WithRetries(0), gateway.WithTimeout(2*time.Second))
	require.NoError(t, err)

	library := voice.NewLibrary(fstest.MapFS{
		"sendmoney.mp3": &fstest.MapFile{Data: []byte("ID3")},
		"moneysent.mp3": &fstest.MapFile{Data: []byte("ID3")},
	}, "/audio/")

	transfers := services.NewTransferService(nil, nil)
	sessions, err := session.NewManager(session.Config{
		Secret:   []byte("0123456789abcdef0123"),
		TTL:      time.Hour,
		Locale:   language.BritishEnglish,
		Currency: "GBP",
	}, client, library, nil, func(st *session.State) wizard.Payments {
		return transfers.For(st.Backend, st.UserID)
	}, nil)
	require.NoError(t, err)

	deps.Sessions = sessions
	deps.Library = library
	deps.Currency = "GBP"
	srv := NewServer(":0", deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	web := httptest.NewServer(srv.Handler)
	t.Cleanup(web.Close)
	return &testEnv{srv: srv, web: web, bank: bank, backend: backend}
}

func (e *testEnv) client(t *testing.T, follow bool) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	if !follow {
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	return c
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func (e *testEnv) post(t *testing.T, c *http.Client, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := c.PostForm(e.web.URL+path, form)
	require.NoError(t, err)
	return resp, body(t, resp)
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(e.web.URL + path)
	require.NoError(t, err)
	return resp, body(t, resp)
}

func (e *testEnv) login(t *testing.T, c *http.Client) {
	t.Helper()
	resp, page := e.post(t, c, "/auth/login", url.Values{"email": {"ada@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, page)
	require.Contains(t, page, "Hello, Ada Lovelace")
}

func TestTemplatesParse(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	require.NotNil(t, env.srv.templates)

	for _, name := range []string{
		"auth.html", "login_form", "signup_form", "link_bank.html", "dashboard.html", "accounts",
		"account.html", "transactions.html", "support.html", "error.html", "cards.html",
		"card_panel", "card_row", "card_form", "send.html", "send_wizard", "payee_submit",
		"voice_overlay", "overseer_login.html", "overseer_login_form", "overseer.html",
		"overseer_users", "overseer_card_form", "overseer_alerts",
	} {
		assert.NotNil(t, env.srv.templates.Lookup(name), name)
	}
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, Dependencies{Health: pinger{}})
	c := env.client(t, false)

	resp, _ := env.get(t, c, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, c, "/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.get(t, c, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metrics map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &metrics))
	assert.Contains(t, metrics, "http")
	assert.Contains(t, metrics, "rate_limit")

	down := newTestEnv(t, Dependencies{Health: pinger{err: errors.New("db locked")}})
	resp, _ = down.get(t, down.client(t, false), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestScreensRequireSignIn(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, false)

	for _, path := range []string{"/dashboard", "/cards", "/send", "/support"} {
		resp, _ := env.get(t, c, path)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/", resp.Header.Get("Location"), path)
	}

	resp, _ := env.get(t, c, "/overseer")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/overseer/login", resp.Header.Get("Location"))
}

func TestLoginFailureShowsBackendDetail(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, false)

	resp, page := env.post(t, c, "/auth/login", url.Values{"email": {"ada@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, page, `<p class="form-error" role="alert">invalid credentials</p>`)
	assert.Contains(t, page, `id="login-form"`)

	resp, page = env.post(t, c, "/auth/login", url.Values{"email": {"ada@example.com"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, page, "Email and password are required")
}

func TestLoginRedirectsHTMXRequests(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, false)

	req, err := http.NewRequest(http.MethodPost, env.web.URL+"/auth/login",
		strings.NewReader(url.Values{"email": {"ada@example.com"}, "password": {"secret"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("HX-Redirect"))
}

func TestDashboardListsAccounts(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)
	env.login(t, c)

	resp, page := env.get(t, c, "/ui/accounts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Current Account")
	assert.Contains(t, page, "£1,250.75")
}

func TestSendMoneyToContact(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)
	env.login(t, c)

	resp, page := env.get(t, c, "/send")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "step-select_recipient")
	assert.Contains(t, page, "sendmoney.mp3", "opening the wizard plays its prompt")

	resp, page = env.post(t, c, "/send/contact/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, page)
	assert.Contains(t, page, "How much to Sarah?")

	for _, d := range []string{"2", "5", ".", "5", "0"} {
		resp, page = env.post(t, c, "/send/amount/digit", url.Values{"d": {d}})
		require.Equal(t, http.StatusOK, resp.StatusCode, page)
	}
	assert.Contains(t, page, "25.50")

	resp, page = env.post(t, c, "/send/amount/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, page)
	assert.Contains(t, page, "Check and send")
	assert.Contains(t, page, "Current Account")

	resp, page = env.post(t, c, "/send/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, page)
	assert.Contains(t, page, "£25.50 has been sent to Sarah")
	assert.Contains(t, resp.Header.Get("HX-Trigger"), "moneysent.mp3")

	payments := env.bank.recorded()
	require.Len(t, payments, 1)
	assert.Equal(t, 25.5, payments[0]["amount"])
	assert.Equal(t, "acc-1", payments[0]["accountId"])
	recipient, ok := payments[0]["recipient"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Sarah", recipient["name"])

	resp, _ = env.post(t, c, "/send/confirm", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a finished transfer cannot be sent twice")
	assert.Len(t, env.bank.recorded(), 1)
}

func TestFailedTransferStaysOnReview(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	env.bank.failPayment = true
	c := env.client(t, true)
	env.login(t, c)

	env.get(t, c, "/send")
	env.post(t, c, "/send/contact/2", nil)
	env.post(t, c, "/send/amount/digit", url.Values{"d": {"7"}})
	env.post(t, c, "/send/amount/confirm", nil)

	resp, page := env.post(t, c, "/send/confirm", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, page, "step-review")
	assert.Contains(t, page, "payment provider unavailable")
	assert.Contains(t, page, "Try again")
}

func TestIncompletePayeeStaysOnFirstStep(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)
	env.login(t, c)
	env.get(t, c, "/send")

	resp, page := env.post(t, c, "/send/payee/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, `name="sort_code"`)

	resp, page = env.post(t, c, "/send/payee/draft", url.Values{"name": {"Tom"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, `id="payee-submit"`)
	assert.Contains(t, page, "disabled")

	resp, page = env.post(t, c, "/send/payee", url.Values{"name": {"Tom"}, "sort_code": {"12-34-56"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, page, "step-select_recipient")
	assert.Contains(t, page, "form-error")

	resp, page = env.post(t, c, "/send/payee", url.Values{
		"name": {"Tom"}, "sort_code": {"12-34-56"}, "account_number": {"12345678"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, page)
	assert.Contains(t, page, "How much to Tom?")
}

func TestWizardExitReturnsToDashboard(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)
	env.login(t, c)
	env.get(t, c, "/send")

	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, _ := env.post(t, c, "/send/exit", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestVoiceEndpoints(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)

	resp, _ := env.post(t, c, "/voice/play/not-a-phrase", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.post(t, c, "/voice/play/sendmoney", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	var triggers map[string]voice.Cue
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get("HX-Trigger")), &triggers))
	assert.Equal(t, "/audio/sendmoney.mp3", triggers["voice:play"].URL)

	resp, _ = env.post(t, c, "/voice/play/support", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("HX-Trigger"), "a phrase without a clip stays silent")

	resp, _ = env.post(t, c, "/voice/ended", url.Values{"seq": {"x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVoiceCommandPrefillsTransfer(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)
	env.login(t, c)

	resp, page := env.post(t, c, "/voice/press", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Listening")

	resp, _ = env.post(t, c, "/voice/release", url.Values{"transcript": {"send 20 to Sarah"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, page := env.get(t, c, "/voice/status")
		return strings.Contains(page, "state-success")
	}, 5*time.Second, 100*time.Millisecond)

	resp, page = env.post(t, c, "/voice/apply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "step-review")
	assert.Contains(t, page, "£20.00")
	assert.Contains(t, page, "Sarah")
}

func TestVoiceCommandRejectsOversizedAmount(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	c := env.client(t, true)
	env.login(t, c)

	resp, _ := env.post(t, c, "/voice/press", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.post(t, c, "/voice/release", url.Values{"transcript": {"send 12,345 to Sarah"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page string
	require.Eventually(t, func() bool {
		_, page = env.get(t, c, "/voice/status")
		return strings.Contains(page, "state-failed")
	}, 5*time.Second, 100*time.Millisecond)
	assert.Contains(t, page, "too large to send by voice")

	resp, _ = env.post(t, c, "/voice/apply", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a failed command cannot be applied")

	_, page = env.get(t, c, "/send")
	assert.NotContains(t, page, "step-review", "no truncated draft is left behind")
}

func TestOverseerAlerts(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{{
		ID: 7, UserID: "u1", Kind: storage.AlertLargePayment, Recipient: "Sarah",
		AmountCents: 75000, Currency: "GBP", CreatedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}}}
	env := newTestEnv(t, Dependencies{Alerts: alerts})
	c := env.client(t, true)

	resp, _ := env.get(t, c, "/ui/overseer/alerts")
	assert.Equal(t, env.web.URL+"/overseer/login", resp.Request.URL.String(), "alerts need an overseer session")

	resp, page := env.post(t, c, "/overseer/login", url.Values{"number": {"07700900123"}, "password": {"carer"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, page)
	assert.Contains(t, page, "Carer portal")

	resp, page = env.get(t, c, "/ui/overseer/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Ada Lovelace")
	assert.Contains(t, page, `name="user_id" value="u1"`)

	resp, page = env.get(t, c, "/ui/overseer/alerts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Large payment")
	assert.Contains(t, page, "£750.00 to Sarah")

	resp, page = env.post(t, c, "/overseer/alerts/7/ack", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "No new alerts.")

	resp, _ = env.post(t, c, "/overseer/alerts/99/ack", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.get(t, c, "/dashboard")
	assert.Equal(t, env.web.URL+"/overseer", resp.Request.URL.String(), "overseers stay in the portal")
}

func TestOverseerAlerts_ScopedToManagedUsers(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{
		{ID: 7, UserID: "u1", Kind: storage.AlertLargePayment, Recipient: "Sarah", AmountCents: 75000, Currency: "GBP"},
		{ID: 8, UserID: "u2", Kind: storage.AlertPaymentFailed, Recipient: "James", AmountCents: 1200, Currency: "GBP"},
	}}
	env := newTestEnv(t, Dependencies{Alerts: alerts})

	grace := env.client(t, true)
	resp, page := env.post(t, grace, "/overseer/login", url.Values{"number": {"07700900123"}, "password": {"carer"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, page)

	alan := env.client(t, true)
	resp, page = env.post(t, alan, "/overseer/login", url.Values{"number": {"07700900456"}, "password": {"carer"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, page)

	_, page = env.get(t, alan, "/ui/overseer/alerts")
	assert.Contains(t, page, "Payment failed")
	assert.NotContains(t, page, "Sarah", "another carer's alert must not be listed")

	resp, _ = env.post(t, alan, "/overseer/alerts/7/ack", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, page = env.get(t, grace, "/ui/overseer/alerts")
	assert.Contains(t, page, "£750.00 to Sarah", "the alert stays open for its own carer")
	assert.NotContains(t, page, "James")
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	resp, page := env.get(t, env.client(t, true), "/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, page, "find that page.")
}
