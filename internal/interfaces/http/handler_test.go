package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dermabot/internal/entities"
	"dermabot/internal/infrastructure"
	"dermabot/internal/interfaces"
	"dermabot/internal/repository"
	"dermabot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (e *stubEngine) Respond(_ context.Context, _ entities.Session, parts []entities.Part) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	if e.reply != "" {
		return e.reply, nil
	}
	return "echo: " + parts[0].Text, nil
}

func (e *stubEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, entities.MediaRef) ([]byte, error) {
	return nil, entities.ErrFetch
}

type chanMessenger struct{ sent chan string }

func (m chanMessenger) SendMessage(_ context.Context, to, content string) error {
	m.sent <- to + "|" + content
	return nil
}

type allowAll struct{ ok bool }

func (a allowAll) Valid(string, map[string]string, string) bool { return a.ok }

type testServer struct {
	engine    *gin.Engine
	stub      *stubEngine
	messenger chanMessenger
	history   *repository.HistoryRepository
	auth      *usecases.AuthUsecase
}

func newTestServer(t *testing.T, stub *stubEngine, webhooks WebhookConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := infrastructure.NewSQLiteDB(context.Background(), filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	history := repository.NewHistoryRepository(db)
	usage := repository.NewUsageRepository(db)
	router := infrastructure.NewSessionRouter(4, time.Minute)
	messenger := chanMessenger{sent: make(chan string, 8)}

	svc := usecases.NewMessageService(usecases.Dependencies{
		Router:   router,
		Sessions: history,
		Invoker:  usecases.NewAgentInvoker(stub, 5*time.Second),
		Fetcher:  failingFetcher{},
		Messengers: map[entities.Provider]interfaces.Messenger{
			entities.ProviderWhatsAppCloud: messenger,
		},
		Usage: usage,
	}, 2*time.Second, time.Minute)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Wait(ctx)
		router.Stop()
		db.Close()
	})

	hash, err := usecases.HashPassword("pw")
	require.NoError(t, err)
	auth := usecases.NewAuthUsecase("admin", hash, "jwt-secret")
	dashboard := usecases.NewDashboardUsecase(history, usage, router, nil)

	if webhooks.VerifyToken == "" {
		webhooks.VerifyToken = "verify-me"
	}
	h := NewHandler(svc, dashboard, webhooks, db.Ping)
	r := gin.New()
	SetupRoutes(r, h, auth, NewMiddleware("jwt-secret"), 1<<20)
	return &testServer{engine: r, stub: stub, messenger: messenger, history: history, auth: auth}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func twilioRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []struct {
		Body string `xml:",chardata"`
	} `xml:"Message"`
}

func parseTwiML(t *testing.T, body string) string {
	t.Helper()
	var resp twimlResponse
	require.NoError(t, xml.Unmarshal([]byte(body), &resp), body)
	require.Len(t, resp.Messages, 1)
	msg := strings.TrimSpace(resp.Messages[0].Body)
	require.NotEmpty(t, msg)
	return msg
}

func TestVerifyWebhook(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{})

	for i := 0; i < 2; i++ {
		w := s.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=X42", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "X42", w.Body.String())
	}

	w := s.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=X42", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Invalid token", w.Body.String())
}

func TestTwilioTextReply(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{})

	w := s.do(twilioRequest(url.Values{"From": {"whatsapp:+15550001"}, "Body": {"red itchy patch"}, "MessageSid": {"SM1"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Equal(t, "echo: red itchy patch", parseTwiML(t, w.Body.String()))

	session, err := s.history.GetSession(context.Background(), "whatsapp:+15550001")
	require.NoError(t, err)
	require.NotNil(t, session)
}

func TestTwilioMissingFromNeverInvokesEngine(t *testing.T) {
	stub := &stubEngine{}
	s := newTestServer(t, stub, WebhookConfig{})

	w := s.do(twilioRequest(url.Values{"Body": {"hello"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, usecases.MissingSenderText, parseTwiML(t, w.Body.String()))
	assert.Zero(t, stub.count())
}

func TestTwilioErrorsStillReturnEnvelope(t *testing.T) {
	s := newTestServer(t, &stubEngine{err: errors.New("model down")}, WebhookConfig{})

	w := s.do(twilioRequest(url.Values{"From": {"whatsapp:+15550001"}, "Body": {"hi"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, usecases.ApologyText, parseTwiML(t, w.Body.String()))
	assert.NotContains(t, w.Body.String(), "model down")
}

func TestTwilioMediaFailureAcknowledged(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{})

	w := s.do(twilioRequest(url.Values{
		"From":              {"whatsapp:+15550001"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
	}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo: "+usecases.MediaUnavailableText, parseTwiML(t, w.Body.String()))
}

func TestTwilioReplyIsEscaped(t *testing.T) {
	s := newTestServer(t, &stubEngine{reply: "Use <b>hydrocortisone</b> & rest"}, WebhookConfig{})

	w := s.do(twilioRequest(url.Values{"From": {"whatsapp:+15550001"}, "Body": {"hi"}}))
	assert.NotContains(t, w.Body.String(), "<b>")
	assert.Equal(t, "Use <b>hydrocortisone</b> & rest", parseTwiML(t, w.Body.String()))
}

func TestTwilioSignatureRejected(t *testing.T) {
	stub := &stubEngine{}
	s := newTestServer(t, stub, WebhookConfig{TwilioSignature: allowAll{ok: false}})

	w := s.do(twilioRequest(url.Values{"From": {"whatsapp:+15550001"}, "Body": {"hi"}}))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, stub.count())
}

const cloudBody = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","messages":[{"from":"15550002","id":"wamid.1","type":"text","text":{"body":"mole changed colour"}}]}}]}]}`

func TestWhatsAppCloudAcknowledgesAndSends(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cloudBody))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case sent := <-s.messenger.sent:
		assert.Equal(t, "15550002|echo: mole changed colour", sent)
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not sent")
	}
}

func TestWhatsAppCloudMalformedStillAcknowledged(t *testing.T) {
	stub := &stubEngine{}
	s := newTestServer(t, stub, WebhookConfig{})

	w := s.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{broken`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, stub.count())
}

func TestWhatsAppCloudSignature(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{AppSecret: "app-secret"})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cloudBody))
	req.Header.Set("X-Hub-Signature-256", "sha256=00")
	assert.Equal(t, http.StatusForbidden, s.do(req).Code)

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(cloudBody))
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cloudBody))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	assert.Equal(t, http.StatusOK, s.do(req).Code)
	<-s.messenger.sent
}

func TestAdminAPI(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{})
	s.do(twilioRequest(url.Values{"From": {"whatsapp:+15550001"}, "Body": {"first"}}))

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"pw"}`))
	login.Header.Set("Content-Type", "application/json")
	w = s.do(login)
	require.Equal(t, http.StatusOK, w.Code)
	var tok struct{ Token string }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))

	authed := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		return s.do(req)
	}

	w = authed("/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "whatsapp:+15550001")

	w = authed("/api/sessions/" + url.PathEscape("whatsapp:+15550001") + "/history")
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		History []entities.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Empty(t, hist.History, "the stub engine does not write history")

	assert.Equal(t, http.StatusNotFound, authed("/api/sessions/15559999/history").Code)
	assert.Equal(t, http.StatusBadRequest, authed("/api/sessions/not-a-number/history").Code)

	w = authed("/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":1`)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, WebhookConfig{})
	w := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
