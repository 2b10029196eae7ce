package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/db"
	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/jobs"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/services"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "webhook-secret"
	testToken  = "admin-token"
)

type testServer struct {
	store  *store.Store
	router *mux.Router
}

type quickJob struct{}

func (quickJob) Name() string { return "quick" }

func (quickJob) Run(context.Context) (jobs.Result, error) { return jobs.Result{Processed: 1}, nil }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(models.All()...))
	t.Cleanup(func() { _ = database.Close() })
	st := store.New(database)

	contacts, err := services.NewContactSyncService(st, services.ContactOptions{AutoCreateLead: true})
	require.NoError(t, err)
	conversations, err := services.NewConversationSyncService(st, contacts, nil, nil, services.ConversationOptions{})
	require.NoError(t, err)
	messages, err := services.NewMessageSyncService(st, conversations)
	require.NoError(t, err)
	responses, err := services.NewResponseSyncService(st, contacts, services.ResponseOptions{AutoCreateLead: true})
	require.NoError(t, err)
	engine, err := services.NewReconciler(contacts, conversations, messages, responses, nil)
	require.NoError(t, err)

	admin := NewAdminHandler(
		st,
		services.NewOutboundService(st, nil),
		services.NewLeadConversionService(st, store.CustomerDefaults{}, nil),
		jobs.NewTracker(quickJob{}),
		map[string]ConnectionTester{
			"chatwoot": func(context.Context) error { return nil },
			"s3":       func(context.Context) error { return errors.New("no such bucket") },
		},
	)

	router := mux.NewRouter()
	router.Handle("/webhooks/chatwoot", NewChatwootWebhookHandler(engine, true, testSecret)).Methods(http.MethodPost)
	router.Handle("/webhooks/formbricks", NewFormbricksWebhookHandler(engine, true, "")).Methods(http.MethodPost)
	admin.Register(router, alice.New(RequireToken(testToken)))
	return &testServer{store: st, router: router}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) chatwoot(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/webhooks/chatwoot", body, map[string]string{ChatwootSignatureHeader: Sign(testSecret, []byte(body))})
}

func (s *testServer) admin(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + testToken})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"event":"contact_created"}`)
	sig := Sign("s3cret", body)
	assert.True(t, ValidSignature("s3cret", body, sig))
	assert.True(t, ValidSignature("s3cret", body, "sha256="+sig))
	assert.False(t, ValidSignature("other", body, sig))
	assert.False(t, ValidSignature("s3cret", body, "zz"))
	assert.False(t, ValidSignature("s3cret", body, ""))
}

func TestChatwootWebhookCreatesLead(t *testing.T) {
	s := newTestServer(t)
	body := `{"event":"contact_created","id":42,"name":"Jane Doe","email":"jane@example.com"}`

	rec := s.chatwoot(t, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "contact_created", out["event"])

	// replay leaves one lead
	require.Equal(t, http.StatusOK, s.chatwoot(t, body).Code)
	link, err := s.store.FindPartyByChatwootID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, models.PartyLead, link.PartyType)
	stats, err := s.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats["leads"])
}

func TestChatwootWebhookRejects(t *testing.T) {
	s := newTestServer(t)
	body := `{"event":"contact_created","id":42,"email":"jane@example.com"}`

	rec := s.do(t, http.MethodPost, "/webhooks/chatwoot", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/webhooks/chatwoot", body, map[string]string{ChatwootSignatureHeader: Sign("wrong", []byte(body))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusBadRequest, s.chatwoot(t, `{"event":`).Code)
	assert.Equal(t, http.StatusBadRequest, s.chatwoot(t, `{"event":"contact_created"}`).Code)

	rec = s.chatwoot(t, `{"event":"webwidget_triggered","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	stats, err := s.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats["leads"])
}

type failingEngine struct {
	err error
}

func (e failingEngine) Apply(context.Context, *events.Event) (*services.Outcome, error) {
	return nil, e.err
}

func TestWebhookErrorStatuses(t *testing.T) {
	body := `{"event":"contact_created","id":42,"email":"jane@example.com"}`

	upstream := &chatwoot.APIError{Op: "get inbox", Method: http.MethodGet, Path: "/inboxes/3", StatusCode: 503}
	h := NewChatwootWebhookHandler(failingEngine{err: upstream}, true, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	h = NewChatwootWebhookHandler(failingEngine{err: errors.New("database is locked")}, true, "")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h = NewFormbricksWebhookHandler(failingEngine{}, false, "")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = s.do(t, http.MethodGet, "/api/stats", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.admin(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminConversationAndConversion(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.chatwoot(t, `{"event":"conversation_created","id":7,"status":"open",
		"meta":{"sender":{"id":42,"name":"Jane","email":"jane@example.com"}}}`).Code)
	require.Equal(t, http.StatusOK, s.chatwoot(t, `{"event":"message_created","id":100,"content":"Hello",
		"message_type":"incoming","conversation":{"id":7}}`).Code)

	rec := s.admin(t, http.MethodGet, "/api/conversations/7", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		Data ConversationView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "open", view.Data.Conversation.Status)
	require.Len(t, view.Data.Messages, 1)
	assert.Equal(t, "Hello", view.Data.Messages[0].Content)
	leadName := models.Deref(view.Data.Conversation.Lead)
	require.NotEmpty(t, leadName)

	assert.Equal(t, http.StatusNotFound, s.admin(t, http.MethodGet, "/api/conversations/999", "").Code)

	rec = s.admin(t, http.MethodPost, "/api/leads/"+leadName+"/convert", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, s.admin(t, http.MethodPost, "/api/leads/"+leadName+"/convert", "").Code)
	assert.Equal(t, http.StatusNotFound, s.admin(t, http.MethodPost, "/api/leads/missing/convert", "").Code)

	conv, err := s.store.GetConversation(context.Background(), "7")
	require.NoError(t, err)
	assert.NotNil(t, conv.Customer)
	assert.Nil(t, conv.Lead)
}

func TestAdminOutboundWithoutChatwoot(t *testing.T) {
	s := newTestServer(t)
	rec := s.admin(t, http.MethodPost, "/api/conversations/7/reply", `{"content":"Hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "disabled")

	assert.Equal(t, http.StatusBadRequest, s.admin(t, http.MethodPost, "/api/conversations/7/reply", `{"content":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.admin(t, http.MethodPost, "/api/conversations/7/status", `{"status":"archived"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.admin(t, http.MethodPost, "/api/conversations/7/status", `not json`).Code)
}

func TestAdminLinkConversation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conv := models.Conversation{ConversationID: "8", Status: models.StatusOpen}
	require.NoError(t, s.store.UpsertConversation(ctx, &conv))
	customer, err := s.store.CreateCustomer(ctx, store.PartyFields{Name: "Acme"}, store.CustomerDefaults{})
	require.NoError(t, err)

	rec := s.admin(t, http.MethodPost, "/api/conversations/8/link", `{"party_type":"customer","party_name":"`+customer.Name+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := s.store.GetConversation(ctx, "8")
	require.NoError(t, err)
	assert.Equal(t, customer.Name, models.Deref(got.Customer))

	assert.Equal(t, http.StatusNotFound, s.admin(t, http.MethodPost, "/api/conversations/8/link", `{"party_type":"lead","party_name":"nobody"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.admin(t, http.MethodPost, "/api/conversations/8/link", `{"party_type":"supplier","party_name":"x"}`).Code)
}

func TestAdminResponseView(t *testing.T) {
	s := newTestServer(t)
	body := `{"webhookEvent":"responseFinished","data":{"id":"r1","surveyId":"s1","finished":true,
		"data":{"email":"jane@example.com","contactinfo01":["Jane","Doe","jane@example.com","",""]}}}`
	rec := s.do(t, http.MethodPost, "/webhooks/formbricks", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, s.store.UpsertSurvey(context.Background(), &models.Survey{SurveyID: "s1", Name: "Onboarding"}))

	rec = s.admin(t, http.MethodGet, "/api/responses/r1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		Data ResponseView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Data.Response.Finished)
	require.NotNil(t, view.Data.Survey)
	assert.Equal(t, "Onboarding", view.Data.Survey.Name)
	require.Len(t, view.Data.Answers, 2)
	assert.Equal(t, "Contact Information", view.Data.Answers[0].Label)
	assert.Len(t, view.Data.Answers[0].Parts, 3)
	assert.Equal(t, "Email", view.Data.Answers[1].Label)
}

func TestAdminJobsAndConnections(t *testing.T) {
	s := newTestServer(t)

	rec := s.admin(t, http.MethodPost, "/api/jobs/quick/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var triggered struct {
		Data jobs.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &triggered))

	require.Eventually(t, func() bool {
		rec := s.admin(t, http.MethodGet, "/api/jobs/runs/"+triggered.Data.ID, "")
		var got struct {
			Data jobs.Run `json:"data"`
		}
		return rec.Code == http.StatusOK &&
			json.Unmarshal(rec.Body.Bytes(), &got) == nil &&
			got.Data.Status == jobs.RunStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, s.admin(t, http.MethodPost, "/api/jobs/unknown/run", "").Code)
	assert.Equal(t, http.StatusNotFound, s.admin(t, http.MethodGet, "/api/jobs/runs/nope", "").Code)

	rec = s.admin(t, http.MethodGet, "/api/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var conns struct {
		Data map[string]ConnectionStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conns))
	assert.True(t, conns.Data["chatwoot"].OK)
	assert.Equal(t, ConnectionStatus{Error: "no such bucket"}, conns.Data["s3"])
}
