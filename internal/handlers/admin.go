package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"chatwoot-formbricks-sync/internal/jobs"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/presenter"
	"chatwoot-formbricks-sync/internal/services"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

// ConnectionTester checks the credentials of one external system.
type ConnectionTester func(ctx context.Context) error

// AdminHandler is the CRM-side API on top of the record store and the outbound services.
type AdminHandler struct {
	store       *store.Store
	outbound    *services.OutboundService
	converter   *services.LeadConversionService
	tracker     *jobs.Tracker
	connections map[string]ConnectionTester
}

// NewAdminHandler creates the admin API. connections maps a system name to its check.
func NewAdminHandler(st *store.Store, outbound *services.OutboundService, converter *services.LeadConversionService, tracker *jobs.Tracker, connections map[string]ConnectionTester) *AdminHandler {
	return &AdminHandler{
		store:       st,
		outbound:    outbound,
		converter:   converter,
		tracker:     tracker,
		connections: connections,
	}
}

// Register mounts the admin routes under /api, each wrapped in chain.
func (h *AdminHandler) Register(r *mux.Router, chain alice.Chain) {
	routes := []struct {
		method, path string
		handler      http.HandlerFunc
	}{
		{http.MethodGet, "/api/conversations", h.ListConversations},
		{http.MethodGet, "/api/conversations/{id}", h.GetConversation},
		{http.MethodPost, "/api/conversations/{id}/reply", h.Reply},
		{http.MethodPost, "/api/conversations/{id}/status", h.SetStatus},
		{http.MethodPost, "/api/conversations/{id}/refresh", h.RefreshMessages},
		{http.MethodPost, "/api/conversations/{id}/link", h.LinkConversation},
		{http.MethodPost, "/api/leads/{name}/convert", h.ConvertLead},
		{http.MethodPost, "/api/parties/{type}/{name}/push", h.PushParty},
		{http.MethodGet, "/api/issues/{name}/comments", h.ListIssueComments},
		{http.MethodPost, "/api/issues/{name}/comments", h.AddIssueComment},
		{http.MethodGet, "/api/responses/{id}", h.GetResponse},
		{http.MethodGet, "/api/stats", h.Stats},
		{http.MethodGet, "/api/connections", h.TestConnections},
		{http.MethodGet, "/api/jobs", h.ListJobs},
		{http.MethodGet, "/api/jobs/runs/{runId}", h.JobRun},
		{http.MethodPost, "/api/jobs/{job}/run", h.TriggerJob},
	}
	for _, rt := range routes {
		r.Handle(rt.path, chain.ThenFunc(rt.handler)).Methods(rt.method)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: could not decode JSON body: %v", services.ErrInvalidInput, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// ListConversations returns the most recently updated conversations.
func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, convs)
}

// ConversationView is a conversation with its message log and linked issue.
type ConversationView struct {
	Conversation *models.Conversation        `json:"conversation"`
	Messages     []models.ConversationMessage `json:"messages"`
	Issue        *models.Issue               `json:"issue,omitempty"`
	ChatwootURL  string                      `json:"chatwoot_url,omitempty"`
}

// GetConversation returns one conversation with its messages in creation order.
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	view := ConversationView{Conversation: conv, Messages: msgs, ChatwootURL: h.outbound.ConversationURL(id)}
	issue, err := h.store.FindIssueByConversation(r.Context(), id)
	switch {
	case err == nil:
		view.Issue = issue
	case !errors.Is(err, store.ErrNotFound):
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, view)
}

// Reply sends an agent reply to Chatwoot.
func (h *AdminHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		Private bool   `json:"private"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	msg, err := h.outbound.SendReply(r.Context(), mux.Vars(r)["id"], req.Content, req.Private)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, msg)
}

// SetStatus changes the conversation status in Chatwoot and locally.
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	current, err := h.outbound.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": current})
}

// RefreshMessages pulls missing messages from Chatwoot.
func (h *AdminHandler) RefreshMessages(w http.ResponseWriter, r *http.Request) {
	added, err := h.outbound.RefreshMessages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]int{"added": added})
}

// LinkConversation points a conversation at an existing Customer or Lead.
func (h *AdminHandler) LinkConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartyType string `json:"party_type"`
		PartyName string `json:"party_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	link, err := h.party(r.Context(), req.PartyType, req.PartyName)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.store.LinkConversation(r.Context(), id, link); err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().Str("conversationID", id).Str("partyType", string(link.PartyType)).Str("party", link.PartyName).Msg("Conversation linked from CRM")
	respondData(w, http.StatusOK, link)
}

func (h *AdminHandler) party(ctx context.Context, partyType, name string) (*models.ContactLink, error) {
	switch models.PartyType(partyTypeName(partyType)) {
	case models.PartyCustomer:
		c, err := h.store.GetCustomer(ctx, name)
		if err != nil {
			return nil, err
		}
		return models.LinkOfCustomer(c), nil
	case models.PartyLead:
		l, err := h.store.GetLead(ctx, name)
		if err != nil {
			return nil, err
		}
		return models.LinkOfLead(l), nil
	default:
		return nil, fmt.Errorf("%w: unknown party type %q", services.ErrInvalidInput, partyType)
	}
}

// partyTypeName accepts "lead"/"customer" in any case.
func partyTypeName(s string) string {
	switch strings.ToLower(s) {
	case "lead":
		return string(models.PartyLead)
	case "customer":
		return string(models.PartyCustomer)
	}
	return s
}

// ConvertLead turns a Lead into a Customer.
func (h *AdminHandler) ConvertLead(w http.ResponseWriter, r *http.Request) {
	customer, err := h.converter.Convert(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, customer)
}

// PushParty links a party to a Chatwoot contact, creating the contact when needed.
func (h *AdminHandler) PushParty(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	link, err := h.outbound.PushParty(r.Context(), models.PartyType(partyTypeName(vars["type"])), vars["name"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, link)
}

// ListIssueComments returns the comments of an issue.
func (h *AdminHandler) ListIssueComments(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := h.store.GetIssue(r.Context(), name); err != nil {
		respondErr(w, r, err)
		return
	}
	comments, err := h.store.ListIssueComments(r.Context(), name)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, comments)
}

// AddIssueComment stores a comment and forwards it to the linked conversation.
func (h *AdminHandler) AddIssueComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		Author  string `json:"author"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	comment, err := h.outbound.AddIssueComment(r.Context(), mux.Vars(r)["name"], req.Content, req.Author)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, comment)
}

// ResponseView is a survey response with its answers labelled for display.
type ResponseView struct {
	Response *models.SurveyResponse `json:"response"`
	Survey   *models.Survey         `json:"survey,omitempty"`
	Answers  []presenter.AnswerRow  `json:"answers"`
}

// GetResponse returns a stored survey response and its formatted answers.
func (h *AdminHandler) GetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := h.store.GetResponse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	answers := map[string]any{}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &answers); err != nil {
			respondErr(w, r, fmt.Errorf("stored answers of response %s are not an object: %w", resp.ResponseID, err))
			return
		}
	}
	view := ResponseView{Response: resp, Answers: presenter.FormatAnswers(answers)}
	if resp.SurveyID != "" {
		survey, err := h.store.GetSurvey(r.Context(), resp.SurveyID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			respondErr(w, r, err)
			return
		}
		view.Survey = survey
	}
	respondData(w, http.StatusOK, view)
}

// Stats returns record counts and the last run of each poller.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Stats(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	states := map[string]*models.SyncState{}
	for _, key := range []string{jobs.JobChatwootContacts, jobs.JobFormbricksSync} {
		st, err := h.store.GetSyncState(r.Context(), key)
		if err == nil {
			states[key] = st
		} else if !errors.Is(err, store.ErrNotFound) {
			respondErr(w, r, err)
			return
		}
	}
	respondData(w, http.StatusOK, map[string]any{"counts": counts, "sync": states})
}

// ConnectionStatus is the result of one connection check.
type ConnectionStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TestConnections runs every configured connection check.
func (h *AdminHandler) TestConnections(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.connections))
	for name := range h.connections {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]ConnectionStatus, len(names))
	for _, name := range names {
		if err := h.connections[name](r.Context()); err != nil {
			log.Warn().Err(err).Str("system", name).Msg("Connection test failed")
			out[name] = ConnectionStatus{Error: err.Error()}
			continue
		}
		out[name] = ConnectionStatus{OK: true}
	}
	respondData(w, http.StatusOK, out)
}

// ListJobs returns the registered jobs and their recent runs.
func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]any{
		"jobs": h.tracker.Jobs(),
		"runs": h.tracker.List(r.URL.Query().Get("job"), queryInt(r, "limit", 20)),
	})
}

// JobRun returns one run record.
func (h *AdminHandler) JobRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.tracker.Get(mux.Vars(r)["runId"])
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondData(w, http.StatusOK, run)
}

// TriggerJob starts a job run in the background.
func (h *AdminHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	run, err := h.tracker.Trigger(r.Context(), mux.Vars(r)["job"], "manual")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusAccepted, run)
}
