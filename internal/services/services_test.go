package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/db"
	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatwoot struct {
	mu         sync.Mutex
	inboxes    map[int]string
	inboxCalls int
	nextID     int
	sent       []chatwoot.MessagePayload
	toggled    []string
	messages   []chatwoot.Message
	contacts   []chatwoot.Contact
	created    []chatwoot.ContactPayload
	updated    []chatwoot.ContactPayload
	status     string
	err        error
}

func (f *fakeChatwoot) GetInbox(_ context.Context, id int) (*chatwoot.Inbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxCalls++
	name, ok := f.inboxes[id]
	if !ok {
		return nil, &chatwoot.APIError{Op: "GetInbox", StatusCode: 404}
	}
	return &chatwoot.Inbox{ID: id, Name: name}, nil
}

func (f *fakeChatwoot) SendMessage(_ context.Context, _ int, p chatwoot.MessagePayload) (*chatwoot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	f.sent = append(f.sent, p)
	return &chatwoot.Message{ID: 900 + f.nextID, Content: p.Content, MessageType: chatwoot.MessageType(p.MessageType)}, nil
}

func (f *fakeChatwoot) ToggleStatus(_ context.Context, id int, status string) (*chatwoot.ToggleStatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.toggled = append(f.toggled, status)
	return &chatwoot.ToggleStatusResult{Success: true, CurrentStatus: status, ConversationID: id}, nil
}

func (f *fakeChatwoot) GetConversation(_ context.Context, id int) (*chatwoot.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &chatwoot.Conversation{ID: id, Status: f.status}, nil
}

func (f *fakeChatwoot) GetConversationMessages(context.Context, int) ([]chatwoot.Message, error) {
	return f.messages, f.err
}

func (f *fakeChatwoot) SearchContacts(context.Context, string) ([]chatwoot.Contact, error) {
	return f.contacts, f.err
}

func (f *fakeChatwoot) CreateContact(_ context.Context, p chatwoot.ContactPayload) (*chatwoot.Contact, error) {
	f.created = append(f.created, p)
	return &chatwoot.Contact{ID: 555, Name: p.Name, Email: p.Email}, nil
}

func (f *fakeChatwoot) UpdateContact(_ context.Context, id int, p chatwoot.ContactPayload) (*chatwoot.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updated = append(f.updated, p)
	return &chatwoot.Contact{ID: id, Name: p.Name, Email: p.Email}, nil
}

func (f *fakeChatwoot) ConversationURL(id string) string {
	return "https://chat.example.com/app/accounts/1/conversations/" + id
}

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.types = append(p.types, eventType)
	return nil
}

type fixture struct {
	store     *store.Store
	cw        *fakeChatwoot
	pub       *recordingPublisher
	rec       *Reconciler
	outbound  *OutboundService
	converter *LeadConversionService
}

func newFixture(t *testing.T, copts ContactOptions, convOpts ConversationOptions, ropts ResponseOptions) *fixture {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(models.All()...))
	t.Cleanup(func() { _ = database.Close() })

	st := store.New(database)
	cw := &fakeChatwoot{inboxes: map[int]string{3: "Sales"}}
	pub := &recordingPublisher{}

	contacts, err := NewContactSyncService(st, copts)
	require.NoError(t, err)
	conversations, err := NewConversationSyncService(st, contacts, NewInboxDirectory(cw, time.Hour), cw, convOpts)
	require.NoError(t, err)
	messages, err := NewMessageSyncService(st, conversations)
	require.NoError(t, err)
	responses, err := NewResponseSyncService(st, contacts, ropts)
	require.NoError(t, err)
	rec, err := NewReconciler(contacts, conversations, messages, responses, pub)
	require.NoError(t, err)

	return &fixture{
		store:     st,
		cw:        cw,
		pub:       pub,
		rec:       rec,
		outbound:  NewOutboundService(st, cw),
		converter: NewLeadConversionService(st, store.CustomerDefaults{}, pub),
	}
}

func (f *fixture) count(t *testing.T, key string) int {
	t.Helper()
	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	return stats[key]
}

func parseChatwoot(t *testing.T, body string) *events.Event {
	t.Helper()
	ev, err := events.ParseChatwoot([]byte(body))
	require.NoError(t, err)
	return ev
}

func TestDuplicateContactCreatedYieldsOneLead(t *testing.T) {
	f := newFixture(t, ContactOptions{AutoCreateLead: true}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()
	body := `{"event":"contact_created","id":42,"name":"Jane Doe"}`

	first, err := f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, first.Action)
	require.NotNil(t, first.Party)
	assert.Equal(t, models.PartyLead, first.Party.PartyType)

	second, err := f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, second.Action)
	assert.Equal(t, first.Party.PartyName, second.Party.PartyName)

	assert.Equal(t, 1, f.count(t, "leads"))
	lead, err := f.store.GetLead(ctx, first.Party.PartyName)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", lead.LeadName)
	assert.Equal(t, "42", models.Deref(lead.ChatwootContactID))
	assert.Equal(t, "Chat", lead.Source)
}

func TestContactUpdateOverwritesNonEmptyFields(t *testing.T) {
	f := newFixture(t, ContactOptions{AutoCreateLead: true}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	out, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"contact_created","id":42,"name":"Jane","email":"jane@example.com"}`))
	require.NoError(t, err)
	_, err = f.rec.Apply(ctx, parseChatwoot(t, `{"event":"contact_updated","contact":{"id":42,"name":"Jane Doe","email":""}}`))
	require.NoError(t, err)

	lead, err := f.store.GetLead(ctx, out.Party.PartyName)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", lead.LeadName)
	assert.Equal(t, "jane@example.com", lead.EmailID)
}

func TestContactMatchedByEmailIsStampedOnce(t *testing.T) {
	f := newFixture(t, ContactOptions{AutoCreateLead: true}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	customer, err := f.store.CreateCustomer(ctx, store.PartyFields{Name: "Jane Co", Email: "jane@example.com"}, store.CustomerDefaults{})
	require.NoError(t, err)

	out, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"contact_created","id":7,"email":"JANE@example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionLinked, out.Action)
	assert.Equal(t, models.PartyCustomer, out.Party.PartyType)

	out, err = f.rec.Apply(ctx, parseChatwoot(t, `{"event":"contact_created","id":8,"email":"jane@example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionLinked, out.Action)

	got, err := f.store.GetCustomer(ctx, customer.Name)
	require.NoError(t, err)
	assert.Equal(t, "7", models.Deref(got.ChatwootContactID))
	assert.Equal(t, 0, f.count(t, "leads"))
}

func TestAutoCreateSettings(t *testing.T) {
	ctx := context.Background()
	body := `{"event":"contact_created","id":42,"name":"Jane","email":"jane@example.com"}`

	off := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	out, err := off.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, out.Action)
	assert.Nil(t, out.Party)
	assert.Equal(t, 0, off.count(t, "leads"))
	assert.Empty(t, off.pub.types)

	customers := newFixture(t, ContactOptions{AutoCreateCustomer: true}, ConversationOptions{}, ResponseOptions{})
	out, err = customers.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, models.PartyCustomer, out.Party.PartyType)
	assert.Equal(t, 1, customers.count(t, "customers"))
	assert.Equal(t, []string{"party_created"}, customers.pub.types)

	_, err = NewContactSyncService(customers.store, ContactOptions{AutoCreateLead: true, AutoCreateCustomer: true})
	assert.Error(t, err)
}

func TestConversationCreatesLeadAndOneIssue(t *testing.T) {
	f := newFixture(t, ContactOptions{AutoCreateLead: true}, ConversationOptions{SyncAsIssues: true, IssueType: "Support"}, ResponseOptions{})
	ctx := context.Background()
	body := `{"event":"conversation_created","id":7,"status":"open","inbox_id":3,
		"meta":{"sender":{"id":42,"name":"Jane","email":"jane@example.com"},"inbox":{"name":"Support"}}}`

	out, err := f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)
	require.NotNil(t, out.Party)
	assert.True(t, out.PartyNew)
	assert.NotEmpty(t, out.Issue)

	_, err = f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "issues"))
	assert.Equal(t, 1, f.count(t, "leads"))

	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, out.Party.PartyName, models.Deref(conv.Lead))
	assert.Nil(t, conv.Customer)
	assert.Equal(t, "Support", conv.InboxName)
	assert.Equal(t, "Jane", conv.ContactName)

	issue, err := f.store.FindIssueByConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "[Support] Conversation with Jane (jane@example.com)", issue.Subject)
	assert.Equal(t, "jane@example.com", issue.RaisedBy)
	assert.Equal(t, "Support", issue.IssueType)
	assert.Contains(t, issue.Description, "/conversations/7")
	assert.Equal(t, out.Party.PartyName, models.Deref(issue.Lead))

	lead, err := f.store.GetLead(ctx, out.Party.PartyName)
	require.NoError(t, err)
	assert.Equal(t, "7", models.Deref(lead.ChatwootConversationID))
}

func TestConversationWithoutContactDetailsCreatesNoLead(t *testing.T) {
	f := newFixture(t, ContactOptions{AutoCreateLead: true}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	out, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_created","id":7,"meta":{"sender":{"id":42,"name":"Anon"}}}`))
	require.NoError(t, err)
	assert.Nil(t, out.Party)
	assert.Equal(t, 0, f.count(t, "leads"))

	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, conv.Status)
	assert.Nil(t, conv.Lead)
}

func TestConversationInboxNameIsLookedUpOnce(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	_, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_created","id":7,"inbox_id":3}`))
	require.NoError(t, err)
	_, err = f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_created","id":8,"inbox_id":3}`))
	require.NoError(t, err)

	for _, id := range []string{"7", "8"} {
		conv, err := f.store.GetConversation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Sales", conv.InboxName)
	}
	assert.Equal(t, 1, f.cw.inboxCalls)
}

func TestStatusChange(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	// no record yet: the status change creates it
	_, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_status_changed","id":7,"status":"pending"}`))
	require.NoError(t, err)
	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, conv.Status)

	_, err = f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_status_changed","id":7,"status":"resolved"}`))
	require.NoError(t, err)
	conv, err = f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, conv.Status)
}

func TestMessagesAppendOnceAndMirrorToIssue(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{SyncAsIssues: true}, ResponseOptions{})
	ctx := context.Background()
	body := `{"event":"message_created","id":101,"content":"Hello","message_type":"incoming",
		"conversation":{"id":7},"sender":{"id":42,"name":"Jane","type":"contact"}}`

	out, err := f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, ActionAppended, out.Action)
	issueName := out.Issue
	require.NotEmpty(t, issueName)

	out, err = f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, out.Action)

	out, err = f.rec.Apply(ctx, parseChatwoot(t, `{"event":"message_created","id":102,"content":"  ","conversation":{"id":7}}`))
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, out.Action)

	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, conv.Status)

	msgs, err := f.store.ListMessages(ctx, "7")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)

	comments, err := f.store.ListIssueComments(ctx, issueName)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, models.CommentSourceChatwoot, comments[0].Source)
	assert.Equal(t, "101", comments[0].ChatwootMessageID)
}

func TestNewMessageRefreshesConversationUpdatedAt(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()
	before := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.UpsertConversation(ctx, &models.Conversation{ConversationID: "7", Status: models.StatusOpen, UpdatedAt: before}))

	body := `{"event":"message_created","id":101,"content":"Hello","message_type":"incoming","created_at":"2024-03-01T10:00:00Z",
		"conversation":{"id":7},"sender":{"id":42,"name":"Jane","type":"contact"}}`
	_, err := f.rec.Apply(ctx, parseChatwoot(t, body))
	require.NoError(t, err)

	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.True(t, conv.UpdatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)), "updated_at = %s", conv.UpdatedAt)

	// an older message does not move updated_at back
	older := `{"event":"message_created","id":100,"content":"Earlier","message_type":"incoming","created_at":"2024-03-01T08:00:00Z",
		"conversation":{"id":7},"sender":{"id":42,"name":"Jane","type":"contact"}}`
	_, err = f.rec.Apply(ctx, parseChatwoot(t, older))
	require.NoError(t, err)
	conv, err = f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.True(t, conv.UpdatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func finishedResponse(id, surveyID string, answers map[string]any) *events.Event {
	return &events.Event{
		Vendor:     events.VendorFormbricks,
		Type:       events.ResponseFinished,
		ExternalID: id,
		Source:     events.SourceWebhook,
		Response:   &events.Response{ExternalID: id, SurveyID: surveyID, Finished: true},
		Contact:    &events.Contact{Email: "jane@example.com"},
		Answers:    answers,
	}
}

func TestFinishedResponseCreatesScoredLead(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{AutoCreateLead: true, LeadSurveyIDs: []string{"s1"}})
	ctx := context.Background()
	answers := map[string]any{
		"email":    "jane@example.com",
		"phone":    "+49",
		"company":  "Acme",
		"budget":   "10k",
		"timeline": "Q3",
		"notes":    "Need it ASAP",
	}

	out, err := f.rec.Apply(ctx, finishedResponse("r1", "s1", answers))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)
	require.NotNil(t, out.Party)
	assert.True(t, out.PartyNew)

	lead, err := f.store.GetLead(ctx, out.Party.PartyName)
	require.NoError(t, err)
	assert.Equal(t, "jane", lead.LeadName)
	assert.Equal(t, "Survey", lead.Source)
	assert.Equal(t, 80, lead.LeadScore)
	assert.Equal(t, "r1", models.Deref(lead.FormbricksResponseID))

	resp, err := f.store.GetResponse(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, resp.Finished)
	assert.NotNil(t, resp.FinishedAt)
	assert.Equal(t, lead.Name, models.Deref(resp.Lead))

	// surveys outside the allowlist only store the response
	_, err = f.rec.Apply(ctx, &events.Event{
		Vendor: events.VendorFormbricks, Type: events.ResponseFinished, ExternalID: "r2",
		Response: &events.Response{ExternalID: "r2", SurveyID: "other", Finished: true},
		Contact:  &events.Contact{Email: "max@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "leads"))
	assert.Equal(t, 2, f.count(t, "survey_responses"))
}

func TestResponseAnswersMerge(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	created := &events.Event{
		Vendor: events.VendorFormbricks, Type: events.ResponseCreated, ExternalID: "r1",
		Response: &events.Response{ExternalID: "r1", SurveyID: "s1"},
		Answers:  map[string]any{"q1": "yes"},
	}
	out, err := f.rec.Apply(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)

	updated := &events.Event{
		Vendor: events.VendorFormbricks, Type: events.ResponseUpdated, ExternalID: "r1",
		Response: &events.Response{ExternalID: "r1"},
		Answers:  map[string]any{"q2": "no"},
	}
	out, err = f.rec.Apply(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, out.Action)

	resp, err := f.store.GetResponse(ctx, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"q1":"yes","q2":"no"}`, string(resp.Data))
	assert.Equal(t, "s1", resp.SurveyID)
	assert.False(t, resp.Finished)
}

func TestApplyRejectsUnknownEvents(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	_, err := f.rec.Apply(context.Background(), &events.Event{Vendor: events.VendorChatwoot, Type: events.ResponseFinished})
	assert.ErrorIs(t, err, events.ErrUnknownEvent)
}

func TestLeadConversion(t *testing.T) {
	f := newFixture(t, ContactOptions{AutoCreateLead: true}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	out, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_created","id":7,"meta":{"sender":{"id":42,"name":"Jane","email":"jane@example.com"}}}`))
	require.NoError(t, err)

	customer, err := f.converter.Convert(ctx, out.Party.PartyName)
	require.NoError(t, err)
	assert.Equal(t, "42", models.Deref(customer.ChatwootContactID))
	assert.Equal(t, "7", models.Deref(customer.ChatwootConversationID))

	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, customer.Name, models.Deref(conv.Customer))
	assert.Nil(t, conv.Lead)

	// later events for the contact land on the customer
	again, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"contact_updated","id":42,"name":"Jane Doe"}`))
	require.NoError(t, err)
	assert.Equal(t, models.PartyCustomer, again.Party.PartyType)
	assert.Equal(t, customer.Name, again.Party.PartyName)

	_, err = f.converter.Convert(ctx, out.Party.PartyName)
	assert.ErrorIs(t, err, ErrConversionFailed)
	assert.ErrorIs(t, err, store.ErrAlreadyConverted)

	_, err = f.converter.Convert(ctx, "missing")
	assert.ErrorIs(t, err, ErrConversionFailed)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendReplyAndStatus(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()
	_, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_created","id":7,"status":"open"}`))
	require.NoError(t, err)

	msg, err := f.outbound.SendReply(ctx, "7", "We are on it", false)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	require.Len(t, f.cw.sent, 1)
	assert.Equal(t, "outgoing", f.cw.sent[0].MessageType)

	// the webhook echo of the reply is a duplicate
	echo := parseChatwoot(t, `{"event":"message_created","id":`+msg.MessageID+`,"content":"We are on it","message_type":"outgoing","conversation":{"id":7},"sender":{"id":1,"type":"user"}}`)
	out, err := f.rec.Apply(ctx, echo)
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, out.Action)

	status, err := f.outbound.UpdateStatus(ctx, "7", models.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, status)
	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, conv.Status)

	_, err = f.outbound.UpdateStatus(ctx, "7", "closed")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.outbound.SendReply(ctx, "7", " ", false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.cw.err = &chatwoot.APIError{Op: "SendMessage", StatusCode: 500}
	_, err = f.outbound.SendReply(ctx, "7", "again", false)
	var apiErr *chatwoot.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestRefreshMessages(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()
	f.cw.messages = []chatwoot.Message{
		{ID: 1, Content: "hi", MessageType: chatwoot.MessageIncoming, CreatedAt: 1700000000},
		{ID: 2, Content: "Conversation was resolved", MessageType: chatwoot.MessageActivity, CreatedAt: 1700000001},
		{ID: 3, Content: "hello", MessageType: chatwoot.MessageOutgoing, CreatedAt: 1700000002},
	}

	added, err := f.outbound.RefreshMessages(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = f.outbound.RefreshMessages(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	msgs, err := f.store.ListMessages(ctx, "7")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, models.DirectionOutbound, msgs[1].Direction)

	require.NoError(t, f.store.UpsertConversation(ctx, &models.Conversation{ConversationID: "7", Status: models.StatusOpen}))
	f.cw.status = models.StatusResolved
	_, err = f.outbound.RefreshMessages(ctx, "7")
	require.NoError(t, err)
	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, conv.Status)
}

func TestIssueCommentIsForwarded(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{SyncAsIssues: true}, ResponseOptions{})
	ctx := context.Background()
	out, err := f.rec.Apply(ctx, parseChatwoot(t, `{"event":"conversation_created","id":7,"status":"resolved"}`))
	require.NoError(t, err)

	comment, err := f.outbound.AddIssueComment(ctx, out.Issue, "Any update?", "agent@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.CommentSourceLocal, comment.Source)
	require.Len(t, f.cw.sent, 1)
	assert.Equal(t, "Any update?", f.cw.sent[0].Content)
	assert.Equal(t, []string{models.StatusOpen}, f.cw.toggled)

	conv, err := f.store.GetConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, conv.Status)
}

func TestPushParty(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	lead, err := f.store.CreateLead(ctx, store.PartyFields{Name: "Jane", Email: "jane@example.com"})
	require.NoError(t, err)
	f.cw.contacts = []chatwoot.Contact{{ID: 41, Email: "other@example.com"}, {ID: 42, Email: "Jane@Example.com"}}

	link, err := f.outbound.PushParty(ctx, models.PartyLead, lead.Name)
	require.NoError(t, err)
	assert.Equal(t, "42", link.ChatwootContactID)
	assert.Empty(t, f.cw.created)

	_, err = f.outbound.PushParty(ctx, models.PartyLead, lead.Name)
	require.NoError(t, err)
	require.Len(t, f.cw.updated, 1)
	assert.Equal(t, "jane@example.com", f.cw.updated[0].Email)

	other, err := f.store.CreateLead(ctx, store.PartyFields{Name: "Max", Email: "max@example.com"})
	require.NoError(t, err)
	link, err = f.outbound.PushParty(ctx, models.PartyLead, other.Name)
	require.NoError(t, err)
	assert.Equal(t, "555", link.ChatwootContactID)
	require.Len(t, f.cw.created, 1)
	assert.Equal(t, "Max", f.cw.created[0].Name)

	noContact, err := f.store.CreateLead(ctx, store.PartyFields{Name: "Nobody"})
	require.NoError(t, err)
	_, err = f.outbound.PushParty(ctx, models.PartyLead, noContact.Name)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPushPartyRejectsContactHeldByAnotherParty(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	ctx := context.Background()

	lead, err := f.store.CreateLead(ctx, store.PartyFields{Name: "Jane", Email: "jane@example.com", ChatwootContactID: "42"})
	require.NoError(t, err)
	customer, err := f.store.CreateCustomer(ctx, store.PartyFields{Name: "Jane Ltd", Email: "jane@example.com"}, store.CustomerDefaults{})
	require.NoError(t, err)
	f.cw.contacts = []chatwoot.Contact{{ID: 42, Email: "jane@example.com"}}

	_, err = f.outbound.PushParty(ctx, models.PartyCustomer, customer.Name)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Empty(t, f.cw.created)

	got, err := f.store.GetCustomer(ctx, customer.Name)
	require.NoError(t, err)
	assert.Nil(t, got.ChatwootContactID)
	link, err := f.store.FindPartyByChatwootID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, lead.Name, link.PartyName)
}

func TestOutboundWithoutChatwoot(t *testing.T) {
	f := newFixture(t, ContactOptions{}, ConversationOptions{}, ResponseOptions{})
	svc := NewOutboundService(f.store, nil)
	_, err := svc.SendReply(context.Background(), "7", "hi", false)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestScoreLead(t *testing.T) {
	assert.Equal(t, 0, ScoreLead(map[string]any{}))
	assert.Equal(t, 20, ScoreLead(map[string]any{"email": "a@b.c", "phoneNumber": "1"}))
	assert.Equal(t, 35, ScoreLead(map[string]any{"companyName": "Acme", "projectBudget": 5000.0}))
	assert.Equal(t, 25, ScoreLead(map[string]any{"projectTimeline": "soon", "company": ""}))
	assert.Equal(t, 10, ScoreLead(map[string]any{"a": "urgent", "b": "asap"}))
}

func TestIssueSubject(t *testing.T) {
	assert.Equal(t, "[Chatwoot] Conversation with Unknown", IssueSubject("", "", ""))
	assert.Equal(t, "[Support] Conversation with Jane (jane@example.com)", IssueSubject("Support", "Jane", "jane@example.com"))
}
