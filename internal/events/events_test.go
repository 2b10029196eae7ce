package events

import (
	"encoding/json"
	"testing"
	"time"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/adapters/formbricks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatwootContactAtRoot(t *testing.T) {
	ev, err := ParseChatwoot([]byte(`{"event":"contact_created","id":42,"name":"Jane Doe","email":"jane@example.com","phone_number":"+4912345"}`))
	require.NoError(t, err)
	assert.Equal(t, VendorChatwoot, ev.Vendor)
	assert.Equal(t, ContactCreated, ev.Type)
	assert.Equal(t, "42", ev.ExternalID)
	require.NotNil(t, ev.Contact)
	assert.Equal(t, "Jane Doe", ev.Contact.Name)
	assert.Equal(t, "+4912345", ev.Contact.Phone)
	assert.Equal(t, "jane@example.com", ev.Fields[FieldEmail])
}

func TestParseChatwootContactNested(t *testing.T) {
	ev, err := ParseChatwoot([]byte(`{"event":"contact_updated","contact":{"id":"42","name":"Jane"}}`))
	require.NoError(t, err)
	assert.Equal(t, "42", ev.ExternalID)
	assert.Equal(t, "Jane", ev.Contact.Name)
}

func TestParseChatwootConversationSenderLookup(t *testing.T) {
	body := `{"event":"conversation_created","id":7,"status":"open","inbox_id":3,
		"meta":{"sender":{"id":42,"name":"Jane","email":"jane@example.com"},"channel":"Channel::WebWidget"},
		"created_at":1700000000,"timestamp":1700000100}`
	ev, err := ParseChatwoot([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "7", ev.ExternalID)
	require.NotNil(t, ev.Conversation)
	assert.Equal(t, "open", ev.Conversation.Status)
	assert.Equal(t, "3", ev.Conversation.InboxID)
	assert.Equal(t, "Channel::WebWidget", ev.Conversation.InboxName)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), ev.Timestamp)
	require.NotNil(t, ev.Contact)
	assert.Equal(t, "42", ev.Contact.ExternalID)

	// nested conversation, sender under conversation.meta
	body = `{"event":"conversation_updated","conversation":{"id":8,"status":"pending",
		"meta":{"sender":{"id":43,"name":"Max"},"inbox":{"name":"Support"}}}}`
	ev, err = ParseChatwoot([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "8", ev.ExternalID)
	assert.Equal(t, "Support", ev.Conversation.InboxName)
	assert.Equal(t, "43", ev.Contact.ExternalID)

	// a root sender wins over meta
	body = `{"event":"conversation_updated","id":9,"sender":{"id":1},"meta":{"sender":{"id":2}}}`
	ev, err = ParseChatwoot([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "1", ev.Contact.ExternalID)
}

func TestParseChatwootStatusChanged(t *testing.T) {
	ev, err := ParseChatwoot([]byte(`{"event":"conversation_status_changed","conversation":{"id":7,"status":"resolved"}}`))
	require.NoError(t, err)
	assert.Equal(t, ConversationStatusChanged, ev.Type)
	assert.Equal(t, "resolved", ev.Conversation.Status)

	_, err = ParseChatwoot([]byte(`{"event":"conversation_status_changed","conversation":{"id":7}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseChatwootMessage(t *testing.T) {
	body := `{"event":"message_created","id":101,"content":"Hello","message_type":"incoming","created_at":"2024-03-01T10:00:00Z",
		"conversation":{"id":7,"status":"open"},"sender":{"id":42,"name":"Jane","type":"contact"},"inbox":{"id":3,"name":"Support"}}`
	ev, err := ParseChatwoot([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "101", ev.Message.ExternalID)
	assert.Equal(t, "7", ev.Message.ConversationID)
	assert.Equal(t, "Hello", ev.Message.Content)
	assert.Equal(t, "incoming", ev.Message.MessageType)
	assert.Equal(t, "contact", ev.Message.SenderType)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ev.Message.CreatedAt)
	assert.Equal(t, "Support", ev.Conversation.InboxName)
	require.NotNil(t, ev.Contact)

	// agent replies carry no contact, numeric message types decode to names
	body = `{"event":"message_created","id":102,"message":{"content":"Hi"},"message_type":1,"conversation":{"id":7},"sender":{"id":5,"name":"Agent","type":"user"}}`
	ev, err = ParseChatwoot([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Hi", ev.Message.Content)
	assert.Equal(t, "outgoing", ev.Message.MessageType)
	assert.Equal(t, "user", ev.Message.SenderType)
	assert.Nil(t, ev.Contact)
}

func TestParseChatwootRejects(t *testing.T) {
	_, err := ParseChatwoot([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseChatwoot([]byte(`{"id":1}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseChatwoot([]byte(`{"event":"contact_created","name":"no id"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseChatwoot([]byte(`{"event":"message_created","id":1}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseChatwoot([]byte(`{"event":"webwidget_triggered","id":1}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = ParseChatwoot([]byte(`{"event":"contact_synced","id":1}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestParseFormbricksResponse(t *testing.T) {
	body := `{"webhookEvent":"responseFinished","data":{"id":"r1","surveyId":"s1","finished":false,
		"createdAt":"2024-03-01T10:00:00.000Z","contact":{"id":"c9"},
		"data":{"email":"not-an-email","emailAddress":"jane@example.com","firstName":"Jane","mobile":"+49"}}}`
	ev, err := ParseFormbricks([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, VendorFormbricks, ev.Vendor)
	assert.Equal(t, ResponseFinished, ev.Type)
	assert.Equal(t, SourceWebhook, ev.Source)
	assert.Equal(t, "r1", ev.ExternalID)
	assert.True(t, ev.Response.Finished)
	assert.Equal(t, "s1", ev.Response.SurveyID)
	require.NotNil(t, ev.Contact)
	assert.Equal(t, "c9", ev.Contact.ExternalID)
	assert.Equal(t, "jane@example.com", ev.Contact.Email)
	assert.Equal(t, "Jane", ev.Contact.Name)
	assert.Equal(t, "+49", ev.Contact.Phone)
	assert.NotEmpty(t, ev.Response.Raw)

	ev, err = ParseFormbricks([]byte(`{"event":"responseCreated","data":{"responseId":"r2","data":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, "r2", ev.ExternalID)
	assert.Nil(t, ev.Contact)
}

func TestParseFormbricksRejects(t *testing.T) {
	_, err := ParseFormbricks([]byte(`[]`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseFormbricks([]byte(`{"data":{"id":"r1"}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseFormbricks([]byte(`{"webhookEvent":"responseCreated"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseFormbricks([]byte(`{"webhookEvent":"responseCreated","data":{"surveyId":"s1"}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseFormbricks([]byte(`{"webhookEvent":"surveyPublished","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPollingEvents(t *testing.T) {
	ev := FromChatwootContact(chatwoot.Contact{ID: 42, Name: " Jane Doe ", Email: "jane@example.com"})
	assert.Equal(t, ContactSynced, ev.Type)
	assert.Equal(t, SourcePoll, ev.Source)
	assert.Equal(t, "42", ev.ExternalID)
	assert.Equal(t, "Jane Doe", ev.Contact.Name)

	ev = FromFormbricksResponse(formbricks.Response{ID: "r1", Finished: true, Data: map[string]any{"email": "a@example.com"}})
	assert.Equal(t, ResponseFinished, ev.Type)
	ev = FromFormbricksResponse(formbricks.Response{ID: "r2"})
	assert.Equal(t, ResponseUpdated, ev.Type)
	assert.NotNil(t, ev.Answers)

	var c formbricks.Contact
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","attributes":{"email":"b@example.com","firstName":"Bo","lastName":"Li"}}`), &c))
	ev = FromFormbricksContact(c)
	assert.Equal(t, "c1", ev.ExternalID)
	assert.Equal(t, "Bo Li", ev.Contact.Name)
	assert.Equal(t, "b@example.com", ev.Contact.Email)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Unix(1700000000, 0).UTC()

	got, ok := ParseTimestamp(float64(1700000000))
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = ParseTimestamp("1700000000")
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = ParseTimestamp(json.RawMessage(`1700000000`))
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = ParseTimestamp("2023-11-14T22:13:20Z")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = ParseTimestamp("")
	assert.False(t, ok)
	_, ok = ParseTimestamp("yesterday")
	assert.False(t, ok)
	_, ok = ParseTimestamp(nil)
	assert.False(t, ok)
}
