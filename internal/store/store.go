package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatwoot-formbricks-sync/internal/db"
	"chatwoot-formbricks-sync/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write collides with a unique external ID.
	ErrDuplicate = errors.New("duplicate record")
	// ErrAlreadyConverted is returned when converting a lead that was already converted.
	ErrAlreadyConverted = errors.New("lead already converted")
)

// Customer defaults applied when the caller leaves them empty.
const (
	DefaultCustomerType  = "Individual"
	DefaultCustomerGroup = "All Customer Groups"
	DefaultTerritory     = "All Territories"
)

// Store is the record store repository. Writes go through gorm, reporting reads through sqlx.
type Store struct {
	db  *gorm.DB
	sql *sqlx.DB
}

// New creates a Store over an opened database.
func New(d *db.Database) *Store {
	return &Store{db: d.Gorm, sql: d.SQL}
}

// PartyFields carries the values written to a Customer or Lead. Empty values are left untouched on update.
type PartyFields struct {
	Name                   string
	Email                  string
	Phone                  string
	Source                 string
	ChatwootContactID      string
	FormbricksContactID    string
	ChatwootConversationID string
	FormbricksResponseID   string
	LeadScore              *int
}

// CustomerDefaults holds the classification fields of new customers.
type CustomerDefaults struct {
	CustomerType  string
	CustomerGroup string
	Territory     string
}

func (d CustomerDefaults) withFallbacks() CustomerDefaults {
	if d.CustomerType == "" {
		d.CustomerType = DefaultCustomerType
	}
	if d.CustomerGroup == "" {
		d.CustomerGroup = DefaultCustomerGroup
	}
	if d.Territory == "" {
		d.Territory = DefaultTerritory
	}
	return d
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// FindPartyByChatwootID returns the Customer, else the Lead, stamped with the Chatwoot contact ID.
func (s *Store) FindPartyByChatwootID(ctx context.Context, contactID string) (*models.ContactLink, error) {
	return s.findParty(ctx, "chatwoot_contact_id = ?", contactID)
}

// FindPartyByFormbricksID returns the Customer, else the Lead, stamped with the Formbricks contact ID.
func (s *Store) FindPartyByFormbricksID(ctx context.Context, contactID string) (*models.ContactLink, error) {
	return s.findParty(ctx, "formbricks_contact_id = ?", contactID)
}

// FindPartyByEmail matches the email case-insensitively, Customers first.
func (s *Store) FindPartyByEmail(ctx context.Context, email string) (*models.ContactLink, error) {
	return s.findParty(ctx, "LOWER(email_id) = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) findParty(ctx context.Context, cond, value string) (*models.ContactLink, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	var customer models.Customer
	err := s.db.WithContext(ctx).Where(cond, value).Order("created_at").First(&customer).Error
	if err == nil {
		return models.LinkOfCustomer(&customer), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}

	var lead models.Lead
	err = s.db.WithContext(ctx).
		Where(cond, value).
		Where("status <> ?", models.LeadStatusConverted).
		Order("created_at").
		First(&lead).Error
	if err == nil {
		return models.LinkOfLead(&lead), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	return nil, ErrNotFound
}

// claimExternalIDs fails with ErrDuplicate when a live party other than self already holds one of the
// contact IDs in f. The unique indexes only cover one table, so a Lead and a Customer are checked here.
func (s *Store) claimExternalIDs(ctx context.Context, self *models.ContactLink, f PartyFields) error {
	for _, id := range []struct{ column, value string }{
		{"chatwoot_contact_id", f.ChatwootContactID},
		{"formbricks_contact_id", f.FormbricksContactID},
	} {
		holder, err := s.findParty(ctx, id.column+" = ?", id.value)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if self != nil && holder.PartyType == self.PartyType && holder.PartyName == self.PartyName {
			continue
		}
		return fmt.Errorf("%w: %s %s is held by %s %s", ErrDuplicate, id.column, id.value, holder.PartyType, holder.PartyName)
	}
	return nil
}

// GetCustomer loads a customer by name.
func (s *Store) GetCustomer(ctx context.Context, name string) (*models.Customer, error) {
	var c models.Customer
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetLead loads a lead by name.
func (s *Store) GetLead(ctx context.Context, name string) (*models.Lead, error) {
	var l models.Lead
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&l).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

// CreateLead inserts a new Lead. ErrDuplicate means another writer already holds one of its external IDs.
func (s *Store) CreateLead(ctx context.Context, f PartyFields) (*models.Lead, error) {
	lead := &models.Lead{
		Name:                   uuid.NewString(),
		LeadName:               f.Name,
		Source:                 f.Source,
		Status:                 models.LeadStatusLead,
		EmailID:                f.Email,
		MobileNo:               f.Phone,
		ChatwootContactID:      models.NullString(f.ChatwootContactID),
		ChatwootConversationID: models.NullString(f.ChatwootConversationID),
		FormbricksContactID:    models.NullString(f.FormbricksContactID),
		FormbricksResponseID:   models.NullString(f.FormbricksResponseID),
	}
	if f.LeadScore != nil {
		lead.LeadScore = *f.LeadScore
	}
	if err := s.claimExternalIDs(ctx, nil, f); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, translate(err)
	}
	log.Debug().Str("lead", lead.Name).Str("email", lead.EmailID).Msg("Lead created")
	return lead, nil
}

// CreateCustomer inserts a new Customer. ErrDuplicate as for CreateLead.
func (s *Store) CreateCustomer(ctx context.Context, f PartyFields, defaults CustomerDefaults) (*models.Customer, error) {
	defaults = defaults.withFallbacks()
	customer := &models.Customer{
		Name:                   uuid.NewString(),
		CustomerName:           f.Name,
		CustomerType:           defaults.CustomerType,
		CustomerGroup:          defaults.CustomerGroup,
		Territory:              defaults.Territory,
		EmailID:                f.Email,
		MobileNo:               f.Phone,
		ChatwootContactID:      models.NullString(f.ChatwootContactID),
		ChatwootConversationID: models.NullString(f.ChatwootConversationID),
		FormbricksContactID:    models.NullString(f.FormbricksContactID),
		FormbricksResponseID:   models.NullString(f.FormbricksResponseID),
	}
	if err := s.claimExternalIDs(ctx, nil, f); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(customer).Error; err != nil {
		return nil, translate(err)
	}
	log.Debug().Str("customer", customer.Name).Str("email", customer.EmailID).Msg("Customer created")
	return customer, nil
}

// UpdateParty overwrites the party's fields with every non-empty value in f. ErrDuplicate means
// another party already holds one of the contact IDs in f.
func (s *Store) UpdateParty(ctx context.Context, link *models.ContactLink, f PartyFields) error {
	updates := map[string]any{}
	set := func(column, value string) {
		if value != "" {
			updates[column] = value
		}
	}
	set("email_id", f.Email)
	set("mobile_no", f.Phone)
	set("chatwoot_contact_id", f.ChatwootContactID)
	set("formbricks_contact_id", f.FormbricksContactID)
	set("chatwoot_conversation_id", f.ChatwootConversationID)
	set("formbricks_response_id", f.FormbricksResponseID)

	var model any
	switch link.PartyType {
	case models.PartyCustomer:
		model = &models.Customer{}
		set("customer_name", f.Name)
	case models.PartyLead:
		model = &models.Lead{}
		set("lead_name", f.Name)
		set("source", f.Source)
		if f.LeadScore != nil {
			updates["lead_score"] = *f.LeadScore
		}
	default:
		return fmt.Errorf("unknown party type %q", link.PartyType)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.claimExternalIDs(ctx, link, f); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(model).Where("name = ?", link.PartyName).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation loads a conversation record by its Chatwoot ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ListConversations returns the most recently updated conversations, optionally filtered by status.
func (s *Store) ListConversations(ctx context.Context, status string, limit int) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Conversation
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

// UpsertConversation inserts the record or overwrites every mapped column of the existing one.
func (s *Store) UpsertConversation(ctx context.Context, c *models.Conversation) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	// sqlite compares timestamps as text, so every stored instant is UTC.
	c.UpdatedAt = c.UpdatedAt.UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "inbox_id", "inbox_name", "contact_name", "contact_email",
			"chatwoot_contact_id", "customer", "lead", "updated_at",
		}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", c.ConversationID, err)
	}
	return nil
}

// SetConversationStatus changes only the status and updated_at. It reports whether a record was updated.
func (s *Store) SetConversationStatus(ctx context.Context, conversationID, status string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Updates(map[string]any{"status": status, "updated_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update conversation %s status: %w", conversationID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchConversation moves updated_at forward to at. An older at leaves the row alone.
func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ? AND updated_at < ?", conversationID, at.UTC()).
		Update("updated_at", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", conversationID, err)
	}
	return nil
}

// LinkConversation points the conversation at exactly one party.
func (s *Store) LinkConversation(ctx context.Context, conversationID string, link *models.ContactLink) error {
	updates := map[string]any{"customer": nil, "lead": nil}
	switch link.PartyType {
	case models.PartyCustomer:
		updates["customer"] = link.PartyName
	case models.PartyLead:
		updates["lead"] = link.PartyName
	default:
		return fmt.Errorf("unknown party type %q", link.PartyType)
	}
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("conversation_id = ?", conversationID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to link conversation %s: %w", conversationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores the message once per (conversation, message ID). It reports whether it was new.
func (s *Store) AppendMessage(ctx context.Context, m *models.ConversationMessage) (bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, fmt.Errorf("failed to append message %s: %w", m.MessageID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	var out []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for conversation %s: %w", conversationID, err)
	}
	return out, nil
}

// ListResolvedBefore returns resolved conversations last updated before cutoff.
func (s *Store) ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusResolved, cutoff.UTC()).
		Order("updated_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved conversations: %w", err)
	}
	return out, nil
}

// DeleteResolvedConversation deletes one conversation record if it is still resolved and older than cutoff.
func (s *Store) DeleteResolvedConversation(ctx context.Context, conversationID string, cutoff time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND status = ? AND updated_at < ?", conversationID, models.StatusResolved, cutoff.UTC()).
		Delete(&models.Conversation{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete conversation %s: %w", conversationID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindIssueByConversation returns the issue opened for a conversation.
func (s *Store) FindIssueByConversation(ctx context.Context, conversationID string) (*models.Issue, error) {
	var issue models.Issue
	if err := s.db.WithContext(ctx).Where("chatwoot_conversation_id = ?", conversationID).First(&issue).Error; err != nil {
		return nil, translate(err)
	}
	return &issue, nil
}

// GetIssue loads an issue by name.
func (s *Store) GetIssue(ctx context.Context, name string) (*models.Issue, error) {
	var issue models.Issue
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&issue).Error; err != nil {
		return nil, translate(err)
	}
	return &issue, nil
}

// CreateIssue inserts an issue. ErrDuplicate means the conversation already has one.
func (s *Store) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.Name == "" {
		issue.Name = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(issue).Error; err != nil {
		return translate(err)
	}
	return nil
}

// AddIssueComment appends a comment to an issue.
func (s *Store) AddIssueComment(ctx context.Context, comment *models.IssueComment) error {
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("failed to add comment to issue %s: %w", comment.IssueName, err)
	}
	return nil
}

// ListIssueComments returns an issue's comments oldest first.
func (s *Store) ListIssueComments(ctx context.Context, issueName string) ([]models.IssueComment, error) {
	var out []models.IssueComment
	err := s.db.WithContext(ctx).Where("issue_name = ?", issueName).Order("created_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list comments of issue %s: %w", issueName, err)
	}
	return out, nil
}

// UpsertSurvey inserts or overwrites a survey definition.
func (s *Store) UpsertSurvey(ctx context.Context, survey *models.Survey) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "survey_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "status", "survey_type", "questions", "updated_at"}),
	}).Create(survey).Error
	if err != nil {
		return fmt.Errorf("failed to upsert survey %s: %w", survey.SurveyID, err)
	}
	return nil
}

// GetSurvey loads a survey by its Formbricks ID.
func (s *Store) GetSurvey(ctx context.Context, surveyID string) (*models.Survey, error) {
	var survey models.Survey
	if err := s.db.WithContext(ctx).Where("survey_id = ?", surveyID).First(&survey).Error; err != nil {
		return nil, translate(err)
	}
	return &survey, nil
}

// GetResponse loads a survey response by its Formbricks ID.
func (s *Store) GetResponse(ctx context.Context, responseID string) (*models.SurveyResponse, error) {
	var r models.SurveyResponse
	if err := s.db.WithContext(ctx).Where("response_id = ?", responseID).First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// UpsertResponse inserts the response or overwrites every mapped column of the existing one.
func (s *Store) UpsertResponse(ctx context.Context, r *models.SurveyResponse) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "response_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"survey_id", "data", "contact_email", "contact_name", "contact_phone",
			"formbricks_contact_id", "finished", "finished_at", "customer", "lead", "updated_at",
		}),
	}).Create(r).Error
	if err != nil {
		return fmt.Errorf("failed to upsert response %s: %w", r.ResponseID, err)
	}
	return nil
}

// GetSyncState returns the last recorded run of a polling job.
func (s *Store) GetSyncState(ctx context.Context, key string) (*models.SyncState, error) {
	var st models.SyncState
	if err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&st).Error; err != nil {
		return nil, translate(err)
	}
	return &st, nil
}

// SaveSyncState records a polling job run.
func (s *Store) SaveSyncState(ctx context.Context, st *models.SyncState) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(st).Error
	if err != nil {
		return fmt.Errorf("failed to save sync state %s: %w", st.Key, err)
	}
	return nil
}

// ConvertLead creates a Customer from the lead and moves the lead's external IDs, conversations,
// responses and issues to it. Nothing is written unless every step succeeds.
func (s *Store) ConvertLead(ctx context.Context, leadName string, defaults CustomerDefaults) (*models.Customer, error) {
	defaults = defaults.withFallbacks()
	var customer *models.Customer

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead models.Lead
		if err := tx.Where("name = ?", leadName).First(&lead).Error; err != nil {
			return translate(err)
		}
		if lead.Status == models.LeadStatusConverted || lead.ConvertedTo != "" {
			return fmt.Errorf("%w: %s -> %s", ErrAlreadyConverted, lead.Name, lead.ConvertedTo)
		}

		name := lead.LeadName
		if name == "" {
			name = lead.EmailID
		}
		customer = &models.Customer{
			Name:                   uuid.NewString(),
			CustomerName:           name,
			CustomerType:           defaults.CustomerType,
			CustomerGroup:          defaults.CustomerGroup,
			Territory:              defaults.Territory,
			EmailID:                lead.EmailID,
			MobileNo:               lead.MobileNo,
			ChatwootContactID:      lead.ChatwootContactID,
			ChatwootConversationID: lead.ChatwootConversationID,
			FormbricksContactID:    lead.FormbricksContactID,
			FormbricksResponseID:   lead.FormbricksResponseID,
			ConvertedFromLead:      lead.Name,
		}

		// The lead releases its external IDs before the customer claims them on the unique indexes.
		err := tx.Model(&models.Lead{}).Where("name = ?", lead.Name).Updates(map[string]any{
			"chatwoot_contact_id":      nil,
			"chatwoot_conversation_id": nil,
			"formbricks_contact_id":    nil,
			"formbricks_response_id":   nil,
			"status":                   models.LeadStatusConverted,
			"converted_to":             customer.Name,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to release lead %s: %w", lead.Name, err)
		}
		if err := tx.Create(customer).Error; err != nil {
			return fmt.Errorf("failed to create customer from lead %s: %w", lead.Name, translate(err))
		}

		repoint := map[string]any{"customer": customer.Name, "lead": nil}
		byLead := map[string]any{"lead": lead.Name}
		if err := tx.Model(&models.Conversation{}).Where(byLead).Updates(repoint).Error; err != nil {
			return fmt.Errorf("failed to move conversations of lead %s: %w", lead.Name, err)
		}
		if err := tx.Model(&models.SurveyResponse{}).Where(byLead).Updates(repoint).Error; err != nil {
			return fmt.Errorf("failed to move responses of lead %s: %w", lead.Name, err)
		}
		if err := tx.Model(&models.Issue{}).Where(byLead).Updates(repoint).Error; err != nil {
			return fmt.Errorf("failed to move issues of lead %s: %w", lead.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("lead", leadName).Str("customer", customer.Name).Msg("Lead converted to customer")
	return customer, nil
}

// Stats counts records per table plus conversations per status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	tables := []string{
		"customers", "leads", "issues", "issue_comments", "conversations",
		"conversation_messages", "surveys", "survey_responses",
	}
	out := make(map[string]int, len(tables)+4)
	for _, table := range tables {
		var n int
		if err := s.sql.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = n
	}

	var converted int
	if err := s.sql.GetContext(ctx, &converted, s.sql.Rebind("SELECT COUNT(*) FROM leads WHERE status = ?"), models.LeadStatusConverted); err != nil {
		return nil, fmt.Errorf("failed to count converted leads: %w", err)
	}
	out["leads_converted"] = converted

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := s.sql.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS n FROM conversations GROUP BY status"); err != nil {
		return nil, fmt.Errorf("failed to count conversations by status: %w", err)
	}
	for _, r := range rows {
		out["conversations_"+r.Status] = r.Count
	}
	return out, nil
}
