package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
)

// ContactOptions controls what happens to contacts that match no CRM party.
type ContactOptions struct {
	AutoCreateLead     bool
	AutoCreateCustomer bool
	LeadSource         string
	Customer           store.CustomerDefaults
}

// ContactSyncService keeps CRM parties in step with Chatwoot and Formbricks contacts.
type ContactSyncService struct {
	store *store.Store
	opts  ContactOptions
}

// NewContactSyncService creates a new ContactSyncService.
func NewContactSyncService(st *store.Store, opts ContactOptions) (*ContactSyncService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.AutoCreateLead && opts.AutoCreateCustomer {
		return nil, fmt.Errorf("auto-creating leads and customers are mutually exclusive")
	}
	if opts.LeadSource == "" {
		opts.LeadSource = "Chat"
	}
	return &ContactSyncService{store: st, opts: opts}, nil
}

// AutoCreateType is the party created for unmatched contacts, or "" when nothing is created.
func (s *ContactSyncService) AutoCreateType() models.PartyType {
	switch {
	case s.opts.AutoCreateCustomer:
		return models.PartyCustomer
	case s.opts.AutoCreateLead:
		return models.PartyLead
	}
	return ""
}

// LeadSource is the source stamped on leads created from Chatwoot.
func (s *ContactSyncService) LeadSource() string { return s.opts.LeadSource }

// Match finds the party of a contact by its external ID, else by email. The second result
// reports an email match.
func (s *ContactSyncService) Match(ctx context.Context, vendor events.Vendor, c *events.Contact) (*models.ContactLink, bool, error) {
	if c == nil {
		return nil, false, store.ErrNotFound
	}
	link, err := s.findByExternalID(ctx, vendor, c.ExternalID)
	if err == nil {
		return link, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	link, err = s.store.FindPartyByEmail(ctx, c.Email)
	if err != nil {
		return nil, false, err
	}
	return link, true, nil
}

func (s *ContactSyncService) findByExternalID(ctx context.Context, vendor events.Vendor, id string) (*models.ContactLink, error) {
	switch vendor {
	case events.VendorChatwoot:
		return s.store.FindPartyByChatwootID(ctx, id)
	case events.VendorFormbricks:
		return s.store.FindPartyByFormbricksID(ctx, id)
	}
	return nil, fmt.Errorf("unknown vendor %q", vendor)
}

// Reconcile finds or creates the party of a contact and merges the contact's non-empty fields and
// extra into it. A party matched by email is stamped with the external ID only when it has none for
// that vendor. createAs names the party created when nothing matches; "" creates nothing.
func (s *ContactSyncService) Reconcile(ctx context.Context, vendor events.Vendor, c *events.Contact, extra store.PartyFields, createAs models.PartyType) (*models.ContactLink, Action, error) {
	if c == nil || (c.ExternalID == "" && c.Email == "") {
		return nil, ActionIgnored, nil
	}

	link, byEmail, err := s.Match(ctx, vendor, c)
	switch {
	case err == nil:
		return s.merge(ctx, vendor, c, extra, link, byEmail)
	case !errors.Is(err, store.ErrNotFound):
		return nil, "", fmt.Errorf("failed to look up party of %s contact %s: %w", vendor, c.ExternalID, err)
	case createAs == "":
		log.Debug().Str("vendor", string(vendor)).Str("contactID", c.ExternalID).Msg("No party for contact and auto-create is off")
		return nil, ActionIgnored, nil
	}

	fields := partyFields(vendor, c, extra)
	if fields.Name == "" {
		fields.Name = fallbackName(c)
	}
	if fields.Source == "" {
		fields.Source = s.opts.LeadSource
	}

	switch createAs {
	case models.PartyCustomer:
		var customer *models.Customer
		customer, err = s.store.CreateCustomer(ctx, fields, s.opts.Customer)
		if err == nil {
			link = models.LinkOfCustomer(customer)
		}
	default:
		var lead *models.Lead
		lead, err = s.store.CreateLead(ctx, fields)
		if err == nil {
			link = models.LinkOfLead(lead)
		}
	}
	if errors.Is(err, store.ErrDuplicate) {
		// a concurrent delivery created the party first
		log.Info().Str("vendor", string(vendor)).Str("contactID", c.ExternalID).Msg("Party created concurrently, merging instead")
		link, byEmail, err = s.Match(ctx, vendor, c)
		if err != nil {
			return nil, "", fmt.Errorf("failed to re-read party of %s contact %s: %w", vendor, c.ExternalID, err)
		}
		return s.merge(ctx, vendor, c, extra, link, byEmail)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s for %s contact %s: %w", createAs, vendor, c.ExternalID, err)
	}

	log.Info().
		Str("vendor", string(vendor)).
		Str("contactID", c.ExternalID).
		Str("partyType", string(link.PartyType)).
		Str("party", link.PartyName).
		Msg("Created party for contact")
	return link, ActionCreated, nil
}

func (s *ContactSyncService) merge(ctx context.Context, vendor events.Vendor, c *events.Contact, extra store.PartyFields, link *models.ContactLink, byEmail bool) (*models.ContactLink, Action, error) {
	fields := partyFields(vendor, c, extra)
	action := ActionUpdated
	if byEmail {
		action = ActionLinked
		switch {
		case vendor == events.VendorChatwoot && link.ChatwootContactID != "":
			fields.ChatwootContactID = ""
		case vendor == events.VendorFormbricks && link.FormbricksContactID != "":
			fields.FormbricksContactID = ""
		}
	}
	// source only describes how a party was created
	fields.Source = ""

	if err := s.store.UpdateParty(ctx, link, fields); err != nil {
		return nil, "", fmt.Errorf("failed to update %s %s: %w", link.PartyType, link.PartyName, err)
	}
	if fields.ChatwootContactID != "" {
		link.ChatwootContactID = fields.ChatwootContactID
	}
	if fields.FormbricksContactID != "" {
		link.FormbricksContactID = fields.FormbricksContactID
	}

	log.Debug().
		Str("vendor", string(vendor)).
		Str("contactID", c.ExternalID).
		Str("party", link.PartyName).
		Str("action", string(action)).
		Msg("Merged contact into party")
	return link, action, nil
}

func partyFields(vendor events.Vendor, c *events.Contact, extra store.PartyFields) store.PartyFields {
	f := extra
	if c.Name != "" {
		f.Name = c.Name
	}
	if c.Email != "" {
		f.Email = c.Email
	}
	if c.Phone != "" {
		f.Phone = c.Phone
	}
	switch vendor {
	case events.VendorChatwoot:
		f.ChatwootContactID = c.ExternalID
	case events.VendorFormbricks:
		f.FormbricksContactID = c.ExternalID
	}
	return f
}

func fallbackName(c *events.Contact) string {
	if c.Email != "" {
		local, _, _ := strings.Cut(c.Email, "@")
		if local != "" {
			return local
		}
	}
	if c.Phone != "" {
		return c.Phone
	}
	return "Unknown"
}
