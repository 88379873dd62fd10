package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// ContactResolver maps a (channel, external id) pair onto exactly one contact.
type ContactResolver struct {
	contactRepo storage.ContactRepo
	now         func() time.Time
}

func NewContactResolver(contactRepo storage.ContactRepo) *ContactResolver {
	return &ContactResolver{contactRepo: contactRepo, now: utils.Now}
}

// ResolveContact finds or creates the contact behind an inbound identity.
// Phone channels also match an existing contact by phone digits, EMAIL by
// address. A concurrent create of the same identity re-reads the winner.
func (r *ContactResolver) ResolveContact(ctx context.Context, channel model.Channel, externalID string, hints model.ContactHints) (*model.Contact, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: external id is required", apperrors.ErrValidation)
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", apperrors.ErrValidation, channel)
	}
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}
	log := logger.FromContext(ctx).With(zap.String("channel", string(channel)))

	identity := &model.ContactIdentity{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		Channel:    channel,
		ExternalID: externalID,
	}

	existing, err := r.lookup(ctx, channel, externalID)
	if err != nil {
		return nil, unavailable(err, "lookup contact")
	}
	if existing != nil {
		contact, err := r.contactRepo.MergeContactIdentity(ctx, existing.ID, identity, hints, r.now())
		if err != nil {
			return nil, unavailable(err, "merge contact identity")
		}
		return contact, nil
	}

	contact := &model.Contact{
		ID:            uuid.NewString(),
		CompanyID:     companyID,
		DisplayName:   strings.TrimSpace(hints.DisplayName),
		AvatarURL:     hints.AvatarURL,
		LastContactAt: r.now(),
	}
	switch {
	case channel.IsPhoneAddressed():
		contact.Phone = utils.PhoneFromJID(externalID)
	case channel == model.ChannelEmail:
		contact.Email = utils.NormalizeEmail(externalID)
	}
	if contact.DisplayName == "" {
		contact.DisplayName = synthesizeDisplayName(channel, externalID)
	}
	identity.ContactID = contact.ID

	err = r.contactRepo.CreateContact(ctx, contact, identity)
	if err == nil {
		log.Info("[contact] created", zap.String("contact_id", contact.ID))
		return contact, nil
	}
	if !apperrors.IsDuplicateError(err) {
		return nil, unavailable(err, "create contact")
	}

	// Lost the race: another resolver inserted the same identity first.
	log.Debug("[contact] identity created concurrently, re-reading winner")
	winner, err := r.contactRepo.FindContactByIdentity(ctx, channel, externalID)
	if err != nil {
		return nil, unavailable(err, "re-read contact after duplicate")
	}
	contact, err = r.contactRepo.MergeContactIdentity(ctx, winner.ID, identity, hints, r.now())
	if err != nil {
		return nil, unavailable(err, "merge contact identity")
	}
	return contact, nil
}

// lookup returns nil without error when nothing matches.
func (r *ContactResolver) lookup(ctx context.Context, channel model.Channel, externalID string) (*model.Contact, error) {
	contact, err := r.contactRepo.FindContactByIdentity(ctx, channel, externalID)
	if err == nil {
		return contact, nil
	}
	if !apperrors.IsNotFoundError(err) {
		return nil, err
	}

	switch {
	case channel.IsPhoneAddressed():
		phone := utils.PhoneFromJID(externalID)
		if phone == "" {
			return nil, nil
		}
		contact, err = r.contactRepo.FindContactByPhone(ctx, phone)
	case channel == model.ChannelEmail:
		email := utils.NormalizeEmail(externalID)
		if email == "" {
			return nil, nil
		}
		contact, err = r.contactRepo.FindContactByEmail(ctx, email)
	default:
		return nil, nil
	}
	if apperrors.IsNotFoundError(err) {
		return nil, nil
	}
	return contact, err
}

func synthesizeDisplayName(channel model.Channel, externalID string) string {
	switch {
	case channel.IsPhoneAddressed():
		digits := utils.PhoneFromJID(externalID)
		if digits == "" {
			return externalID
		}
		return "Contact ••" + utils.LastN(digits, 4)
	case channel == model.ChannelEmail:
		if i := strings.IndexByte(externalID, '@'); i > 0 {
			return externalID[:i]
		}
		return externalID
	default:
		return "@" + strings.TrimPrefix(externalID, "@")
	}
}
