package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CatalogService manages events and keeps the ledger's tiers in step with them
type CatalogService interface {
	ListEvents(ctx context.Context, filter repository.EventFilter) ([]*domain.Event, error)
	GetEvent(ctx context.Context, id string) (*domain.Event, error)

	// Availability returns ledger counts for each tier of an event, keyed by tier id
	Availability(ctx context.Context, event *domain.Event) (map[string]*domain.TierInventory, error)

	CreateEvent(ctx context.Context, session *domain.Session, req *dto.EventRequest) (*domain.Event, error)
	UpdateEvent(ctx context.Context, session *domain.Session, id string, req *dto.EventRequest) (*domain.Event, error)
	DeleteEvent(ctx context.Context, session *domain.Session, id string) error
}

type catalogService struct {
	events repository.EventRepository
	ledger repository.LedgerRepository
}

// NewCatalogService creates a new CatalogService
func NewCatalogService(events repository.EventRepository, ledger repository.LedgerRepository) CatalogService {
	return &catalogService{events: events, ledger: ledger}
}

func (s *catalogService) ListEvents(ctx context.Context, filter repository.EventFilter) ([]*domain.Event, error) {
	if filter.Category != "" && !filter.Category.IsValid() {
		return nil, domain.ErrInvalidEvent
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.ErrInvalidEvent
	}
	return s.events.List(ctx, filter)
}

func (s *catalogService) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	return s.events.GetByID(ctx, id)
}

func (s *catalogService) Availability(ctx context.Context, event *domain.Event) (map[string]*domain.TierInventory, error) {
	out := make(map[string]*domain.TierInventory, len(event.Tiers))
	for _, t := range event.Tiers {
		inv, err := s.ledger.Inventory(ctx, t.ID)
		if err != nil {
			if errors.Is(err, domain.ErrTierNotFound) {
				continue
			}
			return nil, err
		}
		out[t.ID] = inv
	}
	return out, nil
}

func (s *catalogService) CreateEvent(ctx context.Context, session *domain.Session, req *dto.EventRequest) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.create_event")
	defer span.End()

	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	if !session.CanPublish() {
		return nil, domain.ErrForbidden
	}

	now := time.Now().UTC()
	event := &domain.Event{
		ID:          uuid.New().String(),
		OrganizerID: session.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := applyEventRequest(event, req, nil); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event_id", event.ID))

	var synced []*domain.Tier
	for _, t := range event.Tiers {
		if err := s.ledger.UpsertTier(ctx, tierSpec(t)); err != nil {
			s.rollbackTiers(ctx, synced, nil)
			telemetry.RecordError(span, err)
			return nil, err
		}
		synced = append(synced, t)
	}

	if err := s.events.Create(ctx, event); err != nil {
		s.rollbackTiers(ctx, synced, nil)
		telemetry.RecordError(span, err)
		return nil, err
	}
	return event, nil
}

func (s *catalogService) UpdateEvent(ctx context.Context, session *domain.Session, id string, req *dto.EventRequest) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.update_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", id))

	existing, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.CanManage(existing.OrganizerID) {
		if !session.Authenticated() {
			return nil, domain.ErrUnauthorized
		}
		return nil, domain.ErrForbidden
	}

	updated := *existing
	updated.UpdatedAt = time.Now().UTC()
	if err := applyEventRequest(&updated, req, existing); err != nil {
		return nil, err
	}

	// tiers dropped by the update must be free before anything changes
	var removed []*domain.Tier
	for _, old := range existing.Tiers {
		if _, kept := updated.Tier(old.ID); kept {
			continue
		}
		if err := s.ensureFree(ctx, old.ID); err != nil {
			return nil, err
		}
		removed = append(removed, old)
	}

	var synced []*domain.Tier
	for _, t := range updated.Tiers {
		if err := s.ledger.UpsertTier(ctx, tierSpec(t)); err != nil {
			s.rollbackTiers(ctx, synced, existing)
			telemetry.RecordError(span, err)
			return nil, err
		}
		synced = append(synced, t)
	}

	for i, t := range removed {
		if err := s.ledger.RemoveTier(ctx, t.ID); err != nil && !errors.Is(err, domain.ErrTierNotFound) {
			s.restoreTiers(ctx, removed[:i])
			s.rollbackTiers(ctx, synced, existing)
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if err := s.events.Update(ctx, &updated); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return &updated, nil
}

func (s *catalogService) DeleteEvent(ctx context.Context, session *domain.Session, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.delete_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", id))

	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !session.CanManage(event.OrganizerID) {
		if !session.Authenticated() {
			return domain.ErrUnauthorized
		}
		return domain.ErrForbidden
	}

	for _, t := range event.Tiers {
		if err := s.ensureFree(ctx, t.ID); err != nil {
			return err
		}
	}
	for i, t := range event.Tiers {
		if err := s.ledger.RemoveTier(ctx, t.ID); err != nil && !errors.Is(err, domain.ErrTierNotFound) {
			s.restoreTiers(ctx, event.Tiers[:i])
			telemetry.RecordError(span, err)
			return err
		}
	}

	return s.events.Delete(ctx, id)
}

// ensureFree fails with ErrTierInUse while a tier has holds or sales
func (s *catalogService) ensureFree(ctx context.Context, tierID string) error {
	inv, err := s.ledger.Inventory(ctx, tierID)
	if err != nil {
		if errors.Is(err, domain.ErrTierNotFound) {
			return nil
		}
		return err
	}
	if inv.InUse() {
		return domain.ErrTierInUse
	}
	return nil
}

// rollbackTiers undoes ledger upserts: tiers that existed before get their old spec back,
// new tiers are removed
func (s *catalogService) rollbackTiers(ctx context.Context, synced []*domain.Tier, before *domain.Event) {
	for _, t := range synced {
		var err error
		if before != nil {
			if old, ok := before.Tier(t.ID); ok {
				err = s.ledger.UpsertTier(ctx, tierSpec(old))
			} else {
				err = s.ledger.RemoveTier(ctx, t.ID)
			}
		} else {
			err = s.ledger.RemoveTier(ctx, t.ID)
		}
		if err != nil {
			logger.Get().Error("Failed to roll back ledger tier",
				zap.String("tier_id", t.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *catalogService) restoreTiers(ctx context.Context, tiers []*domain.Tier) {
	for _, t := range tiers {
		if err := s.ledger.UpsertTier(ctx, tierSpec(t)); err != nil {
			logger.Get().Error("Failed to restore ledger tier",
				zap.String("tier_id", t.ID),
				zap.Error(err),
			)
		}
	}
}

func tierSpec(t *domain.Tier) repository.TierSpec {
	return repository.TierSpec{
		EventID:   t.EventID,
		TierID:    t.ID,
		Capacity:  t.Capacity,
		UnitPrice: t.UnitPrice,
	}
}

// applyEventRequest copies request fields onto event. Tiers in the request keep the
// id of the existing tier they name, by id or else by name.
func applyEventRequest(event *domain.Event, req *dto.EventRequest, existing *domain.Event) error {
	if req == nil {
		return domain.ErrInvalidEvent
	}
	if req.OrganizerWallet != "" && !gateway.IsValidAddress(req.OrganizerWallet) {
		return domain.ErrInvalidRecipient
	}

	event.Title = strings.TrimSpace(req.Title)
	event.Description = req.Description
	event.Date = req.Date
	event.Time = req.Time
	event.Venue = req.Venue
	event.ImageURL = req.ImageURL
	event.Category = domain.Category(req.Category)
	event.OrganizerWallet = req.OrganizerWallet
	if req.Status != "" {
		event.Status = domain.EventStatus(req.Status)
	} else if event.Status == "" {
		event.Status = domain.EventStatusUpcoming
	}

	tiers := make([]*domain.Tier, 0, len(req.Tiers))
	for _, tr := range req.Tiers {
		t := &domain.Tier{
			ID:        tr.ID,
			EventID:   event.ID,
			Name:      strings.TrimSpace(tr.Name),
			UnitPrice: tr.UnitPrice,
			Capacity:  tr.Capacity,
		}
		switch {
		case existing == nil:
			// new events never adopt caller-chosen tier ids
			t.ID = ""
		case t.ID != "":
			if _, ok := existing.Tier(t.ID); !ok {
				return domain.ErrTierNotFound
			}
		default:
			if old, ok := existing.TierByName(t.Name); ok {
				t.ID = old.ID
			}
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		tiers = append(tiers, t)
	}
	event.Tiers = tiers

	return event.Validate()
}
