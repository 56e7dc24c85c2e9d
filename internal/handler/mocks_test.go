package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/pkg/middleware"
)

// MockSettlementService is a mock implementation of SettlementService for testing
type MockSettlementService struct {
	StartPurchaseFunc        func(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error)
	GetAttemptFunc           func(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, *gateway.Handoff, error)
	CancelFunc               func(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, error)
	HandlePaymentOutcomeFunc func(ctx context.Context, provider gateway.Kind, reservationID string, result *gateway.Result) (*domain.Attempt, error)
	ReportWalletOutcomeFunc  func(ctx context.Context, session *domain.Session, reservationID string, outcome *gateway.WalletOutcome) (*domain.Attempt, error)
	ListAlertsFunc           func(ctx context.Context, session *domain.Session, openOnly bool) ([]*domain.ReconciliationAlert, error)
	ResolveAlertFunc         func(ctx context.Context, session *domain.Session, id, note string) (*domain.ReconciliationAlert, error)
}

func (m *MockSettlementService) Purchase(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error) {
	return m.StartPurchase(ctx, session, req)
}

func (m *MockSettlementService) StartPurchase(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error) {
	if m.StartPurchaseFunc != nil {
		return m.StartPurchaseFunc(ctx, session, req)
	}
	return nil, nil
}

func (m *MockSettlementService) GetAttempt(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, *gateway.Handoff, error) {
	if m.GetAttemptFunc != nil {
		return m.GetAttemptFunc(ctx, session, reservationID)
	}
	return nil, nil, domain.ErrReservationNotFound
}

func (m *MockSettlementService) Cancel(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, session, reservationID)
	}
	return nil, domain.ErrReservationNotFound
}

func (m *MockSettlementService) HandlePaymentOutcome(ctx context.Context, provider gateway.Kind, reservationID string, result *gateway.Result) (*domain.Attempt, error) {
	if m.HandlePaymentOutcomeFunc != nil {
		return m.HandlePaymentOutcomeFunc(ctx, provider, reservationID, result)
	}
	return nil, nil
}

func (m *MockSettlementService) ReportWalletOutcome(ctx context.Context, session *domain.Session, reservationID string, outcome *gateway.WalletOutcome) (*domain.Attempt, error) {
	if m.ReportWalletOutcomeFunc != nil {
		return m.ReportWalletOutcomeFunc(ctx, session, reservationID, outcome)
	}
	return nil, nil
}

func (m *MockSettlementService) ListReconciliationAlerts(ctx context.Context, session *domain.Session, openOnly bool) ([]*domain.ReconciliationAlert, error) {
	if m.ListAlertsFunc != nil {
		return m.ListAlertsFunc(ctx, session, openOnly)
	}
	return nil, nil
}

func (m *MockSettlementService) ResolveReconciliationAlert(ctx context.Context, session *domain.Session, id, note string) (*domain.ReconciliationAlert, error) {
	if m.ResolveAlertFunc != nil {
		return m.ResolveAlertFunc(ctx, session, id, note)
	}
	return nil, domain.ErrAlertNotFound
}

func (m *MockSettlementService) PruneAttempts(now time.Time) int { return 0 }

func (m *MockSettlementService) Wait() {}

var _ service.SettlementService = (*MockSettlementService)(nil)

// MockCatalogService is a mock implementation of CatalogService for testing
type MockCatalogService struct {
	ListEventsFunc   func(ctx context.Context, filter repository.EventFilter) ([]*domain.Event, error)
	GetEventFunc     func(ctx context.Context, id string) (*domain.Event, error)
	AvailabilityFunc func(ctx context.Context, event *domain.Event) (map[string]*domain.TierInventory, error)
	CreateEventFunc  func(ctx context.Context, session *domain.Session, req *dto.EventRequest) (*domain.Event, error)
	UpdateEventFunc  func(ctx context.Context, session *domain.Session, id string, req *dto.EventRequest) (*domain.Event, error)
	DeleteEventFunc  func(ctx context.Context, session *domain.Session, id string) error
}

func (m *MockCatalogService) ListEvents(ctx context.Context, filter repository.EventFilter) ([]*domain.Event, error) {
	if m.ListEventsFunc != nil {
		return m.ListEventsFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockCatalogService) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	if m.GetEventFunc != nil {
		return m.GetEventFunc(ctx, id)
	}
	return nil, domain.ErrEventNotFound
}

func (m *MockCatalogService) Availability(ctx context.Context, event *domain.Event) (map[string]*domain.TierInventory, error) {
	if m.AvailabilityFunc != nil {
		return m.AvailabilityFunc(ctx, event)
	}
	return map[string]*domain.TierInventory{}, nil
}

func (m *MockCatalogService) CreateEvent(ctx context.Context, session *domain.Session, req *dto.EventRequest) (*domain.Event, error) {
	if m.CreateEventFunc != nil {
		return m.CreateEventFunc(ctx, session, req)
	}
	return nil, nil
}

func (m *MockCatalogService) UpdateEvent(ctx context.Context, session *domain.Session, id string, req *dto.EventRequest) (*domain.Event, error) {
	if m.UpdateEventFunc != nil {
		return m.UpdateEventFunc(ctx, session, id, req)
	}
	return nil, nil
}

func (m *MockCatalogService) DeleteEvent(ctx context.Context, session *domain.Session, id string) error {
	if m.DeleteEventFunc != nil {
		return m.DeleteEventFunc(ctx, session, id)
	}
	return nil
}

var _ service.CatalogService = (*MockCatalogService)(nil)

// withSession stands in for the auth middleware
func withSession(userID string, role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextKeyUserID, userID)
			c.Set(middleware.ContextKeyRole, string(role))
		}
		c.Next()
	}
}

func newTestRouter(userID string, role domain.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withSession(userID, role))
	return router
}
