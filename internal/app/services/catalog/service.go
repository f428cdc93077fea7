package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Service manages the treatments an owner offers.
type Service struct {
	store        storage.CatalogStore
	appointments storage.AppointmentStore
	log          *logger.Logger
	now          func() time.Time
}

// New creates a catalog service.
func New(store storage.CatalogStore, appointments storage.AppointmentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, appointments: appointments, log: log, now: time.Now}
}

func normalize(svc *catalog.Service) error {
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Color = strings.TrimSpace(svc.Color)
	if svc.Name == "" {
		return errors.Required("name")
	}
	if svc.DurationMinutes <= 0 {
		return errors.InvalidInput("duration_minutes must be positive")
	}
	if svc.PriceCents < 0 {
		return errors.InvalidInput("price_cents must not be negative")
	}
	if svc.Color == "" {
		svc.Color = catalog.DefaultColor
	}
	if !colorPattern.MatchString(svc.Color) {
		return errors.InvalidInput(fmt.Sprintf("color %q must be #rrggbb", svc.Color))
	}
	return nil
}

// Create adds a service for the owner.
func (s *Service) Create(ctx context.Context, ownerID string, svc catalog.Service) (catalog.Service, error) {
	if err := normalize(&svc); err != nil {
		return catalog.Service{}, err
	}
	svc.ID = ""
	svc.OwnerID = ownerID
	created, err := s.store.CreateService(ctx, svc)
	if err != nil {
		return catalog.Service{}, errors.FromStore(err, "service", svc.Name)
	}
	s.log.WithField("owner_id", ownerID).WithField("service_id", created.ID).Info("service created")
	return created, nil
}

// Get returns the owner's service; other owners' rows are reported missing.
func (s *Service) Get(ctx context.Context, ownerID, id string) (catalog.Service, error) {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return catalog.Service{}, errors.FromStore(err, "service", id)
	}
	if svc.OwnerID != ownerID {
		return catalog.Service{}, errors.NotFound("service", id)
	}
	return svc, nil
}

// Update replaces the editable fields of a service.
func (s *Service) Update(ctx context.Context, ownerID, id string, svc catalog.Service) (catalog.Service, error) {
	existing, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return catalog.Service{}, err
	}
	if err := normalize(&svc); err != nil {
		return catalog.Service{}, err
	}
	existing.Name = svc.Name
	existing.DurationMinutes = svc.DurationMinutes
	existing.Color = svc.Color
	existing.PriceCents = svc.PriceCents
	updated, err := s.store.UpdateService(ctx, existing)
	if err != nil {
		return catalog.Service{}, errors.FromStore(err, "service", id)
	}
	return updated, nil
}

// List returns the owner's services ordered by name.
func (s *Service) List(ctx context.Context, ownerID string) ([]catalog.Service, error) {
	return s.store.ListServices(ctx, ownerID)
}

// Delete removes a service unless upcoming scheduled appointments use it.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if s.appointments != nil {
		upcoming, err := s.appointments.ListAppointments(ctx, ownerID, storage.AppointmentFilter{
			ServiceID: id,
			From:      s.now().Format(appointment.DateLayout),
			Status:    appointment.StatusScheduled,
		})
		if err != nil {
			return err
		}
		if len(upcoming) > 0 {
			return errors.Conflict("service has upcoming appointments").WithDetails("appointments", len(upcoming))
		}
	}
	if err := s.store.DeleteService(ctx, id); err != nil {
		return errors.FromStore(err, "service", id)
	}
	s.log.WithField("owner_id", ownerID).WithField("service_id", id).Info("service deleted")
	return nil
}
