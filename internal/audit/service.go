package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	errNoRepository = errors.New("audit: repository not configured")
)

// Repository stores events. Implementations only ever insert.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service stamps and stores audit events. Records are for operators only
// and are never served back to sellers.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Append fills in ID and CreatedAt when unset.
func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errNoRepository
	}
	switch {
	case e.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	case e.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogPayout records one payout step keyed by its ledger reference.
func (s *Service) LogPayout(ctx context.Context, typ EventType, userID, reference, message string, details map[string]any) error {
	return s.Append(ctx, Event{
		UserID:    userID,
		Type:      typ,
		Reference: reference,
		Message:   message,
		Metadata:  marshalDetails(details),
	})
}

// LogAdminAction records an operator touching userID's wallet.
func (s *Service) LogAdminAction(ctx context.Context, userID string, actor Actor, message string, details map[string]any) error {
	if actor.UserID == "" {
		return fmt.Errorf("%w: admin action without actor", ErrInvalidEvent)
	}
	return s.Append(ctx, Event{
		UserID:   userID,
		Type:     EventTypeAdminAction,
		Actor:    actor,
		Message:  message,
		Metadata: marshalDetails(details),
	})
}

// marshalDetails drops details that cannot be encoded; audit never blocks money flows.
func marshalDetails(details map[string]any) json.RawMessage {
	if len(details) == 0 {
		return nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return b
}
