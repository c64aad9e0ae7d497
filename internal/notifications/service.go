package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/pagination"
)

// Notice is one message addressed to one user.
type Notice struct {
	RecipientID uuid.UUID
	Type        enums.NotificationType
	Title       string
	Message     string
	OrderID     *uuid.UUID
}

// Notifier is the fire-and-forget sink used by the order engine. Failures are
// logged and never returned.
type Notifier interface {
	Notify(ctx context.Context, notices ...Notice)
}

// Sender delivers a notice over an external channel such as email or SMS.
type Sender interface {
	Send(ctx context.Context, notice Notice) error
}

// Service defines notification operations.
type Service interface {
	Notifier
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	Preferences(ctx context.Context, userID uuid.UUID) (models.NotificationPreference, error)
	UpdatePreferences(ctx context.Context, userID uuid.UUID, input PreferencesInput) (models.NotificationPreference, error)
}

type service struct {
	repo   Repository
	sender Sender
	logg   *logger.Logger
}

// ListParams configures pagination for notifications.
type ListParams struct {
	RecipientID uuid.UUID
	Limit       int
	Cursor      string
	UnreadOnly  bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies. sender may be nil, in which case
// only in-app notifications are stored.
func NewService(repo Repository, sender Sender, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, sender: sender, logg: logg}, nil
}

func (s *service) Notify(ctx context.Context, notices ...Notice) {
	for _, notice := range notices {
		s.notify(ctx, notice)
	}
}

func (s *service) notify(ctx context.Context, notice Notice) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"recipient_id":      notice.RecipientID.String(),
		"notification_type": string(notice.Type),
	})
	if notice.RecipientID == uuid.Nil {
		s.logg.Warn(ctx, "notification dropped: missing recipient")
		return
	}
	cat, ok := categoryByType[notice.Type]
	if !ok {
		s.logg.Warn(ctx, "notification dropped: unknown type")
		return
	}

	prefs, err := s.repo.FindPreferences(ctx, notice.RecipientID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "notification preferences lookup failed")
		return
	}
	effective := DefaultPreferences(notice.RecipientID)
	if prefs != nil {
		effective = *prefs
	}

	if cat.push(effective) {
		row := &models.Notification{
			RecipientID:    notice.RecipientID,
			Type:           notice.Type,
			Title:          notice.Title,
			Message:        notice.Message,
			RelatedOrderID: notice.OrderID,
		}
		if err := s.repo.Create(ctx, row); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "store notification failed")
		}
	}

	if s.sender != nil && cat.email(effective) {
		if err := s.sender.Send(ctx, notice); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "send notification failed")
		}
	}
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	query := listNotificationsParams{
		RecipientID: params.RecipientID,
		Limit:       params.Limit,
		UnreadOnly:  params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	if recipientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, recipientID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	count, err := s.repo.MarkAllRead(ctx, recipientID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) Preferences(ctx context.Context, userID uuid.UUID) (models.NotificationPreference, error) {
	if userID == uuid.Nil {
		return models.NotificationPreference{}, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	prefs, err := s.repo.FindPreferences(ctx, userID)
	if err != nil {
		return models.NotificationPreference{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification preferences")
	}
	if prefs == nil {
		return DefaultPreferences(userID), nil
	}
	return *prefs, nil
}

func (s *service) UpdatePreferences(ctx context.Context, userID uuid.UUID, input PreferencesInput) (models.NotificationPreference, error) {
	prefs, err := s.Preferences(ctx, userID)
	if err != nil {
		return models.NotificationPreference{}, err
	}
	input.apply(&prefs)
	if err := s.repo.SavePreferences(ctx, &prefs); err != nil {
		return models.NotificationPreference{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save notification preferences")
	}
	return prefs, nil
}
