package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homabaysouq/souq-backend/pkg/db/dbtest"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

type recordingSender struct {
	sent []Notice
	err  error
}

func (r *recordingSender) Send(_ context.Context, notice Notice) error {
	r.sent = append(r.sent, notice)
	return r.err
}

func TestEveryNotificationTypeHasCategory(t *testing.T) {
	for _, typ := range enums.NotificationTypes() {
		_, ok := categoryByType[typ]
		assert.Truef(t, ok, "notification type %q has no preference category", typ)
	}
}

func TestNotifyStoresInAppNotificationByDefault(t *testing.T) {
	client := dbtest.New(t)
	svc, err := NewService(NewRepository(client.DB()), nil, nil)
	require.NoError(t, err)

	recipient := uuid.New()
	orderID := uuid.New()
	svc.Notify(context.Background(), Notice{
		RecipientID: recipient,
		Type:        enums.NotificationTypeOrderShipped,
		Title:       "Order shipped",
		Message:     "Your order is on its way",
		OrderID:     &orderID,
	})

	var rows []models.Notification
	require.NoError(t, client.DB().Where("recipient_id = ?", recipient).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationTypeOrderShipped, rows[0].Type)
	require.NotNil(t, rows[0].RelatedOrderID)
	assert.Equal(t, orderID, *rows[0].RelatedOrderID)
}

func TestNotifyRespectsPushPreference(t *testing.T) {
	client := dbtest.New(t)
	sender := &recordingSender{}
	svc, err := NewService(NewRepository(client.DB()), sender, nil)
	require.NoError(t, err)

	recipient := uuid.New()
	prefs := DefaultPreferences(recipient)
	prefs.PushOrders = false
	prefs.EmailOrders = false
	dbtest.MustCreate(t, client, &prefs)

	svc.Notify(context.Background(),
		Notice{RecipientID: recipient, Type: enums.NotificationTypePaymentReceived, Title: "Paid", Message: "ok"},
		Notice{RecipientID: recipient, Type: enums.NotificationTypeMessage, Title: "Hi", Message: "hello"},
	)

	var rows []models.Notification
	require.NoError(t, client.DB().Where("recipient_id = ?", recipient).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationTypeMessage, rows[0].Type)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, enums.NotificationTypeMessage, sender.sent[0].Type)
}

func TestNotifySwallowsSenderFailure(t *testing.T) {
	client := dbtest.New(t)
	sender := &recordingSender{err: errors.New("smtp down")}
	svc, err := NewService(NewRepository(client.DB()), sender, nil)
	require.NoError(t, err)

	recipient := uuid.New()
	svc.Notify(context.Background(), Notice{RecipientID: recipient, Type: enums.NotificationTypeSystem, Title: "t", Message: "m"})

	var count int64
	require.NoError(t, client.DB().Model(&models.Notification{}).Where("recipient_id = ?", recipient).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestNotifyDropsInvalidNotices(t *testing.T) {
	client := dbtest.New(t)
	svc, err := NewService(NewRepository(client.DB()), nil, nil)
	require.NoError(t, err)

	svc.Notify(context.Background(),
		Notice{Type: enums.NotificationTypeSystem, Title: "t", Message: "m"},
		Notice{RecipientID: uuid.New(), Type: "bogus", Title: "t", Message: "m"},
	)

	var count int64
	require.NoError(t, client.DB().Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPreferencesDefaultAndUpdate(t *testing.T) {
	client := dbtest.New(t)
	svc, err := NewService(NewRepository(client.DB()), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	user := uuid.New()

	prefs, err := svc.Preferences(ctx, user)
	require.NoError(t, err)
	assert.True(t, prefs.PushOrders)
	assert.False(t, prefs.EmailPromotional)

	off := false
	on := true
	updated, err := svc.UpdatePreferences(ctx, user, PreferencesInput{PushOrders: &off, EmailPromotional: &on})
	require.NoError(t, err)
	assert.False(t, updated.PushOrders)
	assert.True(t, updated.EmailPromotional)
	assert.True(t, updated.PushMessages)

	again, err := svc.UpdatePreferences(ctx, user, PreferencesInput{PushOrders: &on})
	require.NoError(t, err)
	assert.True(t, again.PushOrders)
	assert.True(t, again.EmailPromotional)

	stored, err := svc.Preferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, again.PushOrders, stored.PushOrders)
	assert.Equal(t, again.EmailPromotional, stored.EmailPromotional)
}

func TestDeleteReadBeforeKeepsUnread(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	recipient := uuid.New()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	dbtest.MustCreate(t, client,
		&models.Notification{RecipientID: recipient, Type: enums.NotificationTypeSystem, Title: "old read", Message: "m", ReadAt: &old},
		&models.Notification{RecipientID: recipient, Type: enums.NotificationTypeSystem, Title: "recent read", Message: "m", ReadAt: &recent},
		&models.Notification{RecipientID: recipient, Type: enums.NotificationTypeSystem, Title: "unread", Message: "m"},
	)

	deleted, err := repo.DeleteReadBefore(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var titles []string
	require.NoError(t, client.DB().Model(&models.Notification{}).Order("title").Pluck("title", &titles).Error)
	assert.Equal(t, []string{"recent read", "unread"}, titles)
}
