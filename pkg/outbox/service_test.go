package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db/dbtest"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

func TestEmitWritesEnvelope(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, logger.Nop())
	ctx := context.Background()
	orderID := uuid.New()
	actor := uuid.New()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: actor, Role: "member"},
			Data:          map[string]string{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	rows, err := repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, orderID, rows[0].AggregateID)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	require.Equal(t, 1, env.Version)
	require.NotEmpty(t, env.EventID)
	require.Equal(t, actor, env.Actor.UserID)
	require.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(env.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestEmitRejectsUnknownType(t *testing.T) {
	client := dbtest.New(t)
	svc := NewService(NewRepository(client.DB()), nil)
	err := svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: "bogus"})
	require.Error(t, err)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPaid}))
}

func TestRepositoryLifecycle(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	published := models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	parked := models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	pending := models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	dbtest.MustCreate(t, client, &published, &parked, &pending)

	require.NoError(t, repo.MarkPublished(ctx, published.ID))
	require.NoError(t, repo.MarkFailed(ctx, parked.ID, errors.New("bad payload"), true))
	require.NoError(t, repo.MarkFailed(ctx, pending.ID, errors.New("timeout"), false))

	rows, err := repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, pending.ID, rows[0].ID)
	require.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)

	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestFetchForPublishRequiresTx(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())

	_, err := repo.FetchForPublish(nil, 10)
	require.Error(t, err)

	row := models.OutboxEvent{EventType: enums.EventOrderShipped, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	dbtest.MustCreate(t, client, &row)

	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		rows, err := repo.FetchForPublish(tx, 10)
		if err != nil {
			return err
		}
		require.Len(t, rows, 1)
		return repo.MarkPublishedTx(tx, rows[0].ID)
	})
	require.NoError(t, err)

	rows, err := repo.FetchUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
