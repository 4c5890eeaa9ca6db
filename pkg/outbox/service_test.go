package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCreditConsumed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]any{"remaining": 2},
			Version:       1,
		})
	})
	require.NoError(t, err)

	rows, err := repo.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.JSONEq(t, `{"remaining":2}`, string(envelope.Data))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, rows[0].ID)
	}))
	rows, err = repo.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestEmitOnceSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	event := DomainEvent{
		EventType:     enums.EventLyricsGenerated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]any{},
		Version:       1,
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitOnce(context.Background(), tx, event)
		}))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	orderID := uuid.New()

	cases := map[string]DomainEvent{
		"missing type":      {AggregateType: enums.AggregateOrder, AggregateID: orderID},
		"missing aggregate": {EventType: enums.EventLyricsGenerated, AggregateID: orderID},
		"missing id":        {EventType: enums.EventLyricsGenerated, AggregateType: enums.AggregateOrder},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			err := conn.Transaction(func(tx *gorm.DB) error {
				return svc.Emit(context.Background(), tx, event)
			})
			require.Error(t, err)
		})
	}
}

func TestEmitDefaultsVersionAndTimestamp(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventLyricsApproved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]any{"instrumental": true},
		})
	}))

	rows, err := repo.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	require.Equal(t, EnvelopeVersion, envelope.Version)
	require.True(t, fixed.Equal(envelope.OccurredAt))
}

func TestDecodeEnvelopeRejectsMissingData(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"version":1,"event_id":"x","data":null}`))
	require.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"version":1`))
	require.Error(t, err)

	envelope, err := DecodeEnvelope([]byte(`{"version":2,"event_id":"x","data":{"a":1}}`))
	require.NoError(t, err)
	require.Equal(t, 2, envelope.Version)
}
