package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

func TestFirstWaitlistedTieBreaksOnID(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	createdAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	err := mem.WithinTx(ctx, func(st Store) error {
		for userID := int64(1); userID <= 3; userID++ {
			_, err := st.InsertRegistration(ctx, &model.Registration{
				EventID:   1,
				UserID:    userID,
				Status:    model.StatusWaitlist,
				CreatedAt: createdAt,
			})
			require.NoError(t, err)
		}
		head, err := st.FirstWaitlisted(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, int64(1), head.ID, "equal timestamps fall back to insertion order")
		return nil
	})
	require.NoError(t, err)
}

func TestFirstWaitlistedPrefersOlderTimestamp(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	older := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	err := mem.WithinTx(ctx, func(st Store) error {
		_, err := st.InsertRegistration(ctx, &model.Registration{
			EventID: 1, UserID: 1, Status: model.StatusWaitlist, CreatedAt: newer,
		})
		require.NoError(t, err)
		_, err = st.InsertRegistration(ctx, &model.Registration{
			EventID: 1, UserID: 2, Status: model.StatusWaitlist, CreatedAt: older,
		})
		require.NoError(t, err)

		head, err := st.FirstWaitlisted(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, int64(2), head.UserID)
		return nil
	})
	require.NoError(t, err)
}

func TestActiveRegistrationIgnoresTerminalRows(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	err := mem.WithinTx(ctx, func(st Store) error {
		id, err := st.InsertRegistration(ctx, &model.Registration{
			EventID: 1, UserID: 1, Status: model.StatusCancelledByUser,
		})
		require.NoError(t, err)

		active, err := st.ActiveRegistrationForUserEvent(ctx, 1, 1)
		require.NoError(t, err)
		assert.Nil(t, active)

		reg, err := st.GetRegistration(ctx, id)
		require.NoError(t, err)
		reg.Status = model.StatusWaitlist
		require.NoError(t, st.UpdateRegistration(ctx, reg))

		active, err = st.ActiveRegistrationForUserEvent(ctx, 1, 1)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, id, active.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRegistrationPreservesCreatedAt(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	createdAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	err := mem.WithinTx(ctx, func(st Store) error {
		id, err := st.InsertRegistration(ctx, &model.Registration{
			EventID: 1, UserID: 1, Status: model.StatusRegistered, CreatedAt: createdAt,
		})
		require.NoError(t, err)

		reg, err := st.GetRegistration(ctx, id)
		require.NoError(t, err)
		reg.Status = model.StatusConfirmed
		reg.CreatedAt = reg.CreatedAt.Add(time.Hour) // must be ignored
		require.NoError(t, st.UpdateRegistration(ctx, reg))

		got, err := st.GetRegistration(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, createdAt, got.CreatedAt)
		assert.Equal(t, model.StatusConfirmed, got.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestDeliveryInsertIsExactlyOnce(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	eventID := int64(4)

	err := mem.WithinTx(ctx, func(st Store) error {
		inserted, err := st.InsertDelivery(ctx, 1, &eventID, model.DeliveryNewEvent, nil)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = st.InsertDelivery(ctx, 1, &eventID, model.DeliveryNewEvent, nil)
		require.NoError(t, err)
		assert.False(t, inserted)

		exists, err := st.DeliveryExists(ctx, 1, &eventID, model.DeliveryNewEvent)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = st.DeliveryExists(ctx, 1, nil, model.DeliveryNewEvent)
		require.NoError(t, err)
		assert.False(t, exists, "event-scoped and broadcast keys are distinct")
		return nil
	})
	require.NoError(t, err)
}
