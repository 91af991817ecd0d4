package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
)

func TestLedgerRecordOnce(t *testing.T) {
	mem := repo.NewMemory()
	ledger := service.NewLedgerService(mem)
	ctx := context.Background()

	eventID := int64(7)
	inserted, err := ledger.Record(ctx, 1, &eventID, model.DeliveryEventReminder, nil)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = ledger.Record(ctx, 1, &eventID, model.DeliveryEventReminder, nil)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate record must report not inserted")

	exists, err := ledger.Exists(ctx, 1, &eventID, model.DeliveryEventReminder)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLedgerKeysAreIndependent(t *testing.T) {
	mem := repo.NewMemory()
	ledger := service.NewLedgerService(mem)
	ctx := context.Background()

	eventA, eventB := int64(1), int64(2)
	inserted, err := ledger.Record(ctx, 1, &eventA, model.DeliveryWaitlistInvite, nil)
	require.NoError(t, err)
	require.True(t, inserted)

	// Same user, different event.
	inserted, err = ledger.Record(ctx, 1, &eventB, model.DeliveryWaitlistInvite, nil)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same event, different kind.
	inserted, err = ledger.Record(ctx, 1, &eventA, model.DeliveryEventReminder, nil)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Broadcast without an event is its own key.
	inserted, err = ledger.Record(ctx, 1, nil, model.DeliveryWaitlistInvite, nil)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestLedgerConcurrentRecordsInsertExactlyOnce(t *testing.T) {
	mem := repo.NewMemory()
	ledger := service.NewLedgerService(mem)
	ctx := context.Background()
	eventID := int64(3)

	const workers = 32
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := ledger.Record(ctx, 9, &eventID, model.DeliveryConfirmationRequest, nil)
			assert.NoError(t, err)
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for inserted := range results {
		if inserted {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
