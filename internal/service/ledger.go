package service

import (
	"context"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
)

// LedgerService is the delivery ledger: an append-only dedup table keyed by
// (user, event, kind). Record is at-most-once without caller-side locking;
// a concurrent duplicate insert is swallowed by the storage layer.
type LedgerService struct {
	repo repo.Repository
}

func NewLedgerService(r repo.Repository) *LedgerService {
	return &LedgerService{repo: r}
}

func (s *LedgerService) Exists(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind) (bool, error) {
	var exists bool
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		exists, err = st.DeliveryExists(ctx, userID, eventID, kind)
		return err
	})
	return exists, err
}

// Record marks the notification as delivered. Returns true when this call
// created the record, false when another writer got there first; both are
// success for the caller.
func (s *LedgerService) Record(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind, payloadRef *string) (bool, error) {
	var inserted bool
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		var err error
		inserted, err = st.InsertDelivery(ctx, userID, eventID, kind, payloadRef)
		return err
	})
	return inserted, err
}
