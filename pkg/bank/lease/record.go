package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/objectbank/pkg/objectstore"
)

// Record is the durable form of a lease, stored as JSON in the bank container.
type Record struct {
	Owner      string    `json:"owner"`
	ExpireTime time.Time `json:"expire_time"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (m *Manager) writeRecord(ctx context.Context, acquiredAt, expireAt time.Time) error {
	payload, err := json.Marshal(Record{
		Owner:      m.owner,
		ExpireTime: expireAt.UTC(),
		AcquiredAt: acquiredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode lease record: %w", err)
	}
	if err := m.records.Put(ctx, m.container, m.recordKey, payload); err != nil {
		return errors.Join(ErrRecordStore, fmt.Errorf("failed to write lease record %q: %w", m.recordKey, err))
	}
	return nil
}

// LoadRecord reads the last persisted lease record. It returns (nil, false, nil) when no
// record store is configured or nothing has been written yet.
func (m *Manager) LoadRecord(ctx context.Context) (*Record, bool, error) {
	if m.records == nil {
		return nil, false, nil
	}
	payload, err := m.records.Get(ctx, m.container, m.recordKey)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Join(ErrRecordStore, fmt.Errorf("failed to read lease record %q: %w", m.recordKey, err))
	}

	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode lease record %q: %w", m.recordKey, err)
	}
	return &record, true, nil
}

// HeldBy reports whether the record was written by owner and has not expired at now.
func (r *Record) HeldBy(owner string, now time.Time) bool {
	if r == nil {
		return false
	}
	return r.Owner == owner && now.Before(r.ExpireTime)
}
