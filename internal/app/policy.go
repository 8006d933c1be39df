package app

import (
	"context"
	"fmt"

	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
)

const DefaultMaxRoomsPerMember = 2

// Quota caps the number of ephemeral rooms a member owns per community.
// It has no locking of its own; callers serialize count-then-create.
type Quota struct {
	Store    core.RoomStore
	Registry *Registry
	Max      int
}

// Count reads the authoritative registry and adds rooms whose durable write
// is still pending.
func (q *Quota) Count(ctx context.Context, community domain.CommunityID, owner domain.MemberID) (int, error) {
	n, err := q.Store.CountOwnedRooms(ctx, community, owner)
	if err != nil {
		return 0, fmt.Errorf("count owned rooms: %w", err)
	}
	if q.Registry != nil {
		n += q.Registry.CountUnpersisted(community, owner)
	}
	return n, nil
}

// Check returns ErrQuotaExceeded when owner is at or above the limit.
func (q *Quota) Check(ctx context.Context, community domain.CommunityID, owner domain.MemberID) error {
	n, err := q.Count(ctx, community, owner)
	if err != nil {
		return err
	}
	if n >= q.max() {
		return fmt.Errorf("%w: owns %d of %d", ErrQuotaExceeded, n, q.max())
	}
	return nil
}

func (q *Quota) max() int {
	if q.Max <= 0 {
		return DefaultMaxRoomsPerMember
	}
	return q.Max
}
