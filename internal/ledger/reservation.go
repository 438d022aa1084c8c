package ledger

import (
	"context"
	"sync"
	"time"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/models"
)

// Reservation is one taken generation slot. Exactly one of Commit or Fail
// takes effect; later calls are no-ops.
type Reservation struct {
	svc       *Service
	userID    string
	companyID *string
	at        time.Time
	once      sync.Once
}

func (r *Reservation) UserID() string { return r.userID }

// Commit records the successful generation. The slot stays taken.
func (r *Reservation) Commit(ctx context.Context, req models.GenerationRequest, outputLen int) error {
	var err error
	r.once.Do(func() {
		g := newGeneration(r.userID, r.companyID, req, r.svc.now(), true, "", outputLen)
		if insErr := r.svc.store.InsertGeneration(ctx, g); insErr != nil {
			err = apperr.Network("Failed to record generation", insErr)
		}
	})
	return err
}

// Fail records the failed attempt and gives the slot back.
func (r *Reservation) Fail(ctx context.Context, req models.GenerationRequest, msg string) error {
	var err error
	r.once.Do(func() {
		g := newGeneration(r.userID, r.companyID, req, r.svc.now(), false, msg, 0)
		if insErr := r.svc.store.InsertGeneration(ctx, g); insErr != nil {
			r.svc.logger.Error("Failed to record failed generation", "user_id", r.userID, "error", insErr)
			err = apperr.Network("Failed to record generation", insErr)
		}
		if relErr := r.svc.store.Release(ctx, r.userID, r.at); relErr != nil {
			r.svc.logger.Error("Failed to release reserved slot", "user_id", r.userID, "error", relErr)
			if err == nil {
				err = apperr.Network("Failed to update usage", relErr)
			}
		}
		r.svc.invalidate(ctx, r.userID)
	})
	return err
}
