// Package assets persists MediaAsset records and guards their status
// transitions.
package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hlsvault/models"
)

var (
	ErrNotFound          = errors.New("asset not found")
	ErrExists            = errors.New("asset already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Update is a partial update. The pipeline only ever sets Status and
// OutputObjectKey.
type Update struct {
	Status          models.Status
	OutputObjectKey string
}

// Store is safe for concurrent use.
type Store interface {
	Create(ctx context.Context, a models.MediaAsset) (models.MediaAsset, error)
	Get(ctx context.Context, id string) (models.MediaAsset, error)
	Update(ctx context.Context, id string, u Update) (models.MediaAsset, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, kind models.Kind, status models.Status) ([]models.MediaAsset, error)
	// CleanupOldRecords removes FAILED records last updated before now-maxAge
	// and returns how many were removed.
	CleanupOldRecords(ctx context.Context, maxAge time.Duration) (int, error)
}

// prepareCreate fills defaults on a new record and validates it.
func prepareCreate(a models.MediaAsset, now time.Time) (models.MediaAsset, error) {
	if a.ID == "" {
		return a, errors.New("asset id is required")
	}
	if _, err := models.ParseKind(string(a.Kind)); err != nil {
		return a, err
	}
	if a.Status == "" {
		a.Status = models.StatusProcessing
	}
	if !a.Status.Valid() {
		return a, fmt.Errorf("unknown status %q", a.Status)
	}
	if (a.OutputObjectKey != "") != (a.Status == models.StatusActive) {
		return a, fmt.Errorf("%w: output key must be set exactly when ACTIVE", ErrInvalidTransition)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	return a, nil
}

// applyUpdate enforces the lifecycle: PROCESSING may move to ACTIVE (with an
// output key) or FAILED; terminal records never change status again.
func applyUpdate(a models.MediaAsset, u Update, now time.Time) (models.MediaAsset, error) {
	if u.Status == "" {
		u.Status = a.Status
	}
	if !u.Status.Valid() {
		return a, fmt.Errorf("unknown status %q", u.Status)
	}
	if a.Status.Terminal() && u.Status != a.Status {
		return a, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, u.Status)
	}
	if a.Status.Terminal() && u.Status == a.Status && u.OutputObjectKey != "" && u.OutputObjectKey != a.OutputObjectKey {
		return a, fmt.Errorf("%w: output key of a %s asset is final", ErrInvalidTransition, a.Status)
	}

	switch u.Status {
	case models.StatusActive:
		key := u.OutputObjectKey
		if key == "" {
			key = a.OutputObjectKey
		}
		if key == "" {
			return a, fmt.Errorf("%w: ACTIVE requires an output key", ErrInvalidTransition)
		}
		a.OutputObjectKey = key
	case models.StatusFailed, models.StatusProcessing:
		if u.OutputObjectKey != "" {
			return a, fmt.Errorf("%w: output key only allowed when ACTIVE", ErrInvalidTransition)
		}
		a.OutputObjectKey = ""
	}
	a.Status = u.Status
	a.UpdatedAt = now
	return a, nil
}

func matches(a models.MediaAsset, kind models.Kind, status models.Status) bool {
	return (kind == "" || a.Kind == kind) && (status == "" || a.Status == status)
}
