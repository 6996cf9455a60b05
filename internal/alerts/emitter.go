package alerts

import (
	"context"
	"errors"

	"github.com/mossy-p/camera-signaling/internal/models"
)

// Emitter publishes threat alerts to an external system
type Emitter interface {
	Emit(ctx context.Context, alert models.ThreatAlert) error
}

// Multi fans an alert out to several emitters
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, alert models.ThreatAlert) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
