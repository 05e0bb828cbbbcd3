package auth

import (
	"context"
	"fmt"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/logger"
)

// SeedOrganizer registers the bootstrap organizer account unless it exists.
func (a *Authority) SeedOrganizer(ctx context.Context, email, name, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("missing ADMIN_EMAIL or ADMIN_PASSWORD env vars")
	}

	_, err := a.Register(ctx, RegisterInput{Email: email, Name: name, Password: password})
	switch {
	case err == nil:
		logger.WithContext(ctx).WithField("email", email).Info("organizer account seeded")
		return nil
	case apperr.Is(err, apperr.KindConflict):
		logger.WithContext(ctx).WithField("email", email).Info("organizer account already exists")
		return nil
	default:
		return fmt.Errorf("seed organizer: %w", err)
	}
}
