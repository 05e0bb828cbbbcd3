package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/events"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/models"
	"github.com/princinho/racebackend/utils"
)

type Profile struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// UpdateInput leaves a field unchanged when nil.
type UpdateInput struct {
	Email       *string
	Name        *string
	PhoneNumber *string
	Password    *string
}

type Service struct {
	store   *database.Store
	auth    *auth.Authority
	courses *courses.Service
	events  events.Publisher
	now     func() time.Time
}

func NewService(store *database.Store, authority *auth.Authority, courseSvc *courses.Service, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, auth: authority, courses: courseSvc, events: pub, now: time.Now}
}

func internal(err error) error {
	return apperr.Processing("internal server error", err)
}

func (s *Service) load(ctx context.Context, id auth.Identity) (*models.User, error) {
	u, err := s.store.Users.FindByID(ctx, id.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return nil, internal(err)
	}
	return u, nil
}

func toProfile(u *models.User) *Profile {
	return &Profile{Email: u.Email, Name: u.Name, PhoneNumber: u.PhoneNumber}
}

func (s *Service) Get(ctx context.Context, id auth.Identity) (*Profile, error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return toProfile(u), nil
}

type profileFields struct {
	Email    string `validate:"required,email,max=254"`
	Name     string `validate:"required,max=100"`
	Password string `validate:"omitempty,min=8,max=72"`
}

// Update changes only the given fields. A new email or password ends the
// current session since tokens carry the email.
func (s *Service) Update(ctx context.Context, id auth.Identity, in UpdateInput) (*Profile, error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := profileFields{Email: u.Email, Name: u.Name}
	if in.Email != nil {
		fields.Email = utils.NormalizeEmail(*in.Email)
	}
	if in.Name != nil {
		fields.Name = strings.TrimSpace(*in.Name)
	}
	if in.Password != nil {
		if *in.Password == "" {
			return nil, apperr.Validation("invalid_password", "password can't be empty")
		}
		fields.Password = *in.Password
	}
	if err := auth.Validate(fields); err != nil {
		return nil, err
	}

	revoke := false
	if fields.Email != u.Email {
		if _, err := s.store.Users.FindByEmail(ctx, fields.Email); err == nil {
			return nil, apperr.Conflict("email_taken", "a user with this email already exists")
		} else if !errors.Is(err, database.ErrNotFound) {
			return nil, internal(err)
		}
		u.Email = fields.Email
		revoke = true
	}
	u.Name = fields.Name

	if in.PhoneNumber != nil {
		if strings.TrimSpace(*in.PhoneNumber) == "" {
			u.PhoneNumber = ""
		} else {
			phone, ok := utils.NormalizePhone(*in.PhoneNumber)
			if !ok {
				return nil, apperr.Validation("invalid_phone", "phone number must contain at least 5 digits")
			}
			u.PhoneNumber = phone
		}
	}

	if in.Password != nil {
		hash, err := s.auth.Hasher().Hash(fields.Password)
		if err != nil {
			return nil, internal(err)
		}
		u.PasswordHash = hash
		revoke = true
	}

	u.UpdatedAt = s.now().UTC()
	if err := s.store.Users.Update(ctx, u); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("email_taken", "a user with this email already exists")
		}
		return nil, internal(err)
	}
	if revoke {
		if err := s.auth.RevokeUser(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return toProfile(u), nil
}

// Delete removes the account and everything hanging off it: the session,
// the courses it administers with their checkpoints and visits, and its own
// visits on other courses.
func (s *Service) Delete(ctx context.Context, id auth.Identity) error {
	u, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.auth.RevokeUser(ctx, u.ID); err != nil {
		return err
	}
	if err := s.courses.DeleteOwnedBy(ctx, u.ID); err != nil {
		return err
	}
	if err := s.store.Visits.DeleteByUser(ctx, u.ID); err != nil {
		return internal(err)
	}
	if err := s.store.Users.Delete(ctx, u.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return internal(err)
	}

	logger.WithContext(ctx).WithField("email", u.Email).Info("user deleted")
	events.PublishBestEffort(ctx, s.events, events.SubjectUserDeleted, events.UserDeleted{UserEmail: u.Email})
	return nil
}
