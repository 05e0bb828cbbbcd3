package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/metrics"
	"github.com/princinho/racebackend/models"
	"github.com/princinho/racebackend/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Identity is the authenticated caller, passed explicitly to every service call.
type Identity struct {
	UserID bson.ObjectID
	Email  string
}

type RegisterInput struct {
	Email    string `validate:"required,email,max=254"`
	Name     string `validate:"required,max=100"`
	Phone    string `validate:"omitempty,max=40"`
	Password string `validate:"required,min=8,max=72"`
}

var validate = validator.New()

// Validate runs struct tag validation and reports the first failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperr.Validation("invalid_"+strings.ToLower(fe.Field()), strings.ToLower(fe.Field())+" is invalid ("+fe.Tag()+")")
	}
	return apperr.Validation("invalid_input", err.Error())
}

func internal(err error) error {
	return apperr.Processing("internal server error", err)
}

type Authority struct {
	users    database.Users
	sessions database.Sessions
	hasher   PasswordHasher
	tokens   TokenConfig
	now      func() time.Time
}

func NewAuthority(users database.Users, sessions database.Sessions, hasher PasswordHasher, tokens TokenConfig) *Authority {
	return &Authority{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
		now:      time.Now,
	}
}

func (a *Authority) Hasher() PasswordHasher { return a.hasher }

func (a *Authority) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = utils.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := Validate(in); err != nil {
		return nil, err
	}
	var phone string
	if strings.TrimSpace(in.Phone) != "" {
		p, ok := utils.NormalizePhone(in.Phone)
		if !ok {
			return nil, apperr.Validation("invalid_phone", "phone number must contain at least 5 digits")
		}
		phone = p
	}

	if _, err := a.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, apperr.Conflict("email_taken", "a user with this email already exists")
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, internal(err)
	}

	hash, err := a.hasher.Hash(in.Password)
	if err != nil {
		return nil, internal(err)
	}
	now := a.now().UTC()
	user := &models.User{
		Email:        in.Email,
		Name:         in.Name,
		PhoneNumber:  phone,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("email_taken", "a user with this email already exists")
		}
		return nil, internal(err)
	}
	logger.WithContext(ctx).WithField("email", user.Email).Info("user registered")
	return user, nil
}

// Login supersedes any session the user already has.
func (a *Authority) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := a.users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("user_not_found", "no user with this email")
	}
	if err != nil {
		return nil, internal(err)
	}
	if err := a.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, apperr.Unauthorized("invalid_credentials", "invalid password")
	}

	pair, err := a.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	metrics.SessionEvents.WithLabelValues("login").Inc()
	return pair, nil
}

func (a *Authority) startSession(ctx context.Context, user *models.User) (*TokenPair, error) {
	now := a.now()
	pair, err := a.tokens.mint(user.Email, now)
	if err != nil {
		return nil, internal(err)
	}
	session := &models.Session{
		UserID:       user.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CreatedAt:    now.UTC(),
	}
	if err := a.sessions.Replace(ctx, session); err != nil {
		return nil, internal(err)
	}
	return pair, nil
}

// Authenticate resolves an access token to the caller. A well-signed token
// that is not the stored one revokes the session.
func (a *Authority) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, apperr.Unauthorized("missing_token", "access token required")
	}
	claims, err := parseToken(accessToken, a.tokens.AccessSecret, a.now())
	if err != nil {
		return nil, apperr.Unauthorized("invalid_token", "invalid or expired access token")
	}

	user, err := a.users.FindByEmail(ctx, claims.Email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Unauthorized("unknown_user", "token does not match any user")
	}
	if err != nil {
		return nil, internal(err)
	}

	session, err := a.sessions.FindByUser(ctx, user.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Unauthorized("no_session", "no active session")
	}
	if err != nil {
		return nil, internal(err)
	}
	if session.AccessToken != accessToken {
		a.revoke(ctx, user.ID, "access token mismatch")
		return nil, apperr.Unauthorized("session_mismatch", "session is no longer valid")
	}

	return &Identity{UserID: user.ID, Email: user.Email}, nil
}

// Refresh consumes the refresh token and returns a new pair. Of two
// concurrent refreshes with the same token only one succeeds.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	user, session, err := a.verifyRefresh(ctx, refreshToken)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Unauthorized("unknown_user", "token does not match any user")
	}
	if err != nil {
		return nil, err
	}
	if session.RefreshToken != refreshToken {
		a.revoke(ctx, user.ID, "refresh token mismatch")
		return nil, apperr.Unauthorized("session_mismatch", "session is no longer valid")
	}

	consumed, err := a.sessions.DeleteIfRefresh(ctx, user.ID, refreshToken)
	if err != nil {
		return nil, internal(err)
	}
	if !consumed {
		return nil, apperr.Unauthorized("session_mismatch", "session is no longer valid")
	}

	pair, err := a.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	metrics.SessionEvents.WithLabelValues("refresh").Inc()
	return pair, nil
}

func (a *Authority) Logout(ctx context.Context, refreshToken string) error {
	user, session, err := a.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if session.RefreshToken != refreshToken {
		a.revoke(ctx, user.ID, "refresh token mismatch on logout")
		return apperr.Unauthorized("session_mismatch", "session is no longer valid")
	}
	if err := a.sessions.DeleteByUser(ctx, user.ID); err != nil {
		return internal(err)
	}
	metrics.SessionEvents.WithLabelValues("logout").Inc()
	logger.WithContext(ctx).WithField("email", user.Email).Info("user logged out")
	return nil
}

func (a *Authority) verifyRefresh(ctx context.Context, refreshToken string) (*models.User, *models.Session, error) {
	if refreshToken == "" {
		return nil, nil, apperr.Unauthorized("missing_token", "refresh token required")
	}
	claims, err := parseToken(refreshToken, a.tokens.RefreshSecret, a.now())
	if err != nil {
		a.revokeUnverified(ctx, refreshToken)
		return nil, nil, apperr.Unauthorized("invalid_token", "invalid or expired refresh token")
	}

	user, err := a.users.FindByEmail(ctx, claims.Email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, apperr.NotFound("user_not_found", "no user with this email")
	}
	if err != nil {
		return nil, nil, internal(err)
	}

	session, err := a.sessions.FindByUser(ctx, user.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, apperr.Unauthorized("no_session", "no active session")
	}
	if err != nil {
		return nil, nil, internal(err)
	}
	return user, session, nil
}

// RevokeUser drops the session of userID, if any.
func (a *Authority) RevokeUser(ctx context.Context, userID bson.ObjectID) error {
	if err := a.sessions.DeleteByUser(ctx, userID); err != nil {
		return internal(err)
	}
	return nil
}

func (a *Authority) revoke(ctx context.Context, userID bson.ObjectID, reason string) {
	metrics.SessionEvents.WithLabelValues("invalidated").Inc()
	log := logger.WithContext(ctx).WithField("user_id", userID.Hex())
	if err := a.sessions.DeleteByUser(ctx, userID); err != nil {
		log.WithError(err).Error("failed to revoke session")
		return
	}
	log.WithField("reason", reason).Warn("session revoked")
}

// revokeUnverified drops the session of the user named by a decodable
// token that failed verification, whether expired or forged.
func (a *Authority) revokeUnverified(ctx context.Context, token string) {
	email, err := decodeUnverified(token)
	if err != nil {
		return
	}
	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return
	}
	a.revoke(ctx, user.ID, "unverifiable refresh token")
}
