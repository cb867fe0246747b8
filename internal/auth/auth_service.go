// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dr3hardware/authd/pkg/errutil"
)

var tracer = otel.Tracer("github.com/dr3hardware/authd/internal/auth")

// dummyPassword is hashed once per Service with the configured hasher. The
// result is verified when the username is unknown so that unknown users and
// wrong passwords cost the same work.
//
//nolint:gosec // G101: not a credential.
const dummyPassword = "authd unknown user"

// LoginRequest carries the caller-supplied credentials and client metadata.
type LoginRequest struct {
	Username  string
	Password  string
	Origin    string
	UserAgent string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token  string
	Claims Claims
}

// Dependencies are the collaborators a Service orchestrates.
type Dependencies struct {
	Users    UserRepository
	Hasher   PasswordHasher
	Ledger   *AttemptLedger
	Sessions *SessionStore
}

// Service provides the login, session validation and logout flows.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	ledger   *AttemptLedger
	sessions *SessionStore
	opts     options

	dummyHash string
}

// NewService creates a Service. All dependencies are required.
func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	if deps.Users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if deps.Ledger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("attempt ledger is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("session store is required")
	}
	dummyHash, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").
			With("operation", "hash dummy password").
			Wrap(err)
	}
	return &Service{
		users:     deps.Users,
		hasher:    deps.Hasher,
		ledger:    deps.Ledger,
		sessions:  deps.Sessions,
		opts:      newOptions(opts),
		dummyHash: dummyHash,
	}, nil
}

// Authenticate checks the credentials and opens a session.
// The lockout check runs before any user lookup or hashing.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, s.reject(ctx, &Error{Kind: KindValidation})
	}

	logger := s.opts.logger.With("username", username, "origin", req.Origin)

	if state := s.ledger.Lockout(ctx, username); state.Locked {
		logger.WarnContext(ctx, "login rejected, account locked",
			"remaining", state.Remaining.String(),
		)
		return nil, s.reject(ctx, lockedError(state.RemainingMinutes()))
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, s.reject(ctx, storeError("find user", err))
		}
		s.hasher.Verify(s.dummyHash, req.Password)
		s.ledger.Record(ctx, username, false, req.Origin, ReasonUserNotFound)
		logger.InfoContext(ctx, "login failed", "reason", ReasonUserNotFound)
		return nil, s.reject(ctx, &Error{Kind: KindInvalidCredentials})
	}

	if !user.IsActive() {
		logger.InfoContext(ctx, "login rejected, account inactive", "user_id", user.ID.String())
		return nil, s.reject(ctx, &Error{Kind: KindAccountInactive})
	}

	matched, needsRehash := s.hasher.Verify(user.PasswordHash, req.Password)
	if !matched {
		s.ledger.Record(ctx, username, false, req.Origin, ReasonInvalidPassword)
		logger.InfoContext(ctx, "login failed", "reason", ReasonInvalidPassword)
		return nil, s.reject(ctx, &Error{Kind: KindInvalidCredentials})
	}

	if needsRehash {
		s.rehash(ctx, user, req.Password)
	}

	token, err := s.sessions.Create(ctx, user.ID, req.Origin, req.UserAgent)
	if err != nil {
		return nil, s.reject(ctx, storeError("create session", err))
	}

	if err := s.users.RecordLogin(ctx, user.ID, s.opts.clock()); err != nil {
		errutil.LogWarn(logger, "failed to record last login", err, "user_id", user.ID.String())
	}
	s.ledger.Record(ctx, username, true, req.Origin, "")

	s.opts.metrics.LoginOutcome("success")
	span.SetAttributes(attribute.String("auth.outcome", "success"))
	logger.InfoContext(ctx, "login succeeded", "user_id", user.ID.String(), "role", user.Role)

	return &LoginResult{Token: token, Claims: user.Claims()}, nil
}

// rehash upgrades the stored hash to current parameters. Failures are logged
// and never affect the login.
func (s *Service) rehash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.opts.metrics.Rehash("error")
		errutil.LogWarn(s.opts.logger, "failed to compute upgraded password hash", err,
			"user_id", user.ID.String())
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.opts.metrics.Rehash("error")
		errutil.LogWarn(s.opts.logger, "failed to store upgraded password hash", err,
			"user_id", user.ID.String())
		return
	}
	user.PasswordHash = newHash
	s.opts.metrics.Rehash("upgraded")
	s.opts.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// ValidateSession returns the claims for token, or (nil, nil) when the token
// does not identify a live session.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Claims, error) {
	ctx, span := tracer.Start(ctx, "auth.ValidateSession")
	defer span.End()

	claims, err := s.sessions.Validate(ctx, token)
	if err != nil {
		authErr := storeError("validate session", err)
		s.traceError(ctx, authErr)
		return nil, authErr
	}
	return claims, nil
}

// Logout invalidates the session for token. It is idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer span.End()

	if err := s.sessions.Invalidate(ctx, token); err != nil {
		authErr := storeError("invalidate session", err)
		s.traceError(ctx, authErr)
		return authErr
	}
	return nil
}

// ChangePassword replaces the user's credential with a hash of newPassword.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, newPassword string) error {
	if newPassword == "" {
		return &Error{Kind: KindValidation, Operation: opChangePassword}
	}
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").
			With("operation", "hash new password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Error{Kind: KindInvalidCredentials, Operation: opChangePassword}
		}
		return storeError("update password hash", err)
	}
	s.opts.logger.InfoContext(ctx, "password changed", "user_id", userID.String())
	return nil
}

// reject records the failed outcome and returns err.
func (s *Service) reject(ctx context.Context, err *Error) *Error {
	s.opts.metrics.LoginOutcome(err.Kind.String())
	s.traceError(ctx, err)
	if err.Kind == KindStoreUnavailable || err.Kind == KindTimeout {
		errutil.LogError(s.opts.logger, "authentication store failure", err.cause)
	}
	return err
}

func (s *Service) traceError(ctx context.Context, err *Error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("auth.outcome", err.Kind.String()))
	if err.Kind == KindStoreUnavailable || err.Kind == KindTimeout {
		span.SetStatus(codes.Error, err.Error())
	}
}
