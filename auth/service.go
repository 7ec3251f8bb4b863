// Package auth implements the single-admin authentication core: one-time
// password setup, login by password or auth file, password rotation,
// recovery-file issuance, reset by key file and server-side sessions.
//
// Sessions are bound to the credential generation they were issued under,
// so any password change or reset revokes every outstanding session and
// every recovery file issued before it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/cmdbook/crypto"
	"github.com/jmcleod/cmdbook/internal/util"
)

const (
	// MinPasswordLength is the minimum password length in characters,
	// counted as code points after NFC composition. Characters outside the
	// Basic Multilingual Plane count once here, where a UTF-16 length check
	// would count them twice.
	MinPasswordLength = 6
	// TokenBytes is the number of random bytes in a session token.
	TokenBytes = 32

	DefaultSessionLifetime = 24 * time.Hour
	DefaultIdleTimeout     = 15 * time.Minute
)

// Session is an issued session token.
type Session struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Status reports whether the admin still has to be set up.
type Status struct {
	FirstTimeSetup bool
}

// Validation is the outcome of ValidateSession.
type Validation struct {
	Valid          bool
	FirstTimeSetup bool
}

// Service is the admin auth state machine. It is safe for concurrent use.
type Service struct {
	creds    *CredentialStore
	sessions SessionStore
	codec    *crypto.FileCodec

	logger          *slog.Logger
	now             func() time.Time
	sessionLifetime time.Duration
	idleTimeout     time.Duration
}

// NewService wires a Service over its stores and the recovery-file codec.
func NewService(creds *CredentialStore, sessions SessionStore, codec *crypto.FileCodec, opts ...Option) *Service {
	s := &Service{
		creds:           creds,
		sessions:        sessions,
		codec:           codec,
		logger:          slog.Default(),
		now:             time.Now,
		sessionLifetime: DefaultSessionLifetime,
		idleTimeout:     DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status reports whether setup is still pending.
func (s *Service) Status(ctx context.Context) (Status, error) {
	state, err := s.load(ctx, "check-status")
	if err != nil {
		return Status{}, err
	}
	return Status{FirstTimeSetup: !state.Present}, nil
}

// Setup creates the admin credential and logs the caller in. It is valid
// only while no credential exists.
func (s *Service) Setup(ctx context.Context, password string) (Session, error) {
	const op = "setup"
	state, err := s.load(ctx, op)
	if err != nil {
		return Session{}, err
	}
	if state.Present {
		return Session{}, newError(KindAlreadyInitialized, op, nil)
	}
	if err := checkLength(op, password); err != nil {
		return Session{}, err
	}

	hash, salt, err := hashNew(password)
	if err != nil {
		return Session{}, s.storageFailure(op, err)
	}
	now := s.now().UTC()
	state, err = s.creds.Insert(ctx, CredentialRecord{
		PasswordHash: hash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, ErrAlreadyInitialized) {
		return Session{}, newError(KindAlreadyInitialized, op, nil)
	}
	if err != nil {
		return Session{}, s.storageFailure(op, err)
	}
	return s.issue(ctx, op, state)
}

// Login verifies password against the stored credential. A missing admin
// fails with KindNotInitialized; callers facing the network should report
// it the same way as a wrong password.
func (s *Service) Login(ctx context.Context, password string) (Session, error) {
	const op = "login"
	state, err := s.loadPresent(ctx, op)
	if err != nil {
		return Session{}, err
	}
	if err := s.verify(op, state, password); err != nil {
		return Session{}, err
	}
	return s.issue(ctx, op, state)
}

// LoginWithFile logs in with an auth file issued for the current password.
func (s *Service) LoginWithFile(ctx context.Context, fileContent string) (Session, error) {
	const op = "login-with-file"
	state, err := s.loadPresent(ctx, op)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.openArtifact(op, fileContent, ArtifactAuth, state); err != nil {
		return Session{}, err
	}
	return s.issue(ctx, op, state)
}

// ChangePassword rotates the credential for a caller holding a valid session
// who also knows the current password. All existing sessions are revoked and
// a fresh one is returned.
func (s *Service) ChangePassword(ctx context.Context, token, current, next string) (Session, error) {
	const op = "change-password"
	if err := checkLength(op, next); err != nil {
		return Session{}, err
	}
	state, err := s.loadPresent(ctx, op)
	if err != nil {
		return Session{}, err
	}
	if err := s.authorize(ctx, op, token, state); err != nil {
		return Session{}, err
	}
	if err := s.verify(op, state, current); err != nil {
		return Session{}, err
	}
	return s.rotate(ctx, op, state, next)
}

// GenerateAuthFile returns an encrypted auth file for the current password.
func (s *Service) GenerateAuthFile(ctx context.Context, token, current string) (string, error) {
	return s.generate(ctx, "generate-auth-file", ArtifactAuth, token, current)
}

// GenerateResetKey returns an encrypted reset key for the current password.
func (s *Service) GenerateResetKey(ctx context.Context, token, current string) (string, error) {
	return s.generate(ctx, "generate-reset-key", ArtifactResetKey, token, current)
}

func (s *Service) generate(ctx context.Context, op string, typ ArtifactType, token, current string) (string, error) {
	state, err := s.loadPresent(ctx, op)
	if err != nil {
		return "", err
	}
	if err := s.authorize(ctx, op, token, state); err != nil {
		return "", err
	}
	if err := s.verify(op, state, current); err != nil {
		return "", err
	}
	data, err := newArtifact(typ, state.Record, s.now()).encode()
	if err != nil {
		return "", s.storageFailure(op, err)
	}
	defer util.WipeBytes(data)
	out, err := s.codec.Encrypt(data)
	if err != nil {
		return "", s.storageFailure(op, err)
	}
	return out, nil
}

// ResetPasswordWithKey sets a new password using a reset key issued for the
// current password. No session is needed. On success every existing session
// is revoked and the caller is logged in.
func (s *Service) ResetPasswordWithKey(ctx context.Context, fileContent, next string) (Session, error) {
	const op = "reset-password-with-key"
	if err := checkLength(op, next); err != nil {
		return Session{}, err
	}
	state, err := s.loadPresent(ctx, op)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.openArtifact(op, fileContent, ArtifactResetKey, state); err != nil {
		return Session{}, err
	}
	return s.rotate(ctx, op, state, next)
}

// Logout revokes the session for token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	const op = "logout"
	if !util.IsHex(token, TokenBytes*2) {
		return nil
	}
	if err := s.sessions.Delete(ctx, SessionID(token)); err != nil {
		return s.storageFailure(op, err)
	}
	return nil
}

// ValidateSession reports whether token is a live session for the current
// credential. A valid check refreshes the session's idle timer.
func (s *Service) ValidateSession(ctx context.Context, token string) (Validation, error) {
	const op = "validate-session"
	state, err := s.load(ctx, op)
	if err != nil {
		return Validation{}, err
	}
	if !state.Present {
		return Validation{FirstTimeSetup: true}, nil
	}
	err = s.authorize(ctx, op, token, state)
	if errors.Is(err, ErrSessionInvalid) {
		return Validation{}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	return Validation{Valid: true}, nil
}

// SweepSessions removes expired, idle and revoked sessions.
func (s *Service) SweepSessions(ctx context.Context) (int, error) {
	state, err := s.load(ctx, "sweep-sessions")
	if err != nil {
		return 0, err
	}
	now := s.now()
	n, err := s.sessions.DeleteIf(ctx, func(rec SessionRecord) bool {
		return s.expired(rec, now) || !state.Present || rec.Generation != state.Record.Generation()
	})
	if err != nil {
		return n, s.storageFailure("sweep-sessions", err)
	}
	return n, nil
}

// RunSessionSweeper calls SweepSessions every interval until ctx is done.
func (s *Service) RunSessionSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepSessions(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("swept sessions", "removed", n)
			}
		}
	}
}

func checkLength(op, password string) error {
	if util.CharCount(password) < MinPasswordLength {
		return newError(KindTooShort, op, nil)
	}
	return nil
}

func hashNew(password string) (hash, salt string, err error) {
	salt, err = crypto.GenerateSalt()
	if err != nil {
		return "", "", err
	}
	hash, err = crypto.HashPassword(password, salt)
	if err != nil {
		return "", "", err
	}
	return hash, salt, nil
}

func (s *Service) load(ctx context.Context, op string) (CredentialState, error) {
	state, err := s.creds.Load(ctx)
	if err != nil {
		return CredentialState{}, s.storageFailure(op, err)
	}
	return state, nil
}

func (s *Service) loadPresent(ctx context.Context, op string) (CredentialState, error) {
	state, err := s.load(ctx, op)
	if err != nil {
		return CredentialState{}, err
	}
	if !state.Present {
		return CredentialState{}, newError(KindNotInitialized, op, nil)
	}
	return state, nil
}

func (s *Service) verify(op string, state CredentialState, password string) error {
	ok, err := crypto.VerifyPassword(password, state.Record.PasswordHash, state.Record.Salt)
	if err != nil {
		return s.storageFailure(op, fmt.Errorf("verifying password: %w", err))
	}
	if !ok {
		return newError(KindInvalidCredential, op, nil)
	}
	return nil
}

func (s *Service) openArtifact(op, fileContent string, want ArtifactType, state CredentialState) (artifact, error) {
	data, err := s.codec.Decrypt(fileContent)
	if err != nil {
		return artifact{}, newError(KindMalformedArtifact, op, err)
	}
	defer util.WipeBytes(data)
	a, err := parseArtifact(data)
	if err != nil {
		return artifact{}, newError(KindMalformedArtifact, op, err)
	}
	if a.Type != want {
		return artifact{}, newError(KindMalformedArtifact, op, fmt.Errorf("expected %s file, got %q", want, a.Type))
	}
	if !a.matches(state.Record) {
		return artifact{}, newError(KindArtifactStale, op, nil)
	}
	return a, nil
}

// authorize checks token against the session store and the live credential.
func (s *Service) authorize(ctx context.Context, op, token string, state CredentialState) error {
	if !util.IsHex(token, TokenBytes*2) {
		return newError(KindSessionInvalid, op, nil)
	}
	id := SessionID(token)
	rec, ok, err := s.sessions.Get(ctx, id)
	if err != nil {
		return s.storageFailure(op, err)
	}
	if !ok {
		return newError(KindSessionInvalid, op, nil)
	}
	now := s.now()
	if s.expired(rec, now) || rec.Generation != state.Record.Generation() {
		if err := s.sessions.Delete(ctx, id); err != nil {
			s.logger.Warn("dropping dead session failed", "op", op, "error", err)
		}
		return newError(KindSessionInvalid, op, nil)
	}
	ok, err = s.sessions.Touch(ctx, id, now.UTC())
	if err != nil {
		return s.storageFailure(op, err)
	}
	if !ok {
		return newError(KindSessionInvalid, op, nil)
	}
	return nil
}

func (s *Service) expired(rec SessionRecord, now time.Time) bool {
	if !now.Before(rec.ExpiresAt) {
		return true
	}
	return s.idleTimeout > 0 && now.Sub(rec.LastAccessedAt) >= s.idleTimeout
}

// rotate replaces the credential with a fresh salt and hash of next, revokes
// every session and issues a new one.
func (s *Service) rotate(ctx context.Context, op string, state CredentialState, next string) (Session, error) {
	hash, salt, err := hashNew(next)
	if err != nil {
		return Session{}, s.storageFailure(op, err)
	}
	state, err = s.creds.Update(ctx, state, hash, salt, s.now().UTC())
	if err != nil {
		return Session{}, s.storageFailure(op, err)
	}
	if _, err := s.sessions.DeleteIf(ctx, func(SessionRecord) bool { return true }); err != nil {
		// Old sessions already fail the generation check; the sweeper
		// will remove them.
		s.logger.Warn("revoking sessions after rotation failed", "op", op, "error", err)
	}
	return s.issue(ctx, op, state)
}

func (s *Service) issue(ctx context.Context, op string, state CredentialState) (Session, error) {
	token, err := util.RandomHex(TokenBytes)
	if err != nil {
		return Session{}, s.storageFailure(op, err)
	}
	now := s.now().UTC()
	rec := SessionRecord{
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.sessionLifetime),
		LastAccessedAt: now,
		Generation:     state.Record.Generation(),
	}
	if err := s.sessions.Put(ctx, SessionID(token), rec); err != nil {
		return Session{}, s.storageFailure(op, err)
	}
	return Session{Token: token, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}, nil
}

func (s *Service) storageFailure(op string, err error) error {
	s.logger.Error("auth storage failure", "op", op, "error", err)
	return newError(KindStorageFailure, op, err)
}
