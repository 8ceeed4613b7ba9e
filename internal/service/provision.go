package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qepo_backend/internal/identity"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/metrics"
	"qepo_backend/internal/model"
	"qepo_backend/internal/queue"
	"qepo_backend/internal/repository"
	"qepo_backend/internal/validation"
)

const (
	DefaultIdentityTimeout = 10 * time.Second

	// DefaultClockSkew tolerates clock drift between this process and the
	// identity provider when deciding whether a user was created by us.
	DefaultClockSkew = 5 * time.Second
)

type ProvisionConfig struct {
	IdentityTimeout time.Duration
	ClockSkew       time.Duration
}

// ProvisionService creates an identity user and its profile as one logical
// operation. A failed profile write is compensated by deleting the identity
// user.
type ProvisionService struct {
	identity  identity.Provider
	profiles  repository.ProfileRepository
	publisher queue.Publisher // nil disables orphan events
	cfg       ProvisionConfig
	now       func() time.Time
}

func NewProvisionService(idp identity.Provider, profiles repository.ProfileRepository, publisher queue.Publisher, cfg ProvisionConfig) *ProvisionService {
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = DefaultIdentityTimeout
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	return &ProvisionService{
		identity:  idp,
		profiles:  profiles,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Provision registers a new account.
//
// Errors:
//   - validation.Errors when the input is rejected; nothing was created
//   - model.ErrIdentityCreationFailed; nothing to undo
//   - model.ErrProfileCreationFailed; the identity user was removed again
//   - *model.CompensationError; the identity user is orphaned and an
//     identity_orphaned event was published for the reaper
func (s *ProvisionService) Provision(ctx context.Context, email, password string) (*model.Profile, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.Credentials(email, password); err != nil {
		metrics.ProvisionTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	l := logger.Ctx(ctx).With().Str(logger.FieldEmail, email).Logger()
	ctx = logger.WithLogger(ctx, l)

	user, err := s.createIdentity(ctx, email, password)
	if err != nil {
		metrics.ProvisionTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	profile := &model.Profile{
		UserID:   user.ID,
		Email:    email,
		Username: validation.UsernameFromEmail(email),
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		metrics.ProvisionTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, s.compensate(ctx, user, email, err)
	}

	metrics.ProvisionTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Audit(ctx, "profile.provision", profile.UserID, "account provisioned")
	return profile, nil
}

// createIdentity creates the identity user. When the outcome is unknown
// (timeout or transport failure) the user is looked up by email and adopted
// only if it was created during this attempt and has no profile yet.
func (s *ProvisionService) createIdentity(ctx context.Context, email, password string) (*model.IdentityUser, error) {
	start := s.now()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.IdentityTimeout)
	user, err := s.identity.CreateUser(cctx, email, password)
	cancel()
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, model.ErrIdentityUnavailable) {
		return nil, fmt.Errorf("%w: %w", model.ErrIdentityCreationFailed, err)
	}

	l := logger.Ctx(ctx)
	l.Warn().Err(err).Msg("identity create outcome unknown, reconciling by email")

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.IdentityTimeout)
	defer rcancel()

	found, ferr := s.identity.FindUserByEmail(rctx, email)
	if ferr != nil {
		if errors.Is(ferr, model.ErrIdentityNotFound) {
			return nil, fmt.Errorf("%w: %w", model.ErrIdentityCreationFailed, err)
		}
		return nil, fmt.Errorf("%w: %w (reconcile: %v)", model.ErrIdentityCreationFailed, err, ferr)
	}

	if found.CreatedAt.IsZero() || found.CreatedAt.Before(start.Add(-s.cfg.ClockSkew)) {
		return nil, fmt.Errorf("%w: %w", model.ErrIdentityCreationFailed, model.ErrEmailTaken)
	}
	exists, perr := s.profiles.Exists(rctx, found.ID)
	if perr != nil {
		return nil, fmt.Errorf("%w: %w (reconcile: %v)", model.ErrIdentityCreationFailed, err, perr)
	}
	if exists {
		return nil, fmt.Errorf("%w: %w", model.ErrIdentityCreationFailed, model.ErrEmailTaken)
	}

	l.Warn().Str(logger.FieldUserID, found.ID).Msg("adopted identity user created by an ambiguous call")
	return found, nil
}

// compensate deletes the identity user after the profile write failed. It
// runs on a fresh deadline so a cancelled request still cleans up.
func (s *ProvisionService) compensate(ctx context.Context, user *model.IdentityUser, email string, profileErr error) error {
	l := logger.Ctx(ctx).With().Str(logger.FieldUserID, user.ID).Logger()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.IdentityTimeout)
	defer cancel()

	delErr := s.identity.DeleteUser(cctx, user.ID)
	if delErr == nil || errors.Is(delErr, model.ErrIdentityNotFound) {
		l.Warn().Err(profileErr).Msg("profile creation failed, identity user removed")
		return fmt.Errorf("%w: %w", model.ErrProfileCreationFailed, profileErr)
	}

	metrics.CompensationFailures.Inc()
	l.Error().
		Err(delErr).
		AnErr("profile_error", profileErr).
		Msg("compensation failed, identity user orphaned")

	if s.publisher != nil {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.IdentityTimeout)
		defer pcancel()

		event := queue.NewIdentityOrphanedEvent(user.ID, email, delErr.Error())
		if _, err := s.publisher.Publish(pctx, queue.StreamIdentity, event); err != nil {
			l.Error().Err(err).Msg("could not queue orphaned identity user for clean-up")
		}
	}

	return &model.CompensationError{
		ExternalUserID:  user.ID,
		ProfileErr:      profileErr,
		CompensationErr: delErr,
	}
}
