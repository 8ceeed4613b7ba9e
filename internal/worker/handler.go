package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qepo_backend/internal/logger"
	"qepo_backend/internal/metrics"
	"qepo_backend/internal/model"
	"qepo_backend/internal/queue"
)

const (
	DefaultMaxReapAttempts = 5
	DefaultReapTimeout     = 10 * time.Second
	DefaultRetryDelay      = 2 * time.Second
)

// ErrRequeueFailed marks a failed reap that could not be re-published. The
// message must stay pending so it is replayed.
var ErrRequeueFailed = errors.New("requeue failed")

// ProfileChecker reports whether a local profile exists for an identity user.
type ProfileChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// IdentityDeleter removes users from the identity provider.
type IdentityDeleter interface {
	DeleteUser(ctx context.Context, id string) error
}

// HandlerConfig configures the orphan reaper.
type HandlerConfig struct {
	MaxAttempts int           // attempts before the user is left for manual clean-up
	Timeout     time.Duration // per DeleteUser call
	RetryDelay  time.Duration // multiplied by the attempt number before re-trying
}

// Handler reaps identity users that provisioning could not clean up.
type Handler struct {
	profiles  ProfileChecker
	identity  IdentityDeleter
	publisher queue.Publisher
	cfg       HandlerConfig
}

func NewHandler(profiles ProfileChecker, identity IdentityDeleter, publisher queue.Publisher, cfg HandlerConfig) *Handler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxReapAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReapTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Handler{profiles: profiles, identity: identity, publisher: publisher, cfg: cfg}
}

// HandleEvent routes an event by type. A failed reap is re-published with a
// higher attempt count until MaxAttempts is reached.
func (h *Handler) HandleEvent(ctx context.Context, event queue.IdentityEvent) error {
	switch event.Type {
	case queue.EventIdentityOrphaned:
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	l := logger.Ctx(ctx).With().Str(logger.FieldUserID, event.UserID).Int("attempt", event.Attempt).Logger()
	ctx = logger.WithLogger(ctx, l)

	if err := h.wait(ctx, event.Attempt); err != nil {
		return err
	}

	err := h.reap(ctx, event)
	if err == nil {
		return nil
	}
	return h.retryOrGiveUp(ctx, event, err)
}

func (h *Handler) reap(ctx context.Context, event queue.IdentityEvent) error {
	l := logger.Ctx(ctx)

	exists, err := h.profiles.Exists(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("check profile: %w", err)
	}
	if exists {
		// A profile means the user is live; deleting it would break the account.
		l.Warn().Msg("identity user has a profile, not reaping")
		metrics.OrphanReapTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	delCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	err = h.identity.DeleteUser(delCtx, event.UserID)
	if err != nil && !errors.Is(err, model.ErrIdentityNotFound) {
		return fmt.Errorf("delete identity user: %w", err)
	}

	metrics.OrphanReapTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Audit(ctx, "identity.reap", event.UserID, "orphaned identity user removed")
	return nil
}

func (h *Handler) retryOrGiveUp(ctx context.Context, event queue.IdentityEvent, cause error) error {
	l := logger.Ctx(ctx)

	if event.Attempt+1 >= h.cfg.MaxAttempts || h.publisher == nil {
		l.Error().Err(cause).Str(logger.FieldEmail, event.Email).Msg("orphaned identity user needs manual clean-up")
		metrics.OrphanReapTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return cause
	}

	if _, err := h.publisher.Publish(ctx, queue.StreamIdentity, event.Retry(cause.Error())); err != nil {
		l.Error().Err(err).Msg("re-queue orphaned identity user failed, leaving it pending")
		metrics.OrphanReapTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
		return fmt.Errorf("%w: %w: %w", ErrRequeueFailed, cause, err)
	}

	l.Warn().Err(cause).Msg("reap failed, re-queued")
	metrics.OrphanReapTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
	return cause
}

func (h *Handler) wait(ctx context.Context, attempt int) error {
	if attempt == 0 || h.cfg.RetryDelay == 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(attempt) * h.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
