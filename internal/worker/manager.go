package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"qepo_backend/internal/logger"
	"qepo_backend/internal/queue"
)

const (
	DefaultWorkerCount  = 1
	DefaultBatchSize    = 10
	DefaultBlockTimeout = 5 * time.Second

	pendingRetryDelay = time.Second
)

// EventHandler processes one event. Manager acknowledges the message whatever
// the result, except for ErrRequeueFailed, which leaves it pending.
type EventHandler interface {
	HandleEvent(ctx context.Context, event queue.IdentityEvent) error
}

// ManagerConfig holds configuration for the worker manager.
type ManagerConfig struct {
	Stream       string
	Group        string
	WorkerCount  int
	BatchSize    int64
	BlockTimeout time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Stream:       queue.StreamIdentity,
		Group:        queue.ConsumerGroupReaper,
		WorkerCount:  DefaultWorkerCount,
		BatchSize:    DefaultBatchSize,
		BlockTimeout: DefaultBlockTimeout,
	}
}

// Manager runs worker goroutines that consume a stream through a consumer group.
type Manager struct {
	consumer queue.Consumer
	handler  EventHandler
	cfg      ManagerConfig
	prefix   string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(consumer queue.Consumer, handler EventHandler, cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}

	prefix, err := os.Hostname()
	if err != nil || prefix == "" {
		prefix = "qepo"
	}

	return &Manager{consumer: consumer, handler: handler, cfg: cfg, prefix: prefix}
}

// Start launches the workers. Call Stop to shut them down.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.consumer.EnsureGroup(m.ctx, m.cfg.Stream, m.cfg.Group); err != nil {
		m.cancel()
		return err
	}

	for i := 1; i <= m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(m.consumerName(i))
	}

	logger.Ctx(ctx).Info().
		Int("workers", m.cfg.WorkerCount).
		Str("stream", m.cfg.Stream).
		Str("group", m.cfg.Group).
		Msg("workers started")
	return nil
}

// Stop cancels the workers and waits for them to return.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	logger.L().Info().Str("stream", m.cfg.Stream).Msg("workers stopped")
}

// Drain processes pending and currently available messages with a single
// consumer and returns how many were handled. Used by one-shot runs.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	if err := m.consumer.EnsureGroup(ctx, m.cfg.Stream, m.cfg.Group); err != nil {
		return 0, err
	}
	name := m.consumerName(0)
	total, _ := m.drainPending(ctx, name)

	for ctx.Err() == nil {
		messages, err := m.consumer.Read(ctx, m.cfg.Stream, m.cfg.Group, name, m.cfg.BatchSize, 100*time.Millisecond)
		if err != nil {
			return total, err
		}
		if len(messages) == 0 {
			break
		}
		m.handleMessages(ctx, messages)
		total += len(messages)
	}
	return total, ctx.Err()
}

func (m *Manager) runWorker(consumerName string) {
	defer m.wg.Done()

	l := logger.L().With().Str("consumer", consumerName).Logger()
	ctx := logger.WithLogger(m.ctx, l)

	// Replay messages this consumer took before a crash.
	_, stuck := m.drainPending(ctx, consumerName)

	for ctx.Err() == nil {
		if stuck {
			sleep(ctx, pendingRetryDelay)
			_, stuck = m.drainPending(ctx, consumerName)
		}
		messages, err := m.consumer.Read(ctx, m.cfg.Stream, m.cfg.Group, consumerName, m.cfg.BatchSize, m.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Error().Err(err).Msg("read failed")
			sleep(ctx, time.Second)
			continue
		}
		if m.handleMessages(ctx, messages) > 0 {
			stuck = true
		}
	}
}

// drainPending handles this consumer's unacknowledged messages. It stops
// early, reporting stuck, when a message had to be left pending again.
func (m *Manager) drainPending(ctx context.Context, consumerName string) (total int, stuck bool) {
	for ctx.Err() == nil {
		messages, err := m.consumer.ReadPending(ctx, m.cfg.Stream, m.cfg.Group, consumerName, m.cfg.BatchSize)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("read pending failed")
			return total, false
		}
		if len(messages) == 0 {
			return total, false
		}
		kept := m.handleMessages(ctx, messages)
		total += len(messages)
		if kept > 0 {
			return total, true
		}
	}
	return total, false
}

// handleMessages returns how many messages were left unacknowledged.
func (m *Manager) handleMessages(ctx context.Context, messages []queue.Message) int {
	l := logger.Ctx(ctx)
	kept := 0
	for i, msg := range messages {
		err := m.handler.HandleEvent(ctx, msg.Event)
		if err != nil {
			l.Warn().Err(err).Str("msg_id", msg.ID).Str("type", msg.Event.Type).Msg("handler error")
		}
		if ctx.Err() != nil {
			// Leave the rest pending; they are replayed on the next start.
			return kept + len(messages) - i
		}
		if errors.Is(err, ErrRequeueFailed) {
			kept++
			continue
		}
		if err := m.consumer.Ack(ctx, m.cfg.Stream, m.cfg.Group, msg.ID); err != nil {
			l.Error().Err(err).Str("msg_id", msg.ID).Msg("ack failed")
		}
	}
	return kept
}

func (m *Manager) consumerName(workerID int) string {
	return fmt.Sprintf("%s-reaper-%d", m.prefix, workerID)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
