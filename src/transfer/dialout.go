package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

// DialRequest describes one outbound call to a specialist
type DialRequest struct {
	SessionID string
	Target    string
	To        string
	Extension string
}

// Dialer places and cancels outbound calls through a telephony provider
type Dialer interface {
	StartDial(ctx context.Context, req DialRequest) (callID string, err error)
	CancelDial(ctx context.Context, callID string) error
}

// DialErrorFunc receives failures of Dialer.StartDial. The coordinator
// treats them like a dial-error event from the provider.
type DialErrorFunc func(callID string, err error)

// DialoutManager owns the dial attempts of one transfer. It counts attempts
// against MaxRetries and stops dialing once an attempt succeeded.
type DialoutManager struct {
	dialer  Dialer
	cfg     DialoutConfig
	onError DialErrorFunc
	backoff *backoff.ExponentialBackOff
	metrics *Metrics
	log     *logger.Logger

	mu         sync.Mutex
	attempts   int
	successful bool
	stopped    bool
	pending    bool
	callID     string
	history    []string
	timer      *time.Timer
}

// NewDialoutManager creates a manager for one transfer
func NewDialoutManager(dialer Dialer, cfg DialoutConfig, onError DialErrorFunc) *DialoutManager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	m := &DialoutManager{
		dialer:  dialer,
		cfg:     cfg,
		onError: onError,
		log:     logger.WithPrefix("DialoutManager"),
	}
	if cfg.Backoff.Initial > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.Backoff.Initial
		if cfg.Backoff.Max > 0 {
			b.MaxInterval = cfg.Backoff.Max
		}
		if cfg.Backoff.Multiplier > 0 {
			b.Multiplier = cfg.Backoff.Multiplier
		}
		b.RandomizationFactor = cfg.Backoff.Jitter
		b.Reset()
		m.backoff = b
	}
	return m
}

func (m *DialoutManager) withMetrics(metrics *Metrics) *DialoutManager {
	m.metrics = metrics
	return m
}

// AttemptDial starts one dial attempt. It returns false without side
// effects once the retry budget is exhausted or an attempt succeeded.
// The first attempt dials immediately; retries wait for the backoff delay
// when one is configured.
func (m *DialoutManager) AttemptDial(ctx context.Context, req DialRequest) bool {
	m.mu.Lock()
	if m.successful || m.stopped || m.attempts >= m.cfg.MaxRetries {
		m.mu.Unlock()
		return false
	}
	m.attempts++
	attempt := m.attempts
	m.pending = true

	var delay time.Duration
	if m.backoff != nil && attempt > 1 {
		delay = m.backoff.NextBackOff()
	}
	if delay > 0 {
		m.timer = time.AfterFunc(delay, func() {
			m.dial(context.WithoutCancel(ctx), req, attempt)
		})
		m.mu.Unlock()
		m.log.Info("Dial attempt %d/%d to %s scheduled in %s", attempt, m.cfg.MaxRetries, req.Target, delay)
		return true
	}
	m.mu.Unlock()

	m.dial(ctx, req, attempt)
	return true
}

func (m *DialoutManager) dial(ctx context.Context, req DialRequest, attempt int) {
	m.mu.Lock()
	if m.stopped {
		m.pending = false
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.log.Info("Dial attempt %d/%d to %s", attempt, m.cfg.MaxRetries, req.Target)
	m.metrics.dialAttempt()

	callID, err := m.dialer.StartDial(ctx, req)

	m.mu.Lock()
	m.pending = false
	if err == nil {
		if m.callID != "" {
			m.history = append(m.history, m.callID)
		}
		m.callID = callID
	}
	stopped := m.stopped
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("Dial attempt %d failed to start: %v", attempt, err)
		if m.onError != nil && !stopped {
			m.onError("", err)
		}
		return
	}

	if stopped {
		// Session ended while the call was being placed
		if cerr := m.dialer.CancelDial(ctx, callID); cerr != nil {
			m.log.Warn("Cancel of late call %s failed: %v", callID, cerr)
		}
	}
}

// MarkSuccessful freezes the manager; later AttemptDial calls are no-ops
func (m *DialoutManager) MarkSuccessful() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successful = true
}

// ShouldRetry reports whether another attempt is allowed
func (m *DialoutManager) ShouldRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.successful && !m.stopped && m.attempts < m.cfg.MaxRetries
}

// Attempts returns the number of attempts made so far
func (m *DialoutManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// CallID returns the provider id of the most recent call
func (m *DialoutManager) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID
}

// Owns reports whether an event for callID concerns the current attempt.
// An empty id, the current id, and any id while a dial is still being
// placed are accepted; ids of earlier attempts are not.
func (m *DialoutManager) Owns(callID string) bool {
	if callID == "" {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if callID == m.callID {
		return true
	}
	for _, old := range m.history {
		if old == callID {
			return false
		}
	}
	return m.pending || m.callID == ""
}

// CallIDs returns every call id this manager placed
func (m *DialoutManager) CallIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]string(nil), m.history...)
	if m.callID != "" {
		ids = append(ids, m.callID)
	}
	return ids
}

// Stop freezes the manager and drops a scheduled retry
func (m *DialoutManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Cancel stops the manager and hangs up the current call, if any
func (m *DialoutManager) Cancel(ctx context.Context) {
	m.Stop()

	callID := m.CallID()
	if callID == "" {
		return
	}
	if err := m.dialer.CancelDial(ctx, callID); err != nil {
		m.log.Warn("Cancel of call %s failed: %v", callID, err)
	}
}
