package license

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// scheduler runs the two periodic loops: auto-validation and heartbeat.
// The timers are fully independent: separately configured, separately
// stopped, and disabling one never affects the other's cadence.
type scheduler struct {
	mu     sync.Mutex
	logger zerolog.Logger

	validationStop chan struct{}
	heartbeatStop  chan struct{}
}

func newScheduler(logger zerolog.Logger) *scheduler {
	return &scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// startValidation starts the validation timer. A non-positive interval
// disables it. Starting is idempotent: any prior validation timer is
// stopped first.
func (s *scheduler) startValidation(interval time.Duration, tick func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(&s.validationStop)
	if interval <= 0 {
		return
	}
	s.validationStop = s.run("validation", interval, tick)
}

// startHeartbeat starts the heartbeat timer, same contract as startValidation.
func (s *scheduler) startHeartbeat(interval time.Duration, tick func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(&s.heartbeatStop)
	if interval <= 0 {
		return
	}
	s.heartbeatStop = s.run("heartbeat", interval, tick)
}

// stopValidation cancels the validation timer. A tick already in flight
// still completes; only future ticks are cancelled.
func (s *scheduler) stopValidation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.validationStop)
}

// stopHeartbeat cancels the heartbeat timer.
func (s *scheduler) stopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.heartbeatStop)
}

// stopAll cancels both timers. Used on deactivate, reset, and teardown.
func (s *scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.validationStop)
	s.stopLocked(&s.heartbeatStop)
}

func (s *scheduler) stopLocked(ch *chan struct{}) {
	if *ch != nil {
		close(*ch)
		*ch = nil
	}
}

func (s *scheduler) run(name string, interval time.Duration, tick func()) chan struct{} {
	stop := make(chan struct{})
	s.logger.Debug().Str("timer", name).Dur("interval", interval).Msg("timer started")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				s.logger.Debug().Str("timer", name).Msg("timer stopped")
				return
			case <-ticker.C:
				tick()
			}
		}
	}()

	return stop
}
