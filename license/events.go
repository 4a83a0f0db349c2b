package license

import "sync"

// Lifecycle event names.
const (
	EventActivationStarted   = "activation:started"
	EventActivationSucceeded = "activation:succeeded"
	EventActivationFailed    = "activation:failed"

	EventValidationStarted   = "validation:started"
	EventValidationSucceeded = "validation:succeeded"
	EventValidationFailed    = "validation:failed"

	EventDeactivationStarted   = "deactivation:started"
	EventDeactivationSucceeded = "deactivation:succeeded"
	EventDeactivationFailed    = "deactivation:failed"

	EventNetworkOnline  = "network:online"
	EventNetworkOffline = "network:offline"

	EventOfflineTokenReady              = "offline_token:ready"
	EventOfflineTokenVerified           = "offline_token:verified"
	EventOfflineTokenVerificationFailed = "offline_token:verification_failed"

	EventAutoValidationCycle   = "autovalidation:cycle"
	EventAutoValidationStopped = "autovalidation:stopped"

	EventHeartbeatSuccess = "heartbeat:success"
	EventHeartbeatCycle   = "heartbeat:cycle"
)

// Handler receives an event's payload. Payload shape depends on the event;
// most carry a ValidationResult, an error message string, or nil.
type Handler func(payload any)

// eventBus is a minimal synchronous pub/sub used for lifecycle events.
type eventBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[string]map[int]Handler)}
}

// subscribe registers a handler for name and returns its unsubscribe func.
func (b *eventBus) subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[name] == nil {
		b.handlers[name] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[name][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[name], id)
	}
}

// emit invokes all handlers subscribed to name, synchronously, in
// unspecified order. Handlers registered during emission are not invoked
// for the current event.
func (b *eventBus) emit(name string, payload any) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[name]))
	for _, h := range b.handlers[name] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
}
