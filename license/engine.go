package license

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/licenseward/licenseward-go/errs"
	"github.com/licenseward/licenseward-go/netclient"
	"github.com/licenseward/licenseward-go/store"
)

const (
	// DefaultMaxClockSkew is how far the clock may sit behind the last
	// trusted observation before tampering is assumed.
	DefaultMaxClockSkew = 5 * time.Minute

	// tickTimeout bounds the remote work done by one scheduler tick.
	tickTimeout = 30 * time.Second
)

// Config holds engine settings. ServerURL, Store, and DeviceID are required.
type Config struct {
	ServerURL   string
	ProductSlug string

	Store store.Store

	// DeviceID returns this device's stable identifier.
	DeviceID func(ctx context.Context) (string, error)

	// Telemetry returns the opaque telemetry object attached to mutating
	// calls. The engine passes it through without inspecting it. Optional.
	Telemetry func(ctx context.Context) map[string]any

	// AutoValidateInterval drives the periodic validation timer; <= 0
	// disables it. Same contract for HeartbeatInterval.
	AutoValidateInterval time.Duration
	HeartbeatInterval    time.Duration

	// MaxOfflineDays is the grace period for tokens without an expiry;
	// 0 disables the grace check.
	MaxOfflineDays int

	// MaxClockSkew is the tolerated backwards clock drift.
	MaxClockSkew time.Duration

	// OfflineFallback makes Validate fall back to offline verification on
	// transport failure instead of propagating the error.
	OfflineFallback bool

	MaxRetries    int
	RetryDelay    time.Duration
	ProbeInterval time.Duration
	Timeout       time.Duration

	Logger zerolog.Logger

	// Now overrides the engine clock. Tests only.
	Now func() time.Time
}

// Engine is the root orchestrator: it composes the cache, the network
// client, the offline verifier, the scheduler, and the event bus into the
// activate/validate/deactivate/heartbeat lifecycle.
type Engine struct {
	cfg      Config
	cache    *Cache
	client   *netclient.Client
	events   *eventBus
	sched    *scheduler
	logger   zerolog.Logger
	now      func() time.Time
	deviceID string

	mu         sync.RWMutex
	trackedKey string

	syncInFlight *atomic.Bool
}

// New creates an engine. The device ID collaborator is invoked once here so
// every later operation uses the same stable identifier.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errs.Configuration("persistent store is required")
	}
	if cfg.DeviceID == nil {
		return nil, errs.Configuration("device ID generator is required")
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client, err := netclient.New(netclient.Config{
		BaseURL:       cfg.ServerURL,
		Timeout:       cfg.Timeout,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		ProbeInterval: cfg.ProbeInterval,
	}, cfg.Logger)
	if err != nil {
		return nil, err
	}

	deviceID, err := cfg.DeviceID(ctx)
	if err != nil {
		return nil, errs.Configuration("device ID generation failed: " + err.Error())
	}

	logger := cfg.Logger.With().Str("component", "license_engine").Logger()

	e := &Engine{
		cfg:          cfg,
		cache:        NewCache(cfg.Store, cfg.Logger),
		client:       client,
		events:       newEventBus(),
		sched:        newScheduler(cfg.Logger),
		logger:       logger,
		now:          cfg.Now,
		deviceID:     deviceID,
		syncInFlight: atomic.NewBool(false),
	}
	e.cache.now = cfg.Now

	client.OnTransition(e.onNetworkTransition)

	// Resume tracking a previously activated license across restarts.
	if lic := e.cache.License(ctx); lic != nil {
		e.trackedKey = lic.LicenseKey
		e.startTimers()
	}

	return e, nil
}

// Subscribe registers a lifecycle event handler and returns its unsubscribe
// function.
func (e *Engine) Subscribe(name string, h Handler) func() {
	return e.events.subscribe(name, h)
}

// Online reports network reachability as last observed.
func (e *Engine) Online() bool {
	return e.client.Online()
}

// DeviceID returns the stable device identifier the engine operates under.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// License returns the cached license record, or nil when none is activated.
func (e *Engine) License(ctx context.Context) *CachedLicense {
	return e.cache.License(ctx)
}

// Activate registers this device for key, caches the license optimistically,
// starts both timers, and kicks off a fire-and-forget offline-asset sync.
func (e *Engine) Activate(ctx context.Context, key string) (*CachedLicense, error) {
	e.events.emit(EventActivationStarted, key)

	rec, err := e.registerDevice(ctx, key)
	if err != nil {
		e.events.emit(EventActivationFailed, err)
		return nil, err
	}

	now := e.now()
	lic := &CachedLicense{
		LicenseKey:  key,
		DeviceID:    e.deviceID,
		Activation:  rec,
		ActivatedAt: now,
		// Optimistic: the server accepted the activation, so the license is
		// treated as valid until the first full validation reports otherwise.
		LastValidated: now,
		Validation:    &ValidationResult{Valid: true, Offline: false},
	}
	e.cache.SetLicense(ctx, lic)
	e.cache.SetLastSeen(ctx, now)

	e.mu.Lock()
	e.trackedKey = key
	e.mu.Unlock()
	e.startTimers()

	go func() {
		if err := e.SyncOfflineAssets(context.Background()); err != nil {
			e.logger.Warn().Err(err).Msg("offline asset sync failed")
		}
	}()

	e.logger.Info().Str("activation_id", rec.ID).Msg("license activated")
	e.events.emit(EventActivationSucceeded, lic)
	return lic, nil
}

// Validate performs an online validation of key. Success merges the result
// into the cache and refreshes the last trusted timestamp. A definitive
// invalid response stops the validation timer. A transport failure falls
// back to offline verification when OfflineFallback is set; otherwise the
// underlying error propagates unchanged.
func (e *Engine) Validate(ctx context.Context, key string) (ValidationResult, error) {
	e.events.emit(EventValidationStarted, key)

	resp, err := e.validateRemote(ctx, key)
	if err != nil {
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindTransport && e.cfg.OfflineFallback {
			e.logger.Warn().Err(err).Msg("validation unreachable, falling back to offline verification")
			res, verr := e.VerifyCachedOffline(ctx)
			if verr != nil {
				return ValidationResult{}, verr
			}
			return res, nil
		}
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindRemote {
			// A well-formed remote error is always recorded on the license.
			res := ValidationResult{
				Valid:   false,
				Offline: false,
				Code:    errs.CodeOf(err),
				Message: err.Error(),
			}
			e.cache.UpdateValidation(ctx, res)
		}
		e.events.emit(EventValidationFailed, err)
		return ValidationResult{}, err
	}

	res := ValidationResult{
		Valid:   resp.Valid,
		Offline: false,
		Code:    resp.Code,
		Message: resp.Message,
	}
	if resp.License != nil {
		res.Entitlements = resp.License.ActiveEntitlements
	}
	e.cache.UpdateValidation(ctx, res)

	if res.Valid {
		e.cache.SetLastSeen(ctx, e.now())
		e.events.emit(EventValidationSucceeded, res)
	} else {
		// Definitive invalidation: stop periodic validation for this key.
		e.logger.Warn().Str("code", res.Code).Msg("license definitively invalid")
		e.stopTracking()
		e.events.emit(EventValidationFailed, res)
	}
	return res, nil
}

// Deactivate revokes this device's activation, clears the cached license
// and offline token, and stops both timers. Requires a cached license.
func (e *Engine) Deactivate(ctx context.Context) error {
	lic := e.cache.License(ctx)
	if lic == nil {
		return &errs.Error{
			Kind:    errs.KindConfiguration,
			Code:    CodeNoLicense,
			Message: "no license to deactivate",
		}
	}

	e.events.emit(EventDeactivationStarted, lic.LicenseKey)

	if _, err := e.revokeActivation(ctx, lic); err != nil {
		e.events.emit(EventDeactivationFailed, err)
		return err
	}

	e.cache.ClearLicense(ctx)
	e.cache.ClearOfflineToken(ctx)
	e.mu.Lock()
	e.trackedKey = ""
	e.mu.Unlock()
	e.sched.stopAll()

	e.logger.Info().Msg("license deactivated")
	e.events.emit(EventDeactivationSucceeded, nil)
	return nil
}

// Heartbeat sends one liveness signal for this device.
func (e *Engine) Heartbeat(ctx context.Context) error {
	e.mu.RLock()
	key := e.trackedKey
	e.mu.RUnlock()

	resp, err := e.sendHeartbeat(ctx, key)
	if err != nil {
		return err
	}
	e.events.emit(EventHeartbeatSuccess, resp.ReceivedAt)
	return nil
}

// CheckEntitlement looks up key in the last validation's entitlements.
// Purely local: no network call.
func (e *Engine) CheckEntitlement(ctx context.Context, key string) EntitlementCheck {
	lic := e.cache.License(ctx)
	if lic == nil {
		return EntitlementCheck{Active: false, Reason: CodeNoLicense}
	}
	if lic.Validation == nil {
		return EntitlementCheck{Active: false, Reason: CodeNotFound}
	}
	for i := range lic.Validation.Entitlements {
		ent := lic.Validation.Entitlements[i]
		if ent.Key != key {
			continue
		}
		if ent.ExpiresAt != nil && e.now().After(*ent.ExpiresAt) {
			return EntitlementCheck{Active: false, Reason: CodeExpired, Entitlement: &ent}
		}
		return EntitlementCheck{Active: true, Entitlement: &ent}
	}
	return EntitlementCheck{Active: false, Reason: CodeNotFound}
}

// HasEntitlement reports whether key is currently active.
func (e *Engine) HasEntitlement(ctx context.Context, key string) bool {
	return e.CheckEntitlement(ctx, key).Active
}

// SyncOfflineAssets fetches the offline token and its signing key and caches
// both. A single in-flight guard collapses concurrent triggers (activation,
// reconnect) into one request: a concurrent caller returns immediately.
func (e *Engine) SyncOfflineAssets(ctx context.Context) error {
	if !e.syncInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer e.syncInFlight.Store(false)

	lic := e.cache.License(ctx)
	if lic == nil {
		return &errs.Error{
			Kind:    errs.KindConfiguration,
			Code:    CodeNoLicense,
			Message: "no license to sync offline assets for",
		}
	}

	tok, err := e.issueOfflineToken(ctx, lic.LicenseKey)
	if err != nil {
		return err
	}

	// Make the token verifiable without another round-trip.
	e.resolveKeyNetwork(ctx, tok.Signature.KeyID)

	e.cache.SetOfflineToken(ctx, tok)
	e.logger.Info().Str("key_id", tok.Signature.KeyID).Msg("offline token synced")
	e.events.emit(EventOfflineTokenReady, tok.Payload)
	return nil
}

// Status reports the engine's standing without any network call. Offline
// verification can upgrade the answer to "offline-valid" but an offline
// proof never reports as plain "active".
func (e *Engine) Status(ctx context.Context) string {
	lic := e.cache.License(ctx)
	if lic == nil {
		return StatusInactive
	}
	if v := lic.Validation; v != nil && v.Valid && !v.Offline {
		return StatusActive
	}

	res, err := e.VerifyCachedOfflineQuick(ctx)
	if err == nil && res != nil {
		if res.Valid {
			return StatusOfflineValid
		}
		return StatusOfflineInvalid
	}
	if v := lic.Validation; v != nil && v.Valid {
		return StatusOfflineValid
	}
	return StatusInactive
}

// Reset clears all cached license state and stops the timers without any
// remote call. For tearing down corrupted local state.
func (e *Engine) Reset(ctx context.Context) {
	e.cache.Clear(ctx)
	e.mu.Lock()
	e.trackedKey = ""
	e.mu.Unlock()
	e.sched.stopAll()
}

// Close stops the timers and the reachability probe. Cached state remains.
func (e *Engine) Close() {
	e.sched.stopAll()
	e.client.Close()
}

func (e *Engine) startTimers() {
	e.sched.startValidation(e.cfg.AutoValidateInterval, e.validationTick)
	e.sched.startHeartbeat(e.cfg.HeartbeatInterval, e.heartbeatTick)
}

// stopTracking halts periodic validation after a definitive invalidation.
func (e *Engine) stopTracking() {
	e.mu.Lock()
	e.trackedKey = ""
	e.mu.Unlock()
	e.sched.stopValidation()
	e.events.emit(EventAutoValidationStopped, nil)
}

func (e *Engine) validationTick() {
	e.mu.RLock()
	key := e.trackedKey
	e.mu.RUnlock()
	if key == "" {
		return
	}

	e.events.emit(EventAutoValidationCycle, key)

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	res, err := e.Validate(ctx, key)
	if err != nil {
		// Keep ticking: transient failures must not kill the cycle.
		e.logger.Warn().Err(err).Msg("periodic validation failed")
		return
	}
	if res.Valid {
		// Liveness rides along on every successful validation.
		if err := e.Heartbeat(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("chained heartbeat failed")
		}
	}
}

func (e *Engine) heartbeatTick() {
	e.events.emit(EventHeartbeatCycle, nil)

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if err := e.Heartbeat(ctx); err != nil {
		// Heartbeat failures never stop the timer.
		e.logger.Warn().Err(err).Msg("heartbeat failed")
	}
}

func (e *Engine) onNetworkTransition(online bool) {
	if online {
		e.events.emit(EventNetworkOnline, nil)
		e.mu.RLock()
		tracked := e.trackedKey != ""
		e.mu.RUnlock()
		if tracked {
			e.startTimers()
			go func() {
				if err := e.SyncOfflineAssets(context.Background()); err != nil {
					e.logger.Warn().Err(err).Msg("offline asset re-sync failed")
				}
			}()
		}
		return
	}
	e.events.emit(EventNetworkOffline, nil)
}

func (e *Engine) telemetry(ctx context.Context) map[string]any {
	if e.cfg.Telemetry == nil {
		return nil
	}
	return e.cfg.Telemetry(ctx)
}
