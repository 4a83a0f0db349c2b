package license

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/licenseward/licenseward-go/store"
)

// Storage keys. Everything the engine persists lives under one namespace so
// Clear can enumerate and remove it without touching the host's other data.
const (
	keyNamespace    = "licenseward/"
	keyLicense      = keyNamespace + "license"
	keyOfflineToken = keyNamespace + "offline_token"
	keyLastSeen     = keyNamespace + "last_seen"
	keyPubKeyPrefix = keyNamespace + "pubkey/"
)

// Cache owns all persisted license state: the cached license record, the
// offline token, the public key map, and the last trustworthy timestamp.
//
// Store failures never propagate: a read error behaves as "nothing cached"
// and a write error is dropped, both logged. Losing the cache must never
// crash the host application.
type Cache struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewCache creates a cache on top of the given store.
func NewCache(s store.Store, logger zerolog.Logger) *Cache {
	return &Cache{
		store:  s,
		logger: logger.With().Str("component", "license_cache").Logger(),
		now:    time.Now,
	}
}

// License returns the cached license record, or nil if none is usable.
func (c *Cache) License(ctx context.Context) *CachedLicense {
	var lic CachedLicense
	if !c.read(ctx, keyLicense, &lic) {
		return nil
	}
	return &lic
}

// SetLicense persists the license record.
func (c *Cache) SetLicense(ctx context.Context, lic *CachedLicense) {
	c.write(ctx, keyLicense, lic)
}

// ClearLicense removes the cached license record.
func (c *Cache) ClearLicense(ctx context.Context) {
	c.delete(ctx, keyLicense)
}

// UpdateValidation merges a validation result into the cached license and
// refreshes its LastValidated timestamp. No-op when nothing is cached.
func (c *Cache) UpdateValidation(ctx context.Context, result ValidationResult) {
	lic := c.License(ctx)
	if lic == nil {
		return
	}
	lic.Validation = &result
	lic.LastValidated = c.now()
	c.SetLicense(ctx, lic)
}

// OfflineToken returns the cached offline token, or nil.
func (c *Cache) OfflineToken(ctx context.Context) *OfflineToken {
	var tok OfflineToken
	if !c.read(ctx, keyOfflineToken, &tok) {
		return nil
	}
	return &tok
}

// SetOfflineToken replaces the cached offline token wholesale. Tokens are
// never partially mutated.
func (c *Cache) SetOfflineToken(ctx context.Context, tok *OfflineToken) {
	c.write(ctx, keyOfflineToken, tok)
}

// ClearOfflineToken removes the cached offline token.
func (c *Cache) ClearOfflineToken(ctx context.Context) {
	c.delete(ctx, keyOfflineToken)
}

// PublicKey returns the stored base64 public key for keyID, or "".
func (c *Cache) PublicKey(ctx context.Context, keyID string) string {
	data, err := c.store.Get(ctx, keyPubKeyPrefix+keyID)
	if err != nil {
		c.logger.Warn().Err(err).Str("key_id", keyID).Msg("public key read failed")
		return ""
	}
	return string(data)
}

// SetPublicKey stores a base64 public key under its key id. The key map is
// append-only; issued keys are immutable.
func (c *Cache) SetPublicKey(ctx context.Context, keyID, publicKey string) {
	if err := c.store.Set(ctx, keyPubKeyPrefix+keyID, []byte(publicKey)); err != nil {
		c.logger.Warn().Err(err).Str("key_id", keyID).Msg("public key write failed")
	}
}

// LastSeen returns the last trustworthy wall-clock observation, or the zero
// time if none is recorded.
func (c *Cache) LastSeen(ctx context.Context) time.Time {
	data, err := c.store.Get(ctx, keyLastSeen)
	if err != nil {
		c.logger.Warn().Err(err).Msg("last-seen read failed")
		return time.Time{}
	}
	if len(data) == 0 {
		return time.Time{}
	}
	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		c.logger.Warn().Err(err).Msg("last-seen record corrupt")
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// SetLastSeen records a trustworthy time observation. The value never moves
// backwards; an older observation is ignored.
func (c *Cache) SetLastSeen(ctx context.Context, t time.Time) {
	if prev := c.LastSeen(ctx); t.Before(prev) {
		return
	}
	if err := c.store.Set(ctx, keyLastSeen, []byte(strconv.FormatInt(t.UnixMilli(), 10))); err != nil {
		c.logger.Warn().Err(err).Msg("last-seen write failed")
	}
}

// Clear removes every key in the engine's namespace.
func (c *Cache) Clear(ctx context.Context) {
	keys, err := c.store.Keys(ctx, keyNamespace)
	if err != nil {
		c.logger.Warn().Err(err).Msg("namespace enumeration failed")
		return
	}
	for _, k := range keys {
		c.delete(ctx, k)
	}
}

func (c *Cache) read(ctx context.Context, key string, out any) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache record corrupt")
		return false
	}
	return true
}

func (c *Cache) write(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *Cache) delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}
