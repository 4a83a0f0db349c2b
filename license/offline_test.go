package license

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineFixture wires an engine, a keypair, and a cached license + token.
type offlineFixture struct {
	engine *Engine
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
	now    time.Time
}

func newOfflineFixture(t *testing.T, mutate func(*Config)) *offlineFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, func(cfg *Config) {
		cfg.Now = fixedClock(now)
		if mutate != nil {
			mutate(cfg)
		}
	})
	return &offlineFixture{engine: e, pub: pub, priv: priv, now: now}
}

func (f *offlineFixture) storeKey(ctx context.Context, keyID string) {
	f.engine.cache.SetPublicKey(ctx, keyID, base64.StdEncoding.EncodeToString(f.pub))
}

func (f *offlineFixture) basePayload(licenseKey string) TokenPayload {
	exp := f.now.Add(30 * 24 * time.Hour)
	return TokenPayload{
		SchemaVersion: 1,
		LicenseKey:    licenseKey,
		ProductSlug:   "acme-app",
		IssuedAt:      f.now.Add(-time.Hour),
		ExpiresAt:     &exp,
		KeyID:         "key-1",
		Entitlements:  []Entitlement{{Key: "pro"}},
	}
}

func TestVerifyCachedOffline_NoToken(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	res, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Offline)
	assert.Equal(t, CodeNoOfflineToken, res.Code)
}

func TestVerifyCachedOffline_ValidToken(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")
	f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", f.basePayload("LIC-1")))

	res, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Offline)
	assert.Empty(t, res.Code)
	require.Len(t, res.Entitlements, 1)
	assert.Equal(t, "pro", res.Entitlements[0].Key)

	// Success records a trusted time observation.
	assert.Equal(t, f.now.UnixMilli(), f.engine.cache.LastSeen(ctx).UnixMilli())
}

func TestVerifyCachedOffline_Idempotent(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")
	f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", f.basePayload("LIC-1")))

	first, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	second, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVerifyCachedOffline_TamperedSignature(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")

	tok := signToken(t, f.priv, "key-1", f.basePayload("LIC-1"))
	tok.CanonicalForm[0] ^= 0x01
	f.engine.cache.SetOfflineToken(ctx, tok)

	res, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeSignatureInvalid, res.Code)
}

func TestVerifyCachedOffline_LicenseMismatchBeforeExpiry(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")

	// A token for a different license that is ALSO expired: the mismatch
	// must win so the other license's expiry state is not leaked.
	payload := f.basePayload("LIC-OTHER")
	past := f.now.Add(-time.Hour)
	payload.ExpiresAt = &past
	f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", payload))

	res, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeLicenseMismatch, res.Code)
}

func TestVerifyCachedOffline_Expired(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")

	payload := f.basePayload("LIC-1")
	past := f.now.Add(-time.Second)
	payload.ExpiresAt = &past
	f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", payload))

	res, err := f.engine.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, CodeExpired, res.Code)
}

func TestVerifyCachedOffline_GracePeriodBoundary(t *testing.T) {
	const graceDays = 7

	tests := []struct {
		name     string
		elapsed  time.Duration
		wantCode string
		wantOK   bool
	}{
		{"one second inside", graceDays*24*time.Hour - time.Second, "", true},
		{"one second past", graceDays*24*time.Hour + time.Second, CodeGracePeriodExpired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOfflineFixture(t, func(cfg *Config) {
				cfg.MaxOfflineDays = graceDays
			})
			ctx := context.Background()

			anchor := f.now.Add(-tt.elapsed)
			seedLicense(ctx, f.engine, "LIC-1", anchor, anchor)
			f.storeKey(ctx, "key-1")

			payload := f.basePayload("LIC-1")
			payload.ExpiresAt = nil // no server expiry: grace period governs
			f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", payload))

			res, err := f.engine.VerifyCachedOffline(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, res.Valid)
			assert.Equal(t, tt.wantCode, res.Code)
		})
	}
}

func TestVerifyCachedOffline_ClockTamperBoundary(t *testing.T) {
	lastSeen := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		wantCode string
		wantOK   bool
	}{
		{"clock behind beyond skew", lastSeen.Add(-(5*time.Minute + time.Second)), CodeClockTamper, false},
		{"clock behind within skew", lastSeen.Add(-(4*time.Minute + 59*time.Second)), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOfflineFixture(t, func(cfg *Config) {
				cfg.MaxClockSkew = 5 * time.Minute
				cfg.Now = fixedClock(tt.now)
			})
			ctx := context.Background()

			seedLicense(ctx, f.engine, "LIC-1", tt.now.Add(-time.Hour), tt.now.Add(-time.Hour))
			f.storeKey(ctx, "key-1")

			payload := f.basePayload("LIC-1")
			exp := lastSeen.Add(24 * time.Hour)
			payload.ExpiresAt = &exp
			f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", payload))
			f.engine.cache.SetLastSeen(ctx, lastSeen)

			res, err := f.engine.VerifyCachedOffline(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, res.Valid)
			assert.Equal(t, tt.wantCode, res.Code)
		})
	}
}

func TestVerifyCachedOffline_UnsupportedAlgorithmIsCryptoError(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")

	tok := signToken(t, f.priv, "key-1", f.basePayload("LIC-1"))
	tok.Signature.Algorithm = "rsa-sha256"
	f.engine.cache.SetOfflineToken(ctx, tok)

	_, err := f.engine.VerifyCachedOffline(ctx)
	require.Error(t, err)
}

func TestVerifyCachedOfflineQuick_UndeterminedWithoutKey(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	// Key deliberately NOT cached.
	f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", f.basePayload("LIC-1")))

	res, err := f.engine.VerifyCachedOfflineQuick(ctx)
	require.NoError(t, err)
	assert.Nil(t, res, "quick path must be undetermined, not a failure")
}

func TestVerifyCachedOfflineQuick_WithCachedKey(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	seedLicense(ctx, f.engine, "LIC-1", f.now.Add(-time.Hour), f.now.Add(-time.Hour))
	f.storeKey(ctx, "key-1")
	f.engine.cache.SetOfflineToken(ctx, signToken(t, f.priv, "key-1", f.basePayload("LIC-1")))

	res, err := f.engine.VerifyCachedOfflineQuick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Valid)
}

func TestVerifyCachedOffline_FetchesMissingKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var keyFetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/signing-keys/key-net" {
			keyFetches++
			w.Write([]byte(`{"key_id":"key-net","algorithm":"ed25519","public_key":"` +
				base64.StdEncoding.EncodeToString(pub) + `","status":"active"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, func(cfg *Config) {
		cfg.ServerURL = srv.URL
		cfg.Now = fixedClock(now)
	})
	ctx := context.Background()

	seedLicense(ctx, e, "LIC-1", now.Add(-time.Hour), now.Add(-time.Hour))
	exp := now.Add(24 * time.Hour)
	e.cache.SetOfflineToken(ctx, signToken(t, priv, "key-net", TokenPayload{
		SchemaVersion: 1,
		LicenseKey:    "LIC-1",
		ProductSlug:   "acme-app",
		IssuedAt:      now.Add(-time.Hour),
		ExpiresAt:     &exp,
		KeyID:         "key-net",
		Entitlements:  []Entitlement{{Key: "pro"}},
	}))

	res, err := e.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, keyFetches)

	// The fetched key is cached: a second verification stays local.
	res, err = e.VerifyCachedOffline(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, keyFetches)
}

func TestOfflineToken_RoundTripPreservesCanonicalForm(t *testing.T) {
	f := newOfflineFixture(t, nil)
	ctx := context.Background()

	tok := signToken(t, f.priv, "key-1", f.basePayload("LIC-1"))
	original := make([]byte, len(tok.CanonicalForm))
	copy(original, tok.CanonicalForm)

	f.engine.cache.SetOfflineToken(ctx, tok)
	reloaded := f.engine.cache.OfflineToken(ctx)
	require.NotNil(t, reloaded)

	assert.Equal(t, original, reloaded.CanonicalForm, "canonical form must survive byte-for-byte")
	assert.Equal(t, tok.Signature, reloaded.Signature)
	assert.Equal(t, tok.Payload.LicenseKey, reloaded.Payload.LicenseKey)
}
