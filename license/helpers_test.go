package license

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/licenseward/licenseward-go/store"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// newTestEngine builds an engine over an in-memory store. mutate may adjust
// the config (server URL, intervals, clock) before construction.
func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	cfg := Config{
		ServerURL:   "http://127.0.0.1:1", // nothing listening; offline-only tests never dial
		ProductSlug: "acme-app",
		Store:       mem,
		DeviceID: func(context.Context) (string, error) {
			return "device-test-1", nil
		},
		MaxClockSkew: DefaultMaxClockSkew,
		MaxRetries:   1,
		RetryDelay:   time.Millisecond,
		Logger:       testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, mem
}

// signToken builds a server-shaped offline token: the canonical form is the
// signer's serialization of the payload, and the signature covers exactly
// those bytes.
func signToken(t *testing.T, priv ed25519.PrivateKey, keyID string, payload TokenPayload) *OfflineToken {
	t.Helper()

	canonical, err := json.Marshal(payload)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, canonical)

	return &OfflineToken{
		Payload: payload,
		Signature: TokenSignature{
			Algorithm: AlgorithmEd25519,
			KeyID:     keyID,
			Value:     base64.StdEncoding.EncodeToString(sig),
		},
		CanonicalForm: canonical,
	}
}

// seedLicense caches a minimal activated license record.
func seedLicense(ctx context.Context, e *Engine, key string, activatedAt, lastValidated time.Time) {
	e.cache.SetLicense(ctx, &CachedLicense{
		LicenseKey:    key,
		DeviceID:      e.deviceID,
		ActivatedAt:   activatedAt,
		LastValidated: lastValidated,
		Validation:    &ValidationResult{Valid: true, Offline: false},
	})
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
