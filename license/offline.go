package license

import (
	"context"
	"encoding/base64"
	"time"
)

// fail builds a failed offline result with a machine code.
func fail(code, message string) ValidationResult {
	return ValidationResult{Valid: false, Offline: true, Code: code, Message: message}
}

// VerifyCachedOffline verifies the cached offline token and returns an
// offline validation result. When the token's signing key is not cached
// locally it is fetched from the service and cached. The only returned
// errors are crypto errors (unsupported signing primitive); a token that
// fails verification is a result, not an error.
func (e *Engine) VerifyCachedOffline(ctx context.Context) (ValidationResult, error) {
	res, err := e.verifyOffline(ctx, e.resolveKeyNetwork)
	if err != nil {
		return ValidationResult{}, err
	}
	// The network resolver never reports "undetermined".
	return *res, nil
}

// VerifyCachedOfflineQuick is the instant-UX startup path: identical checks,
// but it never touches the network. A signing key absent from the local
// cache yields a nil (undetermined) result rather than a failure code.
func (e *Engine) VerifyCachedOfflineQuick(ctx context.Context) (*ValidationResult, error) {
	return e.verifyOffline(ctx, e.resolveKeyLocal)
}

// keyResolver returns the base64 public key for a key id. ok=false means the
// key could not be determined (quick path only).
type keyResolver func(ctx context.Context, keyID string) (string, bool)

func (e *Engine) resolveKeyLocal(ctx context.Context, keyID string) (string, bool) {
	key := e.cache.PublicKey(ctx, keyID)
	return key, key != ""
}

func (e *Engine) resolveKeyNetwork(ctx context.Context, keyID string) (string, bool) {
	if key, ok := e.resolveKeyLocal(ctx, keyID); ok {
		return key, true
	}
	rec, err := e.fetchSigningKey(ctx, keyID)
	if err != nil {
		e.logger.Warn().Err(err).Str("key_id", keyID).Msg("signing key fetch failed")
		return "", true // resolved to "no key": verification will fail closed
	}
	e.cache.SetPublicKey(ctx, keyID, rec.PublicKey)
	return rec.PublicKey, true
}

// verifyOffline runs the ordered offline checks. The order is load-bearing:
// the signature is verified before any payload field is trusted, the
// license-key binding before expiry (a token for another license must not
// leak its expiry state), and the clock-tamper check last, once the token is
// structurally trustworthy.
func (e *Engine) verifyOffline(ctx context.Context, resolve keyResolver) (*ValidationResult, error) {
	result, err := e.runOfflineChecks(ctx, resolve)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if result.Valid {
		e.events.emit(EventOfflineTokenVerified, *result)
	} else {
		e.events.emit(EventOfflineTokenVerificationFailed, *result)
	}
	return result, nil
}

func (e *Engine) runOfflineChecks(ctx context.Context, resolve keyResolver) (*ValidationResult, error) {
	tok := e.cache.OfflineToken(ctx)
	if tok == nil {
		r := fail(CodeNoOfflineToken, "no offline token cached")
		return &r, nil
	}

	if err := checkAlgorithm(tok.Signature.Algorithm); err != nil {
		return nil, err
	}

	keyB64, determined := resolve(ctx, tok.Signature.KeyID)
	if !determined {
		return nil, nil
	}

	if keyB64 == "" {
		r := fail(CodeSignatureInvalid, "signing key unavailable")
		return &r, nil
	}
	pubKey, ok := decodeKey(keyB64)
	if !ok {
		r := fail(CodeSignatureInvalid, "signing key undecodable")
		return &r, nil
	}
	sig, err := base64.StdEncoding.DecodeString(tok.Signature.Value)
	if err != nil {
		r := fail(CodeSignatureInvalid, "signature undecodable")
		return &r, nil
	}
	if !Verify(tok.CanonicalForm, sig, pubKey) {
		r := fail(CodeSignatureInvalid, "offline token signature verification failed")
		return &r, nil
	}

	// Signature is good: the payload may now be trusted.
	lic := e.cache.License(ctx)
	if lic == nil || !ConstantTimeEqual(tok.Payload.LicenseKey, lic.LicenseKey) {
		r := fail(CodeLicenseMismatch, "offline token is bound to a different license")
		return &r, nil
	}

	now := e.now()

	if exp := tok.Payload.ExpiresAt; exp != nil && now.After(*exp) {
		r := fail(CodeExpired, "offline token expired")
		return &r, nil
	}

	if tok.Payload.ExpiresAt == nil && e.cfg.MaxOfflineDays > 0 {
		anchor := lic.LastValidated
		if lic.ActivatedAt.After(anchor) {
			anchor = lic.ActivatedAt
		}
		grace := time.Duration(e.cfg.MaxOfflineDays) * 24 * time.Hour
		if now.Sub(anchor) > grace {
			r := fail(CodeGracePeriodExpired, "offline grace period exceeded")
			return &r, nil
		}
	}

	if lastSeen := e.cache.LastSeen(ctx); !lastSeen.IsZero() {
		if now.Add(e.cfg.MaxClockSkew).Before(lastSeen) {
			r := fail(CodeClockTamper, "system clock is behind the last trusted observation")
			return &r, nil
		}
	}

	e.cache.SetLastSeen(ctx, now)

	return &ValidationResult{
		Valid:        true,
		Offline:      true,
		Entitlements: tok.Payload.Entitlements,
	}, nil
}
