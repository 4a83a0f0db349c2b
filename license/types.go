// Package license implements the client-side license lifecycle engine:
// activation, periodic validation, liveness heartbeats, and offline
// entitlement verification backed by a server-signed token cached locally.
package license

import "time"

// Status vocabulary reported by Engine.Status. An offline-verified license is
// deliberately never reported as plain "active".
const (
	StatusActive         = "active"
	StatusOfflineValid   = "offline-valid"
	StatusOfflineInvalid = "offline-invalid"
	StatusInactive       = "inactive"
)

// Machine codes carried by ValidationResult and entitlement checks.
const (
	CodeNoOfflineToken     = "no_offline_token"
	CodeSignatureInvalid   = "signature_invalid"
	CodeLicenseMismatch    = "license_mismatch"
	CodeExpired            = "expired"
	CodeGracePeriodExpired = "grace_period_expired"
	CodeClockTamper        = "clock_tamper"
	CodeNoLicense          = "no_license"
	CodeNotFound           = "not_found"
)

// Entitlement is a named feature flag tied to a license, with an optional
// expiry of its own.
type Entitlement struct {
	Key       string         `json:"key"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ValidationResult is the outcome of one validation, online or offline.
// Results are immutable once returned; the engine stores a copy on the
// cached license. Offline results are never trust-equivalent to online ones.
type ValidationResult struct {
	Valid        bool          `json:"valid"`
	Offline      bool          `json:"offline"`
	Code         string        `json:"code,omitempty"`
	Message      string        `json:"message,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Entitlements []Entitlement `json:"entitlements,omitempty"`
}

// LicenseSnapshot is the server's view of a license, echoed on activation
// and validation responses.
type LicenseSnapshot struct {
	Key                string        `json:"key"`
	ProductSlug        string        `json:"product_slug,omitempty"`
	PlanKey            string        `json:"plan_key,omitempty"`
	Status             string        `json:"status,omitempty"`
	ExpiresAt          *time.Time    `json:"expires_at,omitempty"`
	ActiveEntitlements []Entitlement `json:"active_entitlements,omitempty"`
}

// ActivationRecord is the server-issued record binding a device to a license.
type ActivationRecord struct {
	ID          string           `json:"id"`
	DeviceID    string           `json:"device_id"`
	LicenseKey  string           `json:"license_key"`
	ActivatedAt time.Time        `json:"activated_at"`
	License     *LicenseSnapshot `json:"license,omitempty"`
}

// CachedLicense is the locally persisted license record. It is created on
// activation, refreshed on every validation and heartbeat, and destroyed on
// deactivation or reset. The Cache owns it exclusively.
type CachedLicense struct {
	LicenseKey    string            `json:"license_key"`
	DeviceID      string            `json:"device_id"`
	Activation    *ActivationRecord `json:"activation_record,omitempty"`
	ActivatedAt   time.Time         `json:"activated_at"`
	LastValidated time.Time         `json:"last_validated"`
	Validation    *ValidationResult `json:"validation,omitempty"`
}

// TokenPayload is the signed body of an offline token.
type TokenPayload struct {
	SchemaVersion    int            `json:"schema_version"`
	LicenseKey       string         `json:"license_key"`
	ProductSlug      string         `json:"product_slug"`
	PlanKey          string         `json:"plan_key,omitempty"`
	Mode             string         `json:"mode,omitempty"`
	SeatLimit        *int           `json:"seat_limit,omitempty"`
	DeviceID         string         `json:"device_id,omitempty"`
	IssuedAt         time.Time      `json:"issued_at"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	NotBefore        *time.Time     `json:"not_before,omitempty"`
	LicenseExpiresAt *time.Time     `json:"license_expires_at,omitempty"`
	KeyID            string         `json:"key_id"`
	Entitlements     []Entitlement  `json:"entitlements"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// TokenSignature identifies the signing key and carries the signature bytes
// in base64.
type TokenSignature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	Value     string `json:"value"`
}

// OfflineToken is the server-issued, signed snapshot of entitlement state
// usable without network access. CanonicalForm is the exact byte sequence
// the signature covers; verification always uses it verbatim, never a local
// re-serialization of Payload, because a local encoder could diverge from
// the signer's.
type OfflineToken struct {
	Payload       TokenPayload   `json:"payload"`
	Signature     TokenSignature `json:"signature"`
	CanonicalForm []byte         `json:"canonical_form"`
}

// SigningKey is a public key record fetched from the service. Keys are
// immutable once issued; the local key map is append-only.
type SigningKey struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
	Status    string `json:"status,omitempty"`
}

// EntitlementCheck is the result of a local entitlement lookup.
type EntitlementCheck struct {
	Active      bool         `json:"active"`
	Reason      string       `json:"reason,omitempty"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`
}
