package license

import (
	"context"
	"net/http"
	"time"
)

// Wire shapes for the licensing service. Mutating calls carry the opaque
// telemetry object from the host's collector; the engine never looks inside.

type registerRequest struct {
	LicenseKey  string         `json:"license_key"`
	DeviceID    string         `json:"device_id"`
	ProductSlug string         `json:"product_slug,omitempty"`
	Telemetry   map[string]any `json:"telemetry,omitempty"`
}

type revokeRequest struct {
	ActivationID string         `json:"activation_id"`
	LicenseKey   string         `json:"license_key"`
	DeviceID     string         `json:"device_id"`
	Telemetry    map[string]any `json:"telemetry,omitempty"`
}

type revokeResponse struct {
	ActivationID  string    `json:"activation_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

type validateRequest struct {
	LicenseKey  string         `json:"license_key"`
	DeviceID    string         `json:"device_id"`
	ProductSlug string         `json:"product_slug,omitempty"`
	Telemetry   map[string]any `json:"telemetry,omitempty"`
}

type validateResponse struct {
	Valid      bool              `json:"valid"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	License    *LicenseSnapshot  `json:"license,omitempty"`
	Activation *ActivationRecord `json:"activation,omitempty"`
}

type offlineTokenRequest struct {
	LicenseKey string         `json:"license_key"`
	DeviceID   string         `json:"device_id"`
	Telemetry  map[string]any `json:"telemetry,omitempty"`
}

type heartbeatRequest struct {
	DeviceID   string         `json:"device_id"`
	LicenseKey string         `json:"license_key,omitempty"`
	Telemetry  map[string]any `json:"telemetry,omitempty"`
}

type heartbeatResponse struct {
	ReceivedAt time.Time `json:"received_at"`
}

func (e *Engine) registerDevice(ctx context.Context, key string) (*ActivationRecord, error) {
	req := registerRequest{
		LicenseKey:  key,
		DeviceID:    e.deviceID,
		ProductSlug: e.cfg.ProductSlug,
		Telemetry:   e.telemetry(ctx),
	}
	var rec ActivationRecord
	if err := e.client.Do(ctx, http.MethodPost, "/v1/activations", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (e *Engine) revokeActivation(ctx context.Context, lic *CachedLicense) (*revokeResponse, error) {
	req := revokeRequest{
		LicenseKey: lic.LicenseKey,
		DeviceID:   lic.DeviceID,
		Telemetry:  e.telemetry(ctx),
	}
	if lic.Activation != nil {
		req.ActivationID = lic.Activation.ID
	}
	var resp revokeResponse
	if err := e.client.Do(ctx, http.MethodPost, "/v1/activations/revoke", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Engine) validateRemote(ctx context.Context, key string) (*validateResponse, error) {
	req := validateRequest{
		LicenseKey:  key,
		DeviceID:    e.deviceID,
		ProductSlug: e.cfg.ProductSlug,
		Telemetry:   e.telemetry(ctx),
	}
	var resp validateResponse
	if err := e.client.Do(ctx, http.MethodPost, "/v1/validations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Engine) issueOfflineToken(ctx context.Context, key string) (*OfflineToken, error) {
	req := offlineTokenRequest{
		LicenseKey: key,
		DeviceID:   e.deviceID,
		Telemetry:  e.telemetry(ctx),
	}
	var tok OfflineToken
	if err := e.client.Do(ctx, http.MethodPost, "/v1/offline-tokens", req, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (e *Engine) fetchSigningKey(ctx context.Context, keyID string) (*SigningKey, error) {
	var rec SigningKey
	if err := e.client.Do(ctx, http.MethodGet, "/v1/signing-keys/"+keyID, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (e *Engine) sendHeartbeat(ctx context.Context, key string) (*heartbeatResponse, error) {
	req := heartbeatRequest{
		DeviceID:   e.deviceID,
		LicenseKey: key,
		Telemetry:  e.telemetry(ctx),
	}
	var resp heartbeatResponse
	if err := e.client.Do(ctx, http.MethodPost, "/v1/heartbeats", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
