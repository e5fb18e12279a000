package license

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

const requestCodePrefix = "REQ1."

var (
	ErrMalformedRequestCode = errors.New("malformed offline request code")
	ErrHardwareMismatch     = errors.New("response code was issued for another machine")
)

// RequestPayload is what an offline machine encodes into its request code.
// The encoding is for transport and audit only; it is not sealed.
type RequestPayload struct {
	LicenseKey string            `json:"license_key"`
	HardwareID string            `json:"hardware_id"`
	Machine    map[string]string `json:"machine,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// GenerateRequestCode encodes the request an offline machine carries to an online one.
func GenerateRequestCode(licenseKey, hardwareID string, machine map[string]string, ts time.Time) (string, error) {
	payload := RequestPayload{
		LicenseKey: NormalizeKey(licenseKey),
		HardwareID: strings.TrimSpace(hardwareID),
		Machine:    machine,
		Timestamp:  ts.UTC(),
	}
	if payload.LicenseKey == "" || payload.HardwareID == "" {
		return "", fmt.Errorf("%w: license key and hardware id are required", ErrMalformedRequestCode)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request code: %w", err)
	}
	return requestCodePrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeRequestCode reverses GenerateRequestCode.
func DecodeRequestCode(code string) (*RequestPayload, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, requestCodePrefix) {
		return nil, ErrMalformedRequestCode
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(code, requestCodePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequestCode, err)
	}
	var p RequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequestCode, err)
	}
	if p.LicenseKey == "" || p.HardwareID == "" {
		return nil, ErrMalformedRequestCode
	}
	return &p, nil
}

// ResponseClaims is the signed answer an online machine hands back.
type ResponseClaims struct {
	LicenseKey     string `json:"lk"`
	HardwareID     string `json:"hw"`
	Edition        string `json:"ed"`
	ServerRevision int64  `json:"rev"`
	jwt.RegisteredClaims
}

// OfflineResult is the outcome of SubmitRequestCode. ResponseCode is set
// only when the activation succeeded.
type OfflineResult struct {
	*Result
	ResponseCode string          `json:"response_code,omitempty"`
	Request      *RequestPayload `json:"request"`
}

// SubmitRequestCode activates the license named in code exactly as Activate
// would and, on success, returns a signed response code.
func (e *Engine) SubmitRequestCode(ctx context.Context, code string, meta Meta) (*OfflineResult, error) {
	if e.signer == nil {
		return nil, apperr.External("offline activation is not configured", ErrSigningDisabled)
	}
	req, err := DecodeRequestCode(code)
	if err != nil {
		return nil, apperr.Validation("invalid request code")
	}

	now := e.now()
	if age := now.Sub(req.Timestamp); age > e.cfg.MaxRequestAge || age < -5*time.Minute {
		return nil, apperr.Validation("request code is too old or from the future, generate a new one")
	}

	res, err := e.Activate(ctx, ActivateRequest{
		Key:         req.LicenseKey,
		HardwareID:  req.HardwareID,
		MachineName: req.Machine["name"],
		OS:          req.Machine["os"],
		Meta:        meta,
	})
	if err != nil {
		return nil, err
	}
	out := &OfflineResult{Result: res, Request: req}
	if res.Status != StatusOK {
		return out, nil
	}

	signed, err := e.signer.sign(ResponseClaims{
		LicenseKey:     res.Key,
		HardwareID:     req.HardwareID,
		Edition:        string(*res.Edition),
		ServerRevision: res.ServerRevision,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   res.Key,
			Issuer:    e.signer.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(*res.ExpiresAt),
		},
	})
	if err != nil {
		return nil, apperr.Internal("failed to sign response code", err)
	}
	out.ResponseCode = signed

	e.logUsage(ctx, usageWithMeta(ActionOfflineActivate, res.Key, meta, now))
	return out, nil
}

func usageWithMeta(action, key string, meta Meta, now time.Time) *database.LicenseUsageLog {
	return &database.LicenseUsageLog{Action: action, LicenseKey: key, IP: meta.IP, UserAgent: meta.UserAgent, CreatedAt: now.UTC()}
}

// ValidateResponseCode checks a response code on the offline machine with
// only the public key: signature, expiry and the machine's hardware id.
func ValidateResponseCode(v *Verifier, code, hardwareID string) (*ResponseClaims, error) {
	claims := &ResponseClaims{}
	if err := v.parse(strings.TrimSpace(code), claims); err != nil {
		return nil, err
	}
	if !strings.EqualFold(claims.HardwareID, strings.TrimSpace(hardwareID)) {
		return nil, ErrHardwareMismatch
	}
	return claims, nil
}
