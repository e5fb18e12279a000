package license

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

// Store is the license persistence the engine needs. *database.Repository implements it.
type Store interface {
	CreateLicense(ctx context.Context, l *database.License) error
	GetLicenseByKey(ctx context.Context, key string) (*database.License, error)
	ListLicenses(ctx context.Context, f database.LicenseFilter) ([]database.License, int, error)
	UpdateLicense(ctx context.Context, l *database.License) error
	TouchLicense(ctx context.Context, key string, at time.Time) error
	DeleteLicense(ctx context.Context, key string) (bool, error)
	ListOverdueLicenses(ctx context.Context, now time.Time) ([]database.License, error)
	ListLicenseDevices(ctx context.Context, licenseID string) ([]database.LicenseDevice, error)
	UpsertLicenseDevice(ctx context.Context, d *database.LicenseDevice) error
	SetLicenseDeviceActive(ctx context.Context, licenseID, deviceID string, active bool) (bool, error)
	DeactivateLicenseDevices(ctx context.Context, licenseID string) error
	LogLicenseUsage(ctx context.Context, log *database.LicenseUsageLog) error
	ListLicenseUsageLogs(ctx context.Context, key string, limit int) ([]database.LicenseUsageLog, error)
	GetLicenseStats(ctx context.Context) (*database.LicenseStats, error)
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	DefaultRenewalDays int
	// Signer issues activation tokens and offline response codes. Nil
	// disables both.
	Signer   *Signer
	Notifier Notifier
	Now      func() time.Time
	// MaxRequestAge bounds how old an offline request code may be.
	MaxRequestAge time.Duration
}

// Meta identifies the caller in the usage log.
type Meta struct {
	IP        string
	UserAgent string
}

var systemMeta = Meta{IP: "system", UserAgent: "expiry-sweep"}

const (
	maxWriteAttempts = 3
	maxExtensionDays = 36500
)

// Engine runs license state transitions against a Store.
type Engine struct {
	store    Store
	cfg      Config
	signer   *Signer
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEngine creates a lifecycle engine.
func NewEngine(store Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.DefaultRenewalDays <= 0 {
		cfg.DefaultRenewalDays = 365
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.MaxRequestAge <= 0 {
		cfg.MaxRequestAge = 30 * 24 * time.Hour
	}
	return &Engine{
		store:    store,
		cfg:      cfg,
		signer:   cfg.Signer,
		notifier: cfg.Notifier,
		now:      cfg.Now,
		logger:   logger.With().Str("component", "license").Logger(),
	}
}

// Verifier returns the public-key verifier matching the engine's signer, or nil.
func (e *Engine) Verifier() *Verifier {
	if e.signer == nil {
		return nil
	}
	return e.signer.Verifier()
}

// change is what one lifecycle step decided to do with a loaded license.
type change struct {
	status  Status
	message string
	// reveal returns the license snapshot; otherwise only the status goes back.
	reveal bool
	// persist bumps server_revision and saves the license.
	persist bool
	// touch records last_seen_at without a revision bump.
	touch bool
	logs  []*database.LicenseUsageLog
	// after runs once the license is saved, e.g. device bookkeeping.
	// Its errors are logged only.
	after func(ctx context.Context, l *database.License) error
}

func usage(action string) *database.LicenseUsageLog {
	return &database.LicenseUsageLog{Action: action}
}

// mutate loads key, lets step decide, and saves under optimistic
// concurrency, reloading and re-running step on a version conflict.
func (e *Engine) mutate(ctx context.Context, op, key string, meta Meta, step func(l *database.License, now time.Time) (*change, error)) (*Result, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, apperr.Validation("license_key is required")
	}

	for attempt := 1; ; attempt++ {
		l, err := e.store.GetLicenseByKey(ctx, key)
		if err != nil {
			return nil, apperr.Internal("failed to load license", err)
		}
		if l == nil {
			return e.record(op, softResult(StatusInvalidKey, key, "license key not found")), nil
		}

		now := e.now().UTC()
		c, err := step(l, now)
		if err != nil {
			return nil, err
		}

		if c.persist {
			l.ServerRevision++
			err := e.store.UpdateLicense(ctx, l)
			switch {
			case errors.Is(err, database.ErrVersionConflict) && attempt < maxWriteAttempts:
				e.logger.Debug().Str("key", key).Int("attempt", attempt).Msg("License changed concurrently, retrying")
				continue
			case errors.Is(err, database.ErrVersionConflict):
				return nil, apperr.Conflict("license %s was modified concurrently, retry", key)
			case errors.Is(err, database.ErrNotFound):
				return e.record(op, softResult(StatusInvalidKey, key, "license key not found")), nil
			case err != nil:
				return nil, apperr.Internal("failed to save license", err)
			}
		} else if c.touch {
			if err := e.store.TouchLicense(ctx, key, now); err != nil {
				e.logger.Warn().Err(err).Str("key", key).Msg("Failed to record last seen")
			}
		}

		// The license row is already saved; device failures are logged only.
		if c.after != nil {
			if err := c.after(ctx, l); err != nil {
				e.logger.Error().Err(err).Str("key", key).Str("op", op).Msg("Failed to update license devices")
			}
		}

		for _, entry := range c.logs {
			entry.LicenseKey = key
			entry.IP = meta.IP
			entry.UserAgent = meta.UserAgent
			entry.CreatedAt = now
			e.logUsage(ctx, entry)
		}

		var res *Result
		if c.reveal {
			res = snapshotResult(c.status, l, now)
		} else {
			res = softResult(c.status, key, "")
			res.ServerRevision = l.ServerRevision
		}
		res.Message = c.message
		res.Changed = c.persist

		if c.persist {
			action := op
			if len(c.logs) > 0 {
				action = c.logs[0].Action
			}
			e.notifier.Notify(Event{
				Key:            key,
				Action:         action,
				Status:         l.Status,
				Edition:        l.Edition,
				ServerRevision: l.ServerRevision,
				At:             now,
			})
		}
		return e.record(op, res), nil
	}
}

func (e *Engine) record(op string, res *Result) *Result {
	outcomesTotal.WithLabelValues(op, string(res.Status)).Inc()
	return res
}

// logUsage writes an audit entry. Failures are logged and never surface.
func (e *Engine) logUsage(ctx context.Context, entry *database.LicenseUsageLog) {
	transitionsTotal.WithLabelValues(entry.Action).Inc()
	if err := e.store.LogLicenseUsage(ctx, entry); err != nil {
		e.logger.Warn().Err(err).Str("key", entry.LicenseKey).Str("action", entry.Action).Msg("Failed to write usage log")
	}
}

// ActivateRequest binds a license to a machine.
type ActivateRequest struct {
	Key         string        `json:"license_key" binding:"required"`
	HardwareID  string        `json:"hardware_id" binding:"required"`
	Hardware    *HardwareInfo `json:"hardware,omitempty"`
	MachineName string        `json:"machine_name,omitempty"`
	OS          string        `json:"os,omitempty"`
	Meta        Meta          `json:"-"`
}

// Activate binds on first use, then accepts only the bound hardware.
// Licenses with more than one device slot admit new machines until the
// slots are used up; a machine already registered is always let back in.
func (e *Engine) Activate(ctx context.Context, req ActivateRequest) (*Result, error) {
	hw := strings.TrimSpace(req.HardwareID)
	if hw == "" {
		return nil, apperr.Validation("hardware_id is required")
	}
	hash := HashHardwareID(hw)

	device := func(now time.Time) *database.LicenseDevice {
		d := &database.LicenseDevice{
			HardwareHash: hash,
			MachineName:  req.MachineName,
			OS:           req.OS,
			IsActive:     true,
			LastSeenAt:   now,
		}
		if req.Hardware != nil {
			d.Metadata = req.Hardware.Metadata()
		}
		return d
	}

	res, err := e.mutate(ctx, "activate", req.Key, req.Meta, func(l *database.License, now time.Time) (*change, error) {
		if l.Status == database.LicenseRevoked {
			return &change{status: StatusRevoked, message: "license has been revoked", logs: []*database.LicenseUsageLog{usage(ActionActivateRevoked)}}, nil
		}

		if l.Status == database.LicenseExpired || IsExpired(l, now) {
			if l.Status == database.LicenseActive {
				l.Status = database.LicenseExpired
				return &change{status: StatusExpired, message: "license has expired", persist: true, logs: []*database.LicenseUsageLog{usage(ActionExpire)}}, nil
			}
			return &change{status: StatusExpired, message: "license has expired", logs: []*database.LicenseUsageLog{usage(ActionActivateExpired)}}, nil
		}

		saveDevice := func(ctx context.Context, l *database.License) error {
			d := device(now)
			d.LicenseID = l.ID
			return e.store.UpsertLicenseDevice(ctx, d)
		}

		if l.MaxDevices <= 1 {
			bound := l.HardwareID()
			switch {
			case bound == "":
				l.BoundHardwareID = &hw
				l.LastSeenAt = &now
				return &change{status: StatusOK, reveal: true, persist: true, after: saveDevice, logs: []*database.LicenseUsageLog{usage(ActionActivateFirstTime)}}, nil
			case !strings.EqualFold(bound, hw):
				return &change{status: StatusHWMismatch, message: "license is bound to another machine", logs: []*database.LicenseUsageLog{usage(ActionActivateMismatch)}}, nil
			default:
				return &change{status: StatusOK, reveal: true, touch: true}, nil
			}
		}

		devices, err := e.store.ListLicenseDevices(ctx, l.ID)
		if err != nil {
			return nil, apperr.Internal("failed to load license devices", err)
		}
		active := 0
		var existing *database.LicenseDevice
		for i := range devices {
			if devices[i].IsActive {
				active++
			}
			if devices[i].HardwareHash == hash {
				existing = &devices[i]
			}
		}

		if existing != nil && existing.IsActive {
			return &change{status: StatusOK, reveal: true, touch: true, after: saveDevice}, nil
		}
		if active >= l.MaxDevices {
			return &change{status: StatusDeviceLimit, message: "all device slots are in use", logs: []*database.LicenseUsageLog{usage(ActionActivateLimit)}}, nil
		}

		action := ActionActivateNewDevice
		if l.BoundHardwareID == nil {
			l.BoundHardwareID = &hw
			action = ActionActivateFirstTime
		}
		l.LastSeenAt = &now
		return &change{status: StatusOK, reveal: true, persist: true, after: saveDevice, logs: []*database.LicenseUsageLog{usage(action)}}, nil
	})
	if err != nil || res.Status != StatusOK {
		return res, err
	}

	e.attachToken(res, req.Hardware)
	return res, nil
}

func (e *Engine) attachToken(res *Result, hw *HardwareInfo) {
	if e.signer == nil || hw == nil || res.Edition == nil || res.ExpiresAt == nil {
		return
	}
	fp, err := hw.Fingerprint()
	if err != nil {
		res.Message = "activation token not issued: " + err.Error()
		return
	}
	token, err := e.signer.Issue(res.Key, fp, *res.Edition, *res.ExpiresAt)
	if err != nil {
		e.logger.Error().Err(err).Str("key", res.Key).Msg("Failed to sign activation token")
		return
	}
	res.Token = token
}

// Renew extends the expiry by days (the configured default when zero) and
// brings an expired license back to ACTIVE. Revoked licenses are untouched.
func (e *Engine) Renew(ctx context.Context, key string, days int, meta Meta) (*Result, error) {
	if days == 0 {
		days = e.cfg.DefaultRenewalDays
	}
	if days < 0 || days > maxExtensionDays {
		return nil, apperr.Validation("extension days must be between 1 and %d", maxExtensionDays)
	}

	return e.mutate(ctx, "renew", key, meta, func(l *database.License, _ time.Time) (*change, error) {
		if l.Status == database.LicenseRevoked {
			return &change{status: StatusRevoked, message: "revoked licenses cannot be renewed", reveal: true, logs: []*database.LicenseUsageLog{usage(ActionRenewRejected)}}, nil
		}
		oldDays := l.ExpiryDays
		l.ExpiryDays += days
		newDays := l.ExpiryDays
		l.Status = database.LicenseActive

		entry := usage(ActionRenew)
		entry.OldExpiryDays = &oldDays
		entry.NewExpiryDays = &newDays
		return &change{status: StatusOK, reveal: true, persist: true, logs: []*database.LicenseUsageLog{entry}}, nil
	})
}

// Upgrade changes the edition. Revoked licenses report their current edition unchanged.
func (e *Engine) Upgrade(ctx context.Context, key, edition string, meta Meta) (*Result, error) {
	return e.mutate(ctx, "upgrade", key, meta, func(l *database.License, _ time.Time) (*change, error) {
		if l.Status == database.LicenseRevoked {
			return &change{status: StatusRevoked, message: "revoked licenses cannot be upgraded", reveal: true, logs: []*database.LicenseUsageLog{usage(ActionUpgradeRejected)}}, nil
		}
		ed, ok := ParseEdition(edition)
		if !ok {
			return &change{status: StatusInvalidEdition, message: "edition must be BASIC, PRO or ENTERPRISE"}, nil
		}

		entry := usage(ActionUpgrade)
		entry.OldEdition = l.Edition
		entry.NewEdition = string(ed)
		l.Edition = string(ed)
		return &change{status: StatusOK, reveal: true, persist: true, logs: []*database.LicenseUsageLog{entry}}, nil
	})
}

// SyncRequest is a long-running client checking for remote changes.
type SyncRequest struct {
	Key           string `json:"license_key" binding:"required"`
	HardwareID    string `json:"hardware_id" binding:"required"`
	LocalRevision int64  `json:"local_revision"`
	Meta          Meta   `json:"-"`
}

// Sync answers NO_CHANGE when the client is current, otherwise UPDATE (or
// REVOKED) with a fresh snapshot.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (*Result, error) {
	hw := strings.TrimSpace(req.HardwareID)
	if hw == "" {
		return nil, apperr.Validation("hardware_id is required")
	}

	return e.mutate(ctx, "sync", req.Key, req.Meta, func(l *database.License, _ time.Time) (*change, error) {
		ok, err := e.hardwareAllowed(ctx, l, hw)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &change{status: StatusHWMismatch, message: "license is bound to another machine", logs: []*database.LicenseUsageLog{usage(ActionSyncMismatch)}}, nil
		}

		if req.LocalRevision >= l.ServerRevision {
			return &change{status: StatusNoChange, touch: true}, nil
		}
		if l.Status == database.LicenseRevoked {
			return &change{status: StatusRevoked, reveal: true, touch: true}, nil
		}
		return &change{status: StatusUpdate, reveal: true, touch: true}, nil
	})
}

// hardwareAllowed checks hw against the single binding or, for
// multi-device licenses, the active device table. Unbound licenses accept anyone.
func (e *Engine) hardwareAllowed(ctx context.Context, l *database.License, hw string) (bool, error) {
	if l.MaxDevices <= 1 {
		bound := l.HardwareID()
		return bound == "" || strings.EqualFold(bound, hw), nil
	}
	devices, err := e.store.ListLicenseDevices(ctx, l.ID)
	if err != nil {
		return false, apperr.Internal("failed to load license devices", err)
	}
	if len(devices) == 0 && l.BoundHardwareID == nil {
		return true, nil
	}
	hash := HashHardwareID(hw)
	for _, d := range devices {
		if d.IsActive && d.HardwareHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// Revoke is terminal. Revoking again returns REVOKED without a new revision.
func (e *Engine) Revoke(ctx context.Context, key, reason string, meta Meta) (*Result, error) {
	reason = strings.TrimSpace(reason)
	return e.mutate(ctx, "revoke", key, meta, func(l *database.License, _ time.Time) (*change, error) {
		if l.Status == database.LicenseRevoked {
			return &change{status: StatusRevoked, reveal: true}, nil
		}
		l.Status = database.LicenseRevoked
		l.RevokedReason = reason

		entry := usage(ActionRevoke)
		entry.Message = reason
		return &change{
			status:  StatusRevoked,
			reveal:  true,
			persist: true,
			logs:    []*database.LicenseUsageLog{entry},
			after: func(ctx context.Context, l *database.License) error {
				return e.store.DeactivateLicenseDevices(ctx, l.ID)
			},
		}, nil
	})
}

// ResetBinding clears the hardware binding and deactivates every device.
func (e *Engine) ResetBinding(ctx context.Context, key string, meta Meta) (*Result, error) {
	return e.mutate(ctx, "reset_binding", key, meta, func(l *database.License, _ time.Time) (*change, error) {
		if l.Status == database.LicenseRevoked {
			return &change{status: StatusRevoked, message: "revoked licenses cannot be rebound", reveal: true}, nil
		}
		l.BoundHardwareID = nil
		return &change{
			status:  StatusOK,
			reveal:  true,
			persist: true,
			logs:    []*database.LicenseUsageLog{usage(ActionResetBinding)},
			after: func(ctx context.Context, l *database.License) error {
				return e.store.DeactivateLicenseDevices(ctx, l.ID)
			},
		}, nil
	})
}

// DeactivateDevice frees one device slot remotely.
func (e *Engine) DeactivateDevice(ctx context.Context, key, deviceID string, meta Meta) (*Result, error) {
	return e.mutate(ctx, "deactivate_device", key, meta, func(l *database.License, _ time.Time) (*change, error) {
		ok, err := e.store.SetLicenseDeviceActive(ctx, l.ID, deviceID, false)
		if err != nil {
			return nil, apperr.Internal("failed to deactivate device", err)
		}
		if !ok {
			return nil, apperr.NotFound("device %s not found on license %s", deviceID, l.Key)
		}
		entry := usage(ActionDeactivateDevice)
		entry.Message = deviceID
		return &change{status: StatusOK, reveal: true, persist: true, logs: []*database.LicenseUsageLog{entry}}, nil
	})
}

// Delete removes a license in any state. Its usage logs are kept.
func (e *Engine) Delete(ctx context.Context, key string, meta Meta) (*Result, error) {
	key = NormalizeKey(key)
	deleted, err := e.store.DeleteLicense(ctx, key)
	if err != nil {
		return nil, apperr.Internal("failed to delete license", err)
	}
	if !deleted {
		return e.record("delete", softResult(StatusInvalidKey, key, "license key not found")), nil
	}

	now := e.now().UTC()
	e.logUsage(ctx, &database.LicenseUsageLog{
		LicenseKey: key,
		Action:     ActionDelete,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		CreatedAt:  now,
	})
	e.notifier.Notify(Event{Key: key, Action: ActionDelete, At: now})
	e.logger.Info().Str("key", key).Msg("License deleted")
	return e.record("delete", &Result{Status: StatusOK, Key: key, Changed: true}), nil
}

// CreateRequest describes a new license. An empty Key is generated.
type CreateRequest struct {
	Key        string `json:"key"`
	Edition    string `json:"edition" binding:"required"`
	ExpiryDays int    `json:"expiry_days"`
	MaxDevices int    `json:"max_devices"`
	OwnerEmail string `json:"owner_email"`
	Notes      string `json:"notes"`
}

// Create issues a new ACTIVE license at server revision 1.
func (e *Engine) Create(ctx context.Context, req CreateRequest, meta Meta) (*View, error) {
	ed, ok := ParseEdition(req.Edition)
	if !ok {
		return nil, apperr.Validation("edition must be BASIC, PRO or ENTERPRISE")
	}
	if req.ExpiryDays == 0 {
		req.ExpiryDays = e.cfg.DefaultRenewalDays
	}
	if req.ExpiryDays < 0 || req.ExpiryDays > maxExtensionDays {
		return nil, apperr.Validation("expiry_days must be between 1 and %d", maxExtensionDays)
	}
	if req.MaxDevices == 0 {
		req.MaxDevices = 1
	}
	if req.MaxDevices < 0 {
		return nil, apperr.Validation("max_devices must be positive")
	}

	supplied := NormalizeKey(req.Key)
	if supplied != "" && !KeyPattern.MatchString(supplied) {
		return nil, apperr.Validation("license key must look like XXXX-XXXX-XXXX-XXXX")
	}

	now := e.now().UTC()
	for attempt := 1; ; attempt++ {
		key := supplied
		if key == "" {
			generated, err := GenerateKey()
			if err != nil {
				return nil, apperr.Internal("failed to generate license key", err)
			}
			key = generated
		}

		l := &database.License{
			Key:            key,
			Status:         database.LicenseActive,
			Edition:        string(ed),
			ExpiryDays:     req.ExpiryDays,
			ServerRevision: 1,
			MaxDevices:     req.MaxDevices,
			OwnerEmail:     strings.ToLower(strings.TrimSpace(req.OwnerEmail)),
			Notes:          req.Notes,
			CreatedAt:      now,
		}
		err := e.store.CreateLicense(ctx, l)
		if errors.Is(err, database.ErrDuplicate) {
			if supplied != "" {
				return nil, apperr.Conflict("license key %s already exists", key)
			}
			if attempt < maxWriteAttempts {
				continue
			}
			return nil, apperr.Conflict("could not generate a unique license key, retry")
		}
		if err != nil {
			return nil, apperr.Internal("failed to create license", err)
		}

		newDays := l.ExpiryDays
		e.logUsage(ctx, &database.LicenseUsageLog{
			LicenseKey:    key,
			Action:        ActionCreate,
			NewEdition:    l.Edition,
			NewExpiryDays: &newDays,
			IP:            meta.IP,
			UserAgent:     meta.UserAgent,
			CreatedAt:     now,
		})
		e.logger.Info().Str("key", key).Str("edition", l.Edition).Int("expiry_days", l.ExpiryDays).Msg("License created")
		v := newView(l, now)
		return &v, nil
	}
}

// Get returns one license with computed fields.
func (e *Engine) Get(ctx context.Context, key string) (*View, error) {
	l, err := e.store.GetLicenseByKey(ctx, NormalizeKey(key))
	if err != nil {
		return nil, apperr.Internal("failed to load license", err)
	}
	if l == nil {
		return nil, apperr.NotFound("license %s not found", NormalizeKey(key))
	}
	v := newView(l, e.now())
	return &v, nil
}

// List returns a filtered page of licenses and the total count.
func (e *Engine) List(ctx context.Context, f database.LicenseFilter) ([]View, int, error) {
	licenses, total, err := e.store.ListLicenses(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal("failed to list licenses", err)
	}
	now := e.now()
	views := make([]View, 0, len(licenses))
	for i := range licenses {
		views = append(views, newView(&licenses[i], now))
	}
	return views, total, nil
}

// Stats summarises licenses by status and edition.
func (e *Engine) Stats(ctx context.Context) (*database.LicenseStats, error) {
	stats, err := e.store.GetLicenseStats(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to load license stats", err)
	}
	return stats, nil
}

// Devices lists the machines registered under key.
func (e *Engine) Devices(ctx context.Context, key string) ([]database.LicenseDevice, error) {
	v, err := e.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	devices, err := e.store.ListLicenseDevices(ctx, v.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list license devices", err)
	}
	return devices, nil
}

// UsageLogs returns the audit trail of key, newest first. It works for deleted keys too.
func (e *Engine) UsageLogs(ctx context.Context, key string, limit int) ([]database.LicenseUsageLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs, err := e.store.ListLicenseUsageLogs(ctx, NormalizeKey(key), limit)
	if err != nil {
		return nil, apperr.Internal("failed to list usage logs", err)
	}
	return logs, nil
}

// ExpireOverdue flips every overdue ACTIVE license to EXPIRED and returns
// how many changed. One failing license does not stop the sweep.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := e.store.ListOverdueLicenses(ctx, e.now().UTC())
	if err != nil {
		return 0, apperr.Internal("failed to list overdue licenses", err)
	}

	expired := 0
	for _, candidate := range overdue {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		res, err := e.mutate(ctx, "expire", candidate.Key, systemMeta, func(l *database.License, now time.Time) (*change, error) {
			if l.Status != database.LicenseActive || !IsExpired(l, now) {
				return &change{status: StatusNoChange}, nil
			}
			l.Status = database.LicenseExpired
			return &change{status: StatusExpired, persist: true, logs: []*database.LicenseUsageLog{usage(ActionExpire)}}, nil
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("key", candidate.Key).Msg("Failed to expire license")
			continue
		}
		if res.Changed {
			expired++
		}
	}

	if expired > 0 {
		e.logger.Info().Int("expired", expired).Int("candidates", len(overdue)).Msg("Expiry sweep finished")
	}
	return expired, nil
}
