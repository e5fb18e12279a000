package license

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

const scenarioKey = "ABCD-1234-EFGH-5678"

type fixture struct {
	store    *memStore
	clock    *testClock
	notifier *recordingNotifier
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	f.engine = NewEngine(f.store, Config{Notifier: f.notifier, Now: f.clock.Now}, zerolog.Nop())
	return f
}

func (f *fixture) create(t *testing.T, req CreateRequest) *View {
	t.Helper()
	v, err := f.engine.Create(context.Background(), req, Meta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return v
}

func (f *fixture) license(t *testing.T, key string) *database.License {
	t.Helper()
	l, _ := f.store.GetLicenseByKey(context.Background(), key)
	if l == nil {
		t.Fatalf("license %s missing", key)
	}
	return l
}

func TestScenarioActivateThenMismatch(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO", ExpiryDays: 365})
	ctx := context.Background()

	res, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if res.Status != StatusOK || res.Edition == nil || *res.Edition != EditionPro {
		t.Fatalf("Expected OK with edition PRO, got %+v", res)
	}

	before := f.license(t, scenarioKey)
	res, err = f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-2"})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if res.Status != StatusHWMismatch {
		t.Errorf("Expected HW_MISMATCH, got %s", res.Status)
	}
	if res.Edition != nil {
		t.Errorf("Expected no edition on mismatch, got %v", *res.Edition)
	}

	after := f.license(t, scenarioKey)
	if after.HardwareID() != "HW-1" || after.Status != before.Status || after.ServerRevision != before.ServerRevision {
		t.Errorf("Expected mismatch not to mutate, before %+v after %+v", before, after)
	}
	if !f.store.hasAction(scenarioKey, ActionActivateFirstTime) || !f.store.hasAction(scenarioKey, ActionActivateMismatch) {
		t.Errorf("Expected first-time and mismatch usage logs, got %v", f.store.actions(scenarioKey))
	}
}

func TestScenarioRevokeThenRenew(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO", ExpiryDays: 365})
	ctx := context.Background()

	before := f.license(t, scenarioKey)
	res, err := f.engine.Revoke(ctx, scenarioKey, "fraud", Meta{})
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if res.Status != StatusRevoked {
		t.Fatalf("Expected REVOKED, got %s", res.Status)
	}
	revoked := f.license(t, scenarioKey)
	if revoked.ServerRevision != before.ServerRevision+1 {
		t.Errorf("Expected revision %d, got %d", before.ServerRevision+1, revoked.ServerRevision)
	}
	if revoked.RevokedReason != "fraud" {
		t.Errorf("Expected reason recorded, got %q", revoked.RevokedReason)
	}

	res, err = f.engine.Renew(ctx, scenarioKey, 30, Meta{})
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if res.Status != StatusRevoked {
		t.Errorf("Expected REVOKED from renew, got %s", res.Status)
	}
	after := f.license(t, scenarioKey)
	if after.ExpiryDays != 365 || after.ServerRevision != revoked.ServerRevision {
		t.Errorf("Expected renew to leave revoked license untouched, got %+v", after)
	}
}

func TestCreateStartsAtRevisionOne(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, CreateRequest{Edition: "basic"})

	if !ValidKey(v.Key) {
		t.Errorf("Expected generated key in XXXX-XXXX-XXXX-XXXX form, got %q", v.Key)
	}
	if v.ServerRevision != 1 || v.Status != database.LicenseActive {
		t.Errorf("Expected ACTIVE at revision 1, got %s/%d", v.Status, v.ServerRevision)
	}
	if v.ExpiryDays != 365 || v.MaxDevices != 1 || v.Edition != "BASIC" {
		t.Errorf("Expected defaults applied, got %+v", v.License)
	}
	if v.RemainingDays != 365 {
		t.Errorf("Expected 365 remaining days, got %d", v.RemainingDays)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})

	tests := []struct {
		name string
		req  CreateRequest
		kind apperr.Kind
	}{
		{"bad edition", CreateRequest{Edition: "GOLD"}, apperr.KindValidation},
		{"bad key", CreateRequest{Key: "ABC-123", Edition: "PRO"}, apperr.KindValidation},
		{"negative days", CreateRequest{Edition: "PRO", ExpiryDays: -1}, apperr.KindValidation},
		{"duplicate key", CreateRequest{Key: " abcd-1234-efgh-5678 ", Edition: "PRO"}, apperr.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tt.req, Meta{})
			if !apperr.IsKind(err, tt.kind) {
				t.Errorf("Expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestActivateIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()

	first, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "hw-1"})
	if err != nil || first.Status != StatusOK {
		t.Fatalf("Activate() = %+v, %v", first, err)
	}
	rev := f.license(t, scenarioKey).ServerRevision

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		res, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusOK || res.Changed {
			t.Errorf("Expected unchanged OK on repeat activation, got %+v", res)
		}
	}
	l := f.license(t, scenarioKey)
	if l.ServerRevision != rev {
		t.Errorf("Expected revision to stay %d, got %d", rev, l.ServerRevision)
	}
	if l.LastSeenAt == nil || !l.LastSeenAt.Equal(f.clock.Now().UTC()) {
		t.Errorf("Expected last seen to be refreshed, got %v", l.LastSeenAt)
	}
}

func TestActivateUnknownKey(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Activate(context.Background(), ActivateRequest{Key: "ZZZZ-ZZZZ-ZZZZ-ZZZZ", HardwareID: "HW"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusInvalidKey {
		t.Errorf("Expected INVALID_KEY, got %s", res.Status)
	}

	if _, err := f.engine.Activate(context.Background(), ActivateRequest{Key: scenarioKey}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("Expected missing hardware id to be a validation error, got %v", err)
	}
}

func TestActivateExpiredFlipsOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO", ExpiryDays: 10})
	ctx := context.Background()
	f.clock.Advance(10 * 24 * time.Hour)

	res, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusExpired || !res.Changed {
		t.Fatalf("Expected LICENSE_EXPIRED with a persisted flip, got %+v", res)
	}
	flipped := f.license(t, scenarioKey)
	if flipped.Status != database.LicenseExpired || flipped.BoundHardwareID != nil {
		t.Errorf("Expected EXPIRED and unbound, got %+v", flipped)
	}

	res, err = f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusExpired || res.Changed {
		t.Errorf("Expected second expired activation not to mutate, got %+v", res)
	}
	if f.license(t, scenarioKey).ServerRevision != flipped.ServerRevision {
		t.Error("Expected revision to stay after the first flip")
	}
}

func TestRenewUnexpires(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO", ExpiryDays: 10})
	ctx := context.Background()
	f.clock.Advance(11 * 24 * time.Hour)
	if _, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"}); err != nil {
		t.Fatal(err)
	}

	before := f.license(t, scenarioKey)
	res, err := f.engine.Renew(ctx, scenarioKey, 0, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	after := f.license(t, scenarioKey)
	if res.Status != StatusOK || after.Status != database.LicenseActive {
		t.Errorf("Expected renew to reactivate, got %s/%s", res.Status, after.Status)
	}
	if after.ExpiryDays != before.ExpiryDays+365 {
		t.Errorf("Expected default 365 day extension, got %d", after.ExpiryDays)
	}
	if after.ServerRevision != before.ServerRevision+1 {
		t.Error("Expected renew to bump the revision")
	}

	logs, _ := f.engine.UsageLogs(ctx, scenarioKey, 1)
	if len(logs) != 1 || logs[0].Action != ActionRenew || *logs[0].OldExpiryDays != 10 || *logs[0].NewExpiryDays != 375 {
		t.Errorf("Expected RENEW log with old/new expiry, got %+v", logs)
	}

	if _, err := f.engine.Renew(ctx, scenarioKey, -5, Meta{}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("Expected negative extension to be rejected, got %v", err)
	}
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "BASIC"})
	ctx := context.Background()

	res, err := f.engine.Upgrade(ctx, scenarioKey, "PLATINUM", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusInvalidEdition || f.license(t, scenarioKey).ServerRevision != 1 {
		t.Errorf("Expected INVALID_EDITION without mutation, got %+v", res)
	}

	res, err = f.engine.Upgrade(ctx, scenarioKey, "enterprise", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOK || *res.Edition != EditionEnterprise || res.ServerRevision != 2 {
		t.Errorf("Expected upgrade to ENTERPRISE at revision 2, got %+v", res)
	}

	if _, err := f.engine.Revoke(ctx, scenarioKey, "", Meta{}); err != nil {
		t.Fatal(err)
	}
	res, err = f.engine.Upgrade(ctx, scenarioKey, "PRO", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRevoked || res.Edition == nil || *res.Edition != EditionEnterprise {
		t.Errorf("Expected REVOKED reporting current edition, got %+v", res)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()
	if _, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Revoke(ctx, scenarioKey, "chargeback", Meta{}); err != nil {
		t.Fatal(err)
	}
	rev := f.license(t, scenarioKey).ServerRevision

	again, err := f.engine.Revoke(ctx, scenarioKey, "again", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != StatusRevoked || again.Changed {
		t.Errorf("Expected repeat revoke to be a no-op, got %+v", again)
	}

	act, _ := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	ren, _ := f.engine.Renew(ctx, scenarioKey, 10, Meta{})
	upg, _ := f.engine.Upgrade(ctx, scenarioKey, "BASIC", Meta{})
	rst, _ := f.engine.ResetBinding(ctx, scenarioKey, Meta{})
	for _, res := range []*Result{act, ren, upg, rst} {
		if res.Status != StatusRevoked {
			t.Errorf("Expected REVOKED, got %s", res.Status)
		}
	}

	l := f.license(t, scenarioKey)
	if l.ServerRevision != rev || l.RevokedReason != "chargeback" {
		t.Errorf("Expected revoked license frozen at revision %d, got %+v", rev, l)
	}

	del, err := f.engine.Delete(ctx, scenarioKey, Meta{})
	if err != nil || del.Status != StatusOK {
		t.Fatalf("Expected delete to succeed from REVOKED, got %+v, %v", del, err)
	}
	if _, err := f.engine.Get(ctx, scenarioKey); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected deleted license to be gone, got %v", err)
	}
	if !f.store.hasAction(scenarioKey, ActionDelete) {
		t.Error("Expected usage logs to survive deletion")
	}

	del, _ = f.engine.Delete(ctx, scenarioKey, Meta{})
	if del.Status != StatusInvalidKey {
		t.Errorf("Expected INVALID_KEY for a second delete, got %s", del.Status)
	}
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()
	act, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Sync(ctx, SyncRequest{Key: scenarioKey, HardwareID: "HW-1", LocalRevision: act.ServerRevision})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNoChange {
		t.Errorf("Expected NO_CHANGE when current, got %s", res.Status)
	}

	res, _ = f.engine.Sync(ctx, SyncRequest{Key: scenarioKey, HardwareID: "HW-1", LocalRevision: act.ServerRevision + 5})
	if res.Status != StatusNoChange {
		t.Errorf("Expected NO_CHANGE when ahead, got %s", res.Status)
	}

	if _, err := f.engine.Upgrade(ctx, scenarioKey, "ENTERPRISE", Meta{}); err != nil {
		t.Fatal(err)
	}
	res, _ = f.engine.Sync(ctx, SyncRequest{Key: scenarioKey, HardwareID: "hw-1", LocalRevision: act.ServerRevision})
	if res.Status != StatusUpdate || res.Edition == nil || *res.Edition != EditionEnterprise {
		t.Errorf("Expected UPDATE with new edition, got %+v", res)
	}

	res, _ = f.engine.Sync(ctx, SyncRequest{Key: scenarioKey, HardwareID: "HW-9", LocalRevision: 0})
	if res.Status != StatusHWMismatch {
		t.Errorf("Expected HW_MISMATCH for foreign hardware, got %s", res.Status)
	}

	if _, err := f.engine.Revoke(ctx, scenarioKey, "", Meta{}); err != nil {
		t.Fatal(err)
	}
	res, _ = f.engine.Sync(ctx, SyncRequest{Key: scenarioKey, HardwareID: "HW-1", LocalRevision: act.ServerRevision})
	if res.Status != StatusRevoked {
		t.Errorf("Expected REVOKED on sync after revoke, got %s", res.Status)
	}
}

func TestMultiDeviceLimit(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "ENTERPRISE", MaxDevices: 2})
	ctx := context.Background()

	for _, hw := range []string{"HW-1", "HW-2"} {
		res, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: hw})
		if err != nil || res.Status != StatusOK {
			t.Fatalf("Activate(%s) = %+v, %v", hw, res, err)
		}
	}

	res, _ := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-3"})
	if res.Status != StatusDeviceLimit {
		t.Errorf("Expected DEVICE_LIMIT for a third machine, got %s", res.Status)
	}

	rev := f.license(t, scenarioKey).ServerRevision
	res, _ = f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "hw-2"})
	if res.Status != StatusOK || f.license(t, scenarioKey).ServerRevision != rev {
		t.Errorf("Expected registered machine to be let back in without a bump, got %+v", res)
	}

	devices, err := f.engine.Devices(ctx, scenarioKey)
	if err != nil || len(devices) != 2 {
		t.Fatalf("Devices() = %v, %v", devices, err)
	}
	if _, err := f.engine.DeactivateDevice(ctx, scenarioKey, devices[0].ID, Meta{}); err != nil {
		t.Fatal(err)
	}
	res, _ = f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-3"})
	if res.Status != StatusOK {
		t.Errorf("Expected freed slot to admit a new machine, got %s", res.Status)
	}

	sync, _ := f.engine.Sync(ctx, SyncRequest{Key: scenarioKey, HardwareID: "HW-1"})
	if sync.Status != StatusHWMismatch {
		t.Errorf("Expected deactivated machine to fail sync, got %s", sync.Status)
	}

	if _, err := f.engine.DeactivateDevice(ctx, scenarioKey, "missing", Meta{}); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected unknown device to be not found, got %v", err)
	}
}

func TestResetBinding(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()
	if _, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.ResetBinding(ctx, scenarioKey, Meta{}); err != nil {
		t.Fatal(err)
	}
	res, _ := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-2"})
	if res.Status != StatusOK || f.license(t, scenarioKey).HardwareID() != "HW-2" {
		t.Errorf("Expected rebinding to a new machine after reset, got %+v", res)
	}
}

func TestUsageLogFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	f.store.failLogs = true

	res, err := f.engine.Renew(context.Background(), scenarioKey, 10, Meta{})
	if err != nil {
		t.Fatalf("Expected usage log failure to be swallowed, got %v", err)
	}
	if res.Status != StatusOK || f.license(t, scenarioKey).ExpiryDays != 375 {
		t.Errorf("Expected renew to persist, got %+v", res)
	}
}

func TestDeviceFailureKeepsAuditAndNotification(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()
	f.store.failDevices = true
	before := f.license(t, scenarioKey).ServerRevision

	res, err := f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	if err != nil {
		t.Fatalf("Expected device failure to be logged only, got %v", err)
	}
	if res.Status != StatusOK || f.license(t, scenarioKey).ServerRevision != before+1 {
		t.Errorf("Expected committed activation, got %+v", res)
	}

	res, err = f.engine.Revoke(ctx, scenarioKey, "fraud", Meta{})
	if err != nil {
		t.Fatalf("Expected device failure to be logged only, got %v", err)
	}
	if res.Status != StatusRevoked {
		t.Errorf("Expected REVOKED, got %s", res.Status)
	}

	var actions []string
	for _, entry := range f.store.logs {
		if entry.LicenseKey == scenarioKey {
			actions = append(actions, entry.Action)
		}
	}
	want := []string{ActionActivateFirstTime, ActionRevoke}
	if len(actions) < 2 || actions[len(actions)-2] != want[0] || actions[len(actions)-1] != want[1] {
		t.Errorf("Expected usage log to end with %v, got %v", want, actions)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if n := len(f.notifier.events); n < 2 ||
		f.notifier.events[n-2].Action != ActionActivateFirstTime ||
		f.notifier.events[n-1].Action != ActionRevoke {
		t.Errorf("Expected watchers to hear both revisions, got %+v", f.notifier.events)
	}
}

func TestConcurrentModificationRetries(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()

	f.store.conflictsLeft = 1
	res, err := f.engine.Renew(ctx, scenarioKey, 10, Meta{})
	if err != nil || res.Status != StatusOK {
		t.Fatalf("Expected one conflict to be retried, got %+v, %v", res, err)
	}
	if got := f.license(t, scenarioKey).ExpiryDays; got != 375 {
		t.Errorf("Expected a single extension, got %d days", got)
	}

	f.store.conflictsLeft = maxWriteAttempts
	if _, err := f.engine.Renew(ctx, scenarioKey, 10, Meta{}); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("Expected persistent conflict to surface, got %v", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, CreateRequest{Key: "AAAA-AAAA-AAAA-AAAA", Edition: "PRO", ExpiryDays: 5})
	f.create(t, CreateRequest{Key: "BBBB-BBBB-BBBB-BBBB", Edition: "PRO", ExpiryDays: 50})
	f.create(t, CreateRequest{Key: "CCCC-CCCC-CCCC-CCCC", Edition: "PRO", ExpiryDays: 5})
	if _, err := f.engine.Revoke(ctx, "CCCC-CCCC-CCCC-CCCC", "", Meta{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(6 * 24 * time.Hour)

	n, err := f.engine.ExpireOverdue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected one license expired, got %d", n)
	}
	if f.license(t, "AAAA-AAAA-AAAA-AAAA").Status != database.LicenseExpired {
		t.Error("Expected overdue license to be EXPIRED")
	}
	if f.license(t, "BBBB-BBBB-BBBB-BBBB").Status != database.LicenseActive {
		t.Error("Expected current license to stay ACTIVE")
	}

	n, _ = f.engine.ExpireOverdue(ctx)
	if n != 0 {
		t.Errorf("Expected sweep to be idempotent, got %d", n)
	}
}

func TestNotifierReceivesRevisions(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{Key: scenarioKey, Edition: "PRO"})
	ctx := context.Background()

	f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	f.engine.Activate(ctx, ActivateRequest{Key: scenarioKey, HardwareID: "HW-1"})
	f.engine.Upgrade(ctx, scenarioKey, "ENTERPRISE", Meta{})

	if len(f.notifier.events) != 2 {
		t.Fatalf("Expected two revision events, got %d", len(f.notifier.events))
	}
	last := f.notifier.events[1]
	if last.Action != ActionUpgrade || last.ServerRevision != 3 || last.Edition != "ENTERPRISE" {
		t.Errorf("Unexpected event %+v", last)
	}
}

func TestRemainingDays(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &database.License{CreatedAt: created, ExpiryDays: 30}

	tests := []struct {
		now  time.Time
		want int
	}{
		{created, 30},
		{created.Add(23 * time.Hour), 30},
		{created.Add(24 * time.Hour), 29},
		{created.Add(30 * 24 * time.Hour), 0},
		{created.Add(90 * 24 * time.Hour), 0},
		{created.Add(-48 * time.Hour), 30},
	}
	for _, tt := range tests {
		if got := RemainingDays(l, tt.now); got != tt.want {
			t.Errorf("RemainingDays(%v) = %d, want %d", tt.now.Sub(created), got, tt.want)
		}
	}
}
