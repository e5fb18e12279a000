package license

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"erasure-cloud/internal/database"
)

// memStore is an in-memory Store with the same optimistic locking rules as the repository.
type memStore struct {
	mu       sync.Mutex
	licenses map[string]*database.License
	devices  map[string][]database.LicenseDevice
	logs     []database.LicenseUsageLog
	seq      int

	failLogs      bool
	failDevices   bool
	conflictsLeft int
	updates       int
}

func newMemStore() *memStore {
	return &memStore{
		licenses: map[string]*database.License{},
		devices:  map[string][]database.LicenseDevice{},
	}
}

func (s *memStore) nextID() string {
	s.seq++
	return fmt.Sprintf("id-%d", s.seq)
}

func (s *memStore) CreateLicense(_ context.Context, l *database.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[l.Key]; ok {
		return database.ErrDuplicate
	}
	if l.ID == "" {
		l.ID = s.nextID()
	}
	l.RowVersion = 1
	cp := *l
	s.licenses[l.Key] = &cp
	return nil
}

func (s *memStore) GetLicenseByKey(_ context.Context, key string) (*database.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[key]
	if !ok {
		return nil, nil
	}
	cp := *l
	if l.BoundHardwareID != nil {
		hw := *l.BoundHardwareID
		cp.BoundHardwareID = &hw
	}
	return &cp, nil
}

func (s *memStore) ListLicenses(_ context.Context, f database.LicenseFilter) ([]database.License, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.License
	for _, l := range s.licenses {
		if f.Status != "" && string(l.Status) != f.Status {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, len(out), nil
}

func (s *memStore) UpdateLicense(_ context.Context, l *database.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.licenses[l.Key]
	if !ok {
		return database.ErrNotFound
	}
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		cur.RowVersion++
		return database.ErrVersionConflict
	}
	if cur.RowVersion != l.RowVersion {
		return database.ErrVersionConflict
	}
	s.updates++
	l.RowVersion++
	cp := *l
	s.licenses[l.Key] = &cp
	return nil
}

func (s *memStore) TouchLicense(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.licenses[key]; ok {
		l.LastSeenAt = &at
	}
	return nil
}

func (s *memStore) DeleteLicense(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[key]
	if !ok {
		return false, nil
	}
	delete(s.devices, l.ID)
	delete(s.licenses, key)
	return true, nil
}

func (s *memStore) ListOverdueLicenses(_ context.Context, now time.Time) ([]database.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.License
	for _, l := range s.licenses {
		if l.Status == database.LicenseActive && !now.Before(l.ExpiresAt()) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) ListLicenseDevices(_ context.Context, licenseID string) ([]database.LicenseDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.LicenseDevice(nil), s.devices[licenseID]...), nil
}

func (s *memStore) UpsertLicenseDevice(_ context.Context, d *database.LicenseDevice) error {
	if s.failDevices {
		return errors.New("license_devices unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.devices[d.LicenseID]
	for i := range list {
		if list[i].HardwareHash == d.HardwareHash {
			d.ID = list[i].ID
			d.FirstSeenAt = list[i].FirstSeenAt
			list[i] = *d
			return nil
		}
	}
	d.ID = s.nextID()
	d.FirstSeenAt = d.LastSeenAt
	s.devices[d.LicenseID] = append(list, *d)
	return nil
}

func (s *memStore) SetLicenseDeviceActive(_ context.Context, licenseID, deviceID string, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.devices[licenseID]
	for i := range list {
		if list[i].ID == deviceID {
			list[i].IsActive = active
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) DeactivateLicenseDevices(_ context.Context, licenseID string) error {
	if s.failDevices {
		return errors.New("license_devices unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices[licenseID] {
		s.devices[licenseID][i].IsActive = false
	}
	return nil
}

func (s *memStore) LogLicenseUsage(_ context.Context, log *database.LicenseUsageLog) error {
	if s.failLogs {
		return errors.New("usage log table is locked")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *log)
	return nil
}

func (s *memStore) ListLicenseUsageLogs(_ context.Context, key string, limit int) ([]database.LicenseUsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.LicenseUsageLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].LicenseKey == key {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *memStore) GetLicenseStats(_ context.Context) (*database.LicenseStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &database.LicenseStats{ByStatus: map[string]int{}, ByEdition: map[string]int{}}
	for _, l := range s.licenses {
		stats.Total++
		stats.ByStatus[string(l.Status)]++
		stats.ByEdition[l.Edition]++
		if l.BoundHardwareID != nil {
			stats.Bound++
		}
	}
	return stats, nil
}

func (s *memStore) actions(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.logs {
		if l.LicenseKey == key {
			out = append(out, l.Action)
		}
	}
	return out
}

func (s *memStore) hasAction(key, action string) bool {
	for _, a := range s.actions(key) {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(e Event) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
