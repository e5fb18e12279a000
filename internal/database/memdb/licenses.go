package memdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"erasure-cloud/internal/database"
)

func cloneLicense(l *database.License) *database.License {
	cp := *l
	if l.BoundHardwareID != nil {
		hw := *l.BoundHardwareID
		cp.BoundHardwareID = &hw
	}
	return &cp
}

func (s *Store) CreateLicense(ctx context.Context, l *database.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[l.Key]; ok {
		return database.ErrDuplicate
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.UpdatedAt = l.CreatedAt
	l.RowVersion = 1
	s.licenses[l.Key] = cloneLicense(l)
	return nil
}

func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*database.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[key]
	if !ok {
		return nil, nil
	}
	return cloneLicense(l), nil
}

func (s *Store) ListLicenses(ctx context.Context, f database.LicenseFilter) ([]database.License, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []database.License
	for _, l := range s.licenses {
		if f.Status != "" && string(l.Status) != f.Status {
			continue
		}
		if f.Edition != "" && l.Edition != f.Edition {
			continue
		}
		if f.OwnerEmail != "" && l.OwnerEmail != f.OwnerEmail {
			continue
		}
		if !match(f.Search, l.Key, l.OwnerEmail, l.Notes) {
			continue
		}
		rows = append(rows, *cloneLicense(l))
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].Key < rows[j].Key
	})
	return page(rows, database.ListFilter{Limit: f.Limit, Offset: f.Offset}), len(rows), nil
}

func (s *Store) UpdateLicense(ctx context.Context, l *database.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.licenses[l.Key]
	if !ok {
		return database.ErrNotFound
	}
	if cur.RowVersion != l.RowVersion {
		return database.ErrVersionConflict
	}
	l.RowVersion++
	l.UpdatedAt = time.Now().UTC()
	s.licenses[l.Key] = cloneLicense(l)
	return nil
}

func (s *Store) TouchLicense(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.licenses[key]; ok {
		l.LastSeenAt = &at
	}
	return nil
}

func (s *Store) DeleteLicense(ctx context.Context, key string) (bool, error) {
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

func (s *Store) ListOverdueLicenses(ctx context.Context, now time.Time) ([]database.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.License
	for _, l := range s.licenses {
		if l.Status == database.LicenseActive && !now.Before(l.ExpiresAt()) {
			out = append(out, *cloneLicense(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) ListLicenseDevices(ctx context.Context, licenseID string) ([]database.LicenseDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.LicenseDevice(nil), s.devices[licenseID]...), nil
}

func (s *Store) UpsertLicenseDevice(ctx context.Context, d *database.LicenseDevice) error {
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
	d.ID = uuid.NewString()
	d.FirstSeenAt = d.LastSeenAt
	s.devices[d.LicenseID] = append(list, *d)
	return nil
}

func (s *Store) SetLicenseDeviceActive(ctx context.Context, licenseID, deviceID string, active bool) (bool, error) {
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

func (s *Store) DeactivateLicenseDevices(ctx context.Context, licenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices[licenseID] {
		s.devices[licenseID][i].IsActive = false
	}
	return nil
}

func (s *Store) LogLicenseUsage(ctx context.Context, entry *database.LicenseUsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.usage = append(s.usage, *entry)
	return nil
}

// ListLicenseUsageLogs returns the newest entries first.
func (s *Store) ListLicenseUsageLogs(ctx context.Context, key string, limit int) ([]database.LicenseUsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.LicenseUsageLog
	for i := len(s.usage) - 1; i >= 0 && len(out) < limit; i-- {
		if s.usage[i].LicenseKey == key {
			out = append(out, s.usage[i])
		}
	}
	return out, nil
}

func (s *Store) GetLicenseStats(ctx context.Context) (*database.LicenseStats, error) {
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
