package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"alumninet.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used in tests and when the API runs
// without a database DSN. It honors the same lifecycle invariants as the
// PostgreSQL store, including supersede-on-grant.
type MemStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	consents map[string][]*ConsentRecord
	entries  []*AuditEntry
}

func NewMemStore() *MemStore {
	return &MemStore{
		profiles: make(map[string]*Profile),
		consents: make(map[string][]*ConsentRecord),
	}
}

func (m *MemStore) Profiles() ProfileStore { return (*memProfiles)(m) }
func (m *MemStore) Consents() ConsentStore { return (*memConsents)(m) }
func (m *MemStore) Audit() AuditStore      { return (*memAudit)(m) }

// AuditLog returns a copy of the appended entries, oldest first.
func (m *MemStore) AuditLog() []*AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*AuditEntry(nil), m.entries...)
}

// Records returns a copy of all consent records for a profile.
func (m *MemStore) Records(profileID string) []*ConsentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ConsentRecord, 0, len(m.consents[profileID]))
	for _, r := range m.consents[profileID] {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

type memProfiles MemStore

func (m *memProfiles) Create(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.Status == "" {
		p.Status = ProfileActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *memProfiles) Find(_ context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) ListByAccount(_ context.Context, accountID string) ([]*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*Profile
	for _, p := range m.profiles {
		if p.AccountID == accountID {
			cp := *p
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *memProfiles) SetStatus(_ context.Context, id string, status ProfileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

type memConsents MemStore

func (m *memConsents) Latest(_ context.Context, profileID string) (*ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.consents[profileID]
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	latest := recs[0]
	for _, r := range recs[1:] {
		// Ids are time-sortable, so they break granted_at ties in favor
		// of the superseding record.
		if r.GrantedAt.After(latest.GrantedAt) ||
			(r.GrantedAt.Equal(latest.GrantedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *memConsents) Grant(_ context.Context, rec *ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	reason := RevokeReasonSuperseded
	for _, r := range m.consents[rec.ProfileID] {
		if r.Status == ConsentActive {
			at := rec.GrantedAt
			r.Status = ConsentRevoked
			r.RevokedAt = &at
			r.RevokeReason = &reason
		}
	}
	cp := *rec
	m.consents[rec.ProfileID] = append(m.consents[rec.ProfileID], &cp)
	return nil
}

func (m *memConsents) Revoke(_ context.Context, profileID, reason string, at time.Time) (*ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.consents[profileID] {
		if r.Status == ConsentActive {
			r.Status = ConsentRevoked
			r.RevokedAt = &at
			r.RevokeReason = &reason
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNoActiveConsent
}

func (m *memConsents) MarkExpired(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, recs := range m.consents {
		for _, r := range recs {
			if r.ID == recordID && r.Status == ConsentActive {
				r.Status = ConsentExpired
			}
		}
	}
	return nil
}

type memAudit MemStore

func (m *memAudit) Append(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}
