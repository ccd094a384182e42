package access

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"alumninet.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Profiles() ProfileStore { return &profileStore{db: s.db} }
func (s *PGStore) Consents() ConsentStore { return &consentStore{db: s.db} }
func (s *PGStore) Audit() AuditStore      { return &auditStore{db: s.db} }

// Profile store ------------------------------------------------------------

type profileStore struct{ db *sql.DB }

func (s *profileStore) Create(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.Status == "" {
		p.Status = ProfileActive
	}
	var explicit *string
	if p.ExplicitLevel != nil {
		v := string(*p.ExplicitLevel)
		explicit = &v
	}
	_, err := s.db.ExecContext(ctx,
		`insert into profiles(id, account_id, display_name, year_of_birth, explicit_access_level, requires_consent, status)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.AccountID, p.DisplayName, p.YearOfBirth, explicit, p.RequiresConsent, string(p.Status),
	)
	return err
}

func (s *profileStore) Find(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, display_name, year_of_birth, explicit_access_level, requires_consent, status, created_at, updated_at
		 from profiles where id=$1`, id)
	return scanProfile(row)
}

func (s *profileStore) ListByAccount(ctx context.Context, accountID string) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, account_id, display_name, year_of_birth, explicit_access_level, requires_consent, status, created_at, updated_at
		 from profiles where account_id=$1 order by created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *profileStore) SetStatus(ctx context.Context, id string, status ProfileStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update profiles set status=$2, updated_at=now() where id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p        Profile
		yob      sql.NullInt64
		explicit sql.NullString
		status   string
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.DisplayName, &yob, &explicit, &p.RequiresConsent, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if yob.Valid {
		v := int(yob.Int64)
		p.YearOfBirth = &v
	}
	if explicit.Valid {
		lvl := Level(explicit.String)
		p.ExplicitLevel = &lvl
	}
	p.Status = ProfileStatus(status)
	return &p, nil
}

// Consent store ------------------------------------------------------------

type consentStore struct{ db *sql.DB }

func (s *consentStore) Latest(ctx context.Context, profileID string) (*ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, profile_id, status, granted_by, granted_at, expires_at, revoked_at, revoked_reason
		 from consent_records where profile_id=$1 order by granted_at desc, id desc limit 1`, profileID)
	return scanConsent(row)
}

// Grant supersedes any active record and inserts the new one in a single
// transaction. Concurrent grants for the same profile serialize on the
// profile row lock, so the later transaction sees the earlier record and
// revokes it: last committed wins. The partial unique index on
// (profile_id) where status='active' backs the invariant up at the
// schema level.
func (s *consentStore) Grant(ctx context.Context, rec *ConsentRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx,
		`select id from profiles where id=$1 for update`, rec.ProfileID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`update consent_records set status='revoked', revoked_at=$2, revoked_reason=$3
		 where profile_id=$1 and status='active'`,
		rec.ProfileID, rec.GrantedAt, RevokeReasonSuperseded,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into consent_records(id, profile_id, status, granted_by, granted_at, expires_at)
		 values($1,$2,'active',$3,$4,$5)`,
		rec.ID, rec.ProfileID, rec.GrantedBy, rec.GrantedAt, rec.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *consentStore) Revoke(ctx context.Context, profileID, reason string, at time.Time) (*ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`update consent_records set status='revoked', revoked_at=$2, revoked_reason=$3
		 where profile_id=$1 and status='active'
		 returning id, profile_id, status, granted_by, granted_at, expires_at, revoked_at, revoked_reason`,
		profileID, at, reason)
	rec, err := scanConsent(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveConsent
	}
	return rec, err
}

func (s *consentStore) MarkExpired(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx,
		`update consent_records set status='expired' where id=$1 and status='active'`, recordID)
	return err
}

func scanConsent(row rowScanner) (*ConsentRecord, error) {
	var (
		rec     ConsentRecord
		status  string
		revoked sql.NullTime
		reason  sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.ProfileID, &status, &rec.GrantedBy, &rec.GrantedAt, &rec.ExpiresAt, &revoked, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = ConsentStatus(status)
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	if reason.Valid {
		r := reason.String
		rec.RevokeReason = &r
	}
	return &rec, nil
}

// Audit store --------------------------------------------------------------

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	// Account-level checks carry no profile; the column is nullable.
	profileID := sql.NullString{String: entry.ProfileID, Valid: entry.ProfileID != ""}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_entries(id, profile_id, age_at_check, action, context, ip, endpoint, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, profileID, entry.AgeAtCheck, string(entry.Action), entry.Context, entry.IP, entry.Endpoint, entry.CreatedAt,
	)
	return err
}
