package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"notionflow/internal/models"
)

const postgresOperationTimeout = 10 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore implements Store on top of a Postgres database. The schema
// is bootstrapped lazily on first use.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a store for the given DSN. The connection is not
// opened until the first operation.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store: empty postgres DSN")
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		for _, stmt := range schemaStatements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("store: schema bootstrap: %w", err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

// The unique index on (user_id, external_id, source_platform) is what makes
// the upsert atomic: concurrent syncs for the same user cannot race a
// select-then-insert into duplicate rows.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS calendars (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		calendar_id TEXT NOT NULL REFERENCES calendars(id),
		external_id TEXT NOT NULL,
		source_platform TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ NOT NULL,
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (end_at > start_at),
		UNIQUE (user_id, external_id, source_platform)
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_sync_configs (
		user_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		secrets TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		consecutive_failures INT NOT NULL DEFAULT 0,
		last_synced_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, platform)
	)`,
}

func (s *PostgresStore) ActiveCalendars(ctx context.Context, userID string) ([]models.Calendar, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, active, created_at
		 FROM calendars WHERE user_id = $1 AND active ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []models.Calendar
	for rows.Next() {
		var cal models.Calendar
		if err := rows.Scan(&cal.ID, &cal.UserID, &cal.Name, &cal.Active, &cal.CreatedAt); err != nil {
			return nil, err
		}
		calendars = append(calendars, cal)
	}
	return calendars, rows.Err()
}

func (s *PostgresStore) CreateCalendar(ctx context.Context, cal models.Calendar) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if cal.ID == "" {
		cal.ID = uuid.New().String()
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (id, user_id, name, active) VALUES ($1, $2, $3, $4)`,
		cal.ID, cal.UserID, cal.Name, cal.Active)
	return err
}

func (s *PostgresStore) ExistingExternalIDs(ctx context.Context, userID string, platform models.Platform, externalIDs []string) (map[string]struct{}, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM calendar_events
		 WHERE user_id = $1 AND source_platform = $2 AND external_id = ANY($3)`,
		userID, string(platform), pq.Array(externalIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

func (s *PostgresStore) UpsertEvents(ctx context.Context, events []models.CanonicalEvent) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	events = dedupeByNaturalKey(events)
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO calendar_events
		(id, user_id, calendar_id, external_id, source_platform, title, description, start_at, end_at, all_day)
		VALUES `)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			uuid.New().String(), ev.UserID, ev.CalendarID, ev.ExternalID, string(ev.Platform),
			ev.Title, ev.Description, ev.Start, ev.End, ev.AllDay)
	}
	sb.WriteString(`
		ON CONFLICT (user_id, external_id, source_platform)
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			all_day = EXCLUDED.all_day,
			updated_at = NOW()`)

	res, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	written, err := res.RowsAffected()
	if err != nil {
		return len(events), nil
	}
	return int(written), nil
}

// dedupeByNaturalKey collapses events that share (user, external id,
// platform), keeping the last occurrence. Postgres rejects a single
// ON CONFLICT statement that would touch the same row twice; recurring
// CalDAV events with overrides can surface one UID several times in a
// batch.
func dedupeByNaturalKey(events []models.CanonicalEvent) []models.CanonicalEvent {
	if len(events) < 2 {
		return events
	}
	index := make(map[string]int, len(events))
	deduped := make([]models.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		key := ev.UserID + "\x00" + ev.ExternalID + "\x00" + string(ev.Platform)
		if i, ok := index[key]; ok {
			deduped[i] = ev
			continue
		}
		index[key] = len(deduped)
		deduped = append(deduped, ev)
	}
	return deduped
}

func (s *PostgresStore) Credential(ctx context.Context, userID string, platform models.Platform) (*models.SyncCredential, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var (
		cred     models.SyncCredential
		secrets  string
		lastSync sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, platform, secrets, enabled, consecutive_failures, last_synced_at
		 FROM calendar_sync_configs WHERE user_id = $1 AND platform = $2`,
		userID, string(platform)).
		Scan(&cred.UserID, &cred.Platform, &secrets, &cred.Enabled, &cred.ConsecutiveFailures, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		cred.LastSyncedAt = lastSync.Time
	}
	if err := json.Unmarshal([]byte(secrets), &cred.Secrets); err != nil {
		return nil, fmt.Errorf("store: decode credential secrets: %w", err)
	}
	return &cred, nil
}

func (s *PostgresStore) SaveCredential(ctx context.Context, cred *models.SyncCredential) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	secrets, err := json.Marshal(cred.Secrets)
	if err != nil {
		return fmt.Errorf("store: encode credential secrets: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var lastSync any
	if !cred.LastSyncedAt.IsZero() {
		lastSync = cred.LastSyncedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendar_sync_configs (user_id, platform, secrets, enabled, consecutive_failures, last_synced_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (user_id, platform)
		 DO UPDATE SET
			secrets = EXCLUDED.secrets,
			enabled = EXCLUDED.enabled,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()`,
		cred.UserID, string(cred.Platform), string(secrets), cred.Enabled, cred.ConsecutiveFailures, lastSync)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
