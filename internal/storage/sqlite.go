package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"campwatch/internal/model"
	"campwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers such as the matches_found counter.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

const userColumns = `id, email, display_name, phone_number, telegram_chat_id, tier,
	notify_methods, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone, created_at`

// CreateUser inserts a user profile and populates CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Format(timeLayout)
	p := u.Preferences
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.PhoneNumber, u.TelegramChatID, string(u.Tier),
		joinMethods(p.Methods), boolToInt(p.QuietHoursEnabled), p.QuietHoursStart, p.QuietHoursEnd,
		p.Timezone, now,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetUser returns a single user by id.
func (s *SQLite) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByTelegramChat returns the user linked to a Telegram chat.
func (s *SQLite) GetUserByTelegramChat(ctx context.Context, chatID int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_chat_id = ? AND telegram_chat_id != 0 LIMIT 1`, chatID,
	)
	return scanUser(row)
}

// ListUserIDsByTier returns the ids of all users on the given tier.
func (s *SQLite) ListUserIDsByTier(ctx context.Context, tier model.Tier) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE tier = ? ORDER BY id`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- alerts ---

const alertColumns = `id, user_id, name, park_system, park_id, park_name, campground_id, campground_name,
	site_types, date_range_start, date_range_end, flexible_dates, min_nights, max_nights,
	specific_site_ids, is_active, created_at, updated_at, last_checked, matches_found`

// CreateAlert inserts a new alert and populates CreatedAt and UpdatedAt.
func (s *SQLite) CreateAlert(ctx context.Context, a *model.Alert) error {
	now := time.Now().UTC().Format(timeLayout)
	siteTypes := make([]string, len(a.SiteTypes))
	for i, st := range a.SiteTypes {
		siteTypes[i] = string(st)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, string(a.ParkSystem), a.ParkID, a.ParkName, a.CampgroundID, a.CampgroundName,
		strings.Join(siteTypes, ","), model.FormatDate(a.DateRangeStart), model.FormatDate(a.DateRangeEnd),
		boolToInt(a.FlexibleDates), a.MinNights, a.MaxNights, strings.Join(a.SpecificSiteIDs, ","),
		boolToInt(a.IsActive), now, now, nullTime(a.LastChecked), a.MatchesFound,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	a.UpdatedAt = a.CreatedAt
	return nil
}

// GetAlert returns a single alert by id.
func (s *SQLite) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// ListAlerts returns every alert owned by userID.
func (s *SQLite) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE user_id = ? ORDER BY created_at, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// ListActiveAlerts returns the active alerts owned by userID.
func (s *SQLite) ListActiveAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE user_id = ? AND is_active = 1 ORDER BY created_at, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// TouchAlertChecked records when the alert was last polled.
func (s *SQLite) TouchAlertChecked(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET last_checked = ? WHERE id = ?`, at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update last checked: %w", err)
	}
	return expectRow(res, "alert", id)
}

// IncrementMatchesFound adds one to the alert's match counter in a single statement.
func (s *SQLite) IncrementMatchesFound(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET matches_found = matches_found + 1, updated_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("increment matches found: %w", err)
	}
	return expectRow(res, "alert", id)
}

// --- matches ---

const matchColumns = `id, alert_id, user_id, park_system, park_name, campground_name, site_name, site_id,
	site_type, available_dates, reservation_url, found_at, notified_at, notification_methods, is_expired`

// CreateMatch inserts a match. It returns ErrDuplicateMatch when a non-expired
// match with the same site and date ranges already exists for the alert.
func (s *SQLite) CreateMatch(ctx context.Context, m *model.AlertMatch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_matches (`+matchColumns+`, dedup_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AlertID, m.UserID, string(m.ParkSystem), m.ParkName, m.CampgroundName, m.SiteName, m.SiteID,
		string(m.SiteType), model.EncodeRanges(m.AvailableDates), m.ReservationURL,
		m.FoundAt.UTC().Format(timeLayout), nullTime(m.NotifiedAt), joinMethods(m.NotificationMethods),
		boolToInt(m.IsExpired), m.DedupKey(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert match %s: %w", m.DedupKey(), ErrDuplicateMatch)
		}
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// ListOpenMatches returns the non-expired matches of an alert.
func (s *SQLite) ListOpenMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM alert_matches WHERE alert_id = ? AND is_expired = 0 ORDER BY found_at, id`,
		alertID,
	)
}

// ListAllOpenMatches returns every non-expired match.
func (s *SQLite) ListAllOpenMatches(ctx context.Context) ([]model.AlertMatch, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM alert_matches WHERE is_expired = 0 ORDER BY found_at, id`,
	)
}

// ListPendingMatches returns non-expired matches that were never notified,
// grouped by alert.
func (s *SQLite) ListPendingMatches(ctx context.Context) ([]model.AlertMatch, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM alert_matches
		 WHERE is_expired = 0 AND notified_at IS NULL ORDER BY alert_id, found_at, id`,
	)
}

// ListMatches returns all matches of an alert, newest first.
func (s *SQLite) ListMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM alert_matches WHERE alert_id = ? ORDER BY found_at DESC, id`,
		alertID,
	)
}

// MarkNotified stamps notified_at and the delivery methods on all ids in one transaction.
func (s *SQLite) MarkNotified(ctx context.Context, ids []string, at time.Time, methods []model.NotificationMethod) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := at.UTC().Format(timeLayout)
	joined := joinMethods(methods)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE alert_matches SET notified_at = ?, notification_methods = ? WHERE id = ?`,
			stamp, joined, id,
		); err != nil {
			return fmt.Errorf("mark notified %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ExpireMatches flags the given matches as expired in one transaction.
func (s *SQLite) ExpireMatches(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE alert_matches SET is_expired = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("expire match %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) queryMatches(ctx context.Context, query string, args ...any) ([]model.AlertMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.AlertMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinMethods(methods []model.NotificationMethod) string {
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

func splitMethods(s string) []model.NotificationMethod {
	var out []model.NotificationMethod
	for _, part := range splitList(s) {
		out = append(out, model.NotificationMethod(part))
	}
	return out
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var tier, methods, created string
	var quiet int
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhoneNumber, &u.TelegramChatID, &tier,
		&methods, &quiet, &u.Preferences.QuietHoursStart, &u.Preferences.QuietHoursEnd,
		&u.Preferences.Timezone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Tier = model.Tier(tier)
	u.Preferences.Methods = splitMethods(methods)
	u.Preferences.QuietHoursEnabled = quiet == 1
	u.CreatedAt, _ = time.Parse(timeLayout, created)
	return &u, nil
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var system, siteTypes, start, end, specific, created, updated string
	var flexible, active int
	var lastChecked sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &system, &a.ParkID, &a.ParkName, &a.CampgroundID,
		&a.CampgroundName, &siteTypes, &start, &end, &flexible, &a.MinNights, &a.MaxNights,
		&specific, &active, &created, &updated, &lastChecked, &a.MatchesFound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan alert: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.ParkSystem = model.ParkSystem(system)
	for _, st := range splitList(siteTypes) {
		a.SiteTypes = append(a.SiteTypes, model.SiteType(st))
	}
	if a.DateRangeStart, err = model.ParseDate(start); err != nil {
		return nil, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	if a.DateRangeEnd, err = model.ParseDate(end); err != nil {
		return nil, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	a.FlexibleDates = flexible == 1
	a.SpecificSiteIDs = splitList(specific)
	a.IsActive = active == 1
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	a.UpdatedAt, _ = time.Parse(timeLayout, updated)
	a.LastChecked = parseNullTime(lastChecked)
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanMatch(row scannable) (*model.AlertMatch, error) {
	var m model.AlertMatch
	var system, siteType, dates, found, methods string
	var notified sql.NullString
	var expired int
	err := row.Scan(&m.ID, &m.AlertID, &m.UserID, &system, &m.ParkName, &m.CampgroundName, &m.SiteName,
		&m.SiteID, &siteType, &dates, &m.ReservationURL, &found, &notified, &methods, &expired)
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	m.ParkSystem = model.ParkSystem(system)
	m.SiteType = model.SiteType(siteType)
	if m.AvailableDates, err = model.DecodeRanges(dates); err != nil {
		return nil, fmt.Errorf("match %s: %w", m.ID, err)
	}
	m.FoundAt, _ = time.Parse(timeLayout, found)
	m.NotifiedAt = parseNullTime(notified)
	m.NotificationMethods = splitMethods(methods)
	m.IsExpired = expired == 1
	return &m, nil
}
