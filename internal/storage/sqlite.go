package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

//go:embed schema.sql
var schemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes claims within one process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

// sqliteDSN carries the pragmas in the DSN so the driver applies them to
// every connection the pool opens, not just the first.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return path + "?" + q.Encode()
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobCols = `id, owner, topic, platforms, style, scheduled_at, status, content_json, outcome_json, rule_id, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(rs rowScanner) (*models.Job, error) {
	var (
		j                        models.Job
		platforms, status        string
		content, outcome, ruleID sql.NullString
		sched, created, updated  int64
		completed                sql.NullInt64
	)
	if err := rs.Scan(&j.ID, &j.Owner, &j.Topic, &platforms, &j.Style, &sched, &status,
		&content, &outcome, &ruleID, &created, &updated, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(platforms), &j.Platforms); err != nil {
		return nil, fmt.Errorf("job %s: platforms: %w", j.ID, err)
	}
	if content.Valid && content.String != "" {
		if err := json.Unmarshal([]byte(content.String), &j.Content); err != nil {
			return nil, fmt.Errorf("job %s: content: %w", j.ID, err)
		}
	}
	if outcome.Valid && outcome.String != "" {
		var o models.OutcomeSummary
		if err := json.Unmarshal([]byte(outcome.String), &o); err != nil {
			return nil, fmt.Errorf("job %s: outcome: %w", j.ID, err)
		}
		j.Outcome = &o
	}
	j.Status = models.Status(status)
	j.RuleID = ruleID.String
	j.ScheduledAt = fromUnixNano(sched)
	j.CreatedAt = fromUnixNano(created)
	j.UpdatedAt = fromUnixNano(updated)
	if completed.Valid {
		t := fromUnixNano(completed.Int64)
		j.CompletedAt = &t
	}
	return &j, nil
}

func queryJobs(ctx context.Context, db *sql.DB, q string, args ...any) ([]*models.Job, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) insertJob(ctx context.Context, verb string, job *models.Job) (sql.Result, error) {
	platforms, err := json.Marshal(job.Platforms)
	if err != nil {
		return nil, err
	}
	content, err := marshalNullable(job.Content)
	if err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx, verb+` INTO jobs(`+jobCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Owner, job.Topic, string(platforms), job.Style, job.ScheduledAt.UnixNano(),
		string(job.Status), content, nil, nullStr(job.RuleID),
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(), nil,
	)
}

func (s *sqliteStore) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	if err := prepareJob(job, s.now()); err != nil {
		return "", err
	}
	if _, err := s.insertJob(ctx, "INSERT", job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryJobs(ctx, s.db,
		`SELECT `+jobCols+` FROM jobs
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, created_at ASC, rowid ASC
		 LIMIT ?`,
		string(models.StatusPending), now.UnixNano(), limit,
	)
}

func (s *sqliteStore) Claim(ctx context.Context, id string, to models.Status, now time.Time) (bool, error) {
	if err := checkClaimTarget(to); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now.UnixNano(), id, string(models.StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	return true, tx.Commit()
}

func (s *sqliteStore) Transition(ctx context.Context, id string, from, to models.Status, u Update) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), s.now().UnixNano()}
	if u.Content != nil {
		b, err := json.Marshal(u.Content)
		if err != nil {
			return err
		}
		sets = append(sets, "content_json = ?")
		args = append(args, string(b))
	}
	if u.Outcome != nil {
		b, err := json.Marshal(u.Outcome)
		if err != nil {
			return err
		}
		sets = append(sets, "outcome_json = ?")
		args = append(args, string(b))
	}
	if u.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, u.CompletedAt.UnixNano())
	}
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (s *sqliteStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryJobs(ctx, s.db,
		`SELECT `+jobCols+` FROM jobs WHERE owner = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		owner, limit,
	)
}

func (s *sqliteStore) Stuck(ctx context.Context, before time.Time) ([]*models.Job, error) {
	return queryJobs(ctx, s.db,
		`SELECT `+jobCols+` FROM jobs
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC`,
		string(models.StatusGenerating), string(models.StatusPublishing), before.UnixNano(),
	)
}

const ruleCols = `id, owner, name, topic_template, platforms, style, frequency, time_slots, active, created_at, expanded_until`

func scanRule(rs rowScanner) (*models.Rule, error) {
	var (
		r                 models.Rule
		platforms, slots  string
		freq              string
		active            int
		created, expanded int64
	)
	if err := rs.Scan(&r.ID, &r.Owner, &r.Name, &r.TopicTemplate, &platforms, &r.Style,
		&freq, &slots, &active, &created, &expanded); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(platforms), &r.Platforms); err != nil {
		return nil, fmt.Errorf("rule %s: platforms: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(slots), &r.TimeSlots); err != nil {
		return nil, fmt.Errorf("rule %s: time_slots: %w", r.ID, err)
	}
	r.Frequency = models.Frequency(freq)
	r.Active = active != 0
	r.CreatedAt = fromUnixNano(created)
	r.ExpandedUntil = fromUnixNano(expanded)
	return &r, nil
}

func (s *sqliteStore) queryRules(ctx context.Context, q string, args ...any) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateRule(ctx context.Context, r *models.Rule) (string, error) {
	if err := prepareRule(r, s.now()); err != nil {
		return "", err
	}
	platforms, err := json.Marshal(r.Platforms)
	if err != nil {
		return "", err
	}
	slots, err := json.Marshal(r.TimeSlots)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules(`+ruleCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Owner, r.Name, r.TopicTemplate, string(platforms), r.Style,
		string(r.Frequency), string(slots), boolInt(r.Active),
		r.CreatedAt.UnixNano(), r.ExpandedUntil.UnixNano(),
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *sqliteStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) ListRules(ctx context.Context, owner string) ([]*models.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleCols+` FROM rules WHERE owner = ? ORDER BY created_at ASC, rowid ASC`, owner)
}

func (s *sqliteStore) ActiveRules(ctx context.Context) ([]*models.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleCols+` FROM rules WHERE active = 1 ORDER BY created_at ASC, rowid ASC`)
}

func (s *sqliteStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *sqliteStore) MaterializeRuleJob(ctx context.Context, job *models.Job) (bool, error) {
	if job == nil || job.RuleID == "" {
		return false, errors.New("materialize: rule id is required")
	}
	if err := prepareJob(job, s.now()); err != nil {
		return false, err
	}
	res, err := s.insertJob(ctx, "INSERT OR IGNORE", job)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) AdvanceRuleCursor(ctx context.Context, id string, until time.Time) error {
	// Never move the cursor backwards.
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET expanded_until = MAX(expanded_until, ?) WHERE id = ?`,
		until.UnixNano(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *sqliteStore) LinkAccount(ctx context.Context, a models.LinkedAccount) error {
	var expires any
	if a.ExpiresAt != nil {
		expires = a.ExpiresAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO linked_accounts(owner, platform, account_name, credential, external_id, active, expires_at, updated_at)
		 VALUES(?,?,?,?,?,1,?,?)
		 ON CONFLICT(owner, platform) DO UPDATE SET
		   account_name = excluded.account_name,
		   credential = excluded.credential,
		   external_id = excluded.external_id,
		   active = 1,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		a.Owner, a.Platform, nullStr(a.AccountName), a.Credential, nullStr(a.ExternalID),
		expires, s.now().UnixNano(),
	)
	return err
}

func (s *sqliteStore) UnlinkAccount(ctx context.Context, owner, platform string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE linked_accounts SET active = 0, updated_at = ? WHERE owner = ? AND platform = ?`,
		s.now().UnixNano(), owner, platform,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const accountCols = `owner, platform, account_name, credential, external_id, active, expires_at`

func scanAccount(rs rowScanner) (models.LinkedAccount, error) {
	var (
		a           models.LinkedAccount
		name, extID sql.NullString
		active      int
		expires     sql.NullInt64
	)
	if err := rs.Scan(&a.Owner, &a.Platform, &name, &a.Credential, &extID, &active, &expires); err != nil {
		return a, err
	}
	a.AccountName = name.String
	a.ExternalID = extID.String
	a.Active = active != 0
	if expires.Valid {
		t := fromUnixNano(expires.Int64)
		a.ExpiresAt = &t
	}
	return a, nil
}

func (s *sqliteStore) FindAccount(ctx context.Context, owner, platform string) (*models.LinkedAccount, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM linked_accounts WHERE owner = ? AND platform = ? AND active = 1`,
		owner, platform,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *sqliteStore) ListAccounts(ctx context.Context, owner string) ([]models.LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM linked_accounts WHERE owner = ? ORDER BY platform ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.LinkedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalNullable(m map[string]models.Content) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Timestamps are stored as unix nanoseconds so Due compares at the same
// precision as the memory driver.
func fromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
