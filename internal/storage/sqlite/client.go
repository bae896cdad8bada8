package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

var ErrCaseNotFound = errors.New("case not found")

const (
	tagKindOpen  = "open"
	tagKindClose = "close"

	refKindJira = "jira"
	refKindKB   = "kb"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		case_number TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		description TEXT,
		product TEXT,
		priority TEXT,
		status TEXT,
		account_name TEXT,
		resolution_notes TEXT,
		escalation TEXT,
		created_at INTEGER,
		closed_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cases_product ON cases(product);
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_closed ON cases(closed_at);

	CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_number TEXT NOT NULL,
		direction TEXT NOT NULL,
		author TEXT,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (case_number) REFERENCES cases(case_number) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_comments_case ON comments(case_number);

	CREATE TABLE IF NOT EXISTS emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_number TEXT NOT NULL,
		direction TEXT NOT NULL,
		from_address TEXT,
		body TEXT NOT NULL,
		is_html INTEGER DEFAULT 0,
		sent_at INTEGER NOT NULL,
		FOREIGN KEY (case_number) REFERENCES cases(case_number) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_emails_case ON emails(case_number);

	CREATE TABLE IF NOT EXISTS timeline_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_number TEXT NOT NULL,
		event_type TEXT NOT NULL,
		description TEXT,
		occurred_at INTEGER NOT NULL,
		FOREIGN KEY (case_number) REFERENCES cases(case_number) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_timeline_case ON timeline_events(case_number);

	CREATE TABLE IF NOT EXISTS case_tags (
		case_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (case_number, kind, position),
		FOREIGN KEY (case_number) REFERENCES cases(case_number) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS case_references (
		case_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		ref_key TEXT NOT NULL,
		PRIMARY KEY (case_number, kind, position),
		FOREIGN KEY (case_number) REFERENCES cases(case_number) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_references_key ON case_references(ref_key);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertCase replaces a case and all of its child rows.
func (c *Client) UpsertCase(ctx context.Context, cs *models.Case) error {
	if cs == nil || strings.TrimSpace(cs.CaseNumber) == "" {
		return fmt.Errorf("case number is required")
	}

	var escalation []byte
	if cs.Escalation != nil {
		data, err := json.Marshal(cs.Escalation)
		if err != nil {
			return fmt.Errorf("failed to marshal escalation: %w", err)
		}
		escalation = data
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO cases (case_number, subject, description, product, priority, status, account_name,
			resolution_notes, escalation, created_at, closed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_number) DO UPDATE SET
			subject = excluded.subject,
			description = excluded.description,
			product = excluded.product,
			priority = excluded.priority,
			status = excluded.status,
			account_name = excluded.account_name,
			resolution_notes = excluded.resolution_notes,
			escalation = excluded.escalation,
			created_at = excluded.created_at,
			closed_at = excluded.closed_at,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		cs.CaseNumber,
		cs.Subject,
		cs.Description,
		cs.Product,
		cs.Priority,
		cs.Status,
		cs.AccountName,
		cs.ResolutionNotes,
		nullString(escalation),
		unixOrNull(cs.CreatedAt),
		unixOrNull(cs.ClosedAt),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert case: %w", err)
	}

	for _, table := range []string{"comments", "emails", "timeline_events", "case_tags", "case_references"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE case_number = ?", cs.CaseNumber); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, m := range cs.Messages {
		if m.Channel == "email" {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO emails (case_number, direction, from_address, body, is_html, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
				cs.CaseNumber, string(m.Direction), m.Author, m.Content, boolToInt(m.IsHTML), m.Timestamp.Unix())
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO comments (case_number, direction, author, body, created_at) VALUES (?, ?, ?, ?, ?)`,
				cs.CaseNumber, string(m.Direction), m.Author, m.Content, m.Timestamp.Unix())
		}
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	for _, e := range cs.TimelineEvents {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO timeline_events (case_number, event_type, description, occurred_at) VALUES (?, ?, ?, ?)`,
			cs.CaseNumber, e.Type, e.Description, e.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert timeline event: %w", err)
		}
	}

	if err := insertList(ctx, tx, "case_tags", "tag", cs.CaseNumber, tagKindOpen, cs.OpenTags); err != nil {
		return err
	}
	if err := insertList(ctx, tx, "case_tags", "tag", cs.CaseNumber, tagKindClose, cs.CloseTags); err != nil {
		return err
	}
	if err := insertList(ctx, tx, "case_references", "ref_key", cs.CaseNumber, refKindJira, cs.JiraKeys); err != nil {
		return err
	}
	if err := insertList(ctx, tx, "case_references", "ref_key", cs.CaseNumber, refKindKB, cs.KBArticles); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit case: %w", err)
	}

	logger.Debug("Case stored", zap.String("case_number", cs.CaseNumber), zap.Int("messages", len(cs.Messages)))
	return nil
}

func insertList(ctx context.Context, tx *sql.Tx, table, column, caseNumber, kind string, values []string) error {
	query := fmt.Sprintf(`INSERT INTO %s (case_number, kind, position, %s) VALUES (?, ?, ?, ?)`, table, column)
	for i, v := range values {
		if _, err := tx.ExecContext(ctx, query, caseNumber, kind, i, v); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// GetCase assembles a full case record. Comments and emails are merged
// into one chronological message list.
func (c *Client) GetCase(ctx context.Context, caseNumber string) (*models.Case, error) {
	query := `
		SELECT case_number, subject, description, product, priority, status, account_name,
			resolution_notes, escalation, created_at, closed_at
		FROM cases WHERE case_number = ?
	`

	var cs models.Case
	var description, product, priority, status, account, resolution, escalation sql.NullString
	var createdAt, closedAt sql.NullInt64

	err := c.db.QueryRowContext(ctx, query, caseNumber).Scan(
		&cs.CaseNumber,
		&cs.Subject,
		&description,
		&product,
		&priority,
		&status,
		&account,
		&resolution,
		&escalation,
		&createdAt,
		&closedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}

	cs.Description = description.String
	cs.Product = product.String
	cs.Priority = priority.String
	cs.Status = status.String
	cs.AccountName = account.String
	cs.ResolutionNotes = resolution.String
	cs.CreatedAt = timeOrNil(createdAt)
	cs.ClosedAt = timeOrNil(closedAt)

	if escalation.Valid && escalation.String != "" {
		var e models.Escalation
		if err := json.Unmarshal([]byte(escalation.String), &e); err != nil {
			logger.Warn("Ignoring malformed escalation", zap.String("case_number", caseNumber), zap.Error(err))
		} else {
			cs.Escalation = &e
		}
	}

	if cs.Messages, err = c.messages(ctx, caseNumber); err != nil {
		return nil, err
	}
	if cs.TimelineEvents, err = c.timeline(ctx, caseNumber); err != nil {
		return nil, err
	}

	lists, err := c.lists(ctx, "case_tags", "tag", caseNumber)
	if err != nil {
		return nil, err
	}
	cs.OpenTags = lists[tagKindOpen]
	cs.CloseTags = lists[tagKindClose]

	refs, err := c.lists(ctx, "case_references", "ref_key", caseNumber)
	if err != nil {
		return nil, err
	}
	cs.JiraKeys = refs[refKindJira]
	cs.KBArticles = refs[refKindKB]

	return &cs, nil
}

func (c *Client) messages(ctx context.Context, caseNumber string) ([]models.Message, error) {
	query := `
		SELECT direction, COALESCE(author, ''), body, 0, created_at, 'comment' FROM comments WHERE case_number = ?
		UNION ALL
		SELECT direction, COALESCE(from_address, ''), body, is_html, sent_at, 'email' FROM emails WHERE case_number = ?
	`
	rows, err := c.db.QueryContext(ctx, query, caseNumber, caseNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var direction string
		var isHTML int
		var ts int64
		if err := rows.Scan(&direction, &m.Author, &m.Content, &isHTML, &ts, &m.Channel); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Direction = models.Direction(direction)
		m.IsHTML = isHTML != 0
		m.Timestamp = time.Unix(ts, 0).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

func (c *Client) timeline(ctx context.Context, caseNumber string) ([]models.TimelineEvent, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT event_type, COALESCE(description, ''), occurred_at FROM timeline_events WHERE case_number = ? ORDER BY occurred_at, id`,
		caseNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer rows.Close()

	var events []models.TimelineEvent
	for rows.Next() {
		var e models.TimelineEvent
		var ts int64
		if err := rows.Scan(&e.Type, &e.Description, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (c *Client) lists(ctx context.Context, table, column, caseNumber string) (map[string][]string, error) {
	query := fmt.Sprintf(`SELECT kind, %s FROM %s WHERE case_number = ? ORDER BY kind, position`, column, table)
	rows, err := c.db.QueryContext(ctx, query, caseNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out[kind] = append(out[kind], value)
	}
	return out, rows.Err()
}

// CaseFilter narrows ListCaseNumbers. Zero values match everything.
type CaseFilter struct {
	Product      string
	Status       string
	ClosedOnly   bool
	ClosedAfter  *time.Time
	ClosedBefore *time.Time
	Limit        int
}

// ListCaseNumbers returns matching case numbers in ascending order.
func (c *Client) ListCaseNumbers(ctx context.Context, filter CaseFilter) ([]string, error) {
	var where []string
	var args []any

	if filter.Product != "" {
		where = append(where, "product = ?")
		args = append(args, filter.Product)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ClosedOnly {
		where = append(where, "closed_at IS NOT NULL")
	}
	if filter.ClosedAfter != nil {
		where = append(where, "closed_at >= ?")
		args = append(args, filter.ClosedAfter.Unix())
	}
	if filter.ClosedBefore != nil {
		where = append(where, "closed_at < ?")
		args = append(args, filter.ClosedBefore.Unix())
	}

	query := "SELECT case_number FROM cases"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY case_number"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan case number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func (c *Client) CountCases(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cases").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return n, nil
}

func unixOrNull(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
