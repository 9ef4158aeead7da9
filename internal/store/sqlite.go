// Package store provides storage backends for LeadPipe.
//
// This file implements the SQLite-backed store. Flow definitions and session
// snapshots are persisted as JSON documents with the filterable attributes
// promoted to columns.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/leadpipe/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveFlow stores or updates a flow definition, enforcing the
// one-default-per-company invariant.
func (s *SQLiteStore) SaveFlow(f models.FlowDefinition) error {
	if f.IsDefault {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM flows WHERE company_id = ? AND is_default = 1 AND id != ?`, f.CompanyID, f.ID).Scan(&count)
		if err != nil {
			slog.Error("SQLiteStore SaveFlow default check failed", "error", err, "flowID", f.ID)
			return fmt.Errorf("failed to check default flows: %w", err)
		}
		if count > 0 {
			return ErrDuplicateDefault
		}
	}

	doc, err := json.Marshal(f)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow marshal failed", "error", err, "flowID", f.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO flows (id, company_id, unit_id, is_active, is_default, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.CompanyID, nilIfEmpty(f.UnitID), f.IsActive, f.IsDefault, string(doc), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "flowID", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	slog.Debug("SQLiteStore SaveFlow succeeded", "flowID", f.ID, "companyID", f.CompanyID)
	return nil
}

// GetFlow retrieves a flow definition by id.
func (s *SQLiteStore) GetFlow(id string) (*models.FlowDefinition, error) {
	var doc string
	err := s.db.QueryRow(`SELECT definition FROM flows WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFlow not found", "flowID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return unmarshalFlow(doc)
}

// ListFlows returns the flows matching the filter, ordered by creation time
// then id.
func (s *SQLiteStore) ListFlows(filter FlowFilter) ([]models.FlowDefinition, error) {
	query := `SELECT definition FROM flows WHERE 1=1`
	var args []interface{}
	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.UnitID != "" {
		query += ` AND (unit_id IS NULL OR unit_id = '' OR unit_id = ?)`
		args = append(args, filter.UnitID)
	}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListFlows query failed", "error", err, "companyID", filter.CompanyID)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.FlowDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			slog.Error("SQLiteStore ListFlows scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		f, err := unmarshalFlow(doc)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *f)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListFlows rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	slog.Debug("SQLiteStore ListFlows succeeded", "companyID", filter.CompanyID, "count", len(flows))
	return flows, nil
}

// DeleteFlow removes a flow unless active sessions still reference it.
func (s *SQLiteStore) DeleteFlow(id string) error {
	var active int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE flow_id = ? AND status = ?`, id, models.SessionStatusActive).Scan(&active)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow session check failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to check sessions for flow %s: %w", id, err)
	}
	if active > 0 {
		return ErrFlowInUse
	}

	res, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("SQLiteStore DeleteFlow succeeded", "flowID", id)
	return nil
}

// SaveSession stores or replaces a session snapshot in a single write.
func (s *SQLiteStore) SaveSession(sess models.ConversationSession) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "sessionID", sess.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sessions (id, lead_id, company_id, flow_id, status, session, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.LeadID, sess.CompanyID, sess.FlowID, sess.Status, string(doc), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", sess.ID, "status", sess.Status)
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(id string) (*models.ConversationSession, error) {
	var doc string
	err := s.db.QueryRow(`SELECT session FROM sessions WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return unmarshalSession(doc)
}

// GetActiveSessionForLead returns the lead's most recent active session.
func (s *SQLiteStore) GetActiveSessionForLead(leadID string) (*models.ConversationSession, error) {
	var doc string
	err := s.db.QueryRow(`
		SELECT session FROM sessions WHERE lead_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`, leadID, models.SessionStatusActive).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveSessionForLead failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to get active session for lead %s: %w", leadID, err)
	}
	return unmarshalSession(doc)
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// AddResponse records an inbound response.
func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (message_id, sender, body, time) VALUES (?, ?, ?, ?)`,
		nilIfEmpty(r.ID), r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	slog.Debug("SQLiteStore AddResponse succeeded", "from", r.From)
	return nil
}

// GetResponses retrieves all stored responses.
func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT COALESCE(message_id, ''), sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.ID, &r.From, &r.Body, &r.Time); err != nil {
			slog.Error("SQLiteStore GetResponses scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	return responses, nil
}

// AddAssignment records a hot-lead assignment request.
func (s *SQLiteStore) AddAssignment(a models.AssignmentRequest) error {
	_, err := s.db.Exec(`INSERT INTO assignments (id, lead_id, session_id, company_id, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeadID, a.SessionID, a.CompanyID, a.Role, a.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddAssignment failed", "error", err, "leadID", a.LeadID)
		return fmt.Errorf("failed to insert assignment for %s: %w", a.LeadID, err)
	}
	slog.Debug("SQLiteStore AddAssignment succeeded", "leadID", a.LeadID, "role", a.Role)
	return nil
}

// GetAssignments retrieves all stored assignment requests.
func (s *SQLiteStore) GetAssignments() ([]models.AssignmentRequest, error) {
	rows, err := s.db.Query(`SELECT id, lead_id, session_id, company_id, COALESCE(role, ''), created_at FROM assignments ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore GetAssignments query failed", "error", err)
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.AssignmentRequest
	for rows.Next() {
		var a models.AssignmentRequest
		if err := rows.Scan(&a.ID, &a.LeadID, &a.SessionID, &a.CompanyID, &a.Role, &a.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetAssignments scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignment rows: %w", err)
	}
	return assignments, nil
}

// WasProcessed reports whether a message id has been processed already.
func (s *SQLiteStore) WasProcessed(messageID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM processed_messages WHERE message_id = ?`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore WasProcessed failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return true, nil
}

// MarkProcessed records a message id as processed.
func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO processed_messages (message_id, processed_at) VALUES (?, ?)`,
		messageID, time.Now())
	if err != nil {
		slog.Error("SQLiteStore MarkProcessed failed", "error", err, "messageID", messageID)
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
