// Package store provides storage backends for LeadPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/leadpipe/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveFlow stores or updates a flow definition, enforcing the
// one-default-per-company invariant.
func (s *PostgresStore) SaveFlow(f models.FlowDefinition) error {
	if f.IsDefault {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM flows WHERE company_id = $1 AND is_default AND id != $2`, f.CompanyID, f.ID).Scan(&count)
		if err != nil {
			slog.Error("PostgresStore SaveFlow default check failed", "error", err, "flowID", f.ID)
			return fmt.Errorf("failed to check default flows: %w", err)
		}
		if count > 0 {
			return ErrDuplicateDefault
		}
	}

	doc, err := json.Marshal(f)
	if err != nil {
		slog.Error("PostgresStore SaveFlow marshal failed", "error", err, "flowID", f.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO flows (id, company_id, unit_id, is_active, is_default, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id, unit_id = EXCLUDED.unit_id,
			is_active = EXCLUDED.is_active, is_default = EXCLUDED.is_default,
			definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		f.ID, f.CompanyID, nilIfEmpty(f.UnitID), f.IsActive, f.IsDefault, string(doc), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "flowID", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	slog.Debug("PostgresStore SaveFlow succeeded", "flowID", f.ID, "companyID", f.CompanyID)
	return nil
}

// GetFlow retrieves a flow definition by id.
func (s *PostgresStore) GetFlow(id string) (*models.FlowDefinition, error) {
	var doc string
	err := s.db.QueryRow(`SELECT definition FROM flows WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return unmarshalFlow(doc)
}

// ListFlows returns the flows matching the filter, ordered by creation time
// then id.
func (s *PostgresStore) ListFlows(filter FlowFilter) ([]models.FlowDefinition, error) {
	query := `SELECT definition FROM flows WHERE true`
	var args []interface{}
	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, len(args)+1)
		args = append(args, filter.CompanyID)
	}
	if filter.UnitID != "" {
		query += fmt.Sprintf(` AND (unit_id IS NULL OR unit_id = '' OR unit_id = $%d)`, len(args)+1)
		args = append(args, filter.UnitID)
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListFlows query failed", "error", err, "companyID", filter.CompanyID)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.FlowDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			slog.Error("PostgresStore ListFlows scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		f, err := unmarshalFlow(doc)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	slog.Debug("PostgresStore ListFlows succeeded", "companyID", filter.CompanyID, "count", len(flows))
	return flows, nil
}

// DeleteFlow removes a flow unless active sessions still reference it.
func (s *PostgresStore) DeleteFlow(id string) error {
	var active int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE flow_id = $1 AND status = $2`, id, models.SessionStatusActive).Scan(&active)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow session check failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to check sessions for flow %s: %w", id, err)
	}
	if active > 0 {
		return ErrFlowInUse
	}

	res, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("PostgresStore DeleteFlow succeeded", "flowID", id)
	return nil
}

// SaveSession stores or replaces a session snapshot in a single write.
func (s *PostgresStore) SaveSession(sess models.ConversationSession) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "sessionID", sess.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, lead_id, company_id, flow_id, status, session, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, session = EXCLUDED.session, updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.LeadID, sess.CompanyID, sess.FlowID, sess.Status, string(doc), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", sess.ID, "status", sess.Status)
	return nil
}

// GetSession retrieves a session by id.
func (s *PostgresStore) GetSession(id string) (*models.ConversationSession, error) {
	var doc string
	err := s.db.QueryRow(`SELECT session FROM sessions WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return unmarshalSession(doc)
}

// GetActiveSessionForLead returns the lead's most recent active session.
func (s *PostgresStore) GetActiveSessionForLead(leadID string) (*models.ConversationSession, error) {
	var doc string
	err := s.db.QueryRow(`
		SELECT session FROM sessions WHERE lead_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`, leadID, models.SessionStatusActive).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveSessionForLead failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to get active session for lead %s: %w", leadID, err)
	}
	return unmarshalSession(doc)
}

// DeleteSession removes a session.
func (s *PostgresStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// AddResponse records an inbound response.
func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (message_id, sender, body, time) VALUES ($1, $2, $3, $4)`,
		nilIfEmpty(r.ID), r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	slog.Debug("PostgresStore AddResponse succeeded", "from", r.From)
	return nil
}

// GetResponses retrieves all stored responses.
func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT COALESCE(message_id, ''), sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.ID, &r.From, &r.Body, &r.Time); err != nil {
			slog.Error("PostgresStore GetResponses scan failed", "error", err)
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
func (s *PostgresStore) AddAssignment(a models.AssignmentRequest) error {
	_, err := s.db.Exec(`INSERT INTO assignments (id, lead_id, session_id, company_id, role, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.LeadID, a.SessionID, a.CompanyID, a.Role, a.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddAssignment failed", "error", err, "leadID", a.LeadID)
		return fmt.Errorf("failed to insert assignment for %s: %w", a.LeadID, err)
	}
	slog.Debug("PostgresStore AddAssignment succeeded", "leadID", a.LeadID, "role", a.Role)
	return nil
}

// GetAssignments retrieves all stored assignment requests.
func (s *PostgresStore) GetAssignments() ([]models.AssignmentRequest, error) {
	rows, err := s.db.Query(`SELECT id, lead_id, session_id, company_id, COALESCE(role, ''), created_at FROM assignments ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore GetAssignments query failed", "error", err)
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.AssignmentRequest
	for rows.Next() {
		var a models.AssignmentRequest
		if err := rows.Scan(&a.ID, &a.LeadID, &a.SessionID, &a.CompanyID, &a.Role, &a.CreatedAt); err != nil {
			slog.Error("PostgresStore GetAssignments scan failed", "error", err)
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
func (s *PostgresStore) WasProcessed(messageID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM processed_messages WHERE message_id = $1`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore WasProcessed failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return true, nil
}

// MarkProcessed records a message id as processed.
func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`INSERT INTO processed_messages (message_id, processed_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		messageID, time.Now())
	if err != nil {
		slog.Error("PostgresStore MarkProcessed failed", "error", err, "messageID", messageID)
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
