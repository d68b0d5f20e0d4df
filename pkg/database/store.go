package database

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/services"
)

// Store is the SQL implementation of the persistence store interfaces in
// pkg/services. One Store serves templates, instances, and events.
type Store struct {
	db *stdsql.DB
}

// NewStore creates a store on an open client.
func NewStore(client *Client) *Store {
	return &Store{db: client.DB()}
}

var (
	_ services.TemplateStore = (*Store)(nil)
	_ services.InstanceStore = (*Store)(nil)
	_ services.EventStore    = (*Store)(nil)
)

// InsertTemplate stores a new template version.
func (s *Store) InsertTemplate(ctx context.Context, tmpl *models.Template) error {
	roles, err := json.Marshal(tmpl.RequiredRoles)
	if err != nil {
		return fmt.Errorf("marshal required_roles: %w", err)
	}
	spec, err := json.Marshal(tmpl.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	maxTools, err := json.Marshal(tmpl.MaxTemplateTools)
	if err != nil {
		return fmt.Errorf("marshal max_template_tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_templates
			(id, version, owner_id, scope, required_roles, spec, max_template_tools, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tmpl.ID, tmpl.Version, tmpl.OwnerID, tmpl.Scope, roles, spec, maxTools,
		tmpl.IsActive, tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template %s v%d: %w", tmpl.ID, tmpl.Version, err)
	}
	return nil
}

const templateColumns = `id, version, owner_id, scope, required_roles, spec, max_template_tools, is_active, created_at, updated_at`

// LatestTemplate returns the highest version for id.
func (s *Store) LatestTemplate(ctx context.Context, id string) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM agent_templates
		WHERE id = $1 ORDER BY version DESC LIMIT 1`, id)
	return scanTemplate(row, id)
}

// GetTemplateVersion returns one specific version.
func (s *Store) GetTemplateVersion(ctx context.Context, id string, version int) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM agent_templates
		WHERE id = $1 AND version = $2`, id, version)
	return scanTemplate(row, id)
}

// ListTemplates returns the latest version of every template.
func (s *Store) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (id) `+templateColumns+` FROM agent_templates
		ORDER BY id, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var result []*models.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows, "")
		if err != nil {
			return nil, err
		}
		result = append(result, tmpl)
	}
	return result, rows.Err()
}

// SetTemplateActive flips the active flag on every version of id.
func (s *Store) SetTemplateActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_templates SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now())
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: template %s", services.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner, id string) (*models.Template, error) {
	var tmpl models.Template
	var roles, spec, maxTools []byte

	err := row.Scan(&tmpl.ID, &tmpl.Version, &tmpl.OwnerID, &tmpl.Scope,
		&roles, &spec, &maxTools, &tmpl.IsActive, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if err := json.Unmarshal(roles, &tmpl.RequiredRoles); err != nil {
		return nil, fmt.Errorf("unmarshal required_roles: %w", err)
	}
	if err := json.Unmarshal(spec, &tmpl.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	if err := json.Unmarshal(maxTools, &tmpl.MaxTemplateTools); err != nil {
		return nil, fmt.Errorf("unmarshal max_template_tools: %w", err)
	}
	return &tmpl, nil
}

// CreateWithCap inserts a queued instance after counting the principal's
// active instances inside the same transaction. A per-principal advisory
// lock serializes concurrent spawns so two of them cannot both pass the
// count.
func (s *Store) CreateWithCap(ctx context.Context, inst *models.Instance, maxActive int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin spawn tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if maxActive > 0 {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, inst.PrincipalID); err != nil {
			return fmt.Errorf("acquire spawn lock: %w", err)
		}

		var active int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM agent_instances
			WHERE spawned_by_user_id = $1
			  AND status IN ('queued', 'running', 'awaiting_approval')`,
			inst.PrincipalID).Scan(&active)
		if err != nil {
			return fmt.Errorf("count active instances: %w", err)
		}
		if active >= maxActive {
			return fmt.Errorf("%w: %d active instances (cap %d)",
				services.ErrSpawnLimitExceeded, active, maxActive)
		}
	}

	contextJSON, err := marshalNullable(inst.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	resultJSON, err := marshalNullable(inst.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_instances
			(id, template_id, template_version, spawned_by_user_id, parent_instance_id,
			 root_instance_id, depth, status, current_state, step, task, context, result,
			 error, tokens_used, cost, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		inst.ID, inst.TemplateID, inst.TemplateVersion, inst.PrincipalID,
		nullString(inst.ParentID), inst.RootID, inst.Depth, inst.Status,
		inst.CurrentState, inst.Step, inst.Task, contextJSON, resultJSON,
		inst.Error, inst.TokensUsed, inst.Cost, inst.CreatedAt, inst.UpdatedAt,
		inst.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance %s: %w", inst.ID, err)
	}
	return tx.Commit()
}

const instanceColumns = `id, template_id, template_version, spawned_by_user_id, parent_instance_id,
	root_instance_id, depth, status, current_state, step, task, context, result,
	error, tokens_used, cost, created_at, updated_at, completed_at`

// GetInstance returns one instance.
func (s *Store) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM agent_instances WHERE id = $1`, id)
	return scanInstance(row, id)
}

// UpdateInstance writes inst if its stored status still matches expectStatus.
func (s *Store) UpdateInstance(ctx context.Context, inst *models.Instance, expectStatus models.InstanceStatus) error {
	contextJSON, err := marshalNullable(inst.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	resultJSON, err := marshalNullable(inst.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_instances SET
			status = $2, current_state = $3, step = $4, context = $5, result = $6,
			error = $7, tokens_used = $8, cost = $9, updated_at = $10, completed_at = $11
		WHERE id = $1 AND status = $12`,
		inst.ID, inst.Status, inst.CurrentState, inst.Step, contextJSON, resultJSON,
		inst.Error, inst.TokensUsed, inst.Cost, inst.UpdatedAt, inst.CompletedAt,
		expectStatus,
	)
	if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		if _, getErr := s.GetInstance(ctx, inst.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: instance %s left %s", services.ErrConcurrentModification, inst.ID, expectStatus)
	}
	return nil
}

// CountActive counts a principal's queued, running, and awaiting instances.
func (s *Store) CountActive(ctx context.Context, principalID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_instances
		WHERE spawned_by_user_id = $1
		  AND status IN ('queued', 'running', 'awaiting_approval')`,
		principalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active instances: %w", err)
	}
	return count, nil
}

// ListQueued returns queued instances, oldest first.
func (s *Store) ListQueued(ctx context.Context, limit int) ([]*models.Instance, error) {
	return s.listInstances(ctx, `
		SELECT `+instanceColumns+` FROM agent_instances
		WHERE status = 'queued' ORDER BY created_at ASC`+limitClause(limit))
}

// ListByPrincipal returns a principal's instances, newest first.
func (s *Store) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.Instance, error) {
	return s.listInstances(ctx, `
		SELECT `+instanceColumns+` FROM agent_instances
		WHERE spawned_by_user_id = $1 ORDER BY created_at DESC`+limitClause(limit),
		principalID)
}

func (s *Store) listInstances(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var result []*models.Instance
	for rows.Next() {
		inst, err := scanInstance(rows, "")
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func scanInstance(row rowScanner, id string) (*models.Instance, error) {
	var inst models.Instance
	var parentID stdsql.NullString
	var contextJSON, resultJSON []byte
	var completedAt stdsql.NullTime

	err := row.Scan(&inst.ID, &inst.TemplateID, &inst.TemplateVersion, &inst.PrincipalID,
		&parentID, &inst.RootID, &inst.Depth, &inst.Status, &inst.CurrentState,
		&inst.Step, &inst.Task, &contextJSON, &resultJSON, &inst.Error,
		&inst.TokensUsed, &inst.Cost, &inst.CreatedAt, &inst.UpdatedAt, &completedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("%w: instance %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	inst.ParentID = parentID.String
	if completedAt.Valid {
		inst.CompletedAt = &completedAt.Time
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &inst.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &inst, nil
}

// AppendEvent adds one event to the log.
func (s *Store) AppendEvent(ctx context.Context, event *models.Event) error {
	payload, err := marshalNullable(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_events
			(id, instance_id, event_type, payload, trace_id, span_id, tokens_used, latency_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.InstanceID, event.Type, payload, event.TraceID,
		event.SpanID, event.TokensUsed, event.LatencyMS, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents reads the log in append order with the given filter. AfterID
// resolves to the internal sequence of that event, so catch-up reads are
// gap-free even when timestamps collide.
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.InstanceID != "" {
		conditions = append(conditions, "instance_id = "+arg(filter.InstanceID))
	}
	if filter.RootID != "" {
		conditions = append(conditions,
			"instance_id IN (SELECT id FROM agent_instances WHERE root_instance_id = "+arg(filter.RootID)+")")
	}
	if filter.AfterID != "" {
		conditions = append(conditions,
			"seq > (SELECT seq FROM agent_events WHERE id = "+arg(filter.AfterID)+")")
	}

	query := `SELECT id, instance_id, event_type, payload, trace_id, span_id, tokens_used, latency_ms, timestamp
		FROM agent_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq ASC" + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []*models.Event
	for rows.Next() {
		var event models.Event
		var payload []byte
		if err := rows.Scan(&event.ID, &event.InstanceID, &event.Type, &payload,
			&event.TraceID, &event.SpanID, &event.TokensUsed, &event.LatencyMS,
			&event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != nil {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}
