package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/stagegate/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. The item update and its
// audit entry commit in one transaction; the WHERE version clause makes the
// transaction the single writer for that item row, so the loser of a race
// sees zero affected rows and gets CONFLICT.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Schema is the DDL for the tables PgStore relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id        TEXT PRIMARY KEY,
	brand_id  TEXT NOT NULL,
	name      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id                TEXT PRIMARY KEY,
	workflow_id       TEXT NOT NULL REFERENCES workflows (id),
	step_order        INT  NOT NULL,
	role              TEXT NOT NULL,
	assigned_user_ids JSONB NOT NULL DEFAULT '[]',
	UNIQUE (workflow_id, step_order)
);

CREATE TABLE IF NOT EXISTS items (
	id                 TEXT PRIMARY KEY,
	brand_id           TEXT NOT NULL,
	kind               TEXT NOT NULL,
	owner_id           TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	workflow_id        TEXT,
	current_step_id    TEXT,
	status             TEXT NOT NULL,
	completed_step_ids JSONB NOT NULL DEFAULT '[]',
	version            INT  NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS item_history (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items (id),
	step_id    TEXT,
	actor_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	feedback   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS item_history_item_idx ON item_history (item_id, created_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return model.NewDependencyError(fmt.Sprintf("ensure schema: %v", err))
	}
	return nil
}

// SeedDefinitions upserts workflow definitions loaded at startup. Each
// workflow's steps are replaced wholesale so removed steps do not linger.
func (s *PgStore) SeedDefinitions(ctx context.Context, defs []model.WorkflowDefinition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.NewDependencyError(fmt.Sprintf("seed definitions: begin: %v", err))
	}
	defer tx.Rollback(ctx)

	for _, def := range defs {
		_, err = tx.Exec(ctx, `
			INSERT INTO workflows (id, brand_id, name) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET brand_id = $2, name = $3`,
			def.ID, def.BrandID, def.Name,
		)
		if err != nil {
			return model.NewDependencyError(fmt.Sprintf("seed workflow %s: %v", def.ID, err))
		}

		if _, err = tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, def.ID); err != nil {
			return model.NewDependencyError(fmt.Sprintf("seed workflow %s: clear steps: %v", def.ID, err))
		}

		for _, step := range def.Steps {
			assignedJSON, err := json.Marshal(stepSet(step.AssignedUserIDs))
			if err != nil {
				return fmt.Errorf("marshal assignees: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO workflow_steps (id, workflow_id, step_order, role, assigned_user_ids)
				VALUES ($1, $2, $3, $4, $5)`,
				step.ID, def.ID, step.Order, step.Role, assignedJSON,
			)
			if err != nil {
				return model.NewDependencyError(fmt.Sprintf("seed step %s: %v", step.ID, err))
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.NewDependencyError(fmt.Sprintf("seed definitions: commit: %v", err))
	}
	return nil
}

// CreateItem inserts a new item.
func (s *PgStore) CreateItem(ctx context.Context, item model.Item) error {
	completedJSON, err := json.Marshal(stepSet(item.CompletedStepIDs))
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO items (
			id, brand_id, kind, owner_id, title,
			workflow_id, current_step_id, status, completed_step_ids, version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10,
			$11, $12
		)`,
		item.ID, item.BrandID, item.Kind, item.OwnerID, item.Title,
		item.WorkflowID, item.CurrentStepID, item.Status, completedJSON, item.Version,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return model.NewDependencyError(fmt.Sprintf("insert item: %v", err))
	}
	return nil
}

// GetItem retrieves an item by id.
func (s *PgStore) GetItem(ctx context.Context, itemID string) (model.Item, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, brand_id, kind, owner_id, title,
		       COALESCE(workflow_id, ''), COALESCE(current_step_id, ''),
		       status, completed_step_ids, version,
		       created_at, updated_at
		FROM items
		WHERE id = $1`,
		itemID,
	)
	return scanItem(row, itemID)
}

// UpdateItem persists the item and appends the audit entry in one
// transaction. The version predicate serializes concurrent writers.
func (s *PgStore) UpdateItem(ctx context.Context, item model.Item, entry model.HistoryEntry) (model.Item, error) {
	completedJSON, err := json.Marshal(stepSet(item.CompletedStepIDs))
	if err != nil {
		return model.Item{}, fmt.Errorf("marshal completed steps: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Item{}, model.NewDependencyError(fmt.Sprintf("begin transaction: %v", err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE items SET
			current_step_id = NULLIF($1, ''),
			status = $2,
			completed_step_ids = $3,
			version = $4,
			updated_at = now()
		WHERE id = $5 AND version = $6`,
		item.CurrentStepID, item.Status, completedJSON, item.Version+1,
		item.ID, item.Version,
	)
	if err != nil {
		return model.Item{}, model.NewDependencyError(fmt.Sprintf("update item: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.Item{}, model.NewConflictError(
			fmt.Sprintf("item %q version conflict (expected %d)", item.ID, item.Version),
		)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO item_history (id, item_id, step_id, actor_id, action, feedback, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		entry.ID, entry.ItemID, entry.StepID, entry.ActorID, entry.Action, entry.Feedback, entry.CreatedAt,
	)
	if err != nil {
		return model.Item{}, model.NewDependencyError(fmt.Sprintf("insert history entry: %v", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Item{}, model.NewDependencyError(fmt.Sprintf("commit transaction: %v", err))
	}

	return s.GetItem(ctx, item.ID)
}

// GetDefinition retrieves a workflow with steps in ascending order.
func (s *PgStore) GetDefinition(ctx context.Context, workflowID string) (model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	err := s.pool.QueryRow(ctx, `
		SELECT id, brand_id, name FROM workflows WHERE id = $1`,
		workflowID,
	).Scan(&def.ID, &def.BrandID, &def.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}
	if err != nil {
		return model.WorkflowDefinition{}, model.NewDependencyError(fmt.Sprintf("query workflow: %v", err))
	}

	def.Steps, err = s.querySteps(ctx, workflowID)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	return def, nil
}

// ListDefinitions returns workflows, optionally filtered by brand.
func (s *PgStore) ListDefinitions(ctx context.Context, brandID string) ([]model.WorkflowDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, brand_id, name
		FROM workflows
		WHERE $1 = '' OR brand_id = $1
		ORDER BY id`,
		brandID,
	)
	if err != nil {
		return nil, model.NewDependencyError(fmt.Sprintf("query workflows: %v", err))
	}
	defer rows.Close()

	var defs []model.WorkflowDefinition
	for rows.Next() {
		var def model.WorkflowDefinition
		if err := rows.Scan(&def.ID, &def.BrandID, &def.Name); err != nil {
			return nil, model.NewDependencyError(fmt.Sprintf("scan workflow: %v", err))
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewDependencyError(fmt.Sprintf("iterate workflows: %v", err))
	}

	for i := range defs {
		defs[i].Steps, err = s.querySteps(ctx, defs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// UpdateStepAssignees rewrites one step's explicit assignee list.
func (s *PgStore) UpdateStepAssignees(ctx context.Context, workflowID, stepID string, userIDs []string) error {
	assigneesJSON, err := json.Marshal(stepSet(userIDs))
	if err != nil {
		return fmt.Errorf("marshal assignees: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_steps SET assigned_user_ids = $1
		WHERE workflow_id = $2 AND id = $3`,
		assigneesJSON, workflowID, stepID,
	)
	if err != nil {
		return model.NewDependencyError(fmt.Sprintf("update step assignees: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("step %q not found in workflow %q", stepID, workflowID),
		)
	}
	return nil
}

// History retrieves all audit entries for an item, oldest first.
func (s *PgStore) History(ctx context.Context, itemID string) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, COALESCE(step_id, ''), actor_id, action, feedback, created_at
		FROM item_history
		WHERE item_id = $1
		ORDER BY created_at ASC`,
		itemID,
	)
	if err != nil {
		return nil, model.NewDependencyError(fmt.Sprintf("query history: %v", err))
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.StepID, &e.ActorID, &e.Action, &e.Feedback, &e.CreatedAt); err != nil {
			return nil, model.NewDependencyError(fmt.Sprintf("scan history entry: %v", err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewDependencyError(fmt.Sprintf("iterate history: %v", err))
	}
	return entries, nil
}

func (s *PgStore) querySteps(ctx context.Context, workflowID string) ([]model.WorkflowStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, step_order, role, assigned_user_ids
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC`,
		workflowID,
	)
	if err != nil {
		return nil, model.NewDependencyError(fmt.Sprintf("query steps: %v", err))
	}
	defer rows.Close()

	var steps []model.WorkflowStep
	for rows.Next() {
		var step model.WorkflowStep
		var assigneesJSON []byte
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Order, &step.Role, &assigneesJSON); err != nil {
			return nil, model.NewDependencyError(fmt.Sprintf("scan step: %v", err))
		}
		if err := json.Unmarshal(assigneesJSON, &step.AssignedUserIDs); err != nil {
			return nil, fmt.Errorf("unmarshal assignees: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewDependencyError(fmt.Sprintf("iterate steps: %v", err))
	}
	return steps, nil
}

func scanItem(row pgx.Row, itemID string) (model.Item, error) {
	var item model.Item
	var completedJSON []byte

	err := row.Scan(
		&item.ID, &item.BrandID, &item.Kind, &item.OwnerID, &item.Title,
		&item.WorkflowID, &item.CurrentStepID,
		&item.Status, &completedJSON, &item.Version,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Item{}, model.NewNotFoundError(fmt.Sprintf("item %q not found", itemID))
	}
	if err != nil {
		return model.Item{}, model.NewDependencyError(fmt.Sprintf("query item: %v", err))
	}

	if err := json.Unmarshal(completedJSON, &item.CompletedStepIDs); err != nil {
		return model.Item{}, fmt.Errorf("unmarshal completed steps: %w", err)
	}
	return item, nil
}

// stepSet normalizes a nil slice to an empty one so JSONB columns never hold
// SQL null.
func stepSet(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// HealthCheck reports whether the database is reachable.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
