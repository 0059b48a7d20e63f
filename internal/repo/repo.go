package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/rag"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,status,COALESCE(description,'') AS description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,status,COALESCE(description,'') AS description,created_at FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return domain.Project{}, err
		}
		projects = append(projects, p)
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,status,COALESCE(description,'') AS description,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProject(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

const itemColumns = `id,project_id,name,COALESCE(description,'') AS description,sourcing_type,current_stage,overall_readiness,rag_json,created_at,updated_at`

func scanItem(scan func(dest ...any) error) (domain.DesignItem, error) {
	var it domain.DesignItem
	var ragJSON string
	err := scan(&it.ID, &it.ProjectID, &it.Name, &it.Description, &it.SourcingType, &it.CurrentStage, &it.OverallReadiness, &ragJSON, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if err := json.Unmarshal([]byte(ragJSON), &it.RAG); err != nil {
		return it, fmt.Errorf("decode rag board for item %s: %w", it.ID, err)
	}
	it.RAG.Normalize()
	return it, nil
}

func encodeBoard(b rag.Board) (string, error) {
	b.Normalize()
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode rag board: %w", err)
	}
	return string(data), nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.DesignItem) error {
	ragJSON, err := encodeBoard(it.RAG)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO design_items(id,project_id,name,description,sourcing_type,current_stage,overall_readiness,rag_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.Name, nullable(it.Description), it.SourcingType, it.CurrentStage, it.OverallReadiness, ragJSON, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.DesignItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM design_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.DesignItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM design_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

type ItemFilters struct {
	ProjectID       string
	Stage           string
	SourcingType    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.DesignItem, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "current_stage=?")
		args = append(args, f.Stage)
	}
	if f.SourcingType != "" {
		clauses = append(clauses, "sourcing_type=?")
		args = append(args, f.SourcingType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM design_items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DesignItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, nil
}

// UpdateItemRAG persists the board and derived readiness together.
func (r Repo) UpdateItemRAG(ctx context.Context, tx *sql.Tx, itemID string, board rag.Board, readiness int, updatedAt string) error {
	ragJSON, err := encodeBoard(board)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE design_items SET rag_json=?, overall_readiness=?, updated_at=? WHERE id=?`,
		ragJSON, readiness, updatedAt, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateItemMeta(ctx context.Context, tx *sql.Tx, itemID string, name, description *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	args = append(args, itemID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE design_items SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveItemStage applies the stage change only if the item is still at
// fromStage. Returns false without error when another transition won.
func (r Repo) MoveItemStage(ctx context.Context, tx *sql.Tx, itemID, fromStage, toStage, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE design_items SET current_stage=?, updated_at=? WHERE id=? AND current_stage=?`,
		toStage, updatedAt, itemID, fromStage)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.StageTransition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_history(item_id,from_stage,to_stage,transitioned_at,transitioned_by,notes,is_override)
VALUES (?,?,?,?,?,?,?)`,
		t.ItemID, t.FromStage, t.ToStage, t.TransitionedAt, t.TransitionedBy, nullable(t.Notes), boolToInt(t.IsOverride))
	return err
}

func (r Repo) ListTransitions(ctx context.Context, itemID string, limit int) ([]domain.StageTransition, error) {
	query := `SELECT id,item_id,from_stage,to_stage,transitioned_at,transitioned_by,COALESCE(notes,'') AS notes,is_override FROM stage_history WHERE item_id=? ORDER BY id DESC`
	args := []any{itemID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageTransition
	for rows.Next() {
		var t domain.StageTransition
		var override int
		if err := rows.Scan(&t.ID, &t.ItemID, &t.FromStage, &t.ToStage, &t.TransitionedAt, &t.TransitionedBy, &t.Notes, &override); err != nil {
			return nil, err
		}
		t.IsOverride = override != 0
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) CountItemsByStage(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT current_stage, count(*) FROM design_items WHERE project_id=? GROUP BY current_stage`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		res[stage] = count
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, projectID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
