package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/engine/auth"
	"atelier/internal/events"
	"atelier/internal/gate"
	"atelier/internal/rag"
	"atelier/internal/repo"
	"atelier/internal/stage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// events returns the writer bound to the engine's clock so audit rows and
// their events carry the same timestamps.
func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// GateBlockedError reports a refused transition together with every
// must-meet failure, in criteria declaration order.
type GateBlockedError struct {
	Stage    stage.Stage
	Failures []string
}

func (e GateBlockedError) Error() string {
	return fmt.Sprintf("gate to %s blocked: %s", e.Stage, strings.Join(e.Failures, "; "))
}

// InvalidOverrideError indicates an override attempted without a note.
type InvalidOverrideError struct{}

func (e InvalidOverrideError) Error() string {
	return "override requires a note explaining the bypass"
}

// UnknownStageError indicates a stage not on the item's track.
type UnknownStageError struct {
	Stage        string
	SourcingType string
}

func (e UnknownStageError) Error() string {
	return fmt.Sprintf("stage %q not on %s track", e.Stage, e.SourcingType)
}

// StageConflictError indicates the item moved under a concurrent transition.
type StageConflictError struct {
	ItemID        string
	ExpectedStage string
}

func (e StageConflictError) Error() string {
	return fmt.Sprintf("item %s no longer at stage %s", e.ItemID, e.ExpectedStage)
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Kind:        "furniture-project",
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ProjectInit, p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ItemCreateOptions are parameters for creating a design item.
type ItemCreateOptions struct {
	ID           string
	ProjectID    string
	Name         string
	Description  string
	SourcingType string
	ActorID      string
}

// CreateItem registers a design item at the first stage of its track with an
// all-red board.
func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.DesignItem, error) {
	if e.Config == nil {
		return domain.DesignItem{}, errors.New("config not loaded")
	}
	if opts.Name == "" {
		return domain.DesignItem{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.DesignItem{}, errors.New("project is required")
	}
	st, err := stage.ParseSourcingType(opts.SourcingType)
	if err != nil {
		return domain.DesignItem{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.DesignItem{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Name+"|"+now)).String()
	}
	board := rag.NewBoard()
	summary := rag.Aggregate(board)
	it := domain.DesignItem{
		ID:               id,
		ProjectID:        opts.ProjectID,
		Name:             opts.Name,
		Description:      opts.Description,
		SourcingType:     string(st),
		CurrentStage:     string(stage.First(st)),
		OverallReadiness: summary.Overall,
		RAG:              board,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DesignItem{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.DesignItem{}, err
	}
	if err := e.events().Append(ctx, tx, events.ItemCreated, it.ProjectID, "item", it.ID, opts.ActorID, events.EventPayload{
		"name":          it.Name,
		"sourcing_type": it.SourcingType,
		"stage":         it.CurrentStage,
	}); err != nil {
		return domain.DesignItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DesignItem{}, err
	}
	return it, nil
}

// ItemUpdateOptions encapsulates allowed metadata updates.
type ItemUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	ActorID     string
}

func (e Engine) UpdateItem(ctx context.Context, opts ItemUpdateOptions) (domain.DesignItem, error) {
	it, err := e.Repo.GetItem(ctx, opts.ID)
	if err != nil {
		return it, err
	}
	if opts.Name != nil && *opts.Name == "" {
		return it, errors.New("name cannot be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateItemMeta(ctx, tx, it.ID, opts.Name, opts.Description, now); err != nil {
		return it, err
	}
	if err := e.events().Append(ctx, tx, events.ItemUpdated, it.ProjectID, "item", it.ID, opts.ActorID, events.EventPayload{}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return e.Repo.GetItem(ctx, it.ID)
}

// SetRAG updates one aspect of an item's board and recomputes readiness in
// the same transaction.
func (e Engine) SetRAG(ctx context.Context, itemID, aspectPath, status, notes, actorID string) (domain.DesignItem, rag.Summary, error) {
	aspect, err := rag.ParseAspect(aspectPath)
	if err != nil {
		return domain.DesignItem{}, rag.Summary{}, err
	}
	st := rag.Status(status)
	if !st.Valid() {
		return domain.DesignItem{}, rag.Summary{}, fmt.Errorf("invalid status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DesignItem{}, rag.Summary{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return it, rag.Summary{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	prev := it.RAG.Get(aspect)
	if err := it.RAG.Set(aspect, rag.Value{
		Status:    st,
		Notes:     notes,
		UpdatedAt: now,
		UpdatedBy: actorID,
	}); err != nil {
		return it, rag.Summary{}, err
	}
	summary := rag.Aggregate(it.RAG)
	it.OverallReadiness = summary.Overall
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemRAG(ctx, tx, it.ID, it.RAG, summary.Overall, now); err != nil {
		return it, rag.Summary{}, err
	}
	if err := e.events().Append(ctx, tx, events.RAGUpdated, it.ProjectID, "item", it.ID, actorID, events.EventPayload{
		"aspect":      aspect.String(),
		"from_status": string(prev.Status),
		"to_status":   string(st),
		"readiness":   summary.Overall,
	}); err != nil {
		return it, rag.Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return it, rag.Summary{}, err
	}
	return it, summary, nil
}

// Readiness recomputes the aggregate view for an item without mutating it.
func (e Engine) Readiness(ctx context.Context, itemID string) (domain.DesignItem, rag.Summary, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, rag.Summary{}, err
	}
	return it, rag.Aggregate(it.RAG), nil
}

// resolveTarget picks the transition target: explicit if given, otherwise the
// next stage on the item's track.
func resolveTarget(it domain.DesignItem, target string) (stage.Stage, error) {
	st := stage.SourcingType(it.SourcingType)
	if target != "" {
		s, err := stage.Parse(st, target)
		if err != nil {
			return "", UnknownStageError{Stage: target, SourcingType: it.SourcingType}
		}
		return s, nil
	}
	track := stage.StagesFor(st)
	idx := stage.Index(st, stage.Stage(it.CurrentStage))
	if idx < 0 {
		return "", UnknownStageError{Stage: it.CurrentStage, SourcingType: it.SourcingType}
	}
	if idx+1 >= len(track) {
		return "", fmt.Errorf("item already at final stage %s", it.CurrentStage)
	}
	return track[idx+1], nil
}

// GateCheck evaluates the gate for a target stage without moving the item.
// Empty target means the next stage on the track.
func (e Engine) GateCheck(ctx context.Context, itemID, target string) (domain.DesignItem, stage.Stage, gate.Decision, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, "", gate.Decision{}, err
	}
	to, err := resolveTarget(it, target)
	if err != nil {
		return it, "", gate.Decision{}, err
	}
	return it, to, gate.Evaluate(it.RAG, to), nil
}

// TransitionOptions are parameters for moving an item between stages.
type TransitionOptions struct {
	ItemID   string
	To       string
	Notes    string
	Override bool
	ActorID  string
}

// Transition moves an item to a target stage. The gate for the requested
// target is evaluated on every call, in either direction; an override skips
// the check entirely but requires a note and is recorded both on the history
// row and as a dedicated event.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.DesignItem, error) {
	if opts.Override && strings.TrimSpace(opts.Notes) == "" {
		return domain.DesignItem{}, InvalidOverrideError{}
	}
	it, err := e.Repo.GetItem(ctx, opts.ItemID)
	if err != nil {
		return it, err
	}
	to, err := resolveTarget(it, opts.To)
	if err != nil {
		return it, err
	}
	if string(to) == it.CurrentStage {
		return it, fmt.Errorf("item already at stage %s", to)
	}
	if !opts.Override {
		decision := gate.Evaluate(it.RAG, to)
		if !decision.CanAdvance {
			return it, GateBlockedError{Stage: to, Failures: decision.Failures}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	moved, err := e.Repo.MoveItemStage(ctx, tx, it.ID, it.CurrentStage, string(to), now)
	if err != nil {
		return it, err
	}
	if !moved {
		return it, StageConflictError{ItemID: it.ID, ExpectedStage: it.CurrentStage}
	}
	t := domain.StageTransition{
		ItemID:         it.ID,
		FromStage:      it.CurrentStage,
		ToStage:        string(to),
		TransitionedAt: now,
		TransitionedBy: opts.ActorID,
		Notes:          opts.Notes,
		IsOverride:     opts.Override,
	}
	if err := e.Repo.InsertTransition(ctx, tx, t); err != nil {
		return it, err
	}
	if opts.Override {
		if err := e.events().Append(ctx, tx, events.GateOverridden, it.ProjectID, "item", it.ID, opts.ActorID, events.EventPayload{
			"to_stage": string(to),
			"note":     opts.Notes,
		}); err != nil {
			return it, err
		}
	}
	if err := e.events().Append(ctx, tx, events.StageTransitioned, it.ProjectID, "item", it.ID, opts.ActorID, events.EventPayload{
		"from_stage": it.CurrentStage,
		"to_stage":   string(to),
		"override":   opts.Override,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	it.CurrentStage = string(to)
	it.UpdatedAt = now
	return it, nil
}

// Revert moves an item backward on its track. A note is mandatory and no
// gate is consulted.
func (e Engine) Revert(ctx context.Context, itemID, to, notes, actorID string) (domain.DesignItem, error) {
	if strings.TrimSpace(notes) == "" {
		return domain.DesignItem{}, errors.New("revert requires a note")
	}
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	st := stage.SourcingType(it.SourcingType)
	target, err := stage.Parse(st, to)
	if err != nil {
		return it, UnknownStageError{Stage: to, SourcingType: it.SourcingType}
	}
	if stage.Index(st, target) >= stage.Index(st, stage.Stage(it.CurrentStage)) {
		return it, fmt.Errorf("revert target %s is not behind %s", target, it.CurrentStage)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	moved, err := e.Repo.MoveItemStage(ctx, tx, it.ID, it.CurrentStage, string(target), now)
	if err != nil {
		return it, err
	}
	if !moved {
		return it, StageConflictError{ItemID: it.ID, ExpectedStage: it.CurrentStage}
	}
	t := domain.StageTransition{
		ItemID:         it.ID,
		FromStage:      it.CurrentStage,
		ToStage:        string(target),
		TransitionedAt: now,
		TransitionedBy: actorID,
		Notes:          notes,
	}
	if err := e.Repo.InsertTransition(ctx, tx, t); err != nil {
		return it, err
	}
	if err := e.events().Append(ctx, tx, events.StageReverted, it.ProjectID, "item", it.ID, actorID, events.EventPayload{
		"from_stage": it.CurrentStage,
		"to_stage":   string(target),
		"note":       notes,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	it.CurrentStage = string(target)
	it.UpdatedAt = now
	return it, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
