package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/engine/auth"
	"atelier/internal/events"
	"atelier/internal/migrate"
	"atelier/internal/rag"
	"atelier/internal/stage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("atelier-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "atelier-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedOwner(t *testing.T, env testEnv, actorID string) {
	t.Helper()
	cfg := env.Engine.Config
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.EnsureActor(env.Ctx, tx, actorID, now); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	for roleID, role := range cfg.RBAC.Roles {
		if err := env.Engine.Repo.InsertRole(env.Ctx, tx, roleID, role.Description); err != nil {
			t.Fatalf("insert role: %v", err)
		}
		for _, perm := range role.Permissions {
			if err := env.Engine.Repo.InsertPermission(env.Ctx, tx, perm, ""); err != nil {
				t.Fatalf("insert permission: %v", err)
			}
			if err := env.Engine.Repo.AddRolePermission(env.Ctx, tx, roleID, perm); err != nil {
				t.Fatalf("add role permission: %v", err)
			}
		}
	}
	if err := env.Engine.Repo.AssignRole(env.Ctx, tx, cfg.Project.ID, actorID, "owner"); err != nil {
		t.Fatalf("assign owner: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func createItem(t *testing.T, env testEnv, name, sourcing string) domain.DesignItem {
	t.Helper()
	it, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID:    "atelier-1",
		Name:         name,
		SourcingType: sourcing,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return it
}

func setGreen(t *testing.T, env testEnv, itemID string, aspects ...string) {
	t.Helper()
	for _, a := range aspects {
		if _, _, err := env.Engine.SetRAG(env.Ctx, itemID, a, "green", "", "tester"); err != nil {
			t.Fatalf("set %s green: %v", a, err)
		}
	}
}

func TestCreateItemDefaults(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Oak dining table", "manufactured")
	if it.CurrentStage != string(stage.StageConcept) {
		t.Fatalf("stage: got %s, want concept", it.CurrentStage)
	}
	if it.OverallReadiness != 0 {
		t.Fatalf("readiness: got %d, want 0", it.OverallReadiness)
	}
	for _, a := range rag.Aspects() {
		if got := it.RAG.Get(a).Status; got != rag.StatusRed {
			t.Fatalf("aspect %s: got %s, want red", a, got)
		}
	}
	fetched, err := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if fetched.Name != "Oak dining table" || fetched.SourcingType != "manufactured" {
		t.Fatalf("unexpected item: %+v", fetched)
	}
}

func TestCreateItemRejectsUnknownSourcing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID:    "atelier-1",
		Name:         "Mystery",
		SourcingType: "handmade",
		ActorID:      "tester",
	})
	if err == nil {
		t.Fatal("expected sourcing type error")
	}
}

func TestSetRAGRecomputesReadiness(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Walnut desk", "manufactured")
	_, summary, err := env.Engine.SetRAG(env.Ctx, it.ID, "design_completeness.concept_sketch", "green", "sketched", "tester")
	if err != nil {
		t.Fatalf("set rag: %v", err)
	}
	if summary.Overall != 7 {
		t.Fatalf("overall: got %d, want 7", summary.Overall)
	}
	fetched, err := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if fetched.OverallReadiness != 7 {
		t.Fatalf("persisted readiness: got %d, want 7", fetched.OverallReadiness)
	}
	v := fetched.RAG.Get(rag.AspectConceptSketch)
	if v.Status != rag.StatusGreen || v.Notes != "sketched" || v.UpdatedBy != "tester" {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestSetRAGRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Chair", "manufactured")
	if _, _, err := env.Engine.SetRAG(env.Ctx, it.ID, "design_completeness.concept_sketch", "purple", "", "tester"); err == nil {
		t.Fatal("expected invalid status error")
	}
	if _, _, err := env.Engine.SetRAG(env.Ctx, it.ID, "nope", "green", "", "tester"); err == nil {
		t.Fatal("expected invalid aspect error")
	}
}

func TestTransitionBlockedByGate(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Bench", "manufactured")
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ItemID: it.ID, ActorID: "tester"})
	var gbe engine.GateBlockedError
	if !errors.As(err, &gbe) {
		t.Fatalf("expected GateBlockedError, got %v", err)
	}
	if gbe.Stage != stage.StagePreliminary || len(gbe.Failures) == 0 {
		t.Fatalf("unexpected error detail: %+v", gbe)
	}
	fetched, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if fetched.CurrentStage != string(stage.StageConcept) {
		t.Fatalf("blocked transition moved item to %s", fetched.CurrentStage)
	}
	history, _ := env.Engine.Repo.ListTransitions(env.Ctx, it.ID, 0)
	if len(history) != 0 {
		t.Fatalf("blocked transition recorded history: %+v", history)
	}
}

func TestTransitionPassesGate(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Sideboard", "manufactured")
	setGreen(t, env, it.ID,
		"design_completeness.concept_sketch",
		"design_completeness.model_3d",
		"design_completeness.dimensions")
	moved, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ItemID: it.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if moved.CurrentStage != string(stage.StagePreliminary) {
		t.Fatalf("stage: got %s, want preliminary_design", moved.CurrentStage)
	}
	history, _ := env.Engine.Repo.ListTransitions(env.Ctx, it.ID, 0)
	if len(history) != 1 || history[0].IsOverride {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestOverrideRequiresNote(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Armoire", "manufactured")
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ItemID: it.ID, Override: true, ActorID: "tester"})
	var ioe engine.InvalidOverrideError
	if !errors.As(err, &ioe) {
		t.Fatalf("expected InvalidOverrideError, got %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{ItemID: it.ID, Override: true, Notes: "   ", ActorID: "tester"})
	if !errors.As(err, &ioe) {
		t.Fatalf("expected InvalidOverrideError for blank note, got %v", err)
	}
}

func TestOverrideBypassesGate(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Cabinet", "manufactured")
	moved, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ItemID:   it.ID,
		Override: true,
		Notes:    "client demo on Friday",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("override transition: %v", err)
	}
	if moved.CurrentStage != string(stage.StagePreliminary) {
		t.Fatalf("stage: got %s, want preliminary_design", moved.CurrentStage)
	}
	history, _ := env.Engine.Repo.ListTransitions(env.Ctx, it.ID, 0)
	if len(history) != 1 || !history[0].IsOverride {
		t.Fatalf("expected one override entry: %+v", history)
	}
	if history[0].Notes != "client demo on Friday" {
		t.Fatalf("notes: got %q", history[0].Notes)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "atelier-1", "gate.overridden", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one gate.overridden event, got %d", len(events))
	}
}

func TestOverrideRecordedWhenGatePasses(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Stool", "manufactured")
	setGreen(t, env, it.ID,
		"design_completeness.concept_sketch",
		"design_completeness.model_3d",
		"design_completeness.dimensions")
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ItemID:   it.ID,
		Override: true,
		Notes:    "skipping the check on purpose",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	// The audit trail reflects what the caller asked for, not whether the
	// gate would have passed.
	history, _ := env.Engine.Repo.ListTransitions(env.Ctx, it.ID, 0)
	if len(history) != 1 || !history[0].IsOverride {
		t.Fatalf("requested override must be recorded: %+v", history)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "atelier-1", "gate.overridden", "", "")
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one gate.overridden event, got %d (%v)", len(evts), err)
	}
}

func TestBackwardTransitionEvaluatesGate(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Shelf", "manufactured")
	for _, note := range []string{"push ahead", "push further"} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
			ItemID: it.ID, Override: true, Notes: note, ActorID: "tester",
		}); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	// Board is all red, so moving back to a gated stage must fail like any
	// other transition.
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ItemID: it.ID, To: "preliminary_design", ActorID: "tester",
	})
	var gbe engine.GateBlockedError
	if !errors.As(err, &gbe) {
		t.Fatalf("expected GateBlockedError, got %v", err)
	}
	if gbe.Stage != stage.StagePreliminary {
		t.Fatalf("blocked stage: got %s, want preliminary_design", gbe.Stage)
	}
	fetched, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if fetched.CurrentStage != string(stage.StageTechnical) {
		t.Fatalf("blocked transition moved item to %s", fetched.CurrentStage)
	}
	// Ungated stages stay open in both directions.
	moved, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ItemID: it.ID, To: "concept", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("backward transition to ungated stage: %v", err)
	}
	if moved.CurrentStage != string(stage.StageConcept) {
		t.Fatalf("stage: got %s, want concept", moved.CurrentStage)
	}
}

func TestEventTimestampsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Clock cabinet", "manufactured")
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "atelier-1", events.ItemCreated, "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].EntityID != it.ID {
		t.Fatalf("expected one item.created event for %s, got %+v", it.ID, evts)
	}
	if want := "2026-03-01T00:00:00Z"; evts[0].TS != want {
		t.Fatalf("event ts: got %s, want %s", evts[0].TS, want)
	}
}

func TestRevert(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Table", "manufactured")
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ItemID: it.ID, Override: true, Notes: "schedule pressure", ActorID: "tester",
	}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := env.Engine.Revert(env.Ctx, it.ID, "concept", "", "tester"); err == nil {
		t.Fatal("revert without note must fail")
	}
	if _, err := env.Engine.Revert(env.Ctx, it.ID, "technical_design", "wrong way", "tester"); err == nil {
		t.Fatal("revert forward must fail")
	}
	moved, err := env.Engine.Revert(env.Ctx, it.ID, "concept", "design flaw found", "tester")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if moved.CurrentStage != string(stage.StageConcept) {
		t.Fatalf("stage: got %s, want concept", moved.CurrentStage)
	}
	history, _ := env.Engine.Repo.ListTransitions(env.Ctx, it.ID, 0)
	if len(history) != 2 {
		t.Fatalf("expected two history entries, got %d", len(history))
	}
	if history[0].ToStage != "concept" || history[0].IsOverride {
		t.Fatalf("revert entry wrong: %+v", history[0])
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "atelier-1", "stage.reverted", "", "")
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one stage.reverted event, got %d (%v)", len(events), err)
	}
}

func TestUnknownStage(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Lamp", "manufactured")
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ItemID: it.ID, To: "quoting", ActorID: "tester"})
	var use engine.UnknownStageError
	if !errors.As(err, &use) {
		t.Fatalf("expected UnknownStageError, got %v", err)
	}
	if use.Stage != "quoting" || use.SourcingType != "manufactured" {
		t.Fatalf("unexpected detail: %+v", use)
	}
}

func TestFinalStageHasNoNext(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Site package", "construction")
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
			ItemID: it.ID, Override: true, Notes: "forcing through for test", ActorID: "tester",
		}); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	fetched, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if fetched.CurrentStage != string(stage.StageSiteReady) {
		t.Fatalf("stage: got %s, want site_ready", fetched.CurrentStage)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ItemID: it.ID, ActorID: "tester"}); err == nil {
		t.Fatal("expected error advancing past final stage")
	}
}

func TestGateCheckDoesNotMove(t *testing.T) {
	env := newTestEnv(t)
	it := createItem(t, env, "Credenza", "manufactured")
	_, target, decision, err := env.Engine.GateCheck(env.Ctx, it.ID, "")
	if err != nil {
		t.Fatalf("gate check: %v", err)
	}
	if target != stage.StagePreliminary {
		t.Fatalf("target: got %s, want preliminary_design", target)
	}
	if decision.CanAdvance {
		t.Fatal("red board should not pass")
	}
	fetched, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if fetched.CurrentStage != string(stage.StageConcept) {
		t.Fatalf("gate check moved item to %s", fetched.CurrentStage)
	}
}

func TestGrantRoleRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	seedOwner(t, env, "tester")
	if err := env.Engine.GrantRole(env.Ctx, "atelier-1", "tester", "bob", "designer"); err != nil {
		t.Fatalf("owner grant: %v", err)
	}
	who, err := env.Engine.WhoAmI(env.Ctx, "atelier-1", "bob")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if len(who.Roles) != 1 || who.Roles[0] != "designer" {
		t.Fatalf("roles: got %v, want [designer]", who.Roles)
	}
	var fe auth.ForbiddenError
	err = env.Engine.GrantRole(env.Ctx, "atelier-1", "mallory", "eve", "owner")
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, "atelier-1", "tester", "bob", "designer"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	who, _ = env.Engine.WhoAmI(env.Ctx, "atelier-1", "bob")
	if len(who.Roles) != 0 {
		t.Fatalf("roles after revoke: got %v", who.Roles)
	}
}
