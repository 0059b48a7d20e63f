package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/engine"
	"atelier/internal/migrate"
)

const (
	testProject = "atelier-test"
	testSecret  = "test-secret"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testProject)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.InitProject(ctx, cfg.Project.ID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	seedRBAC(t, e, "tester")
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedRBAC(t *testing.T, e engine.Engine, actorID string) {
	t.Helper()
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	for roleID, role := range e.Config.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			t.Fatalf("insert role: %v", err)
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				t.Fatalf("insert permission: %v", err)
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				t.Fatalf("add role permission: %v", err)
			}
		}
	}
	if err := e.Repo.AssignRole(ctx, tx, e.Config.Project.ID, actorID, "owner"); err != nil {
		t.Fatalf("assign owner: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestRequestsWithoutAuthRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+testProject+"/items", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code: got %q, want unauthorized", code)
	}
}

func TestItemLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/" + testProject

	createRes, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"name":          "Oak dining table",
		"sourcing_type": "manufactured",
	}, actorHeaders())
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", createRes.StatusCode, string(data))
	}
	var created ItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if created.CurrentStage != "concept" || created.OverallReadiness != 0 {
		t.Fatalf("unexpected item: %+v", created)
	}
	itemID := created.ID

	// Transition must be blocked with the gate_blocked envelope.
	res, body := doJSON(t, client, http.MethodPost, base+"/items/"+itemID+"/transition", map[string]any{}, actorHeaders())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blocked transition status %d: %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "gate_blocked" {
		t.Fatalf("code: got %q, want gate_blocked", code)
	}

	// Mark enough aspects green to pass the preliminary gate.
	for _, aspect := range []string{
		"design_completeness.concept_sketch",
		"design_completeness.model_3d",
		"design_completeness.dimensions",
	} {
		res, body := doJSON(t, client, http.MethodPatch, base+"/items/"+itemID+"/rag", map[string]any{
			"aspect": aspect,
			"status": "green",
		}, actorHeaders())
		if res.StatusCode != http.StatusOK {
			t.Fatalf("set rag %s status %d: %s", aspect, res.StatusCode, string(body))
		}
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/items/"+itemID+"/gate-check", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gate check status %d: %s", res.StatusCode, string(body))
	}
	var check GateCheckResponse
	if err := json.Unmarshal(body, &check); err != nil {
		t.Fatalf("unmarshal gate check: %v", err)
	}
	if !check.Decision.CanAdvance || check.TargetStage != "preliminary_design" {
		t.Fatalf("unexpected gate check: %+v", check)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/items/"+itemID+"/transition", map[string]any{}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(body))
	}
	var moved ItemResponse
	if err := json.Unmarshal(body, &moved); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if moved.CurrentStage != "preliminary_design" {
		t.Fatalf("stage: got %s, want preliminary_design", moved.CurrentStage)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/items/"+itemID+"/revert", map[string]any{
		"to":    "concept",
		"notes": "client changed the brief",
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("revert status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/items/"+itemID+"/history", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(body))
	}
	var history []TransitionResponse
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two history entries, got %d", len(history))
	}
}

func TestOverrideTransition(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/" + testProject

	_, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"name":          "Bronze lamp",
		"sourcing_type": "procured",
	}, actorHeaders())
	var created ItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPost, base+"/items/"+created.ID+"/transition", map[string]any{
		"override": true,
	}, actorHeaders())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("override without note status %d: %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "invalid_override" {
		t.Fatalf("code: got %q, want invalid_override", code)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/items/"+created.ID+"/transition", map[string]any{
		"override": true,
		"notes":    "supplier already engaged",
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("override status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/items/"+created.ID+"/history", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(body))
	}
	var history []TransitionResponse
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 1 || !history[0].IsOverride {
		t.Fatalf("expected one override entry: %+v", history)
	}
}

func TestUnknownStageRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/" + testProject

	_, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"name":          "Steel frame",
		"sourcing_type": "construction",
	}, actorHeaders())
	var created ItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPost, base+"/items/"+created.ID+"/transition", map[string]any{
		"to": "quoting",
	}, actorHeaders())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "unknown_stage" {
		t.Fatalf("code: got %q, want unknown_stage", code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/" + testProject

	_, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"name":          "Reading chair",
		"sourcing_type": "manufactured",
	}, actorHeaders())
	var created ItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPatch, base+"/items/"+created.ID+"/rag", map[string]any{
		"aspect": "quality_gates.client_approval",
		"status": "amber",
		"notes":  "verbal approval only",
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set rag status %d: %s", res.StatusCode, string(body))
	}
	var readiness ReadinessResponse
	if err := json.Unmarshal(body, &readiness); err != nil {
		t.Fatalf("unmarshal readiness: %v", err)
	}
	if readiness.Summary.Overall != 3 {
		t.Fatalf("overall: got %d, want 3", readiness.Summary.Overall)
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/items/"+created.ID+"/readiness", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readiness status %d: %s", res.StatusCode, string(body))
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "tester",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("empty token")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(body, &who); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if who.ActorID != "tester" {
		t.Fatalf("actor: got %s, want tester", who.ActorID)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/" + testProject

	_, _ = doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"name":          "Console",
		"sourcing_type": "manufactured",
	}, actorHeaders())

	res, body := doJSON(t, client, http.MethodGet, base+"/events?type=item.created", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "item.created" {
		t.Fatalf("unexpected events: %+v", page.Items)
	}
}
