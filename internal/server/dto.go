package server

import (
	"encoding/json"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/gate"
	"atelier/internal/rag"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type CreateItemRequest struct {
	ID           *string `json:"id,omitempty"`
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	SourcingType string  `json:"sourcing_type" enum:"manufactured,procured,architectural,construction"`
}

type UpdateItemRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type SetRAGRequest struct {
	Aspect string `json:"aspect" example:"design_completeness.model_3d"`
	Status string `json:"status" enum:"red,amber,green,not-applicable"`
	Notes  string `json:"notes,omitempty"`
}

type TransitionRequest struct {
	To       string `json:"to,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Override bool   `json:"override,omitempty"`
}

type RevertRequest struct {
	To    string `json:"to"`
	Notes string `json:"notes"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ItemResponse struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	SourcingType     string    `json:"sourcing_type" enum:"manufactured,procured,architectural,construction"`
	CurrentStage     string    `json:"current_stage"`
	OverallReadiness int       `json:"overall_readiness"`
	RAG              rag.Board `json:"rag"`
	CreatedAt        string    `json:"created_at" format:"date-time"`
	UpdatedAt        string    `json:"updated_at" format:"date-time"`
}

type ReadinessResponse struct {
	ItemID  string      `json:"item_id"`
	Summary rag.Summary `json:"summary"`
}

type GateCheckResponse struct {
	ItemID      string        `json:"item_id"`
	CurrentStage string       `json:"current_stage"`
	TargetStage string        `json:"target_stage"`
	Decision    gate.Decision `json:"decision"`
}

type TransitionResponse struct {
	ID             int64  `json:"id"`
	ItemID         string `json:"item_id"`
	FromStage      string `json:"from_stage"`
	ToStage        string `json:"to_stage"`
	TransitionedAt string `json:"transitioned_at" format:"date-time"`
	TransitionedBy string `json:"transitioned_by"`
	Notes          string `json:"notes,omitempty"`
	IsOverride     bool   `json:"is_override"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type ProjectConfigResponse struct {
	Project projectConfigSection `json:"project"`
	Aspects aspectConfigSection  `json:"aspects"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type aspectCatalogEntry struct {
	Description string `json:"description"`
}

type aspectConfigSection struct {
	Catalog map[string]aspectCatalogEntry `json:"catalog"`
}

type paginatedItems struct {
	Items      []ItemResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func itemResponse(it domain.DesignItem) ItemResponse {
	return ItemResponse{
		ID:               it.ID,
		ProjectID:        it.ProjectID,
		Name:             it.Name,
		Description:      it.Description,
		SourcingType:     it.SourcingType,
		CurrentStage:     it.CurrentStage,
		OverallReadiness: it.OverallReadiness,
		RAG:              it.RAG,
		CreatedAt:        it.CreatedAt,
		UpdatedAt:        it.UpdatedAt,
	}
}

func transitionResponse(t domain.StageTransition) TransitionResponse {
	return TransitionResponse(t)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	res := ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Kind: cfg.Project.Kind,
		},
		Aspects: aspectConfigSection{
			Catalog: map[string]aspectCatalogEntry{},
		},
	}
	for k, v := range cfg.Aspects.Catalog {
		res.Aspects.Catalog[k] = aspectCatalogEntry{Description: v.Description}
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
