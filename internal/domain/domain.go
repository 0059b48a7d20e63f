package domain

import "atelier/internal/rag"

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// DesignItem is the entity the stage-gate engine operates on. Readiness is
// derived from the RAG board and never edited independently.
type DesignItem struct {
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

// StageTransition is one immutable entry of an item's stage history.
type StageTransition struct {
	ID             int64  `json:"id"`
	ItemID         string `json:"item_id"`
	FromStage      string `json:"from_stage"`
	ToStage        string `json:"to_stage"`
	TransitionedAt string `json:"transitioned_at" format:"date-time"`
	TransitionedBy string `json:"transitioned_by"`
	Notes          string `json:"notes,omitempty"`
	IsOverride     bool   `json:"is_override"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
