package stage

import "fmt"

// Stage is one step of a lifecycle track.
type Stage string

const (
	// Manufactured (custom furniture built in-house).
	StageConcept         Stage = "concept"
	StagePreliminary     Stage = "preliminary_design"
	StageTechnical       Stage = "technical_design"
	StagePreProduction   Stage = "pre_production"
	StageProductionReady Stage = "production_ready"

	// Procured (bought-in items).
	StageSourcing      Stage = "sourcing"
	StageEvaluation    Stage = "evaluation"
	StageQuoting       Stage = "quoting"
	StagePurchaseReady Stage = "purchase_ready"

	// Architectural (design documents for the fit-out).
	StageBrief              Stage = "brief"
	StageSchematic          Stage = "schematic"
	StageDesignDevelopment  Stage = "design_development"
	StageDocumentationReady Stage = "documentation_ready"

	// Construction (site work packages).
	StagePlanning  Stage = "planning"
	StageDetailing Stage = "detailing"
	StageSiteReady Stage = "site_ready"
)

// SourcingType classifies a design item and selects its stage track.
type SourcingType string

const (
	SourcingManufactured  SourcingType = "manufactured"
	SourcingProcured      SourcingType = "procured"
	SourcingArchitectural SourcingType = "architectural"
	SourcingConstruction  SourcingType = "construction"
)

// SourcingTypes lists every valid sourcing type.
var SourcingTypes = []SourcingType{
	SourcingManufactured, SourcingProcured, SourcingArchitectural, SourcingConstruction,
}

func (s SourcingType) Valid() bool {
	switch s {
	case SourcingManufactured, SourcingProcured, SourcingArchitectural, SourcingConstruction:
		return true
	}
	return false
}

// tracks holds the four ordered stage lists. No stage appears on more than
// one track.
var tracks = map[SourcingType][]Stage{
	SourcingManufactured: {
		StageConcept, StagePreliminary, StageTechnical, StagePreProduction, StageProductionReady,
	},
	SourcingProcured: {
		StageSourcing, StageEvaluation, StageQuoting, StagePurchaseReady,
	},
	SourcingArchitectural: {
		StageBrief, StageSchematic, StageDesignDevelopment, StageDocumentationReady,
	},
	SourcingConstruction: {
		StagePlanning, StageDetailing, StageSiteReady,
	},
}

// StagesFor returns the ordered stage track for a sourcing type.
func StagesFor(t SourcingType) []Stage {
	return tracks[t]
}

// First returns the initial stage of the track; new items start here.
func First(t SourcingType) Stage {
	s := tracks[t]
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Last returns the terminal stage of the track.
func Last(t SourcingType) Stage {
	s := tracks[t]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// IsFinal reports whether the stage is the terminal stage of the track.
func IsFinal(t SourcingType, s Stage) bool {
	return s != "" && s == Last(t)
}

// Index returns the position of a stage within the track, or -1 when the
// stage does not belong to it.
func Index(t SourcingType, s Stage) int {
	for i, cur := range tracks[t] {
		if cur == s {
			return i
		}
	}
	return -1
}

// OnTrack reports whether the stage belongs to the sourcing type's track.
func OnTrack(t SourcingType, s Stage) bool {
	return Index(t, s) >= 0
}

// Parse validates a raw stage string against the sourcing type's track.
func Parse(t SourcingType, raw string) (Stage, error) {
	s := Stage(raw)
	if !OnTrack(t, s) {
		return "", fmt.Errorf("stage %q not on %s track", raw, t)
	}
	return s, nil
}

// ParseSourcingType validates a raw sourcing type string.
func ParseSourcingType(raw string) (SourcingType, error) {
	t := SourcingType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown sourcing type %q", raw)
	}
	return t, nil
}
