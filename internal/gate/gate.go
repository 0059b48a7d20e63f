// Package gate holds the static criteria table and the pure evaluator that
// decides whether a design item may enter a target stage.
package gate

import (
	"fmt"
	"strings"

	"atelier/internal/rag"
	"atelier/internal/stage"
)

// Criterion is a single aspect requirement within a gate. When All is set
// the criterion applies to every applicable aspect on the board instead of
// a single one. A not-applicable aspect satisfies the criterion unless
// DisallowNA is set.
type Criterion struct {
	Aspect     rag.Aspect
	All        bool
	Required   []rag.Status
	DisallowNA bool
}

// CriteriaSet gates entry into one stage.
type CriteriaSet struct {
	MustMeet         []Criterion
	ShouldMeet       []Criterion
	MinimumReadiness int
}

// Decision is the outcome of a gate evaluation. Failures block advancement;
// warnings never do.
type Decision struct {
	CanAdvance bool     `json:"can_advance"`
	Failures   []string `json:"failures"`
	Warnings   []string `json:"warnings"`
}

var (
	amberOrBetter = []rag.Status{rag.StatusAmber, rag.StatusGreen}
	green         = []rag.Status{rag.StatusGreen}
)

// criteria is the immutable stage -> gate table. Stages absent from the map
// (each track's initial stage) are entered unconditionally.
var criteria = map[stage.Stage]CriteriaSet{
	// Manufactured track.
	stage.StagePreliminary: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectConceptSketch, Required: amberOrBetter},
		},
		ShouldMeet: []Criterion{
			{Aspect: rag.AspectDimensions, Required: amberOrBetter},
		},
		MinimumReadiness: 15,
	},
	stage.StageTechnical: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectConceptSketch, Required: green},
			{Aspect: rag.AspectModel3D, Required: amberOrBetter},
			{Aspect: rag.AspectDimensions, Required: amberOrBetter},
		},
		ShouldMeet: []Criterion{
			{Aspect: rag.AspectMaterialSpecs, Required: amberOrBetter},
			{Aspect: rag.AspectCostEstimate, Required: amberOrBetter},
		},
		MinimumReadiness: 40,
	},
	stage.StagePreProduction: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectModel3D, Required: green},
			{Aspect: rag.AspectMaterialSpecs, Required: green},
			{Aspect: rag.AspectTechnicalDrawings, Required: green},
			{Aspect: rag.AspectBillOfMaterials, Required: amberOrBetter},
			{Aspect: rag.AspectDesignReview, Required: green},
		},
		ShouldMeet: []Criterion{
			{Aspect: rag.AspectSupplierQuotes, Required: amberOrBetter},
			{Aspect: rag.AspectLeadTime, Required: amberOrBetter},
			{Aspect: rag.AspectHardwareSpecs, Required: amberOrBetter},
		},
		MinimumReadiness: 60,
	},
	stage.StageProductionReady: {
		MustMeet: []Criterion{
			{All: true, Required: green},
			{Aspect: rag.AspectClientApproval, Required: green},
		},
		MinimumReadiness: 90,
	},

	// Procured track.
	stage.StageEvaluation: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectConceptSketch, Required: amberOrBetter},
		},
		MinimumReadiness: 10,
	},
	stage.StageQuoting: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectMaterialSpecs, Required: amberOrBetter},
			{Aspect: rag.AspectDimensions, Required: amberOrBetter},
		},
		ShouldMeet: []Criterion{
			{Aspect: rag.AspectLeadTime, Required: amberOrBetter},
		},
		MinimumReadiness: 35,
	},
	stage.StagePurchaseReady: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectSupplierQuotes, Required: green},
			{Aspect: rag.AspectCostEstimate, Required: green},
			{Aspect: rag.AspectLeadTime, Required: amberOrBetter},
			{Aspect: rag.AspectClientApproval, Required: green},
		},
		MinimumReadiness: 80,
	},

	// Architectural track.
	stage.StageSchematic: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectConceptSketch, Required: amberOrBetter},
		},
		MinimumReadiness: 10,
	},
	stage.StageDesignDevelopment: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectConceptSketch, Required: green},
			{Aspect: rag.AspectDimensions, Required: amberOrBetter},
		},
		ShouldMeet: []Criterion{
			{Aspect: rag.AspectDesignReview, Required: amberOrBetter},
		},
		MinimumReadiness: 40,
	},
	stage.StageDocumentationReady: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectTechnicalDrawings, Required: green},
			{Aspect: rag.AspectDesignReview, Required: green},
			{Aspect: rag.AspectClientApproval, Required: green},
		},
		MinimumReadiness: 75,
	},

	// Construction track.
	stage.StageDetailing: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectDimensions, Required: amberOrBetter},
			{Aspect: rag.AspectMaterialSpecs, Required: amberOrBetter},
		},
		MinimumReadiness: 30,
	},
	stage.StageSiteReady: {
		MustMeet: []Criterion{
			{Aspect: rag.AspectTechnicalDrawings, Required: green},
			{Aspect: rag.AspectComplianceCheck, Required: green},
			{Aspect: rag.AspectClientApproval, Required: green},
		},
		ShouldMeet: []Criterion{
			{Aspect: rag.AspectLeadTime, Required: amberOrBetter},
		},
		MinimumReadiness: 70,
	},
}

// CriteriaFor returns the gate for a target stage. The second result is
// false for stages with no gate (open policy).
func CriteriaFor(s stage.Stage) (CriteriaSet, bool) {
	set, ok := criteria[s]
	return set, ok
}

// Evaluate checks a board against the target stage's gate. Failure and
// warning messages follow the table's declaration order so callers can rely
// on stable output.
func Evaluate(board rag.Board, target stage.Stage) Decision {
	set, ok := CriteriaFor(target)
	if !ok {
		return Decision{CanAdvance: true, Failures: []string{}, Warnings: []string{}}
	}
	summary := rag.Aggregate(board)
	d := Decision{Failures: []string{}, Warnings: []string{}}
	for _, c := range set.MustMeet {
		if msg, ok := check(board, summary, c); !ok {
			d.Failures = append(d.Failures, msg)
		}
	}
	for _, c := range set.ShouldMeet {
		if msg, ok := check(board, summary, c); !ok {
			d.Warnings = append(d.Warnings, msg)
		}
	}
	if summary.Overall < set.MinimumReadiness {
		d.Failures = append(d.Failures, fmt.Sprintf("overall readiness %d%% below required %d%%", summary.Overall, set.MinimumReadiness))
	}
	d.CanAdvance = len(d.Failures) == 0
	return d
}

// check resolves one criterion against the board. The summary's worst
// status stands in for "ALL" criteria, which already excludes
// not-applicable aspects per the aggregation policy.
func check(board rag.Board, summary rag.Summary, c Criterion) (string, bool) {
	if c.All {
		if statusIn(summary.Worst, c.Required) {
			return "", true
		}
		return fmt.Sprintf("all applicable aspects must be %s (worst is %s)", formatStatuses(c.Required), summary.Worst), false
	}
	cur := board.Get(c.Aspect).Status
	if cur == rag.StatusNotApplicable && !c.DisallowNA {
		return "", true
	}
	if statusIn(cur, c.Required) {
		return "", true
	}
	return fmt.Sprintf("%s must be %s (currently %s)", c.Aspect, formatStatuses(c.Required), cur), false
}

func statusIn(s rag.Status, set []rag.Status) bool {
	for _, cur := range set {
		if cur == s {
			return true
		}
	}
	return false
}

func formatStatuses(set []rag.Status) string {
	parts := make([]string, len(set))
	for i, s := range set {
		parts[i] = string(s)
	}
	return strings.Join(parts, " or ")
}
