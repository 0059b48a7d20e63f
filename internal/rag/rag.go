package rag

import (
	"fmt"
	"math"
	"strings"
)

// Status is the readiness level of a single aspect.
type Status string

const (
	StatusRed           Status = "red"
	StatusAmber         Status = "amber"
	StatusGreen         Status = "green"
	StatusNotApplicable Status = "not-applicable"
)

// AllStatuses lists every valid status value.
var AllStatuses = []Status{StatusRed, StatusAmber, StatusGreen, StatusNotApplicable}

func (s Status) Valid() bool {
	switch s {
	case StatusRed, StatusAmber, StatusGreen, StatusNotApplicable:
		return true
	}
	return false
}

// weight returns the scoring weight for a status. Not-applicable aspects
// carry no weight and are excluded from the denominator as well.
func (s Status) weight() (float64, bool) {
	switch s {
	case StatusGreen:
		return 1.0, true
	case StatusAmber:
		return 0.5, true
	case StatusRed:
		return 0.0, true
	}
	return 0, false
}

// severity orders statuses worst-first: red > amber > green.
func (s Status) severity() int {
	switch s {
	case StatusRed:
		return 2
	case StatusAmber:
		return 1
	}
	return 0
}

// Category groups related aspects on a board.
type Category string

const (
	CategoryDesignCompleteness     Category = "design_completeness"
	CategoryManufacturingReadiness Category = "manufacturing_readiness"
	CategoryQualityGates           Category = "quality_gates"
)

// Categories returns the three categories in schema order.
func Categories() []Category {
	return []Category{CategoryDesignCompleteness, CategoryManufacturingReadiness, CategoryQualityGates}
}

// AspectKey names a single readiness check within a category.
type AspectKey string

const (
	KeyConceptSketch AspectKey = "concept_sketch"
	KeyModel3D       AspectKey = "model_3d"
	KeyDimensions    AspectKey = "dimensions"
	KeyMaterialSpecs AspectKey = "material_specs"
	KeyHardwareSpecs AspectKey = "hardware_specs"
	KeyFinishSpecs   AspectKey = "finish_specs"

	KeyTechnicalDrawings AspectKey = "technical_drawings"
	KeyBillOfMaterials   AspectKey = "bom"
	KeyCostEstimate      AspectKey = "cost_estimate"
	KeySupplierQuotes    AspectKey = "supplier_quotes"
	KeyLeadTime          AspectKey = "lead_time"

	KeyDesignReview      AspectKey = "design_review"
	KeyPrototypeApproval AspectKey = "prototype_approval"
	KeyComplianceCheck   AspectKey = "compliance_check"
	KeyClientApproval    AspectKey = "client_approval"
)

// schema fixes the closed aspect key set per category. Keys are declared in
// the order they are scored and rendered.
var schema = map[Category][]AspectKey{
	CategoryDesignCompleteness: {
		KeyConceptSketch, KeyModel3D, KeyDimensions, KeyMaterialSpecs, KeyHardwareSpecs, KeyFinishSpecs,
	},
	CategoryManufacturingReadiness: {
		KeyTechnicalDrawings, KeyBillOfMaterials, KeyCostEstimate, KeySupplierQuotes, KeyLeadTime,
	},
	CategoryQualityGates: {
		KeyDesignReview, KeyPrototypeApproval, KeyComplianceCheck, KeyClientApproval,
	},
}

// AspectKeys returns the schema keys for a category in declaration order.
func AspectKeys(c Category) []AspectKey {
	return schema[c]
}

// Aspect identifies one readiness check as a typed (category, key) pair.
type Aspect struct {
	Category Category
	Key      AspectKey
}

func (a Aspect) String() string {
	return string(a.Category) + "." + string(a.Key)
}

// Typed accessors for every schema aspect, so criteria tables and callers
// never build aspects from raw strings.
var (
	AspectConceptSketch = Aspect{CategoryDesignCompleteness, KeyConceptSketch}
	AspectModel3D       = Aspect{CategoryDesignCompleteness, KeyModel3D}
	AspectDimensions    = Aspect{CategoryDesignCompleteness, KeyDimensions}
	AspectMaterialSpecs = Aspect{CategoryDesignCompleteness, KeyMaterialSpecs}
	AspectHardwareSpecs = Aspect{CategoryDesignCompleteness, KeyHardwareSpecs}
	AspectFinishSpecs   = Aspect{CategoryDesignCompleteness, KeyFinishSpecs}

	AspectTechnicalDrawings = Aspect{CategoryManufacturingReadiness, KeyTechnicalDrawings}
	AspectBillOfMaterials   = Aspect{CategoryManufacturingReadiness, KeyBillOfMaterials}
	AspectCostEstimate      = Aspect{CategoryManufacturingReadiness, KeyCostEstimate}
	AspectSupplierQuotes    = Aspect{CategoryManufacturingReadiness, KeySupplierQuotes}
	AspectLeadTime          = Aspect{CategoryManufacturingReadiness, KeyLeadTime}

	AspectDesignReview      = Aspect{CategoryQualityGates, KeyDesignReview}
	AspectPrototypeApproval = Aspect{CategoryQualityGates, KeyPrototypeApproval}
	AspectComplianceCheck   = Aspect{CategoryQualityGates, KeyComplianceCheck}
	AspectClientApproval    = Aspect{CategoryQualityGates, KeyClientApproval}
)

// Aspects returns every schema aspect in category and declaration order.
func Aspects() []Aspect {
	var out []Aspect
	for _, c := range Categories() {
		for _, k := range schema[c] {
			out = append(out, Aspect{Category: c, Key: k})
		}
	}
	return out
}

// Known reports whether the aspect is part of the schema.
func Known(a Aspect) bool {
	for _, k := range schema[a.Category] {
		if k == a.Key {
			return true
		}
	}
	return false
}

// ParseAspect resolves a "category.key" path from the CLI/API boundary into
// a schema-checked Aspect.
func ParseAspect(s string) (Aspect, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 2)
	if len(parts) != 2 {
		return Aspect{}, fmt.Errorf("aspect %q must be category.key", s)
	}
	a := Aspect{Category: Category(parts[0]), Key: AspectKey(parts[1])}
	if !Known(a) {
		return Aspect{}, fmt.Errorf("unknown aspect %q", s)
	}
	return a, nil
}

// Value is the atomic readiness unit for one aspect.
type Value struct {
	Status    Status `json:"status" enum:"red,amber,green,not-applicable"`
	Notes     string `json:"notes,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// Board is the fixed-shape RAG aggregate: three categories, each mapping the
// schema's closed aspect key set to a Value.
type Board struct {
	DesignCompleteness     map[AspectKey]Value `json:"design_completeness"`
	ManufacturingReadiness map[AspectKey]Value `json:"manufacturing_readiness"`
	QualityGates           map[AspectKey]Value `json:"quality_gates"`
}

// NewBoard returns a board with every schema aspect present and red, the
// most conservative default.
func NewBoard() Board {
	b := Board{
		DesignCompleteness:     map[AspectKey]Value{},
		ManufacturingReadiness: map[AspectKey]Value{},
		QualityGates:           map[AspectKey]Value{},
	}
	for _, a := range Aspects() {
		b.bucket(a.Category)[a.Key] = Value{Status: StatusRed}
	}
	return b
}

func (b *Board) bucket(c Category) map[AspectKey]Value {
	switch c {
	case CategoryDesignCompleteness:
		return b.DesignCompleteness
	case CategoryManufacturingReadiness:
		return b.ManufacturingReadiness
	case CategoryQualityGates:
		return b.QualityGates
	}
	return nil
}

// Get returns the value for an aspect. Missing or invalid entries read as
// red so that consumers never observe a hole in the schema.
func (b Board) Get(a Aspect) Value {
	bucket := b.bucket(a.Category)
	if bucket == nil {
		return Value{Status: StatusRed}
	}
	v, ok := bucket[a.Key]
	if !ok || !v.Status.Valid() {
		return Value{Status: StatusRed}
	}
	return v
}

// Set stores a value for a schema aspect.
func (b *Board) Set(a Aspect, v Value) error {
	if !Known(a) {
		return fmt.Errorf("unknown aspect %s", a)
	}
	if !v.Status.Valid() {
		return fmt.Errorf("invalid status %q for aspect %s", v.Status, a)
	}
	bucket := b.bucket(a.Category)
	if bucket == nil {
		return fmt.Errorf("unknown category %s", a.Category)
	}
	bucket[a.Key] = v
	return nil
}

// Normalize fills any missing schema aspects with red. Applied after
// decoding a persisted board so older rows never break aggregation.
func (b *Board) Normalize() {
	if b.DesignCompleteness == nil {
		b.DesignCompleteness = map[AspectKey]Value{}
	}
	if b.ManufacturingReadiness == nil {
		b.ManufacturingReadiness = map[AspectKey]Value{}
	}
	if b.QualityGates == nil {
		b.QualityGates = map[AspectKey]Value{}
	}
	for _, a := range Aspects() {
		bucket := b.bucket(a.Category)
		if v, ok := bucket[a.Key]; !ok || !v.Status.Valid() {
			bucket[a.Key] = Value{Status: StatusRed}
		}
	}
}

// Summary is the aggregated readiness view of a board.
type Summary struct {
	Overall    int              `json:"overall"`
	ByCategory map[Category]int `json:"by_category"`
	Worst      Status           `json:"worst" enum:"red,amber,green"`
	Counts     map[Status]int   `json:"counts"`
}

// Aggregate computes per-category and overall readiness percentages.
// Not-applicable aspects neither help nor hurt; a board where everything is
// not-applicable scores 100 with a vacuously green worst status.
func Aggregate(b Board) Summary {
	s := Summary{
		ByCategory: map[Category]int{},
		Worst:      StatusGreen,
		Counts:     map[Status]int{},
	}
	var totalSum float64
	var totalCount int
	worst := -1
	for _, c := range Categories() {
		var sum float64
		var count int
		for _, k := range schema[c] {
			v := b.Get(Aspect{Category: c, Key: k})
			s.Counts[v.Status]++
			w, applicable := v.Status.weight()
			if !applicable {
				continue
			}
			sum += w
			count++
			if sev := v.Status.severity(); sev > worst {
				worst = sev
			}
		}
		s.ByCategory[c] = percent(sum, count)
		totalSum += sum
		totalCount += count
	}
	s.Overall = percent(totalSum, totalCount)
	switch worst {
	case 2:
		s.Worst = StatusRed
	case 1:
		s.Worst = StatusAmber
	default:
		s.Worst = StatusGreen
	}
	return s
}

func percent(sum float64, count int) int {
	if count == 0 {
		// Every aspect not-applicable: nothing blocks completion.
		return 100
	}
	return int(math.Round(100 * sum / float64(count)))
}
