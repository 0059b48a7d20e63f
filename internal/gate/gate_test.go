package gate_test

import (
	"strings"
	"testing"

	"atelier/internal/gate"
	"atelier/internal/rag"
	"atelier/internal/stage"
)

func greenBoard(t *testing.T) rag.Board {
	t.Helper()
	b := rag.NewBoard()
	for _, a := range rag.Aspects() {
		if err := b.Set(a, rag.Value{Status: rag.StatusGreen}); err != nil {
			t.Fatalf("set %s: %v", a, err)
		}
	}
	return b
}

func TestUngatedStagesAreOpen(t *testing.T) {
	board := rag.NewBoard()
	for _, s := range []stage.Stage{stage.StageConcept, stage.StageSourcing, stage.StageBrief, stage.StagePlanning} {
		if _, ok := gate.CriteriaFor(s); ok {
			t.Fatalf("stage %s should have no gate", s)
		}
		d := gate.Evaluate(board, s)
		if !d.CanAdvance {
			t.Fatalf("stage %s: expected open gate", s)
		}
		if d.Failures == nil || d.Warnings == nil {
			t.Fatalf("stage %s: failures and warnings must be non-nil", s)
		}
	}
}

func TestRedBoardBlocksPreliminary(t *testing.T) {
	d := gate.Evaluate(rag.NewBoard(), stage.StagePreliminary)
	if d.CanAdvance {
		t.Fatal("expected blocked gate")
	}
	if len(d.Failures) != 2 {
		t.Fatalf("got %d failures, want 2: %v", len(d.Failures), d.Failures)
	}
	// Must-meet failures come first, minimum readiness last.
	if want := "design_completeness.concept_sketch must be amber or green (currently red)"; d.Failures[0] != want {
		t.Fatalf("failure[0]: got %q, want %q", d.Failures[0], want)
	}
	if want := "overall readiness 0% below required 15%"; d.Failures[1] != want {
		t.Fatalf("failure[1]: got %q, want %q", d.Failures[1], want)
	}
}

func TestShouldMeetOnlyWarns(t *testing.T) {
	b := rag.NewBoard()
	for _, a := range []rag.Aspect{rag.AspectConceptSketch, rag.AspectModel3D, rag.AspectMaterialSpecs} {
		if err := b.Set(a, rag.Value{Status: rag.StatusGreen}); err != nil {
			t.Fatal(err)
		}
	}
	d := gate.Evaluate(b, stage.StagePreliminary)
	if !d.CanAdvance {
		t.Fatalf("expected open gate, failures: %v", d.Failures)
	}
	if len(d.Warnings) != 1 || !strings.Contains(d.Warnings[0], "design_completeness.dimensions") {
		t.Fatalf("expected dimensions warning, got %v", d.Warnings)
	}
}

func TestNotApplicableSatisfiesCriterion(t *testing.T) {
	b := rag.NewBoard()
	if err := b.Set(rag.AspectConceptSketch, rag.Value{Status: rag.StatusNotApplicable}); err != nil {
		t.Fatal(err)
	}
	// NA passes the must-meet check; only readiness still fails.
	d := gate.Evaluate(b, stage.StageEvaluation)
	if len(d.Failures) != 1 || !strings.Contains(d.Failures[0], "overall readiness") {
		t.Fatalf("expected only readiness failure, got %v", d.Failures)
	}
}

func TestProductionReadyAllGreen(t *testing.T) {
	b := greenBoard(t)
	d := gate.Evaluate(b, stage.StageProductionReady)
	if !d.CanAdvance {
		t.Fatalf("expected open gate, failures: %v", d.Failures)
	}
}

func TestProductionReadyAllCriterionExcludesNA(t *testing.T) {
	b := greenBoard(t)
	if err := b.Set(rag.AspectSupplierQuotes, rag.Value{Status: rag.StatusNotApplicable}); err != nil {
		t.Fatal(err)
	}
	d := gate.Evaluate(b, stage.StageProductionReady)
	if !d.CanAdvance {
		t.Fatalf("NA aspect should not block ALL-green, failures: %v", d.Failures)
	}
}

func TestProductionReadyWorstAmberFailsAll(t *testing.T) {
	b := greenBoard(t)
	if err := b.Set(rag.AspectLeadTime, rag.Value{Status: rag.StatusAmber}); err != nil {
		t.Fatal(err)
	}
	d := gate.Evaluate(b, stage.StageProductionReady)
	if d.CanAdvance {
		t.Fatal("expected blocked gate")
	}
	found := false
	for _, f := range d.Failures {
		if strings.Contains(f, "all applicable aspects must be green (worst is amber)") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ALL-green failure, got %v", d.Failures)
	}
}

func TestEveryGatedStageHasPositiveThreshold(t *testing.T) {
	for _, typ := range stage.SourcingTypes {
		track := stage.StagesFor(typ)
		for i, s := range track {
			set, ok := gate.CriteriaFor(s)
			if i == 0 {
				if ok {
					t.Fatalf("initial stage %s must not be gated", s)
				}
				continue
			}
			if !ok {
				t.Fatalf("stage %s missing gate criteria", s)
			}
			if set.MinimumReadiness <= 0 {
				t.Fatalf("stage %s has no minimum readiness", s)
			}
		}
	}
}
