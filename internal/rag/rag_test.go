package rag_test

import (
	"testing"

	"atelier/internal/rag"
)

func TestNewBoardStartsAllRed(t *testing.T) {
	b := rag.NewBoard()
	for _, a := range rag.Aspects() {
		if got := b.Get(a).Status; got != rag.StatusRed {
			t.Fatalf("aspect %s: got %s, want red", a, got)
		}
	}
	s := rag.Aggregate(b)
	if s.Overall != 0 {
		t.Fatalf("overall: got %d, want 0", s.Overall)
	}
	if s.Worst != rag.StatusRed {
		t.Fatalf("worst: got %s, want red", s.Worst)
	}
	if s.Counts[rag.StatusRed] != len(rag.Aspects()) {
		t.Fatalf("red count: got %d, want %d", s.Counts[rag.StatusRed], len(rag.Aspects()))
	}
	for _, c := range rag.Categories() {
		if s.ByCategory[c] != 0 {
			t.Fatalf("category %s: got %d, want 0", c, s.ByCategory[c])
		}
	}
}

func TestAggregateAllGreen(t *testing.T) {
	b := rag.NewBoard()
	for _, a := range rag.Aspects() {
		if err := b.Set(a, rag.Value{Status: rag.StatusGreen}); err != nil {
			t.Fatalf("set %s: %v", a, err)
		}
	}
	s := rag.Aggregate(b)
	if s.Overall != 100 {
		t.Fatalf("overall: got %d, want 100", s.Overall)
	}
	if s.Worst != rag.StatusGreen {
		t.Fatalf("worst: got %s, want green", s.Worst)
	}
}

func TestAggregateAmberScoresHalf(t *testing.T) {
	b := rag.NewBoard()
	for _, a := range rag.Aspects() {
		if err := b.Set(a, rag.Value{Status: rag.StatusAmber}); err != nil {
			t.Fatalf("set %s: %v", a, err)
		}
	}
	s := rag.Aggregate(b)
	if s.Overall != 50 {
		t.Fatalf("overall: got %d, want 50", s.Overall)
	}
	if s.Worst != rag.StatusAmber {
		t.Fatalf("worst: got %s, want amber", s.Worst)
	}
}

func TestAggregateAllNotApplicable(t *testing.T) {
	b := rag.NewBoard()
	for _, a := range rag.Aspects() {
		if err := b.Set(a, rag.Value{Status: rag.StatusNotApplicable}); err != nil {
			t.Fatalf("set %s: %v", a, err)
		}
	}
	s := rag.Aggregate(b)
	if s.Overall != 100 {
		t.Fatalf("overall: got %d, want 100", s.Overall)
	}
	if s.Worst != rag.StatusGreen {
		t.Fatalf("worst: got %s, want green", s.Worst)
	}
	for _, c := range rag.Categories() {
		if s.ByCategory[c] != 100 {
			t.Fatalf("category %s: got %d, want 100", c, s.ByCategory[c])
		}
	}
}

func TestNotApplicableExcludedFromDenominator(t *testing.T) {
	// One green and one NA in a six-aspect category: 1/5 applicable green.
	b := rag.NewBoard()
	if err := b.Set(rag.AspectConceptSketch, rag.Value{Status: rag.StatusGreen}); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(rag.AspectModel3D, rag.Value{Status: rag.StatusNotApplicable}); err != nil {
		t.Fatal(err)
	}
	s := rag.Aggregate(b)
	if got := s.ByCategory[rag.CategoryDesignCompleteness]; got != 20 {
		t.Fatalf("design_completeness: got %d, want 20", got)
	}
}

func TestMissingAspectReadsRed(t *testing.T) {
	var b rag.Board
	if got := b.Get(rag.AspectClientApproval).Status; got != rag.StatusRed {
		t.Fatalf("missing aspect: got %s, want red", got)
	}
	b.Normalize()
	for _, a := range rag.Aspects() {
		if got := b.Get(a).Status; got != rag.StatusRed {
			t.Fatalf("after normalize, %s: got %s, want red", a, got)
		}
	}
}

func TestOverallNeverDecreasesOnUpgrade(t *testing.T) {
	b := rag.NewBoard()
	prev := rag.Aggregate(b).Overall
	for _, st := range []rag.Status{rag.StatusAmber, rag.StatusGreen} {
		if err := b.Set(rag.AspectDesignReview, rag.Value{Status: st}); err != nil {
			t.Fatal(err)
		}
		cur := rag.Aggregate(b).Overall
		if cur < prev {
			t.Fatalf("overall decreased from %d to %d on upgrade to %s", prev, cur, st)
		}
		prev = cur
	}
}

func TestParseAspect(t *testing.T) {
	a, err := rag.ParseAspect("design_completeness.model_3d")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a != rag.AspectModel3D {
		t.Fatalf("got %v, want %v", a, rag.AspectModel3D)
	}
	for _, bad := range []string{"", "model_3d", "design_completeness.nope", "bogus.model_3d"} {
		if _, err := rag.ParseAspect(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	b := rag.NewBoard()
	if err := b.Set(rag.AspectModel3D, rag.Value{Status: "purple"}); err == nil {
		t.Fatal("expected invalid status error")
	}
	if err := b.Set(rag.Aspect{Category: rag.CategoryQualityGates, Key: "nope"}, rag.Value{Status: rag.StatusGreen}); err == nil {
		t.Fatal("expected unknown aspect error")
	}
}
