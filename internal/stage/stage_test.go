package stage_test

import (
	"testing"

	"atelier/internal/stage"
)

func TestTrackOrder(t *testing.T) {
	cases := []struct {
		typ   stage.SourcingType
		first stage.Stage
		last  stage.Stage
		size  int
	}{
		{stage.SourcingManufactured, stage.StageConcept, stage.StageProductionReady, 5},
		{stage.SourcingProcured, stage.StageSourcing, stage.StagePurchaseReady, 4},
		{stage.SourcingArchitectural, stage.StageBrief, stage.StageDocumentationReady, 4},
		{stage.SourcingConstruction, stage.StagePlanning, stage.StageSiteReady, 3},
	}
	for _, c := range cases {
		track := stage.StagesFor(c.typ)
		if len(track) != c.size {
			t.Fatalf("%s: got %d stages, want %d", c.typ, len(track), c.size)
		}
		if stage.First(c.typ) != c.first {
			t.Fatalf("%s first: got %s, want %s", c.typ, stage.First(c.typ), c.first)
		}
		if stage.Last(c.typ) != c.last {
			t.Fatalf("%s last: got %s, want %s", c.typ, stage.Last(c.typ), c.last)
		}
		if !stage.IsFinal(c.typ, c.last) {
			t.Fatalf("%s: %s should be final", c.typ, c.last)
		}
		if stage.IsFinal(c.typ, c.first) {
			t.Fatalf("%s: %s should not be final", c.typ, c.first)
		}
		for i, s := range track {
			if got := stage.Index(c.typ, s); got != i {
				t.Fatalf("%s index of %s: got %d, want %d", c.typ, s, got, i)
			}
		}
	}
}

func TestNoStageOnTwoTracks(t *testing.T) {
	seen := map[stage.Stage]stage.SourcingType{}
	for _, typ := range stage.SourcingTypes {
		for _, s := range stage.StagesFor(typ) {
			if other, ok := seen[s]; ok {
				t.Fatalf("stage %s on both %s and %s tracks", s, other, typ)
			}
			seen[s] = typ
		}
	}
}

func TestParse(t *testing.T) {
	s, err := stage.Parse(stage.SourcingManufactured, "technical_design")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != stage.StageTechnical {
		t.Fatalf("got %s, want %s", s, stage.StageTechnical)
	}
	if _, err := stage.Parse(stage.SourcingManufactured, "quoting"); err == nil {
		t.Fatal("expected error for off-track stage")
	}
	if _, err := stage.Parse(stage.SourcingProcured, ""); err == nil {
		t.Fatal("expected error for empty stage")
	}
}

func TestParseSourcingType(t *testing.T) {
	for _, typ := range stage.SourcingTypes {
		got, err := stage.ParseSourcingType(string(typ))
		if err != nil || got != typ {
			t.Fatalf("parse %s: %v", typ, err)
		}
	}
	if _, err := stage.ParseSourcingType("handmade"); err == nil {
		t.Fatal("expected error for unknown sourcing type")
	}
}

func TestIndexOffTrack(t *testing.T) {
	if got := stage.Index(stage.SourcingConstruction, stage.StageConcept); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
	if stage.OnTrack(stage.SourcingConstruction, stage.StageConcept) {
		t.Fatal("concept should not be on construction track")
	}
}
