package policy

import (
	"testing"

	"github.com/nvandessel/epistate/internal/infection"
)

func ptr[T any](v T) *T { return &v }

func TestTable_CarryForwardPerField(t *testing.T) {
	table, err := NewTable([]Change{
		{Day: 10, Activity: "work", RemainingFraction: ptr(0.5)},
		{Day: 20, Activity: "work", Masks: &infection.MaskDistribution{Cloth: 0.9}},
		{Day: 30, Activity: "work", CiCorrection: ptr(0.3)},
		{Day: 40, Activity: "work", RemainingFraction: ptr(1.0)},
	}, "home")
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	tests := []struct {
		day  int
		want Restriction
	}{
		{0, None},
		{10, Restriction{RemainingFraction: 0.5, CiCorrection: 1}},
		{25, Restriction{RemainingFraction: 0.5, CiCorrection: 1, Masks: infection.MaskDistribution{Cloth: 0.9}}},
		{35, Restriction{RemainingFraction: 0.5, CiCorrection: 0.3, Masks: infection.MaskDistribution{Cloth: 0.9}}},
		{100, Restriction{RemainingFraction: 1, CiCorrection: 0.3, Masks: infection.MaskDistribution{Cloth: 0.9}}},
	}
	for _, tt := range tests {
		if got := table.At(tt.day, "work"); got != tt.want {
			t.Errorf("At(%d) = %+v, want %+v", tt.day, got, tt.want)
		}
	}
	if got := table.At(50, "leisure"); got != None {
		t.Errorf("unrestricted activity = %+v, want None", got)
	}
	if got := table.At(50, "home"); got != None {
		t.Errorf("exempt activity = %+v, want None", got)
	}
}

func TestTable_SameDayChangesMerge(t *testing.T) {
	table, err := NewTable([]Change{
		{Day: 5, Activity: "leisure", RemainingFraction: ptr(0.2)},
		{Day: 5, Activity: "leisure", CiCorrection: ptr(0.5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Restriction{RemainingFraction: 0.2, CiCorrection: 0.5}
	if got := table.At(5, "leisure"); got != want {
		t.Errorf("At(5) = %+v, want %+v", got, want)
	}
}

func TestNewTable_Errors(t *testing.T) {
	tests := []struct {
		name   string
		change Change
	}{
		{"fraction", Change{Day: 1, Activity: "work", RemainingFraction: ptr(1.5)}},
		{"ci", Change{Day: 1, Activity: "work", CiCorrection: ptr(-1.0)}},
		{"masks", Change{Day: 1, Activity: "work", Masks: &infection.MaskDistribution{Cloth: 0.8, N95: 0.8}}},
		{"exempt", Change{Day: 1, Activity: "home", CiCorrection: ptr(0.5)}},
		{"no activity", Change{Day: 1, CiCorrection: ptr(0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable([]Change{tt.change}, "home"); err == nil {
				t.Error("NewTable() error = nil")
			}
		})
	}
}
