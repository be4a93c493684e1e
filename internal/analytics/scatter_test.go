package analytics

import (
	"math"
	"testing"
)

func TestDeclutterLeavesUniquePointsAlone(t *testing.T) {
	in := []ScatterPoint{
		{StudentID: 1, X: 10, Y: 20},
		{StudentID: 2, X: 55, Y: 70},
	}
	out := Declutter(in)
	for i, p := range out {
		if p.AdjustedX != p.X || p.AdjustedY != p.Y {
			t.Errorf("point %d moved: %+v", i, p)
		}
	}
}

func TestDeclutterFirstDuplicateKeepsPosition(t *testing.T) {
	in := []ScatterPoint{
		{StudentID: 1, X: 50, Y: 50},
		{StudentID: 2, X: 50, Y: 50},
	}
	out := Declutter(in)

	if out[0].AdjustedX != 50 || out[0].AdjustedY != 50 {
		t.Fatalf("first occurrence moved: %+v", out[0])
	}
	if out[1].AdjustedX == 50 && out[1].AdjustedY == 50 {
		t.Fatalf("second occurrence not spread: %+v", out[1])
	}
	if out[1].X != 50 || out[1].Y != 50 {
		t.Fatalf("true coordinates changed: %+v", out[1])
	}
}

func TestDeclutterOffsetFollowsSpiral(t *testing.T) {
	in := []ScatterPoint{
		{X: 50, Y: 50},
		{X: 50, Y: 50},
		{X: 50, Y: 50},
	}
	out := Declutter(in)

	// k = 1: radius 3, angle 0.75 pi
	wantX := 50 + 3*math.Cos(0.75*math.Pi)
	wantY := 50 + 3*math.Sin(0.75*math.Pi)
	if math.Abs(out[1].AdjustedX-wantX) > 1e-9 || math.Abs(out[1].AdjustedY-wantY) > 1e-9 {
		t.Fatalf("k=1 offset = (%v, %v), want (%v, %v)", out[1].AdjustedX, out[1].AdjustedY, wantX, wantY)
	}

	// k = 2: radius ceil(sqrt(2))*3 = 6, angle 1.5 pi
	wantX = 50 + 6*math.Cos(1.5*math.Pi)
	wantY = 50 + 6*math.Sin(1.5*math.Pi)
	if math.Abs(out[2].AdjustedX-wantX) > 1e-9 || math.Abs(out[2].AdjustedY-wantY) > 1e-9 {
		t.Fatalf("k=2 offset = (%v, %v), want (%v, %v)", out[2].AdjustedX, out[2].AdjustedY, wantX, wantY)
	}
}

func TestDeclutterClampsToChartRange(t *testing.T) {
	in := []ScatterPoint{
		{X: 0, Y: 100},
		{X: 0, Y: 100},
		{X: 0, Y: 100},
		{X: 0, Y: 100},
	}
	out := Declutter(in)
	for i, p := range out {
		if p.AdjustedX < 0 || p.AdjustedX > 100 || p.AdjustedY < 0 || p.AdjustedY > 100 {
			t.Errorf("point %d out of range: %+v", i, p)
		}
	}
}

func TestDeclutterKeepsStudentIdentityAndSize(t *testing.T) {
	// One point per student, sized by their attempt count. Spreading
	// coincident points must not touch either.
	in := []ScatterPoint{
		{StudentID: 1, Label: "ani", X: 60, Y: 75, Size: 4},
		{StudentID: 2, Label: "budi", X: 60, Y: 75, Size: 1},
	}
	out := Declutter(in)

	if out[0].StudentID != 1 || out[0].Size != 4 || out[0].Label != "ani" {
		t.Fatalf("first point mangled: %+v", out[0])
	}
	if out[1].StudentID != 2 || out[1].Size != 1 || out[1].Label != "budi" {
		t.Fatalf("second point mangled: %+v", out[1])
	}
}

func TestDeclutterIsDeterministic(t *testing.T) {
	in := []ScatterPoint{
		{StudentID: 1, X: 30, Y: 40},
		{StudentID: 2, X: 30, Y: 40},
		{StudentID: 3, X: 80, Y: 15},
		{StudentID: 4, X: 30, Y: 40},
	}
	a := Declutter(in)
	b := Declutter(in)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("run differs at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}
