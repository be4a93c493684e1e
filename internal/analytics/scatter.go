package analytics

import "math"

// ScatterPoint is one student plotted on the engagement/score chart: x and y
// average that student's completed attempts, size counts them. Adjusted
// coordinates are for rendering only; X and Y stay the true values.
type ScatterPoint struct {
	StudentID int64   `json:"student_id"`
	Label     string  `json:"label"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      int     `json:"size"`
	AdjustedX float64 `json:"adjusted_x"`
	AdjustedY float64 `json:"adjusted_y"`
}

// Declutter spreads coincident points so overlapping students stay visible.
// The first point at a position keeps its coordinates; the k-th duplicate is
// pushed onto a spiral whose radius grows with k. Input order decides k, so
// the layout is deterministic for a given point sequence.
func Declutter(points []ScatterPoint) []ScatterPoint {
	type key struct{ x, y float64 }
	seen := make(map[key]int, len(points))

	out := make([]ScatterPoint, len(points))
	for i, p := range points {
		k := seen[key{p.X, p.Y}]
		seen[key{p.X, p.Y}] = k + 1

		p.AdjustedX, p.AdjustedY = p.X, p.Y
		if k > 0 {
			radius := math.Ceil(math.Sqrt(float64(k))) * 3
			angle := float64(k) * 0.75 * math.Pi
			p.AdjustedX = clampAxis(p.X + radius*math.Cos(angle))
			p.AdjustedY = clampAxis(p.Y + radius*math.Sin(angle))
		}
		out[i] = p
	}
	return out
}

func clampAxis(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
