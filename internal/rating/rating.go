// Package rating derives a trust score from a user's submission history.
package rating

// DefaultBlockFloor is the score below which admission escalates to a block.
const DefaultBlockFloor = 30

// Stats are the historical counts the score is computed from.
type Stats struct {
	Total    int
	Rejected int
	// Recent counts submissions in the last 24 hours.
	Recent int
}

// RejectionRate returns the rejected share in percent.
func (s Stats) RejectionRate() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Total) * 100
}

// Score maps stats to [0,100].
func Score(s Stats) int {
	score := 100.0
	rate := s.RejectionRate()

	penalty := rate * 0.5
	if penalty > 50 {
		penalty = 50
	}
	score -= penalty

	if s.Recent > 5 {
		score -= float64(5 * (s.Recent - 5))
	}
	if rate > 50 {
		score -= 20
	}

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return int(score)
}

// Band returns an advisory label for a score.
func Band(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 75:
		return "very_good"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

// ShouldBlock reports whether score is below floor. A non-positive floor uses DefaultBlockFloor.
func ShouldBlock(score, floor int) bool {
	if floor <= 0 {
		floor = DefaultBlockFloor
	}
	return score < floor
}
