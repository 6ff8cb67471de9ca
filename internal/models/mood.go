package models

import "math"

// MoodType is the category derived from an assessment score
type MoodType string

const (
	MoodHappy MoodType = "HAPPY"
	MoodCalm  MoodType = "CALM"
	MoodSad   MoodType = "SAD"
)

// MoodForScore classifies a score: 4 and above is HAPPY, a score whose
// floor is 3 is CALM and anything else is SAD. Scores in (3, 4) with a
// fractional part still floor to 3, so 3.8 is CALM.
func MoodForScore(score float64) MoodType {
	switch {
	case score >= 4:
		return MoodHappy
	case math.Floor(score) == 3:
		return MoodCalm
	default:
		return MoodSad
	}
}
