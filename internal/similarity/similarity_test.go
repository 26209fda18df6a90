package similarity

import (
	"math"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{"both empty", "", "", 1.0},
		{"identical", "abc", "abc", 1.0},
		{"one empty", "abc", "", 0.0},
		{"single substitution", "abcd", "abcx", 0.75},
		{"order independent", "hotel xyz", "hotel xyzz", Score("hotel xyzz", "hotel xyz")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Score(%q, %q) = %f, expected %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestScoreCompletelyDifferent(t *testing.T) {
	if got := Score("abc", "xyz"); got >= 0.5 {
		t.Errorf("Score(abc, xyz) = %f, expected < 0.5", got)
	}
}

func TestScoreBounds(t *testing.T) {
	pairs := [][2]string{
		{"", "somewhat longer string"},
		{"a", "b"},
		{"Hotel XYZ", "HOTEL XYZ SAO PAULO"},
		{"uber trip", "uber"},
	}

	for _, p := range pairs {
		got := Score(p[0], p[1])
		if got < 0.0 || got > 1.0 {
			t.Errorf("Score(%q, %q) = %f, out of [0,1]", p[0], p[1], got)
		}
	}
}

func TestScoreFold(t *testing.T) {
	if got := ScoreFold("Hotel XYZ", "  hotel xyz "); got != 1.0 {
		t.Errorf("ScoreFold should ignore case and surrounding whitespace, got %f", got)
	}
}
