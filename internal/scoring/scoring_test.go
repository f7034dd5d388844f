package scoring

import (
	"math"
	"testing"
)

func TestAggregateExactBlend(t *testing.T) {
	got := Aggregate(0.4000, 0.9000)
	if got != 0.7000 {
		t.Fatalf("Aggregate(0.4, 0.9) = %v, want 0.7000", got)
	}
}

func TestAggregateClampsInputs(t *testing.T) {
	if got := Aggregate(5.0, 2.0); got != 1.0000 {
		t.Errorf("Aggregate(5, 2) = %v, want 1.0000", got)
	}
	if got := Aggregate(-1.0, -2.0); got != 0.0000 {
		t.Errorf("Aggregate(-1, -2) = %v, want 0.0000", got)
	}
}

func TestAggregateRounding(t *testing.T) {
	// 0.33333*0.4 + 0.11111*0.6 = 0.199998 → 0.2000
	if got := Aggregate(0.33333, 0.11111); got != 0.2000 {
		t.Errorf("Aggregate rounding = %v, want 0.2000", got)
	}
}

func TestDecideThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  Decision
	}{
		{0.0, DecisionApproved},
		{0.3999, DecisionApproved},
		{0.4000, DecisionReview},
		{0.6500, DecisionReview},
		{0.6999, DecisionReview},
		{0.7000, DecisionBlocked},
		{1.0, DecisionBlocked},
	}
	for _, tc := range cases {
		if got := Decide(tc.score); got != tc.want {
			t.Errorf("Decide(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestDecideNaN(t *testing.T) {
	if got := Decide(math.NaN()); got != DecisionApproved {
		t.Errorf("Decide(NaN) = %s, want APPROVED", got)
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{-0.1, 0.0},
		{1.5, 1.0},
		{math.NaN(), 0.0},
		{math.Inf(1), 0.0},
		{math.Inf(-1), 0.0},
	}
	for _, tc := range cases {
		if got := Clamp01(tc.in); got != tc.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRound4HalfUp(t *testing.T) {
	if got := Round4(0.123456); got != 0.1235 {
		t.Errorf("Round4(0.123456) = %v, want 0.1235", got)
	}
	if got := Round4(0.123449); got != 0.1234 {
		t.Errorf("Round4(0.123449) = %v, want 0.1234", got)
	}
	if got := Round4(0.99999); got != 1.0 {
		t.Errorf("Round4(0.99999) = %v, want 1.0", got)
	}
}
