package registry

import "testing"

func TestTrainingScore(t *testing.T) {
	cases := []struct {
		name      string
		v, lo, hi int64
		want      float64
	}{
		{"degenerate range", 3, 3, 3, 1.0},
		{"lowest", 0, 0, 10, 0.0},
		{"middle", 5, 0, 10, 0.5},
		{"highest", 10, 0, 10, 1.0},
		{"just above lowest band", 1, 0, 10, 0.5},
		{"inside lowest band", 9, 0, 100, 0.0},
		{"inside highest band", 91, 0, 100, 1.0},
		{"on highest band edge", 90, 0, 100, 0.5},
		{"offset range", 7, 4, 8, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TrainingScore(tc.v, tc.lo, tc.hi); got != tc.want {
				t.Fatalf("TrainingScore(%d, %d, %d) = %v, want %v", tc.v, tc.lo, tc.hi, got, tc.want)
			}
		})
	}
}
