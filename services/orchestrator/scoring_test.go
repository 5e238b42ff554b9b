package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFinalScore(t *testing.T) {
	cases := []struct {
		name                          string
		static, dynamic, quality, adj int
		want                          int
	}{
		{"documented example rounds 78.5 up", 75, 80, 85, 75, 79},
		{"perfect", 100, 100, 100, 100, 100},
		{"zero", 0, 0, 0, 0, 0},
		{"degraded defaults", 50, 50, 50, 50, 50},
		{"half rounds up", 1, 0, 1, 0, 1},
		{"below half rounds down", 1, 0, 0, 0, 0},
		{"out of range inputs clamp high", 200, 200, 200, 200, 100},
		{"negative inputs clamp low", -50, -50, -50, -50, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FinalScore(tc.static, tc.dynamic, tc.quality, tc.adj))
		})
	}
}
