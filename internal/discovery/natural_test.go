package discovery

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"S1", "S2", true},
		{"S2", "S10", true},
		{"S10", "S2", false},
		{"S1", "S1", false},
		{"S1", "S1a", true},
		{"sensor9", "sensor10", true},
		{"A", "B", true},
		{"S1", "S01", true},
		{"tank2_level3", "tank2_level12", true},
		{"10", "9", false},
		{"", "S1", true},
	}
	for _, tt := range tests {
		t.Run(tt.a+"<"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, NaturalLess(tt.a, tt.b))
		})
	}
}

func TestNaturalLess_Sort(t *testing.T) {
	in := []string{"S10", "S1", "S2", "S20", "R3", "S3"}
	sort.Slice(in, func(i, j int) bool { return NaturalLess(in[i], in[j]) })
	assert.Equal(t, []string{"R3", "S1", "S2", "S3", "S10", "S20"}, in)
}
