package consumer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeNonFinite(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"untouched", `{"T1": 21.5, "T2": -3}`, `{"T1": 21.5, "T2": -3}`},
		{"nan", `{"T1": NaN}`, `{"T1": null}`},
		{"lower nan", `{"T1":nan,"T2":1}`, `{"T1":null,"T2":1}`},
		{"negative nan", `{"T1": -NaN}`, `{"T1": null}`},
		{"infinity", `{"T1": Infinity, "T2": -Infinity}`, `{"T1": null, "T2": null}`},
		{"inf", `{"T1": inf, "T2": -INF}`, `{"T1": null, "T2": null}`},
		{"array", `[NaN, 1, inf]`, `[null, 1, null]`},
		{"inside string", `{"note": "NaN and Infinity", "T1": NaN}`, `{"note": "NaN and Infinity", "T1": null}`},
		{"escaped quote", `{"a": "x\" NaN", "b": nan}`, `{"a": "x\" NaN", "b": null}`},
		{"key named nan", `{"nan": 1}`, `{"nan": 1}`},
		{"null kept", `{"T1": null}`, `{"T1": null}`},
		{"exponent", `{"T1": 1e5, "T2": -1.5E-3}`, `{"T1": 1e5, "T2": -1.5E-3}`},
		{"word prefix", `{"T1": info}`, `{"T1": info}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(sanitizeNonFinite([]byte(tt.in))))
		})
	}
}

func TestSanitizeNonFinite_ProducesValidJSON(t *testing.T) {
	out := sanitizeNonFinite([]byte(`{"T1": NaN, "T2": 22.5, "T3": -Infinity}`))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Nil(t, decoded["T1"])
	assert.Equal(t, 22.5, decoded["T2"])
	assert.Nil(t, decoded["T3"])
}
