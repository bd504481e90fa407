//go:build !libpostal

package normalize

import (
	"testing"
)

func TestCleanAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple address with abbreviation",
			input: "12 Main Rd., Dhaka",
			want:  "12 main road dhaka",
		},
		{
			name:  "export processing zone",
			input: "Plot 5, Bldg No. 3, Savar EPZ",
			want:  "plot 5 building number 3 savar export processing zone",
		},
		{
			name:  "directional abbreviation",
			input: "45 N Industrial Ave",
			want:  "45 north industrial avenue",
		},
		{
			name:  "blank address",
			input: " , ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanAddress(tt.input)
			if got != tt.want {
				t.Errorf("CleanAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestAbbrevRulesExpand(t *testing.T) {
	rules := NewAbbrevRules()

	got := rules.Expand("5 st marks rd")
	want := "5 street marks road"
	if got != want {
		t.Errorf("Expand() = %q, want %q", got, want)
	}
}
