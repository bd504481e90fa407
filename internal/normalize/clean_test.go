package normalize

import (
	"reflect"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "punctuation and spacing", input: "  Hello,   World! ", want: "hello world"},
		{name: "accents and hyphen", input: "Café Déjà-Vu", want: "cafe dejavu"},
		{name: "apostrophe joins", input: "O'Neil Garments", want: "oneil garments"},
		{name: "transliteration", input: "北京", want: "bei jing"},
		{name: "empty", input: "", want: ""},
		{name: "only punctuation", input: "!!!", want: ""},
		{name: "newlines and slashes", input: "Unit 4/5\nBlock B", want: "unit 4 5 block b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(tt.input)
			if got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if again := Clean(got); again != got {
				t.Errorf("Clean is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"The Acme Garments Co., Ltd.", "acme garments"},
		{"Shenzhen Knitwear Limited", "shenzhen knitwear"},
		{"The Company", "the company"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := CleanName(tt.input)
			if got != tt.want {
				t.Errorf("CleanName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("acme garments acme factory")
	want := []string{"acme", "garments", "factory"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens() = %v, want %v", got, want)
	}

	if got := Tokens(""); len(got) != 0 {
		t.Errorf("Tokens(\"\") = %v, want empty", got)
	}
}
