package identity

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"José", "Jose"},
		{"Jiří", "Jiri"},
		{"François", "Francois"},
		{"plain", "plain"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := RemoveDiacritics(tc.in); got != tc.want {
			t.Errorf("RemoveDiacritics(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"José", "jose"},
		{"JOSE ", "jose"},
		{"Anne-Marie", "anne marie"},
		{"  Old   Ben  ", "old ben"},
		{"", ""},
		{"   ", ""},
	}

	for _, tc := range cases {
		if got := NormalizeLabel(tc.in); got != tc.want {
			t.Errorf("NormalizeLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
