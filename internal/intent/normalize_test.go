package intent_test

import (
	"testing"

	"github.com/MrWong99/votevoice/internal/intent"
)

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"john dot doe at example dot com", "johndoe@example.com"},
		{"Mary at gmail dot com", "mary@gmail.com"},
		{"kate underscore w at uni dot ac dot ke", "kate_w@uni.ac.ke"},
		{"jane doe@example.com", "janedoe@example.com"},
		{"pat at at dot org", "pat@at.org"},
	}
	for _, tt := range tests {
		if got := intent.NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmailValue_RejectsAddressWithoutAt(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"john doe", "at example dot com"} {
		if got, ok := intent.EmailValue(in); ok {
			t.Errorf("EmailValue(%q) = %q, true; want rejection", in, got)
		}
	}
}

func TestFirstNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"22", "22", true},
		{"I am 19", "19", true},
		{"19 or 20", "19", true},
		{"nineteen", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := intent.FirstNumber(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("FirstNumber(%q) = %q, %t; want %q, %t", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	if got := intent.NormalizeCode(" sct 221 0042 2021 "); got != "SCT22100422021" {
		t.Errorf("NormalizeCode = %q, want %q", got, "SCT22100422021")
	}
	if _, ok := intent.CodeValue("   "); ok {
		t.Error("CodeValue(blank) ok=true, want false")
	}
}
