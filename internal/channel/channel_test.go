package channel

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"sms", SMS, true},
		{" Voice ", Voice, true},
		{"CHAT", Chat, true},
		{"email", Kind("EMAIL"), false},
	}
	for _, tc := range cases {
		got, ok := ParseKind(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseKind(%q)=%q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
