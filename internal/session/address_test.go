package session

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in     string
		suffix string
		want   string
		ok     bool
	}{
		{"5491112223344", "", "5491112223344@s.whatsapp.net", true},
		{"+54 911-1222-3344", "", "5491112223344@s.whatsapp.net", true},
		{"5491112223344@s.whatsapp.net", "", "5491112223344@s.whatsapp.net", true},
		{"12036302@g.us", "", "12036302@g.us", true},
		{"42", "example.net", "42@example.net", true},
		{"42", "@c.us", "42@c.us", true},
		{"  ", "", "", false},
		{"+ -", "", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeAddress(tc.in, tc.suffix)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeAddress(%q,%q)=(%q,%v) want (%q,%v)", tc.in, tc.suffix, got, ok, tc.want, tc.ok)
		}
	}
}
