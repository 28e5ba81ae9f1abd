package rpc

import "testing"

func TestNormalizeZone(t *testing.T) {
	cases := map[string]string{
		"Example.COM.": "example.com",
		"example.com":  "example.com",
		"A-B.c-d.ORG":  "a-b.c-d.org",
	}
	for in, want := range cases {
		if got := NormalizeZone(in); got != want {
			t.Errorf("NormalizeZone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidZoneName(t *testing.T) {
	valid := []string{"example.com", "a-b.example.com", "xn--example.com", "two.labels"}
	invalid := []string{"onelabel", "", "-leadinghyphen.com", "example.com.", "has space.com"}

	for _, z := range valid {
		if !ValidZoneName(z) {
			t.Errorf("ValidZoneName(%q) = false, want true", z)
		}
	}
	for _, z := range invalid {
		if ValidZoneName(z) {
			t.Errorf("ValidZoneName(%q) = true, want false", z)
		}
	}
}
