package remote

import "testing"

func TestKeyFor_HostCaseInsensitive(t *testing.T) {
	a := Server{Host: "Example.COM", Port: 22, Username: "deploy"}
	b := Server{Username: "deploy", Host: "example.com"}

	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "deploy@example.com:22" {
		t.Errorf("Key() = %q", a.Key())
	}
}

func TestKeyFor_DistinctTriples(t *testing.T) {
	cases := []Server{
		{Host: "h", Port: 22, Username: "a"},
		{Host: "h", Port: 2222, Username: "a"},
		{Host: "h", Port: 22, Username: "b"},
		{Host: "g", Port: 22, Username: "a"},
	}
	seen := map[Key]bool{}
	for _, s := range cases {
		k := s.Key()
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestServer_AddrIPv6(t *testing.T) {
	s := Server{Host: "::1", Port: 2022}
	if got := s.Addr(); got != "[::1]:2022" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestServer_Label(t *testing.T) {
	if got := (Server{Name: "prod", Host: "h", Username: "u"}).Label(); got != "prod" {
		t.Errorf("Label() = %q", got)
	}
	if got := (Server{Host: "h", Username: "u"}).Label(); got != "u@h:22" {
		t.Errorf("Label() = %q", got)
	}
}

func TestHostPort(t *testing.T) {
	if got := HostPort("HOST", 0); got != "host:22" {
		t.Errorf("HostPort = %q", got)
	}
}
