package transport

import "testing"

func TestNewAddress(t *testing.T) {
	addr, err := NewAddress("127.0.0.1:5000")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if addr != (Address{IP: "127.0.0.1", Port: 5000}) {
		t.Errorf("Unexpected address %v", addr)
	}
	if addr.String() != "127.0.0.1:5000" {
		t.Errorf("Unexpected string %s", addr.String())
	}
}

func TestNewAddressInvalid(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "127.0.0.1:port", "127.0.0.1:70000", "a:b:c"} {
		if _, err := NewAddress(s); err == nil {
			t.Errorf("Expected error for %q", s)
		}
	}
}
