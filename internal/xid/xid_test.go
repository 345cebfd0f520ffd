package xid

import (
	"strings"
	"testing"
	"time"
)

func TestAutoIsPrefixedAndUnique(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	a := Auto(at)
	b := Auto(at)

	if !strings.HasPrefix(a, "AUTO-1700000000000") {
		t.Fatalf("expected AUTO-<millis> prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids for the same instant, got %q twice", a)
	}
}

func TestNewCarriesPrefix(t *testing.T) {
	if got := New("rq"); !strings.HasPrefix(got, "rq-") {
		t.Fatalf("expected rq- prefix, got %q", got)
	}
}
