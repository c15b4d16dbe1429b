package deltacodec

import (
	"bytes"
	"testing"
)

// TestDeltaRoundTrip covers spec.md §8 universal property 2: for any two
// byte strings a, b: apply(a, diff(signature(a), b)) == b.
func TestDeltaRoundTrip(t *testing.T) {
	a := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	b := append(append([]byte{}, a[:1000]...), []byte("SOME NEW CONTENT INSERTED HERE")...)
	b = append(b, a[1000:]...)

	sig, err := Signature(a)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}

	patch, err := Diff(sig, b)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	got, err := Apply(a, patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !bytes.Equal(got, b) {
		t.Fatal("round-trip did not reconstruct b")
	}
}

func TestPreferFullUpload(t *testing.T) {
	if !PreferFullUpload(10, 100, false) {
		t.Fatal("expected full upload when no prior version exists")
	}

	if !PreferFullUpload(200, 100, true) {
		t.Fatal("expected full upload when patch is not smaller than data")
	}

	if PreferFullUpload(10, 100, true) {
		t.Fatal("expected patch to be preferred when it is smaller")
	}
}
