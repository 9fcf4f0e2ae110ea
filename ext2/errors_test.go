package ext2

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("lookup failed: %w", &Error{Kind: NoEnt, Path: "/missing"})
	if !errors.Is(err, &Error{Kind: NoEnt}) {
		t.Fatal("errors.Is should match on Kind alone, ignoring other fields")
	}
	if errors.Is(err, &Error{Kind: NotDir}) {
		t.Fatal("errors.Is should not match a different Kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("device read failed")
	err := wrapf(UnexpectedEOF, cause)
	if !errors.Is(err, cause) {
		t.Fatal("Unwrap should expose the wrapped cause to errors.Is")
	}
}

func TestErrorMessageIncludesPath(t *testing.T) {
	err := &Error{Kind: NoEnt, Path: "/a/b"}
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned an empty string")
	}
	if want := `"/a/b"`; !contains(msg, want) {
		t.Fatalf("Error() = %q, want it to contain %q", msg, want)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
