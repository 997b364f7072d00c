package errs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("job failed: %w", WithPath(Decode, "decode image", "/tmp/a.png", io.ErrUnexpectedEOF))

	if !errors.Is(err, Decode) {
		t.Error("expected error to match Decode kind")
	}
	if errors.Is(err, IO) {
		t.Error("did not expect error to match IO kind")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected wrapped cause to be reachable")
	}
	if got := KindOf(err); got != Decode {
		t.Errorf("KindOf() = %v, want %v", got, Decode)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Errorf("KindOf() = %v, want %v", got, Unknown)
	}
	if got := KindOf(nil); got != Unknown {
		t.Errorf("KindOf(nil) = %v, want %v", got, Unknown)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "kind only",
			err:      &Error{Kind: AssemblyState},
			expected: "assembly state",
		},
		{
			name:     "operation and cause",
			err:      New(Detection, "tesseract detect", errors.New("no traineddata")),
			expected: "tesseract detect: no traineddata",
		},
		{
			name:     "operation, path and cause",
			err:      WithPath(IO, "write pdf", "out/a.pdf", errors.New("disk full")),
			expected: "write pdf out/a.pdf: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKindIsError(t *testing.T) {
	if !strings.Contains(FontResolution.Error(), "font resolution") {
		t.Errorf("unexpected kind message: %s", FontResolution.Error())
	}
}
