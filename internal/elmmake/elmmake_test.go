package elmmake

import (
	"strings"
	"testing"

	"github.com/elm-watch/elm-watch/internal/errs"
)

// TestCrashMidJSON reproduces §8 scenario 6: the compiler exits 1 with a
// half-emitted JSON object followed by a plaintext panic.
func TestCrashMidJSON(t *testing.T) {
	stderr := `{"type":"compile-errors","errors":[elm: panic! something went terribly wrong`
	err := classifyNonZero(1, "", stderr)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Tag() != errs.TagElmMakeCrashError {
		t.Fatalf("got tag %v, want %v", err.Tag(), errs.TagElmMakeCrashError)
	}

	braceIdx := strings.Index(stderr, "{")
	elmIdx := strings.Index(stderr, "elm: ")
	want := elmIdx - braceIdx
	if err.JSONLengthHint != want {
		t.Errorf("got JSONLengthHint %d, want %d", err.JSONLengthHint, want)
	}
	if !strings.HasPrefix(err.Stderr, "elm: ") {
		t.Errorf("expected Stderr to start with %q, got %q", "elm: ", err.Stderr)
	}
}

func TestBoxBannerIsStripped(t *testing.T) {
	banner := "+-------------------------------\n" +
		"| This is a banner line          |\n" +
		"+-------------------------------\n" +
		"\n"
	report := `{"type":"compile-errors","errors":[]}`
	stderr := banner + report

	err := classifyNonZero(1, "", stderr)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Tag() != errs.TagElmMakeError {
		t.Fatalf("got tag %v, want %v", err.Tag(), errs.TagElmMakeError)
	}
}

func TestUnparseableReportYieldsJsonParseError(t *testing.T) {
	err := classifyNonZero(1, "", "not json at all")
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Tag() != errs.TagElmMakeJsonParseError {
		t.Fatalf("got tag %v, want %v", err.Tag(), errs.TagElmMakeJsonParseError)
	}
}

func TestNonEmptyStdoutOnExitOneIsUnexpected(t *testing.T) {
	err := classifyNonZero(1, "unexpected stdout chatter", `{"type":"compile-errors","errors":[]}`)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Tag() != errs.TagUnexpectedElmMakeOutput {
		t.Fatalf("got tag %v, want %v", err.Tag(), errs.TagUnexpectedElmMakeOutput)
	}
}

func TestOtherExitCodeIsUnexpected(t *testing.T) {
	err := classifyNonZero(2, "", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Tag() != errs.TagUnexpectedElmMakeOutput {
		t.Fatalf("got tag %v, want %v", err.Tag(), errs.TagUnexpectedElmMakeOutput)
	}
}

func TestExitZeroEmptyIsSuccess(t *testing.T) {
	if err := classifySuccess("", ""); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestTabsInReportAreEscapedBeforeParsing(t *testing.T) {
	stderr := "{\"type\":\"compile-errors\",\"message\":\"col1\tcol2\",\"errors\":[]}"
	err := classifyNonZero(1, "", stderr)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Tag() != errs.TagElmMakeError {
		t.Fatalf("expected report to parse despite embedded tab, got tag %v", err.Tag())
	}
}
