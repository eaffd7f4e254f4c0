package importparser

import (
	"reflect"
	"regexp"
	"testing"
)

// referenceExtract is a simple reference regex-based extractor used only in
// tests, per spec.md §8 ("For every valid source file, the parser's
// module-name output equals the set produced by a reference regex-based
// extractor"). It is intentionally naive: it does not understand comments,
// so test fixtures avoid commented-out imports in the prefix.
var importRe = regexp.MustCompile(`(?m)^import\s+([A-Z][A-Za-z0-9_]*(?:\.[A-Z][A-Za-z0-9_]*)*)`)

func referenceExtract(src string) []string {
	matches := importRe.FindAllStringSubmatch(src, -1)
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "single import",
			src:  "module Main exposing (..)\n\nimport Html\n",
			want: []string{"Html"},
		},
		{
			name: "dotted module",
			src:  "module Main exposing (..)\n\nimport Html.Attributes\n\nimport Json.Decode\n",
			want: []string{"Html.Attributes", "Json.Decode"},
		},
		{
			name: "stops at non-import top-level decl",
			src:  "module Main exposing (..)\n\nimport Html\n\nmain = 1\n\nimport ShouldNotAppear\n",
			want: []string{"Html"},
		},
		{
			name: "no imports",
			src:  "module Main exposing (..)\n\nmain = 1\n",
			want: nil,
		},
		{
			name: "lowercase word after import is ignored",
			src:  "module Main exposing (..)\n\nimport html\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrefix([]byte(tt.src))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePrefixMatchesReferenceExtractor(t *testing.T) {
	fixtures := []string{
		"module A exposing (..)\n\nimport B\nimport C.D\n\nfoo = 1\n",
		"module A exposing (..)\n\nimport B exposing (x)\n\nimport C.D.E\n",
		"module A exposing (..)\n\nbar = 2\n",
	}

	for _, src := range fixtures {
		got := ParsePrefix([]byte(src))
		want := referenceExtract(src)
		if len(got) == 0 {
			got = nil
		}
		if len(want) == 0 {
			want = nil
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("src=%q: got %v, want %v", src, got, want)
		}
	}
}

func TestFeedByteByByteIsNonImportStopsEarly(t *testing.T) {
	src := "module A exposing (..)\n\nimport B\n\nmain = 1\n\nimport C\n"
	p := New()
	fed := 0
	for i := 0; i < len(src); i++ {
		if p.IsNonImport() {
			break
		}
		p.Feed(src[i])
		fed++
	}
	p.Finish()
	if fed >= len(src) {
		t.Errorf("expected early stop before consuming entire input, fed=%d len=%d", fed, len(src))
	}
	want := []string{"B"}
	if !reflect.DeepEqual(p.Modules(), want) {
		t.Errorf("got %v, want %v", p.Modules(), want)
	}
}
