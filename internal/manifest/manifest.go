// Package manifest implements spec.md §4.D: decoding and validating the
// project manifest (elm-watch.json) and the package manifest (elm.json),
// following the teacher's unmarshal-then-validate two-step
// (wave/internal/config/parse.go) and its fmt.Errorf("…: %w", err) wrapping
// idiom throughout.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/elm-watch/elm-watch/internal/errs"
)

// Target is one named (inputs → output) compilation unit, as it appears
// under the "targets" key of the project manifest.
type Target struct {
	Inputs []string `json:"inputs"`
	Output string   `json:"output"`
}

// ProjectManifest is the tool's own config enumerating targets (§6.1).
type ProjectManifest struct {
	Targets     map[string]Target `json:"targets"`
	Postprocess []string          `json:"postprocess,omitempty"`
	Port        int               `json:"port,omitempty"`
}

var (
	targetNameRe = regexp.MustCompile(`^[^\s-](?:.*\S)?$`)
	upperFirst   = regexp.MustCompile(`^[A-Z]`)
)

// DecodeProjectManifest parses and validates elm-watch.json bytes. Unknown
// top-level fields are rejected, per §6.1 ("exact-fields required; extras
// rejected").
func DecodeProjectManifest(data []byte) (*ProjectManifest, *errs.Error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m ProjectManifest
	if err := dec.Decode(&m); err != nil {
		return nil, errs.New(errs.TagProjectManifestDecodeError, "decode project manifest", err)
	}

	if err := validateProjectManifest(&m); err != nil {
		return nil, errs.New(errs.TagProjectManifestDecodeError, err.Error(), err)
	}

	return &m, nil
}

func validateProjectManifest(m *ProjectManifest) error {
	if len(m.Targets) == 0 {
		return fmt.Errorf("manifest: at least one target is required")
	}

	for name, t := range m.Targets {
		if !targetNameRe.MatchString(name) {
			return fmt.Errorf("manifest: invalid target name %q", name)
		}
		if len(t.Inputs) == 0 {
			return fmt.Errorf("manifest: target %q: at least one input is required", name)
		}
		for _, in := range t.Inputs {
			if err := validateInput(in); err != nil {
				return fmt.Errorf("manifest: target %q: %w", name, err)
			}
		}
		if err := validateOutput(t.Output); err != nil {
			return fmt.Errorf("manifest: target %q: %w", name, err)
		}
	}

	if m.Port != 0 && (m.Port < 1 || m.Port > 65535) {
		return fmt.Errorf("manifest: port %d out of range 1..65535", m.Port)
	}
	for _, arg := range m.Postprocess {
		if arg == "" {
			return fmt.Errorf("manifest: postprocess entries must be non-empty")
		}
	}

	return nil
}

func validateInput(in string) error {
	if !strings.HasSuffix(in, ".elm") {
		return fmt.Errorf("input %q does not end with .elm", in)
	}
	segments := strings.FieldsFunc(strings.TrimSuffix(in, ".elm"), func(r rune) bool {
		return r == '/' || r == '\\'
	})
	if len(segments) == 0 {
		return fmt.Errorf("input %q has no final segment", in)
	}
	last := segments[len(segments)-1]
	if !upperFirst.MatchString(last) {
		return fmt.Errorf("input %q must have an upper-initial final segment", in)
	}
	return nil
}

func validateOutput(out string) error {
	if !strings.HasSuffix(out, ".js") {
		return fmt.Errorf("output %q does not end with .js", out)
	}
	if out == ".js" {
		return fmt.Errorf("output %q must not equal \".js\"", out)
	}
	if strings.HasPrefix(out, "-") {
		return fmt.Errorf("output %q must not start with \"-\"", out)
	}
	return nil
}

// PackageManifest is the decoded elm.json the compiler reads: either an
// application manifest (fixed source-directories list) or a package
// manifest (source directory fixed to "src").
type PackageManifest struct {
	Type             string   `json:"type"`
	SourceDirectories []string `json:"source-directories,omitempty"`
}

// SourceDirs returns the effective source-directory list, applying the
// package-type default of ["src"].
func (p *PackageManifest) SourceDirs() []string {
	if p.Type == "package" {
		return []string{"src"}
	}
	return p.SourceDirectories
}

// DecodePackageManifest parses elm.json bytes, distinguishing the
// "application" and "package" shapes by the "type" tag (§4.D).
func DecodePackageManifest(data []byte) (*PackageManifest, *errs.Error) {
	var p PackageManifest
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errs.New(errs.TagElmJsonDecodeError, "decode elm.json", err)
	}

	switch p.Type {
	case "application":
		if len(p.SourceDirectories) == 0 {
			return nil, errs.New(errs.TagElmJsonDecodeError, "application elm.json requires a non-empty source-directories list", nil)
		}
	case "package":
		// source directory is fixed to "src"; SourceDirectories, if present,
		// is ignored rather than rejected (older elm.json files may omit it).
	default:
		return nil, errs.New(errs.TagElmJsonDecodeError, fmt.Sprintf("unknown elm.json type %q", p.Type), nil)
	}

	return &p, nil
}

// ReadProjectManifest reads and decodes elm-watch.json from path, folding
// filesystem errors into ProjectManifestReadError/ProjectManifestNotFound
// per §7's manifest-decoding error group.
func ReadProjectManifest(path string) (*ProjectManifest, *errs.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.TagProjectManifestNotFound, "project manifest not found", err).WithPath(path)
		}
		return nil, errs.New(errs.TagProjectManifestReadError, "read project manifest", err).WithPath(path)
	}
	m, derr := DecodeProjectManifest(data)
	if derr != nil {
		return nil, derr.WithPath(path)
	}
	return m, nil
}

// ReadPackageManifest reads and decodes elm.json from path.
func ReadPackageManifest(path string) (*PackageManifest, *errs.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.TagElmJsonReadError, "read elm.json", err).WithPath(path)
	}
	m, derr := DecodePackageManifest(data)
	if derr != nil {
		return nil, derr.WithPath(path)
	}
	return m, nil
}
