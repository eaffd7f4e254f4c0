package inject

import (
	"regexp"
	"strings"
	"testing"

	"github.com/elm-watch/elm-watch/internal/errs"
)

func TestApply_RewritesPlatformInitializeSignature(t *testing.T) {
	code := "function _Platform_initialize(flagDecoder, args, init, update, subscriptions, stepperBuilder)\n" +
		"{\n\tvar x = 1;\n}\n"

	out, err := Apply(code, ModeStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "init, update, subscriptions, stepperBuilder") {
		t.Fatalf("expected the original five-arg signature to be rewritten, got: %s", out)
	}
	if !strings.Contains(out, "function _Platform_initialize(flagDecoder, args, impl, stepperBuilder)") {
		t.Fatalf("expected the rewritten signature, got: %s", out)
	}
}

func TestApply_SkipsReplacementsWhoseProbeDoesNotMatch(t *testing.T) {
	code := "function totallyUnrelated() {}\n"

	out, err := Apply(code, ModeStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, code) {
		t.Fatalf("expected original code preserved when no probe matches, got: %s", out)
	}
}

func TestApply_FailsWhenSearchMatchesMoreThanOnce(t *testing.T) {
	code := "function _Platform_initialize(flagDecoder, args, init, update, subscriptions, stepperBuilder)\n{\n" +
		"function _Platform_initialize(flagDecoder, args, init, update, subscriptions, stepperBuilder)\n{\n"

	_, err := Apply(code, ModeStandard, "")
	if err == nil {
		t.Fatalf("expected InjectSearchAndReplaceNotFound when the search pattern matches twice")
	}
	if err.Tag() != errs.TagInjectSearchAndReplaceNotFound {
		t.Fatalf("expected TagInjectSearchAndReplaceNotFound, got %v", err.Tag())
	}
}

func TestSubstitutePlaceholders_OptimizeModeRecoversMinifiedNames(t *testing.T) {
	code := "var $a = impl.init, $b = impl.update;\n"
	catalogue := []Replacement{{
		ID:    "probe_init",
		Probe: regexp.MustCompile(`anything`),
		Pairs: []SearchReplace{{Name: "only", Search: regexp.MustCompile(`x`), Replace: PlaceholderInit + "/" + PlaceholderUpdate}},
	}}

	resolved := SubstitutePlaceholders(catalogue, code, ModeOptimize)

	if resolved[0].Pairs[0].Replace != "$a/$b" {
		t.Fatalf("expected minified names $a/$b substituted in, got %q", resolved[0].Pairs[0].Replace)
	}
}

func TestSubstitutePlaceholders_NonOptimizeModeUsesLiteralNames(t *testing.T) {
	catalogue := []Replacement{{
		ID:    "probe_init",
		Probe: regexp.MustCompile(`anything`),
		Pairs: []SearchReplace{{Name: "only", Search: regexp.MustCompile(`x`), Replace: PlaceholderInit}},
	}}

	resolved := SubstitutePlaceholders(catalogue, "", ModeStandard)

	if resolved[0].Pairs[0].Replace != "init" {
		t.Fatalf("expected the literal name %q, got %q", "init", resolved[0].Pairs[0].Replace)
	}
}

func TestApply_BrowserSandboxInjectsHotReloadMachinery(t *testing.T) {
	code := "function _Browser_sandbox(impl)\n{\n\tvar x = 1;\n}\n"

	out, err := Apply(code, ModeStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "impl.__elmWatchProgramType = 'sandbox';") {
		t.Fatalf("expected the sandbox program to be tagged with its program type, got: %s", out)
	}
	if !strings.Contains(out, "_ElmWatch_sandboxFn.__elmWatchImpl = impl;") {
		t.Fatalf("expected a registered __elmWatchImpl closure, got: %s", out)
	}
}

func TestApply_InjectsRuntimePreludeWithReloadReasonsAndRegistry(t *testing.T) {
	code := "function totallyUnrelated() {}\n"

	out, err := Apply(code, ModeStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		ReasonFlagsTypeChanged,
		ReasonMessageTypeChangedInDebugMode,
		ReasonInitReturnValueChanged,
		ReasonNewPortAdded,
		ReasonProgramTypeChanged,
		"_ElmWatch_registerInstance",
		"_ElmWatch_dispatch",
		"_ElmWatch_shapeTolerantEqual",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected runtime prelude to contain %q, got: %s", want, out)
		}
	}
}

func TestApply_PlatformInitializeExposesHotReloadEntryPoint(t *testing.T) {
	code := "function _Platform_initialize(flagDecoder, args, init, update, subscriptions, stepperBuilder)\n" +
		"{\n\tvar x = 1;\n}\n"

	out, err := Apply(code, ModeStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "self.__elmWatchHotReload = function(newData)") {
		t.Fatalf("expected a real __elmWatchHotReload implementation, got: %s", out)
	}
	if !strings.Contains(out, "impl.init = newImpl.init;") {
		t.Fatalf("expected the hot-reload path to swap impl fields in place, got: %s", out)
	}
}

func TestApply_PlatformExportDispatchesInsteadOfOverwriting(t *testing.T) {
	code := "function _Platform_export(exports)\n{\n\tscope['Elm'] = exports;\n}\n"

	out, err := Apply(code, ModeStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "window.__elmWatchHotReload = function() { return previousReason; };") {
		t.Fatalf("expected window.__elmWatchHotReload to be defined, got: %s", out)
	}
	if !strings.Contains(out, "_ElmWatch_dispatch(nextPath,") {
		t.Fatalf("expected a reload to dispatch to an existing instance rather than overwrite it, got: %s", out)
	}
}

func TestSubstitutePlaceholders_DiscoversVarAssignPairsInAllModes(t *testing.T) {
	code := "var a1 = impl.init;\n"
	catalogue := []Replacement{{
		ID:    "probe_init",
		Probe: regexp.MustCompile(`anything`),
		Pairs: []SearchReplace{{Name: "only", Search: regexp.MustCompile(`x`), Replace: PlaceholderInit}},
	}}

	resolved := SubstitutePlaceholders(catalogue, code, ModeStandard)

	if resolved[0].Pairs[0].Replace != "a1" {
		t.Fatalf("expected the discovered var-assign pair to resolve even outside optimize mode, got %q", resolved[0].Pairs[0].Replace)
	}
}

func TestIdentifier_HeaderLineRoundTrips(t *testing.T) {
	id := Identifier{Version: "1.0.0", TargetName: "main", WebSocketPort: 8000, WebSocketToken: "tok"}
	header := id.HeaderLine()

	parsed, ok := ParseHeaderPrefix([]byte(header + "rest of the file"))
	if !ok {
		t.Fatalf("expected ParseHeaderPrefix to recognize a header it just wrote")
	}
	if parsed != id {
		t.Fatalf("expected round-tripped identifier %+v, got %+v", id, parsed)
	}
}

func TestIsProxyCurrent(t *testing.T) {
	id := Identifier{Version: "1.0.0", TargetName: "main", WebSocketPort: 8000, WebSocketToken: "tok"}
	current := []byte(id.HeaderLine() + "body")

	if !IsProxyCurrent(current, id) {
		t.Fatalf("expected a file whose prefix matches the identifier header to be current")
	}

	other := Identifier{Version: "1.0.1", TargetName: "main", WebSocketPort: 8000, WebSocketToken: "tok"}
	if IsProxyCurrent(current, other) {
		t.Fatalf("expected a version bump to make the proxy stale")
	}

	if IsProxyCurrent([]byte("too short"), id) {
		t.Fatalf("expected a too-short existing file to never be considered current")
	}
}

func TestClientCode_SubstitutesEveryPlaceholder(t *testing.T) {
	template := "%TARGET_NAME% %INITIAL_ELM_COMPILED_TIMESTAMP% %ORIGINAL_COMPILATION_MODE% " +
		"%ORIGINAL_BROWSER_UI_POSITION% %WEBSOCKET_PORT% %WEBSOCKET_TOKEN% %DEBUG%"

	out := ClientCode(template, "main", 12345, ModeOptimize, "BottomLeft", 8000, "tok", true)

	want := "main 12345 optimize BottomLeft 8000 tok true"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestProxyFile_StartsWithHeaderAndThrowsUntilCompiled(t *testing.T) {
	id := Identifier{Version: "1.0.0", TargetName: "main", WebSocketPort: 8000, WebSocketToken: "tok"}
	proxy := ProxyFile("/* client */", id)

	if !strings.HasPrefix(proxy, id.HeaderLine()) {
		t.Fatalf("expected proxy file to start with the identifier header")
	}
	if !strings.Contains(proxy, "/* client */") {
		t.Fatalf("expected proxy file to embed the client code")
	}
	if !strings.Contains(proxy, "has not compiled yet") {
		t.Fatalf("expected proxy file to throw an informative error before the real compile lands")
	}
}
