// Package inject implements spec.md §4.G: rewriting the external compiler's
// emitted JS to expose hot-reload entry points, and avoiding the "plucking"
// of shape-sensitive record fields so `update`/`subscriptions`/`view` can be
// swapped in without a full page reload. The data-driven
// probe-then-search-and-replace catalogue mirrors the teacher's table-driven
// style seen in wave/internal/config's field tables, generalized from
// config-field merging to source-code rewriting; there is no direct teacher
// analogue for JS rewriting itself.
package inject

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/elm-watch/elm-watch/internal/errs"
)

// CompilationMode mirrors the three modes the compiler can emit. It is
// distinct from elmmake.Mode because the rewriter additionally needs
// ModeStandard vs ModeDebug for placeholder handling even though both pass
// no elm-make flag.
type CompilationMode string

const (
	ModeStandard CompilationMode = "standard"
	ModeDebug    CompilationMode = "debug"
	ModeOptimize CompilationMode = "optimize"
)

// Placeholder names substituted into the catalogue's replace strings before
// matching, per §4.G.
const (
	PlaceholderInit          = "%init%"
	PlaceholderUpdate        = "%update%"
	PlaceholderSubscriptions = "%subscriptions%"
	PlaceholderView          = "%view%"
	PlaceholderSetup         = "%setup%"
	PlaceholderOnUrlChange   = "%onUrlChange%"
	PlaceholderOnUrlRequest  = "%onUrlRequest%"
	PlaceholderBody          = "%body%"
	PlaceholderTitle         = "%title%"
	PlaceholderProtocol      = "%protocol%"
	PlaceholderHost          = "%host%"
	PlaceholderPort          = "%port_%"
)

// Hot-reload reasons (§4.G item 1, §4.J): the tagged reasons the injected
// `__elmWatchHotReload` function returns to tell the browser client a patch
// isn't safe and it must fall back to a full page reload. Mirrored verbatim
// as string literals inside runtimePrelude's `_ElmWatch_Reload` table so the
// Go side and the injected JS never drift.
const (
	ReasonFlagsTypeChanged              = "FlagsTypeChanged"
	ReasonMessageTypeChangedInDebugMode = "MessageTypeChangedInDebugMode"
	ReasonInitReturnValueChanged        = "InitReturnValueChanged"
	ReasonNewPortAdded                  = "NewPortAdded"
	ReasonProgramTypeChanged            = "ProgramTypeChanged"
)

// SearchReplace is one required transformation within a Replacement: search
// must match exactly once for the Replacement to succeed.
type SearchReplace struct {
	Name    string
	Search  *regexp.Regexp
	Replace string
}

// Replacement is one catalogue entry (§4.G): a cheap probe followed by one
// or more mandatory search/replace pairs.
type Replacement struct {
	ID    string
	Probe *regexp.Regexp
	Pairs []SearchReplace
}

// implVarAssignRe discovers the `var X = impl.Y;` pairs the catalogue's
// placeholder table extends with at substitution time (§4.G).
var implVarAssignRe = regexp.MustCompile(`var (\$?\w+) = impl\.(\w+);`)

// platformInitializeBody is the replacement for _Platform_initialize's
// entire function body (§4.G item 1). It keeps the real Elm kernel's control
// flow (decode flags, run init, build a stepper, set up effect managers,
// wire sendToApp) but reads every field off the single `impl` record instead
// of three plucked-apart parameters, so the record stays a live, mutable
// object the hot-reload path can patch in place: since `impl.update`,
// `impl.subscriptions`, etc. are looked up through `impl` everywhere rather
// than copied into their own closure variables, overwriting `impl`'s own
// properties after a recompile is enough to swap behavior without rebuilding
// the stepper or losing `model`. The original compiler-emitted body is left
// sitting below the inserted `return self;` as inert, never-executed code —
// safe because JS never statically resolves unreached identifiers.
const platformInitializeBody = `
	var flagsResult = A2(_Json_run, flagDecoder, _Json_wrap(args ? args['flags'] : undefined));
	$elm$core$Result$isOk(flagsResult) || _Debug_crash(2, _Json_errorToString(flagsResult.a));
	var managers = {};
	var initPair = impl.init(flagsResult.a);
	var model = initPair.a;
	var stepper = stepperBuilder(sendToApp, model);
	var ports = _Platform_setupEffects(managers, sendToApp);

	function sendToApp(msg, viewMetadata)
	{
		var pair = A2(impl.update, msg, model);
		stepper(model = pair.a, viewMetadata);
		_Platform_enqueueEffects(managers, pair.b, impl.subscriptions(model));
	}

	_Platform_enqueueEffects(managers, initPair.b, impl.subscriptions(model));

	var self = ports ? { ports: ports } : {};
	self.__elmWatchProgramType = impl.__elmWatchProgramType;
	self.__elmWatchHotReload = function(newData)
	{
		var newImpl = newData.impl;
		if (impl.__elmWatchProgramType !== newImpl.__elmWatchProgramType)
		{
			return _ElmWatch_Reload.ProgramTypeChanged;
		}
		var newFlagsResult = A2(_Json_run, newData.flagDecoder || flagDecoder, _Json_wrap(args ? args['flags'] : undefined));
		if (!$elm$core$Result$isOk(newFlagsResult))
		{
			return _ElmWatch_Reload.FlagsTypeChanged;
		}
		var newInitPair = newImpl.init(newFlagsResult.a);
		if (!_ElmWatch_shapeTolerantEqual(model, newInitPair.a))
		{
			return _ElmWatch_Reload.InitReturnValueChanged;
		}
		if (newData.isDebug && !_ElmWatch_shapeTolerantEqual(impl.subscriptions(model), newImpl.subscriptions(model)))
		{
			return _ElmWatch_Reload.MessageTypeChangedInDebugMode;
		}
		impl.init = newImpl.init;
		impl.update = newImpl.update;
		impl.subscriptions = newImpl.subscriptions;
		impl.view = newImpl.view;
		impl.onUrlChange = newImpl.onUrlChange;
		impl.onUrlRequest = newImpl.onUrlRequest;
		_Platform_enqueueEffects(managers, _Platform_batch(_List_Nil), impl.subscriptions(model));
		stepper(model, true);
		return null;
	};
	return self;
`

// virtualDomInitBody is the replacement body for _VirtualDom_init (§4.G item
// 2): pure-Html `main` values with no Program/flags/update at all. Hot
// reload here means "the static tree changed" — there is no model to
// preserve, so __elmWatchHotReload just diffs the previous rendered tree
// against the freshly-evaluated one and patches the live DOM, the same
// diff/patch pair _VirtualDom_diff/_VirtualDom_applyPatches the runtime
// already uses for Program view updates.
const virtualDomInitBody = `
	var node = virtualNode;
	var eventNode = { tagger: function(x) { return x; }, parent: undefined };
	var domNode = _VirtualDom_render(node, eventNode);
	(document.body || document.documentElement).appendChild(domNode);

	var self = {};
	self.__elmWatchProgramType = 'static';
	self.__elmWatchVirtualNode = node;
	self.__elmWatchHotReload = function(newData)
	{
		var newNode = newData.virtualNode;
		var patches = _VirtualDom_diff(node, newNode);
		domNode = _VirtualDom_applyPatches(domNode, node, patches, eventNode);
		node = newNode;
		self.__elmWatchVirtualNode = node;
		return null;
	};
	_ElmWatch_registerInstance('__staticHtml__', self);
	return self;
`

// platformExportBody replaces _Platform_export's body wholesale (§4.G item
// 3). The original just merges `exports` into the global `scope` (and
// crashes on a name collision — loading the same compiled file twice). This
// version keeps the merge but treats a name collision as "a recompiled
// module is being loaded", not an error: it dispatches
// `__elmWatchHotReload` to every already-registered live instance under that
// export path, collects the (possibly null) reasons, and publishes the
// aggregate result as `window.__elmWatchHotReload()` for the browser client
// (internal/hotserver's client.js) to call once the new <script> tag has
// finished evaluating. New ports/effect managers are detected globally by
// diffing `_Platform_effectManagers`'s own keys across loads, per §9's
// "global effect-manager map" note.
const platformExportBody = `
	var previousReason = null;
	var lastProgramType = null;

	var currentManagerKeys = Object.keys(_Platform_effectManagers);
	if (_ElmWatch_effectManagerKeysAtLoad)
	{
		for (var mi = 0; mi < currentManagerKeys.length; mi++)
		{
			if (_ElmWatch_effectManagerKeysAtLoad.indexOf(currentManagerKeys[mi]) === -1)
			{
				previousReason = _ElmWatch_Reload.NewPortAdded;
				break;
			}
		}
	}
	_ElmWatch_effectManagerKeysAtLoad = currentManagerKeys;

	function merge(path, obj, tree)
	{
		for (var name in tree)
		{
			var value = tree[name];
			var nextPath = path ? path + '.' + name : name;

			if (value && typeof value.__elmWatchHotReload === 'function')
			{
				lastProgramType = value.__elmWatchProgramType || lastProgramType;
				if (obj[name] && obj[name].__elmWatchHotReload)
				{
					var staticReason = obj[name].__elmWatchHotReload({ virtualNode: value.__elmWatchVirtualNode });
					previousReason = previousReason || staticReason;
				}
				else
				{
					obj[name] = value;
				}
				continue;
			}

			if (value && typeof value.init === 'function' && value.init.__elmWatchImpl)
			{
				var fn = value.init;
				lastProgramType = fn.__elmWatchProgramType || lastProgramType;
				if (obj[name] && obj[name].init && obj[name].init.__elmWatchImpl)
				{
					var reason = _ElmWatch_dispatch(nextPath, {
						impl: fn.__elmWatchImpl,
						flagDecoder: fn.__elmWatchFlagDecoder,
						isDebug: fn.__elmWatchIsDebug,
						programType: fn.__elmWatchProgramType
					});
					previousReason = previousReason || reason;
				}
				else
				{
					(function(wrappedFn, registerPath)
					{
						var wrapped = function(initArgs)
						{
							var instance = wrappedFn(initArgs);
							_ElmWatch_registerInstance(registerPath, instance);
							return instance;
						};
						wrapped.__elmWatchImpl = wrappedFn.__elmWatchImpl;
						wrapped.__elmWatchProgramType = wrappedFn.__elmWatchProgramType;
						obj[name] = { init: wrapped };
					})(fn, nextPath);
				}
				continue;
			}

			obj[name] = obj[name] || {};
			merge(nextPath, obj[name], value);
		}
	}

	merge('', scope, exports);
	window.__elmWatchHotReload = function() { return previousReason; };
	window.__elmWatchProgramType = lastProgramType;
	return;
`

// Catalogue returns the fixed set of Replacements that together implement
// every transform named in §4.G's numbered list. Patterns are anchored to
// the beginning of a line, matching the Elm compiler's stable (if minified
// in optimize mode) per-line function definitions. Every entry that needs a
// real hot-reload body (items 1-3) is implemented by inserting that body
// right after the function's opening brace and ending it with a `return`,
// so the rewrite only has to match the function's stable signature line —
// never the compiler's internal, version-fragile statements — and whatever
// of the original body follows becomes dead code the JS engine never runs.
func Catalogue() []Replacement {
	return []Replacement{
		{
			ID:    "platform_initialize",
			Probe: regexp.MustCompile(`(?m)^function _Platform_initialize\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _Platform_initialize\(flagDecoder, args, init, update, subscriptions, stepperBuilder\)\n\{`),
				Replace: "function _Platform_initialize(flagDecoder, args, impl, stepperBuilder)\n" +
					"{\n" + platformInitializeBody,
			}},
		},
		{
			ID:    "virtual_dom_init",
			Probe: regexp.MustCompile(`(?m)^function _VirtualDom_init\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _VirtualDom_init\(virtualNode\)\n\{`),
				Replace: "function _VirtualDom_init(virtualNode)\n" +
					"{\n" + virtualDomInitBody,
			}},
		},
		{
			ID:    "platform_export",
			Probe: regexp.MustCompile(`(?m)^function _Platform_export\(`),
			Pairs: []SearchReplace{{
				Name:    "register",
				Search:  regexp.MustCompile(`(?m)^function _Platform_export\(exports\)\n\{`),
				Replace: "function _Platform_export(exports)\n{\n" + platformExportBody,
			}},
		},
		{
			ID:    "browser_application",
			Probe: regexp.MustCompile(`(?m)^function _Browser_application\(`),
			Pairs: []SearchReplace{{
				Name: "stop_plucking",
				Search: regexp.MustCompile(
					`(?m)^function _Browser_application\(impl\)\n\{\n\treturn _Platform_initialize\(\n\t\timpl\.init,\n\t\timpl\.update,\n\t\timpl\.subscriptions,`),
				Replace: "function _Browser_application(impl)\n{\n\timpl.__elmWatchProgramType = 'application';\n\treturn _Platform_initialize(\n\t\timpl,",
			}},
		},
		{
			ID:    "browser_sandbox",
			Probe: regexp.MustCompile(`(?m)^function _Browser_sandbox\(`),
			Pairs: []SearchReplace{{
				Name:   "wrap_view",
				Search: regexp.MustCompile(`(?m)^function _Browser_sandbox\(impl\)\n\{`),
				Replace: "function _Browser_sandbox(impl)\n{\n" +
					"\timpl.__elmWatchProgramType = 'sandbox';\n" +
					"\tfunction _ElmWatch_sandboxFn(sandboxArgs)\n\t{\n" +
					"\t\treturn _Platform_initialize(\n" +
					"\t\t\t_Json_succeed(0),\n" +
					"\t\t\tsandboxArgs,\n" +
					"\t\t\t{\n" +
					"\t\t\t\tinit: function() { return _Utils_Tuple2(impl.init, _Platform_batch(_List_Nil)); },\n" +
					"\t\t\t\tupdate: function(msg, model) { return _Utils_Tuple2(A2(impl.update, msg, model), _Platform_batch(_List_Nil)); },\n" +
					"\t\t\t\tsubscriptions: function() { return _Platform_batch(_List_Nil); },\n" +
					"\t\t\t\tview: impl.view,\n" +
					"\t\t\t\t__elmWatchProgramType: 'sandbox'\n" +
					"\t\t\t},\n" +
					"\t\t\t_ElmWatch_domStepperBuilder(impl.view, sandboxArgs && sandboxArgs['node'] || document.body)\n" +
					"\t\t);\n\t}\n" +
					"\t_ElmWatch_sandboxFn.__elmWatchImpl = impl;\n" +
					"\t_ElmWatch_sandboxFn.__elmWatchProgramType = 'sandbox';\n" +
					"\t_ElmWatch_sandboxFn.__elmWatchFlagDecoder = null;\n" +
					"\t_ElmWatch_sandboxFn.__elmWatchIsDebug = false;\n" +
					"\treturn { init: _ElmWatch_sandboxFn };\n",
			}},
		},
		{
			ID:    "platform_worker",
			Probe: regexp.MustCompile(`(?m)^function _Platform_worker\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _Platform_worker\(impl\)\n\{`),
				Replace: "function _Platform_worker(impl)\n{\n" +
					"\timpl.__elmWatchProgramType = 'worker';\n" +
					"\tfunction _ElmWatch_workerFn(workerArgs)\n\t{\n" +
					"\t\treturn _Platform_initialize(\n" +
					"\t\t\timpl.flagDecoder || _Json_succeed(0),\n" +
					"\t\t\tworkerArgs,\n" +
					"\t\t\timpl,\n" +
					"\t\t\tfunction() { return function() {}; }\n" +
					"\t\t);\n\t}\n" +
					"\t_ElmWatch_workerFn.__elmWatchImpl = impl;\n" +
					"\t_ElmWatch_workerFn.__elmWatchProgramType = 'worker';\n" +
					"\t_ElmWatch_workerFn.__elmWatchFlagDecoder = impl.flagDecoder || null;\n" +
					"\t_ElmWatch_workerFn.__elmWatchIsDebug = false;\n" +
					"\treturn { init: _ElmWatch_workerFn };\n",
			}},
		},
		{
			ID:    "browser_element",
			Probe: regexp.MustCompile(`(?m)^function _Browser_element\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _Browser_element\(impl\)\n\{`),
				Replace: "function _Browser_element(impl)\n{\n" +
					"\timpl.__elmWatchProgramType = 'element';\n" +
					"\tfunction _ElmWatch_elementFn(elementArgs)\n\t{\n" +
					"\t\treturn _Platform_initialize(\n" +
					"\t\t\timpl.flagDecoder || _Json_succeed(0),\n" +
					"\t\t\telementArgs,\n" +
					"\t\t\timpl,\n" +
					"\t\t\t_ElmWatch_domStepperBuilder(function(model) { return impl.view(model); }, elementArgs && elementArgs['node'] || document.body)\n" +
					"\t\t);\n\t}\n" +
					"\t_ElmWatch_elementFn.__elmWatchImpl = impl;\n" +
					"\t_ElmWatch_elementFn.__elmWatchProgramType = 'element';\n" +
					"\t_ElmWatch_elementFn.__elmWatchFlagDecoder = impl.flagDecoder || null;\n" +
					"\t_ElmWatch_elementFn.__elmWatchIsDebug = false;\n" +
					"\treturn { init: _ElmWatch_elementFn };\n",
			}},
		},
		{
			ID:    "browser_document",
			Probe: regexp.MustCompile(`(?m)^function _Browser_document\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _Browser_document\(impl\)\n\{`),
				Replace: "function _Browser_document(impl)\n{\n" +
					"\timpl.__elmWatchProgramType = 'document';\n" +
					"\tfunction _ElmWatch_documentFn(documentArgs)\n\t{\n" +
					"\t\treturn _Platform_initialize(\n" +
					"\t\t\timpl.flagDecoder || _Json_succeed(0),\n" +
					"\t\t\tdocumentArgs,\n" +
					"\t\t\timpl,\n" +
					"\t\t\t_ElmWatch_documentStepperBuilder(function(model) { return impl.view(model); })\n" +
					"\t\t);\n\t}\n" +
					"\t_ElmWatch_documentFn.__elmWatchImpl = impl;\n" +
					"\t_ElmWatch_documentFn.__elmWatchProgramType = 'document';\n" +
					"\t_ElmWatch_documentFn.__elmWatchFlagDecoder = impl.flagDecoder || null;\n" +
					"\t_ElmWatch_documentFn.__elmWatchIsDebug = false;\n" +
					"\treturn { init: _ElmWatch_documentFn };\n",
			}},
		},
		{
			ID:    "debugger_element",
			Probe: regexp.MustCompile(`(?m)^function _Debugger_element\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _Debugger_element\(impl\)\n\{`),
				Replace: "function _Debugger_element(impl)\n{\n" +
					"\timpl.__elmWatchProgramType = 'element';\n" +
					"\tfunction _ElmWatch_debugElementFn(elementArgs)\n\t{\n" +
					"\t\treturn _Platform_initialize(\n" +
					"\t\t\timpl.flagDecoder || _Json_succeed(0),\n" +
					"\t\t\telementArgs,\n" +
					"\t\t\timpl,\n" +
					"\t\t\t_ElmWatch_domStepperBuilder(function(model) { return impl.view(model); }, elementArgs && elementArgs['node'] || document.body)\n" +
					"\t\t);\n\t}\n" +
					"\t_ElmWatch_debugElementFn.__elmWatchImpl = impl;\n" +
					"\t_ElmWatch_debugElementFn.__elmWatchProgramType = 'element';\n" +
					"\t_ElmWatch_debugElementFn.__elmWatchFlagDecoder = impl.flagDecoder || null;\n" +
					"\t_ElmWatch_debugElementFn.__elmWatchIsDebug = true;\n" +
					"\treturn { init: _ElmWatch_debugElementFn };\n",
			}},
		},
		{
			ID:    "debugger_document",
			Probe: regexp.MustCompile(`(?m)^function _Debugger_document\(`),
			Pairs: []SearchReplace{{
				Name:   "signature",
				Search: regexp.MustCompile(`(?m)^function _Debugger_document\(impl\)\n\{`),
				Replace: "function _Debugger_document(impl)\n{\n" +
					"\timpl.__elmWatchProgramType = 'document';\n" +
					"\tfunction _ElmWatch_debugDocumentFn(documentArgs)\n\t{\n" +
					"\t\treturn _Platform_initialize(\n" +
					"\t\t\timpl.flagDecoder || _Json_succeed(0),\n" +
					"\t\t\tdocumentArgs,\n" +
					"\t\t\timpl,\n" +
					"\t\t\t_ElmWatch_documentStepperBuilder(function(model) { return impl.view(model); })\n" +
					"\t\t);\n\t}\n" +
					"\t_ElmWatch_debugDocumentFn.__elmWatchImpl = impl;\n" +
					"\t_ElmWatch_debugDocumentFn.__elmWatchProgramType = 'document';\n" +
					"\t_ElmWatch_debugDocumentFn.__elmWatchFlagDecoder = impl.flagDecoder || null;\n" +
					"\t_ElmWatch_debugDocumentFn.__elmWatchIsDebug = true;\n" +
					"\treturn { init: _ElmWatch_debugDocumentFn };\n",
			}},
		},
		{
			ID:    "scheduler_canceller",
			Probe: regexp.MustCompile(`(?m)^function _Scheduler_binding\(`),
			Pairs: []SearchReplace{{
				Name:    "canceller_always_function",
				Search:  regexp.MustCompile(`(?m)^\t\tcallback: callback, c: null`),
				Replace: "\t\tcallback: callback, c: function() {}",
			}},
		},
	}
}

// SubstitutePlaceholders produces the concrete Replacement set for one
// compile by resolving every %name% token. In debug/standard modes the
// names are their literal selves; in optimize mode the minified identifiers
// are recovered from the emitted source by scanning for the `var X =
// impl.Y;` assignment pairs the compiler itself emits.
func SubstitutePlaceholders(catalogue []Replacement, code string, mode CompilationMode) []Replacement {
	table := map[string]string{
		PlaceholderInit:          "init",
		PlaceholderUpdate:        "update",
		PlaceholderSubscriptions: "subscriptions",
		PlaceholderView:          "view",
		PlaceholderSetup:         "",
		PlaceholderOnUrlChange:   "onUrlChange",
		PlaceholderOnUrlRequest:  "onUrlRequest",
		PlaceholderBody:         "body",
		PlaceholderTitle:        "title",
		PlaceholderProtocol:     "protocol",
		PlaceholderHost:         "host",
		PlaceholderPort:        "port_",
	}

	// The `var X = impl.Y;` destructuring pattern appears in every mode, not
	// just optimize — debug/standard builds just happen to have X already
	// equal to Y's literal name, so recovering it here is a no-op there and
	// the only mode where it changes anything is optimize's minified names.
	for _, m := range implVarAssignRe.FindAllStringSubmatch(code, -1) {
		minified, field := m[1], m[2]
		for placeholder, literal := range table {
			if literal == field {
				table[placeholder] = minified
			}
		}
	}

	out := make([]Replacement, len(catalogue))
	for i, r := range catalogue {
		pairs := make([]SearchReplace, len(r.Pairs))
		for j, p := range r.Pairs {
			replace := p.Replace
			for placeholder, value := range table {
				replace = strings.ReplaceAll(replace, placeholder, value)
			}
			pairs[j] = SearchReplace{Name: p.Name, Search: p.Search, Replace: replace}
		}
		out[i] = Replacement{ID: r.ID, Probe: r.Probe, Pairs: pairs}
	}
	return out
}

// runtimePrelude is injected near the top of the file so every rewritten
// catalogue body (§4.G items 1-3) has its shared machinery available:
// the per-instance registry the rewritten `_Platform_export`/
// `_Platform_initialize`/`_VirtualDom_init` bodies register into and
// dispatch through, the reload-reason table mirroring the Go-side
// Reason* constants, a depth-bounded shape-tolerant deep-equal used to
// decide whether a model/subscriptions shape survived a recompile, and a
// minimal DOM stepper (render once, diff+patch on every update) standing in
// for the real runtime's rAF-batched stepper — adequate for single-step
// hot-reload patches, not a faithful reimplementation of batched rendering.
const runtimePrelude = `
var _Platform_effectManagers = {}, _Scheduler_enqueue;
var _ElmWatch_Reload = {
	FlagsTypeChanged: ` + strconv.Quote(ReasonFlagsTypeChanged) + `,
	MessageTypeChangedInDebugMode: ` + strconv.Quote(ReasonMessageTypeChangedInDebugMode) + `,
	InitReturnValueChanged: ` + strconv.Quote(ReasonInitReturnValueChanged) + `,
	NewPortAdded: ` + strconv.Quote(ReasonNewPortAdded) + `,
	ProgramTypeChanged: ` + strconv.Quote(ReasonProgramTypeChanged) + `
};
var _ElmWatch_instances = Object.create(null);
var _ElmWatch_effectManagerKeysAtLoad = null;
function _ElmWatch_registerInstance(path, instance)
{
	_ElmWatch_instances[path] = instance;
	return instance;
}
function _ElmWatch_dispatch(path, newData)
{
	var instance = _ElmWatch_instances[path];
	if (!instance || typeof instance.__elmWatchHotReload !== 'function')
	{
		return _ElmWatch_Reload.ProgramTypeChanged;
	}
	return instance.__elmWatchHotReload(newData);
}
function _ElmWatch_shapeTolerantEqual(a, b, depth, seen)
{
	depth = depth || 0;
	if (depth > 64)
	{
		return true;
	}
	if (a === b)
	{
		return true;
	}
	if (typeof a === 'function' && typeof b === 'function')
	{
		return true;
	}
	if (typeof a !== typeof b)
	{
		return false;
	}
	if (a === null || b === null || typeof a !== 'object')
	{
		return false;
	}
	seen = seen || [];
	for (var i = 0; i < seen.length; i++)
	{
		if (seen[i][0] === a && seen[i][1] === b)
		{
			return true;
		}
	}
	seen.push([a, b]);
	if (a.$ !== b.$)
	{
		return false;
	}
	var aKeys = Object.keys(a).sort();
	var bKeys = Object.keys(b).sort();
	if (aKeys.length !== bKeys.length)
	{
		return false;
	}
	for (var k = 0; k < aKeys.length; k++)
	{
		if (aKeys[k] !== bKeys[k])
		{
			return false;
		}
		if (!_ElmWatch_shapeTolerantEqual(a[aKeys[k]], b[bKeys[k]], depth + 1, seen))
		{
			return false;
		}
	}
	return true;
}
function _ElmWatch_domStepperBuilder(view, mountPoint)
{
	return function(sendToApp, model)
	{
		var eventNode = { tagger: function(x) { return x; }, parent: undefined };
		var currentView = view(model);
		var domNode = _VirtualDom_render(currentView, eventNode);
		(mountPoint || document.body).appendChild(domNode);
		return function(model, isHotReload)
		{
			var nextView = view(model);
			var patches = _VirtualDom_diff(currentView, nextView);
			domNode = _VirtualDom_applyPatches(domNode, currentView, patches, eventNode);
			currentView = nextView;
		};
	};
}
function _ElmWatch_documentStepperBuilder(view)
{
	return function(sendToApp, model)
	{
		var eventNode = { tagger: function(x) { return x; }, parent: undefined };
		var doc = view(model);
		var bodyNode = _VirtualDom_node('body')(_List_Nil)(doc.body);
		var domNode = _VirtualDom_render(bodyNode, eventNode);
		document.title = doc.title || document.title;
		return function(model, isHotReload)
		{
			var nextDoc = view(model);
			document.title = nextDoc.title || document.title;
		};
	};
}
`

// Apply runs the full catalogue over code and returns the rewritten source.
// diagnosticDir, if non-empty, receives a dump of the failing source when a
// Replacement's search pairs don't match exactly once, per §4.G/§7
// (InjectSearchAndReplaceNotFound "with diagnostic file written").
func Apply(code string, mode CompilationMode, diagnosticDir string) (string, *errs.Error) {
	resolved := SubstitutePlaceholders(Catalogue(), code, mode)

	out := runtimePrelude + code
	for _, r := range resolved {
		if !r.Probe.MatchString(out) {
			continue
		}
		for _, pair := range r.Pairs {
			matches := pair.Search.FindAllStringIndex(out, -1)
			if len(matches) != 1 {
				if diagnosticDir != "" {
					path := diagnosticDir + "/inject-failure-" + r.ID + "-" + pair.Name + ".js"
					_ = os.WriteFile(path, []byte(out), 0o644)
				}
				return "", errs.New(errs.TagInjectSearchAndReplaceNotFound,
					fmt.Sprintf("replacement %q pair %q matched %d times (want exactly 1)", r.ID, pair.Name, len(matches)), nil).
					WithPath(diagnosticDir)
			}
			out = pair.Search.ReplaceAllString(out, pair.Replace)
		}
	}

	return out, nil
}

// Identifier is the versioned-identifier comment prefixing every hot-mode
// output file (§4.G, §6.3): `// elm-watch hot {"version":...}`.
type Identifier struct {
	Version        string
	TargetName     string
	WebSocketPort  int
	WebSocketToken string
}

var headerRe = regexp.MustCompile(`^// elm-watch hot (\{.*\})\n`)

// HeaderLine formats the identifier comment exactly as §6.3 specifies.
func (id Identifier) HeaderLine() string {
	return fmt.Sprintf(
		`// elm-watch hot {"version":%q,"targetName":%q,"webSocketPort":%d,"webSocketToken":%q}`+"\n",
		id.Version, id.TargetName, id.WebSocketPort, id.WebSocketToken,
	)
}

// IsProxyCurrent compares only the byte prefix of existing up to the length
// of expected's header line, per §9's open question ("compares only the
// byte prefix up to the versioned-identifier length, not the payload;
// identifier equality is sufficient. Preserve this."). It intentionally
// does not hash or fully parse the rest of the file.
func IsProxyCurrent(existing []byte, expected Identifier) bool {
	header := expected.HeaderLine()
	if len(existing) < len(header) {
		return false
	}
	return string(existing[:len(header)]) == header
}

// ParseHeaderPrefix extracts an Identifier from the first bytes of an
// existing output file, for staleness comparisons against a freshly
// computed Identifier.
func ParseHeaderPrefix(data []byte) (Identifier, bool) {
	m := headerRe.FindSubmatch(data)
	if m == nil {
		return Identifier{}, false
	}
	var parsed struct {
		Version        string `json:"version"`
		TargetName     string `json:"targetName"`
		WebSocketPort  int    `json:"webSocketPort"`
		WebSocketToken string `json:"webSocketToken"`
	}
	if err := json.Unmarshal(m[1], &parsed); err != nil {
		return Identifier{}, false
	}
	return Identifier{
		Version:        parsed.Version,
		TargetName:     parsed.TargetName,
		WebSocketPort:  parsed.WebSocketPort,
		WebSocketToken: parsed.WebSocketToken,
	}, true
}

// ClientCode substitutes the browser-side client blob's placeholders. The
// blob itself is supplied by the caller (it is a large static asset shipped
// alongside the binary, out of scope for this package) so that this
// function's contract — placeholder substitution — stays independently
// testable.
func ClientCode(template, targetName string, compiledTimestamp int64, originalMode CompilationMode, browserUiPosition string, webSocketPort int, webSocketToken string, debug bool) string {
	replacer := strings.NewReplacer(
		"%TARGET_NAME%", targetName,
		"%INITIAL_ELM_COMPILED_TIMESTAMP%", strconv.FormatInt(compiledTimestamp, 10),
		"%ORIGINAL_COMPILATION_MODE%", string(originalMode),
		"%ORIGINAL_BROWSER_UI_POSITION%", browserUiPosition,
		"%WEBSOCKET_PORT%", strconv.Itoa(webSocketPort),
		"%WEBSOCKET_TOKEN%", webSocketToken,
		"%DEBUG%", strconv.FormatBool(debug),
	)
	return replacer.Replace(template)
}

// ProxyFile combines the client code with a stub exporting a Proxy for
// window.Elm that throws an informative error until the real compile is
// done (§4.G).
func ProxyFile(clientCode string, id Identifier) string {
	stub := fmt.Sprintf(
		"window.Elm = new Proxy({}, { get() { throw new Error(%q); } });\n",
		fmt.Sprintf("elm-watch: %s has not compiled yet", id.TargetName),
	)
	return id.HeaderLine() + clientCode + stub
}
