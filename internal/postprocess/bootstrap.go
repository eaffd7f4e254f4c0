package postprocess

// bootstrapScript is the Node.js program run inside each worker subprocess.
// It reads one newline-delimited JSON request at a time from stdin, imports
// the user's postprocess script (ELM_WATCH_NODE_SCRIPT_PATH), validates and
// invokes its default export, and writes one newline-delimited JSON response
// to stdout per request, classifying failures per §4.H/§7's
// ElmWatchNode* taxonomy.
const bootstrapScript = `
import { createInterface } from "node:readline";
import { pathToFileURL } from "node:url";

const scriptPath = process.env.ELM_WATCH_NODE_SCRIPT_PATH;
let importedModule;
let importError;

async function loadModule() {
  if (!scriptPath) return;
  try {
    importedModule = await import(pathToFileURL(scriptPath).href);
  } catch (err) {
    importError = err;
  }
}

function preview(value) {
  try {
    const s = typeof value === "string" ? value : JSON.stringify(value);
    return s.length > 200 ? s.slice(0, 200) + "..." : s;
  } catch {
    return String(value);
  }
}

async function handle(req) {
  if (!scriptPath) {
    return { ok: false, errorTag: "MissingScript", errorMessage: "no postprocess script configured" };
  }
  if (importError) {
    return { ok: false, errorTag: "ImportError", errorMessage: String(importError) };
  }
  const fn = importedModule && importedModule.default;
  if (typeof fn !== "function") {
    return { ok: false, errorTag: "DefaultExportNotFunction", errorMessage: "default export is not callable" };
  }

  let result;
  try {
    result = await fn({
      code: req.code,
      targetName: req.targetName,
      compilationMode: req.compilationMode,
      runMode: req.runMode,
      argv: req.argv || [],
    });
  } catch (err) {
    return { ok: false, errorTag: "RunError", errorMessage: String(err) };
  }

  if (typeof result !== "string") {
    return { ok: false, errorTag: "BadReturnValue", errorMessage: "postprocess did not return a string", valuePreview: preview(result) };
  }

  return { ok: true, code: result };
}

const rl = createInterface({ input: process.stdin });
await loadModule();

rl.on("line", async (line) => {
  let req;
  try {
    req = JSON.parse(line);
  } catch (err) {
    process.stdout.write(JSON.stringify({ ok: false, errorTag: "RunError", errorMessage: String(err) }) + "\n");
    return;
  }
  const resp = await handle(req);
  process.stdout.write(JSON.stringify(resp) + "\n");
});
`
