package hotserver

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/elm-watch/elm-watch/internal/env"
)

// OpenEditor spawns the configured editor command for file:line:column
// (§4.J "Open-in-editor"). It returns "" on success, or one of
// OpenEditorFailedEnvNotSet / OpenEditorFailedCommandFailed.
func OpenEditor(file string, line, column int) string {
	editor, ok := env.EditorCommand()
	if !ok || strings.TrimSpace(editor) == "" {
		return OpenEditorFailedEnvNotSet
	}

	fields := strings.Fields(editor)
	if len(fields) == 0 {
		return OpenEditorFailedEnvNotSet
	}

	location := fmt.Sprintf("%s:%d:%d", file, line, column)
	args := append(append([]string(nil), fields[1:]...), location)

	cmd := exec.Command(fields[0], args...)
	if err := cmd.Run(); err != nil {
		return OpenEditorFailedCommandFailed
	}
	return ""
}
