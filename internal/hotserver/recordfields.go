package hotserver

import "github.com/elm-watch/elm-watch/internal/inject"

// accessedRecordFields and recordFieldsChanged thinly wrap internal/inject
// so server.go doesn't need to know about the JS-parsing details of the
// reload-vs-patch decision (§4.J).
func accessedRecordFields(code string) (map[string]struct{}, error) {
	return inject.AccessedRecordFields(code)
}

func recordFieldsChanged(previous, current map[string]struct{}) bool {
	return inject.RecordFieldsChanged(previous, current)
}
