package hotserver

import "testing"

func TestEncodeDecodeSuccessfullyCompiledRoundTrip(t *testing.T) {
	data, err := EncodeSuccessfullyCompiled(1234, "optimize", "TopLeft", "var x = 1;\nconsole.log(x);")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ts, mode, pos, code, err := DecodeSuccessfullyCompiled(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ts != 1234 || mode != "optimize" || pos != "TopLeft" {
		t.Fatalf("unexpected envelope: ts=%d mode=%s pos=%s", ts, mode, pos)
	}
	if code != "var x = 1;\nconsole.log(x);" {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestDecodeSuccessfullyCompiledAcceptsPlainJSON(t *testing.T) {
	ts, mode, pos, code, err := DecodeSuccessfullyCompiled([]byte(`{"tag":"SuccessfullyCompiled","compiledTimestamp":5,"compilationMode":"standard","browserUiPosition":"BottomRight"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ts != 5 || mode != "standard" || pos != "BottomRight" || code != "" {
		t.Fatalf("unexpected decode: ts=%d mode=%s pos=%s code=%q", ts, mode, pos, code)
	}
}

func TestDecodeInbound(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"tag":"PressedOpenEditor","file":"src/Main.elm","line":10,"column":4}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Tag != InboundPressedOpenEditor || msg.File != "src/Main.elm" || msg.Line != 10 || msg.Column != 4 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestEncodeStatusChanged(t *testing.T) {
	data, err := EncodeStatusChanged(StatusPayload{Kind: "Success"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeInbound(data) // envelope shape is compatible enough to re-parse the tag
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if msg.Tag != OutboundStatusChanged {
		t.Fatalf("unexpected tag: %s", msg.Tag)
	}
}
