package packet

import "testing"

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		p    Packet
		ok   bool
	}{
		{"token", Packet{Type: TypeToken, Selection: "CLIPBOARD"}, true},
		{"token missing selection", Packet{Type: TypeToken}, false},
		{"request", Packet{Type: TypeRequest, Selection: "PRIMARY", Format: "text/plain"}, true},
		{"request missing format", Packet{Type: TypeRequest, Selection: "PRIMARY"}, false},
		{"contents missing format", Packet{Type: TypeContents, Selection: "CLIPBOARD"}, false},
		{"contents-none", Packet{Type: TypeContentsNone, Selection: "CLIPBOARD"}, true},
		{"set-enabled missing flag", Packet{Type: TypeSetEnabled}, false},
		{"set-enabled", Packet{Type: TypeSetEnabled, Enabled: Bool(false)}, true},
		{"enable-selections absent list", Packet{Type: TypeEnableSelections}, true},
		{"enable-selections empty list", Packet{Type: TypeEnableSelections, Selections: []string{}}, true},
		{"hello missing caps", Packet{Type: TypeHello}, false},
		{"ping needs nothing", Packet{Type: TypePing}, true},
	}
	for _, tc := range cases {
		err := tc.p.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestEnableSelectionsEmptyListRoundTrip(t *testing.T) {
	// Disabling every selection is an empty list; omitempty drops the field
	// on the wire, so the decoded packet must still validate and read back
	// as empty.
	p := Packet{Type: TypeEnableSelections, Selections: []string{}}
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(back.Selections) != 0 {
		t.Fatalf("selections = %v, want none", back.Selections)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	data := []byte{0x00, 0xff, 0x10, 0x7f}
	p := Packet{
		Type:      TypeContents,
		Selection: "CLIPBOARD",
		Format:    "image/png",
		Payload:   EncodePayload(data),
	}
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := back.DecodePayload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("payload mismatch: %v != %v", got, data)
	}
}
