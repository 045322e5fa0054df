// Package packet defines the selsync wire protocol.
//
// All packets are newline-delimited JSON. Payloads are always base64-encoded
// so that binary content (images, etc.) is safe to embed in JSON strings.
// Each packet is exactly one line: <json>\n
package packet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of packet.
type Type string

const (
	// Session plumbing.
	TypeAuth           Type = "AUTH"
	TypeHello          Type = "HELLO"
	TypePing           Type = "PING"
	TypePong           Type = "PONG"
	TypeStatus         Type = "STATUS"
	TypeStatusResponse Type = "STATUS_RESPONSE"
	TypeError          Type = "ERROR"

	// Local control (IPC socket only, never sent to a peer).
	TypeActivate Type = "ACTIVATE"

	// Clipboard protocol.
	TypeSetEnabled       Type = "SET_ENABLED"
	TypeEnableSelections Type = "ENABLE_SELECTIONS"
	TypeToken            Type = "TOKEN"
	TypeRequest          Type = "REQUEST"
	TypeContents         Type = "CONTENTS"
	TypeContentsNone     Type = "CONTENTS_NONE"
	TypePending          Type = "PENDING"
)

// Role identifies whether a peer is a server or client. Direction gating in
// the protocol depends on it: to-server means client→server flow.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Caps is the capability set a peer advertises in its HELLO packet.
// Missing or malformed keys are treated as "feature absent" by the
// negotiator, never as an error.
type Caps struct {
	Enabled          bool     `json:"enabled"`
	Direction        string   `json:"direction,omitempty"`
	Selections       []string `json:"selections,omitempty"`
	Greedy           bool     `json:"greedy,omitempty"`
	WantTargets      bool     `json:"want_targets,omitempty"`
	PreferredTargets []string `json:"preferred_targets,omitempty"`
	LoopUUIDs        bool     `json:"loop_uuids,omitempty"`
	Compressors      []string `json:"compressors,omitempty"`
}

// SelectionStatus is the per-selection slice of a STATUS_RESPONSE.
type SelectionStatus struct {
	Name          string `json:"name"`
	Enabled       bool   `json:"enabled"`
	LocalPending  int    `json:"local_pending"`
	RemotePending int    `json:"remote_pending"`
}

// PeerInfo carries metadata about a connected peer in STATUS responses.
type PeerInfo struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Addr        string    `json:"addr"`
	Active      bool      `json:"active,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Status is the payload of a STATUS_RESPONSE.
type Status struct {
	Role       Role              `json:"role"`
	Enabled    bool              `json:"enabled"`
	Direction  string            `json:"direction"`
	Pending    int               `json:"pending"`
	Selections []SelectionStatus `json:"selections,omitempty"`
	Peers      []PeerInfo        `json:"peers,omitempty"`
}

// Packet is the top-level wire envelope.
type Packet struct {
	// Always present
	Type   Type   `json:"type"`
	Source string `json:"source,omitempty"`

	// TOKEN / REQUEST / CONTENTS / CONTENTS_NONE
	Selection string `json:"selection,omitempty"`
	Format    string `json:"format,omitempty"`
	Payload   string `json:"payload,omitempty"`  // base64-encoded
	Encoding  string `json:"encoding,omitempty"` // "" = raw, "zlib" = wrapped
	LoopID    string `json:"loop_id,omitempty"`  // legacy echo detection

	// SET_ENABLED
	Enabled *bool  `json:"enabled,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// ENABLE_SELECTIONS. An empty list (disable every selection) is
	// indistinguishable from an absent one after omitempty strips it, so
	// receivers treat absent as empty.
	Selections []string `json:"selections,omitempty"`

	// PENDING
	Pending int `json:"pending,omitempty"`

	// AUTH — token is base64-encoded
	Token string `json:"token,omitempty"`

	// ACTIVATE — session ID of the peer to make the active source
	Peer string `json:"peer,omitempty"`

	// HELLO
	Caps *Caps `json:"caps,omitempty"`

	// STATUS_RESPONSE
	Status *Status `json:"status,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the packet to JSON without a trailing newline.
func (p *Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode deserialises a packet from raw JSON bytes.
func Decode(b []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("packet decode: %w", err)
	}
	return &p, nil
}

// Validate checks that the fields a packet type requires are present.
// The caller drops and logs invalid packets; they never abort a session.
func (p *Packet) Validate() error {
	switch p.Type {
	case TypeToken, TypeContentsNone:
		if p.Selection == "" {
			return fmt.Errorf("%s: missing selection", p.Type)
		}
	case TypeRequest, TypeContents:
		if p.Selection == "" {
			return fmt.Errorf("%s: missing selection", p.Type)
		}
		if p.Format == "" {
			return fmt.Errorf("%s: missing format", p.Type)
		}
	case TypeSetEnabled:
		if p.Enabled == nil {
			return fmt.Errorf("%s: missing enabled flag", p.Type)
		}
	case TypeHello:
		if p.Caps == nil {
			return fmt.Errorf("%s: missing caps", p.Type)
		}
	case TypeActivate:
		if p.Peer == "" {
			return fmt.Errorf("%s: missing peer", p.Type)
		}
	}
	return nil
}

// EncodePayload base64-encodes raw payload bytes for embedding in a packet.
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePayload returns the raw bytes of the packet payload.
func (p *Packet) DecodePayload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Payload)
}

// Bool returns a pointer to b, for filling the Enabled field.
func Bool(b bool) *bool { return &b }
