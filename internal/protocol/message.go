// Package protocol defines the message envelope exchanged between the relay
// and document-sync peers, and its binary wire encoding.
package protocol

// PeerID identifies a document-sync participant independently of the
// transport connection that currently carries it.
type PeerID string

// ProtocolVersion is a negotiated wire-protocol version token.
type ProtocolVersion string

// PeerMetadata accompanies a peer identity. The relay never inspects it.
type PeerMetadata map[string]any

// Envelope types. Only join, peer and error are interpreted by the relay;
// every other type is forwarded without interpretation.
const (
	TypeJoin  = "join"
	TypePeer  = "peer"
	TypeError = "error"

	TypeSync              = "sync"
	TypeEphemeral         = "ephemeral"
	TypeRequest           = "request"
	TypeDocUnavailable    = "doc-unavailable"
	TypeRemoteHeadsChange = "remote-heads-changed"
)

// Version1 is the only protocol version this relay speaks.
const Version1 ProtocolVersion = "1"

// Wire keys of the envelope map.
const (
	keyType                      = "type"
	keySenderID                  = "senderId"
	keyTargetID                  = "targetId"
	keyPeerMetadata              = "peerMetadata"
	keySupportedProtocolVersions = "supportedProtocolVersions"
	keySelectedProtocolVersion   = "selectedProtocolVersion"
	keyMessage                   = "message"
	keyDocumentID                = "documentId"
)

// Message is one protocol envelope.
//
// The handshake variants use the typed fields:
//
//	join  {SenderID, PeerMetadata, SupportedProtocolVersions}
//	peer  {SenderID, PeerMetadata, SelectedProtocolVersion, TargetID}
//	error {SenderID, ErrorMessage, TargetID}
//
// Any other type keeps its protocol-specific fields in Fields. A message
// without a TargetID is locally scoped.
type Message struct {
	Type     string
	SenderID PeerID
	TargetID PeerID

	PeerMetadata              PeerMetadata
	SupportedProtocolVersions []ProtocolVersion
	SelectedProtocolVersion   ProtocolVersion

	// ErrorMessage is carried under the "message" key, for TypeError only.
	ErrorMessage string

	// Fields holds the non-reserved keys. An empty map encodes the same as
	// nil, and Decode leaves Fields nil when a frame has no extra keys.
	Fields map[string]any
}

// NewJoin builds a handshake request.
func NewJoin(sender PeerID, meta PeerMetadata, versions ...ProtocolVersion) *Message {
	return &Message{
		Type:                      TypeJoin,
		SenderID:                  sender,
		PeerMetadata:              meta,
		SupportedProtocolVersions: versions,
	}
}

// NewPeer builds a handshake acceptance addressed to target.
func NewPeer(sender PeerID, meta PeerMetadata, selected ProtocolVersion, target PeerID) *Message {
	return &Message{
		Type:                    TypePeer,
		SenderID:                sender,
		PeerMetadata:            meta,
		SelectedProtocolVersion: selected,
		TargetID:                target,
	}
}

// NewError builds a handshake rejection addressed to target.
func NewError(sender PeerID, text string, target PeerID) *Message {
	return &Message{
		Type:         TypeError,
		SenderID:     sender,
		ErrorMessage: text,
		TargetID:     target,
	}
}

// IsJoin reports whether m is a handshake request.
func (m *Message) IsJoin() bool { return m.Type == TypeJoin }

// DocumentID returns the "documentId" field of a sync payload, if any.
func (m *Message) DocumentID() string {
	if m.Fields == nil {
		return ""
	}
	id, _ := m.Fields[keyDocumentID].(string)
	return id
}
