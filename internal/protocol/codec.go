package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrDecode is the root of every decoding failure.
var ErrDecode = errors.New("malformed envelope")

// DecodeError reports inbound bytes that are not exactly one valid envelope.
// It is an expected outcome for untrusted input, never a reason to drop the
// connection.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// reserved reports whether key is owned by a typed Message field for an
// envelope of the given type.
func reserved(typ, key string) bool {
	switch key {
	case keyType, keySenderID, keyTargetID, keyPeerMetadata,
		keySupportedProtocolVersions, keySelectedProtocolVersion:
		return true
	case keyMessage:
		return typ == TypeError
	}
	return false
}

// Encode serializes a Message into a self-describing MessagePack map. Keys are
// written in sorted order so equal messages always produce equal bytes.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	if m.Type == "" {
		return nil, errors.New("encode: missing type")
	}
	if m.SenderID == "" {
		return nil, fmt.Errorf("encode %s: missing senderId", m.Type)
	}
	if m.ErrorMessage != "" && m.Type != TypeError {
		return nil, fmt.Errorf("encode %s: error text on non-error envelope", m.Type)
	}

	fields := make(map[string]any, len(m.Fields)+6)
	for k, v := range m.Fields {
		if reserved(m.Type, k) {
			return nil, fmt.Errorf("encode %s: field %q is reserved", m.Type, k)
		}
		fields[k] = v
	}

	fields[keyType] = m.Type
	fields[keySenderID] = string(m.SenderID)
	if m.TargetID != "" {
		fields[keyTargetID] = string(m.TargetID)
	}
	if m.PeerMetadata != nil {
		fields[keyPeerMetadata] = map[string]any(m.PeerMetadata)
	}
	if m.SupportedProtocolVersions != nil {
		versions := make([]string, len(m.SupportedProtocolVersions))
		for i, v := range m.SupportedProtocolVersions {
			versions[i] = string(v)
		}
		fields[keySupportedProtocolVersions] = versions
	}
	if m.SelectedProtocolVersion != "" {
		fields[keySelectedProtocolVersion] = string(m.SelectedProtocolVersion)
	}
	if m.Type == TypeError {
		fields[keyMessage] = m.ErrorMessage
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes one envelope. Any input that is not a single, complete
// envelope map yields a *DecodeError; Decode never panics.
func Decode(data []byte) (m *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, decodeErr("decoder panic", fmt.Errorf("%v", r))
		}
	}()

	if len(data) == 0 {
		return nil, decodeErr("empty frame", nil)
	}
	if err := checkDepth(data); err != nil {
		return nil, err
	}

	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, decodeErr("invalid msgpack", err)
	}
	if r.Len() != 0 {
		return nil, decodeErr(fmt.Sprintf("%d trailing bytes", r.Len()), nil)
	}

	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, decodeErr(fmt.Sprintf("top level is %T, want map", raw), nil)
	}

	return fromFields(fields)
}

func fromFields(fields map[string]any) (*Message, error) {
	m := &Message{}

	typ, err := stringField(fields, keyType)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		return nil, decodeErr("missing type", nil)
	}
	m.Type = typ

	sender, err := stringField(fields, keySenderID)
	if err != nil {
		return nil, err
	}
	if sender == "" {
		return nil, decodeErr("missing senderId", nil)
	}
	m.SenderID = PeerID(sender)

	target, err := stringField(fields, keyTargetID)
	if err != nil {
		return nil, err
	}
	m.TargetID = PeerID(target)

	selected, err := stringField(fields, keySelectedProtocolVersion)
	if err != nil {
		return nil, err
	}
	m.SelectedProtocolVersion = ProtocolVersion(selected)

	if v, ok := fields[keyPeerMetadata]; ok && v != nil {
		meta, ok := v.(map[string]any)
		if !ok {
			return nil, decodeErr(fmt.Sprintf("%s is %T, want map", keyPeerMetadata, v), nil)
		}
		m.PeerMetadata = PeerMetadata(meta)
	}

	if v, ok := fields[keySupportedProtocolVersions]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, decodeErr(fmt.Sprintf("%s is %T, want array", keySupportedProtocolVersions, v), nil)
		}
		m.SupportedProtocolVersions = make([]ProtocolVersion, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, decodeErr(fmt.Sprintf("protocol version is %T, want string", item), nil)
			}
			m.SupportedProtocolVersions = append(m.SupportedProtocolVersions, ProtocolVersion(s))
		}
	}

	if m.Type == TypeError {
		text, err := stringField(fields, keyMessage)
		if err != nil {
			return nil, err
		}
		m.ErrorMessage = text
	}

	for k, v := range fields {
		if reserved(m.Type, k) {
			continue
		}
		if m.Fields == nil {
			m.Fields = make(map[string]any)
		}
		m.Fields[k] = v
	}

	return m, nil
}

// stringField returns the string at key, "" when absent, or a DecodeError
// when the value has another type.
func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr(fmt.Sprintf("%s is %T, want string", key, v), nil)
	}
	return s, nil
}
