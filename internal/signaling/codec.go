package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeKind classifies a decoding failure.
type DecodeKind int

const (
	// KindSyntax: the payload is not a JSON object.
	KindSyntax DecodeKind = iota
	// KindUnknownType: the "type" field is missing or not recognised.
	KindUnknownType
	// KindMalformedFields: the type is known but its fields are invalid.
	KindMalformedFields
)

func (k DecodeKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindUnknownType:
		return "unknown type"
	case KindMalformedFields:
		return "malformed fields"
	default:
		return fmt.Sprintf("DecodeKind(%d)", int(k))
	}
}

// DecodeError is returned by Decode.
type DecodeError struct {
	Kind DecodeKind
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q message: %s: %v", e.Type, e.Kind, e.Err)
	}
	return fmt.Sprintf("decode %q message: %s", e.Type, e.Kind)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsUnknownType reports whether err is a DecodeError for an unrecognised type.
func IsUnknownType(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == KindUnknownType
}

// Encode serializes a message into its JSON wire text. The "type" field always
// comes first; optional fields that are absent are omitted.
func Encode(msg Message) ([]byte, error) {
	typ := struct {
		Type MessageType `json:"type"`
	}{msg.Type()}

	switch m := msg.(type) {
	case *Connect:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Connect
		}{typ.Type, m})
	case *Answer:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Answer
		}{typ.Type, m})
	case *UpdateAnswer:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*UpdateAnswer
		}{typ.Type, m})
	case *Candidate:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Candidate
		}{typ.Type, m})
	case *Offer:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Offer
		}{typ.Type, m})
	case *UpdateOffer:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*UpdateOffer
		}{typ.Type, m})
	case *Notify:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Notify
		}{typ.Type, m})
	case *Stats:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Stats
		}{typ.Type, m})
	case *Pong, *Ping:
		return json.Marshal(typ)
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
}

// Decode parses JSON wire text into a message. It never panics; every failure
// is reported as a *DecodeError.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Kind: KindSyntax, Err: err}
	}
	if env.Type == nil {
		return nil, &DecodeError{Kind: KindUnknownType, Err: errors.New("missing type field")}
	}

	typ := *env.Type
	var msg Message

	switch typ {
	case MsgTypeConnect:
		msg = &Connect{}
	case MsgTypeOffer:
		msg = &Offer{}
	case MsgTypeAnswer:
		msg = &Answer{}
	case MsgTypeUpdate:
		msg = &UpdateOffer{}
	case MsgTypeCandidate:
		msg = &Candidate{}
	case MsgTypePing:
		return &Ping{}, nil
	case MsgTypePong:
		return &Pong{}, nil
	case MsgTypeNotify:
		msg = &Notify{}
	case MsgTypeStats:
		msg = &Stats{}
	default:
		return nil, &DecodeError{Kind: KindUnknownType, Type: typ}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{Kind: KindMalformedFields, Type: typ, Err: err}
	}
	if err := validate(msg); err != nil {
		return nil, &DecodeError{Kind: KindMalformedFields, Type: typ, Err: err}
	}

	if n, ok := msg.(*Notify); ok {
		n.Raw = append(json.RawMessage(nil), data...)
	}
	return msg, nil
}

// validate checks the fields a message cannot work without.
func validate(msg Message) error {
	switch m := msg.(type) {
	case *Offer:
		if m.SDP == "" {
			return errors.New("missing sdp")
		}
		if m.ClientID == "" {
			return errors.New("missing client_id")
		}
	case *UpdateOffer:
		if m.SDP == "" {
			return errors.New("missing sdp")
		}
	case *Answer:
		if m.SDP == "" {
			return errors.New("missing sdp")
		}
	case *Candidate:
		if m.Candidate == "" {
			return errors.New("missing candidate")
		}
	case *Connect:
		if m.ChannelID == "" {
			return errors.New("missing channel_id")
		}
		if m.Role != RoleUpstream && m.Role != RoleDownstream {
			return fmt.Errorf("invalid role %q", m.Role)
		}
	}
	return nil
}
