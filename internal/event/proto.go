package event

import (
	"github.com/roach88/concord/internal/canonicaljson"
)

// Proto is the mutable description of an event before it is built. Servers
// author events externally; Proto exists for tooling and tests.
type Proto struct {
	RoomID         string
	Sender         string
	Type           string
	StateKey       *string
	Content        canonicaljson.Object
	PrevEvents     []string
	AuthEvents     []string
	OriginServerTS int64
	Depth          int64
	Redacts        string
	Unsigned       canonicaljson.Object
}

// StateKeyPtr is a convenience for filling Proto.StateKey.
func StateKeyPtr(sk string) *string {
	return &sk
}

// Object renders the proto as a wire object without signatures.
func (p Proto) Object() canonicaljson.Object {
	content := p.Content
	if content == nil {
		content = canonicaljson.Object{}
	}
	obj := canonicaljson.Object{
		"room_id":          canonicaljson.String(p.RoomID),
		"sender":           canonicaljson.String(p.Sender),
		"type":             canonicaljson.String(p.Type),
		"content":          content,
		"prev_events":      canonicaljson.StringArray(p.PrevEvents...),
		"auth_events":      canonicaljson.StringArray(p.AuthEvents...),
		"origin_server_ts": canonicaljson.Int(p.OriginServerTS),
		"depth":            canonicaljson.Int(p.Depth),
	}
	if p.StateKey != nil {
		obj["state_key"] = canonicaljson.String(*p.StateKey)
	}
	if p.Redacts != "" {
		obj["redacts"] = canonicaljson.String(p.Redacts)
	}
	if p.Unsigned != nil {
		obj["unsigned"] = p.Unsigned
	}
	return obj
}

// Build validates the proto and returns an unsigned event.
func (p Proto) Build() (*Event, error) {
	return FromObject(p.Object())
}

// WithSignature returns a copy of e carrying an additional signature. The
// identifier does not change: signatures are outside the hash input.
func WithSignature(e *Event, server, keyID, signature string) (*Event, error) {
	sigs := canonicaljson.Object{}
	if existing, ok := e.raw.Object("signatures"); ok {
		sigs = existing.Without()
	}
	byKey := canonicaljson.Object{}
	if existing, ok := sigs.Object(server); ok {
		byKey = existing.Without()
	}
	byKey[keyID] = canonicaljson.String(signature)
	sigs[server] = byKey
	return FromObject(e.raw.With("signatures", sigs))
}

// WithUnsigned returns a copy of e with its unsigned block replaced. The
// identifier does not change.
func WithUnsigned(e *Event, unsigned canonicaljson.Object) (*Event, error) {
	return FromObject(e.raw.With("unsigned", unsigned))
}
