package stateres

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/roach88/concord/internal/canonicaljson"
)

// Object renders m as a canonical JSON object keyed by "type|state_key".
func (m StateMap) Object() canonicaljson.Object {
	obj := make(canonicaljson.Object, len(m))
	for k, id := range m {
		obj[k.String()] = canonicaljson.String(id)
	}
	return obj
}

// HashState returns the hex SHA-256 of m's canonical encoding. Two servers
// that resolved a room identically report the same hash.
func HashState(m StateMap) string {
	return digest(m.Object())
}

// HashRequest returns the hex SHA-256 of the canonical encoding of req.
// Tip order does not affect the hash, matching the resolver's contract.
func HashRequest(req Request) string {
	type encoded struct {
		obj canonicaljson.Object
		raw []byte
	}
	tips := make([]encoded, len(req.Tips))
	for i, tip := range req.Tips {
		obj := tip.Object()
		tips[i] = encoded{obj: obj, raw: canonicaljson.MustMarshal(obj)}
	}
	slices.SortFunc(tips, func(a, b encoded) int { return bytes.Compare(a.raw, b.raw) })

	arr := make(canonicaljson.Array, len(tips))
	for i, tip := range tips {
		arr[i] = tip.obj
	}

	return digest(canonicaljson.Object{
		"room_id":      canonicaljson.String(req.RoomID),
		"room_version": canonicaljson.String(req.RoomVersion),
		"tips":         arr,
		"timeline":     canonicaljson.StringArray(req.Timeline...),
	})
}

func digest(v canonicaljson.Value) string {
	sum := sha256.Sum256(canonicaljson.MustMarshal(v))
	return hex.EncodeToString(sum[:])
}
