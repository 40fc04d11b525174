package auth

import (
	"crypto/ed25519"

	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/signing"
)

func inviteToken(tpi canonicaljson.Object) string {
	signed, ok := tpi.Object("signed")
	if !ok {
		return ""
	}
	token, _ := signed.String("token")
	return token
}

// authorizeThirdPartyInvite accepts an invite that redeems a token issued by
// an earlier m.room.third_party_invite from the same sender, proven by a
// signature over the signed block with one of the token's public keys.
func authorizeThirdPartyInvite(ev *event.Event, state State, mc event.MemberContent, target, targetM string) Verdict {
	if targetM == event.MembershipBan {
		return reject(ReasonBanned, "%s is banned", target)
	}

	signed, ok := mc.ThirdPartyInvite.Object("signed")
	if !ok {
		return reject(ReasonThirdPartyInvalid, "third_party_invite has no signed block")
	}
	mxid, ok1 := signed.String("mxid")
	token, ok2 := signed.String("token")
	if !ok1 || !ok2 {
		return reject(ReasonThirdPartyInvalid, "signed block needs mxid and token")
	}
	if mxid != target {
		return reject(ReasonThirdPartyInvalid, "signed mxid %s does not match %s", mxid, target)
	}

	tokenEvent := state.ThirdPartyInvite(token)
	if tokenEvent == nil {
		return reject(ReasonThirdPartyInvalid, "no invite token %q in state", token)
	}
	if tokenEvent.Sender() != ev.Sender() {
		return reject(ReasonThirdPartyInvalid, "token was issued by %s", tokenEvent.Sender())
	}

	for _, key := range tokenPublicKeys(tokenEvent.Content()) {
		if signing.VerifyObject(signed, key) {
			return Allow()
		}
	}
	return reject(ReasonThirdPartyInvalid, "no token key verifies the signed block")
}

// tokenPublicKeys collects content.public_key and content.public_keys[].public_key.
func tokenPublicKeys(content canonicaljson.Object) []ed25519.PublicKey {
	var encoded []string
	if k, ok := content.String("public_key"); ok {
		encoded = append(encoded, k)
	}
	if arr, ok := content.Array("public_keys"); ok {
		for _, v := range arr {
			if obj, ok := v.(canonicaljson.Object); ok {
				if k, ok := obj.String("public_key"); ok {
					encoded = append(encoded, k)
				}
			}
		}
	}

	keys := make([]ed25519.PublicKey, 0, len(encoded))
	for _, s := range encoded {
		b, err := signing.DecodeBase64(s)
		if err != nil || len(b) != ed25519.PublicKeySize {
			continue
		}
		keys = append(keys, ed25519.PublicKey(b))
	}
	return keys
}
