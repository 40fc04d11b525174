package event

import "strings"

// Sigils for the identifier kinds this core handles.
const (
	SigilUser  = '@'
	SigilRoom  = '!'
	SigilEvent = '$'
)

// ServerName returns the server part of a "@local:server" or
// "!opaque:server" identifier, or "" if the identifier has none.
func ServerName(id string) string {
	i := strings.IndexByte(id, ':')
	if i < 0 {
		return ""
	}
	return id[i+1:]
}

// ValidUserID reports whether id looks like "@localpart:server".
func ValidUserID(id string) bool {
	return validQualified(id, SigilUser)
}

// ValidRoomID reports whether id looks like "!opaque:server".
func ValidRoomID(id string) bool {
	return validQualified(id, SigilRoom)
}

// ValidEventID reports whether id looks like a content-hash identifier.
func ValidEventID(id string) bool {
	return len(id) > 1 && id[0] == SigilEvent
}

func validQualified(id string, sigil byte) bool {
	if len(id) < 4 || id[0] != sigil {
		return false
	}
	i := strings.IndexByte(id, ':')
	return i > 1 && i < len(id)-1
}
