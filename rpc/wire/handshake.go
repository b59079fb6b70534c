package wire

import (
	"encoding/binary"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/pkg/errors"
)

const (
	// HandshakeRequestSize is the size of the initial client handshake request
	HandshakeRequestSize = 8
	// HandshakeTypeSize is the size of the type word answered by the server
	HandshakeTypeSize = 4
	// HandshakeBodySize is the size of the capability body of the extended protocol
	HandshakeBodySize = 12

	// handshakeMagic is the second word of the client handshake request
	handshakeMagic uint32 = 2012
	// roleTag values in the capability body
	roleTagLoadBalancer uint32 = 0
	roleTagDataServer   uint32 = 1
)

// ProtocolKind distinguishes the extended framed protocol from the legacy one
type ProtocolKind uint8

const (
	ProtocolExtended ProtocolKind = iota
	ProtocolLegacy
)

// HandshakeInfo is what the client learned about the server during the handshake
type HandshakeInfo struct {
	Kind            ProtocolKind
	ProtocolVersion uint32
	Role            common.ServerRole
}

// HandshakeRequest returns the fixed initial handshake bytes
func HandshakeRequest() []byte {
	b := make([]byte, HandshakeRequestSize)
	binary.BigEndian.PutUint32(b[4:8], handshakeMagic)
	return b
}

// IsHandshakeRequest reports whether b is the client handshake request (used by test servers)
func IsHandshakeRequest(b []byte) bool {
	return len(b) == HandshakeRequestSize &&
		binary.BigEndian.Uint32(b[0:4]) == 0 &&
		binary.BigEndian.Uint32(b[4:8]) == handshakeMagic
}

// IsExtendedType reports whether the 4-byte type word announces the extended protocol
func IsExtendedType(b []byte) bool {
	return len(b) >= HandshakeTypeSize && binary.BigEndian.Uint32(b[:4]) == 0
}

// ParseHandshakeBody decodes the capability body: msglen, protocol version and role tag
func ParseHandshakeBody(b []byte) (HandshakeInfo, error) {
	if len(b) < HandshakeBodySize {
		return HandshakeInfo{}, errors.Wrapf(common.ErrFraming, "truncated handshake body (%d bytes)", len(b))
	}
	if msgLen := binary.BigEndian.Uint32(b[0:4]); msgLen != 8 {
		return HandshakeInfo{}, errors.Wrapf(common.ErrFraming, "unexpected handshake length %d", msgLen)
	}

	info := HandshakeInfo{
		Kind:            ProtocolExtended,
		ProtocolVersion: binary.BigEndian.Uint32(b[4:8]),
	}
	switch binary.BigEndian.Uint32(b[8:12]) {
	case roleTagLoadBalancer:
		info.Role = common.RoleLoadBalancer
	case roleTagDataServer:
		info.Role = common.RoleDataServer
	default:
		info.Role = common.RoleUnknown
	}
	return info, nil
}

// HandshakeReply encodes the extended protocol answer of a server (used by test servers)
func HandshakeReply(version uint32, role common.ServerRole) []byte {
	b := make([]byte, HandshakeTypeSize+HandshakeBodySize)
	binary.BigEndian.PutUint32(b[4:8], 8)
	binary.BigEndian.PutUint32(b[8:12], version)
	tag := roleTagDataServer
	if role == common.RoleLoadBalancer {
		tag = roleTagLoadBalancer
	}
	binary.BigEndian.PutUint32(b[12:16], tag)
	return b
}
