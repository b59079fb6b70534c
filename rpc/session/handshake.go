package session

import (
	"io"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/pkg/errors"
)

// Handshake runs the initial protocol negotiation on a freshly dialed socket.
// It is handed to the connection manager as transport.HandshakeFunc and runs
// before the background reader of the connection starts.
//
// The client writes the fixed handshake request and reads the 4-byte type word. A zero
// type announces the extended protocol and is followed by the capability body
// carrying protocol version and server role. Any other type is the legacy
// protocol marker, which is reported as ErrLegacyProtocol.
func Handshake(rw io.ReadWriter) (wire.HandshakeInfo, error) {
	if _, err := rw.Write(wire.HandshakeRequest()); err != nil {
		return wire.HandshakeInfo{}, errors.Wrapf(common.ErrConnectionLost, "writing handshake: %v", err)
	}

	typ := make([]byte, wire.HandshakeTypeSize)
	if _, err := io.ReadFull(rw, typ); err != nil {
		return wire.HandshakeInfo{}, errors.Wrapf(common.ErrConnectionLost, "reading handshake type: %v", err)
	}
	if !wire.IsExtendedType(typ) {
		return wire.HandshakeInfo{Kind: wire.ProtocolLegacy}, errors.WithStack(common.ErrLegacyProtocol)
	}

	body := make([]byte, wire.HandshakeBodySize)
	if _, err := io.ReadFull(rw, body); err != nil {
		return wire.HandshakeInfo{}, errors.Wrapf(common.ErrConnectionLost, "reading handshake body: %v", err)
	}
	info, err := wire.ParseHandshakeBody(body)
	if err != nil {
		return wire.HandshakeInfo{}, err
	}

	Logger.Debugf("handshake done: protocol version 0x%x, role %s", info.ProtocolVersion, info.Role)
	return info, nil
}
