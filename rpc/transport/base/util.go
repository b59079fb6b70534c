package base

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/pkg/errors"
)

// runHandshake runs the handshake on a raw socket. The context deadline is
// applied to the socket and cleared afterwards, so the reader started later
// blocks without deadline.
func runHandshake(ctx context.Context, conn net.Conn, handshake transport.HandshakeFunc) (wire.HandshakeInfo, error) {
	if handshake == nil {
		return wire.HandshakeInfo{Kind: wire.ProtocolExtended, Role: common.RoleUnknown}, nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return wire.HandshakeInfo{}, errors.Wrap(common.ErrConnectionLost, err.Error())
		}
	}

	// abort a handshake blocked in I/O when the context is cancelled
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	info, err := handshake(conn)
	stop()

	if err != nil {
		return wire.HandshakeInfo{}, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return wire.HandshakeInfo{}, errors.Wrap(common.ErrConnectionLost, err.Error())
	}
	return info, nil
}

// noticeSeconds decodes the leading big endian seconds field of a notice
func noticeSeconds(params []byte) time.Duration {
	if len(params) < 4 {
		return 0
	}
	secs := int32(binary.BigEndian.Uint32(params[:4]))
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}
