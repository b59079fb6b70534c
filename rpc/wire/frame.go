package wire

import (
	"io"
	"net"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/pkg/errors"
)

// WriteFrame writes a request frame with the format:
// - 2 bytes: stream id (uint16, big endian)
// - 2 bytes: request code (uint16, big endian)
// - 4 bytes: body length (uint32, big endian)
// - N bytes: body
func WriteFrame(w io.Writer, streamID uint16, code uint16, body []byte) error {
	header := make([]byte, HeaderSize)
	PutHeader(header, Header{StreamID: streamID, Code: code, BodyLength: uint32(len(body))})

	b := net.Buffers{header, body}
	if _, err := b.WriteTo(w); err != nil {
		return errors.Wrap(common.ErrConnectionLost, err.Error())
	}
	return nil
}

// ReadHeader reads and decodes exactly one header
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if n, err := io.ReadFull(r, buf); err != nil {
		if n > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, errors.Wrapf(common.ErrFraming, "truncated header (%d bytes)", n)
		}
		return Header{}, wrapReadErr(err)
	}
	return ParseHeader(buf)
}

// ReadBody reads exactly n bytes. A socket closed mid-body is reported as ErrConnectionLost.
func ReadBody(r io.Reader, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, wrapReadErr(err)
	}
	return body, nil
}

// ReadFrame reads one complete frame and decodes it. No partial frame is
// ever returned: either the full message or an error.
func ReadFrame(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	body, err := ReadBody(r, h.BodyLength)
	if err != nil {
		return nil, err
	}
	return Decode(h, body)
}

// ReadRequest reads one request frame (used by test servers)
func ReadRequest(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	body, err := ReadBody(r, h.BodyLength)
	return h, body, err
}

func wrapReadErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(common.ErrTimeout, err.Error())
	}
	return errors.Wrap(common.ErrConnectionLost, err.Error())
}
