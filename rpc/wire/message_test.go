package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMessages creates one message per status with payloads filled
func testMessages() []*Message {
	return []*Message{
		NewMessage(1, StatusOk{}, []byte("hello world")),
		NewMessage(2, StatusOk{}, []byte{}),
		NewMessage(3, StatusOkSoFar{}, []byte("part")),
		NewMessage(4, StatusRedirect{Host: "data.example.org", Port: 7777, Token: "t1"}, nil),
		NewMessage(5, StatusRedirect{Host: "lb.example.org", Port: 1094}, nil),
		NewMessage(6, StatusWait{Seconds: 3, Message: "busy"}, nil),
		NewMessage(7, StatusError{ErrCode: 3011, Message: "no such file"}, nil),
		NewMessage(8, StatusAuthMore{Params: []byte("challenge")}, nil),
		NewMessage(0xffff, StatusAttn{Action: AttnMessage, Params: []byte("maintenance")}, nil),
	}
}

// TestFrameRoundTrip checks that marshal + ReadFrame reconstructs stream id, status and body
func TestFrameRoundTrip(t *testing.T) {
	for _, msg := range testMessages() {
		frame := msg.Marshal()

		decoded, err := ReadFrame(bytes.NewReader(frame))
		require.NoError(t, err, "decoding %v", msg)

		assert.Equal(t, msg.StreamID, decoded.StreamID)
		assert.Equal(t, msg.Status, decoded.Status)
		assert.Equal(t, frame[HeaderSize:], decoded.TakeBody())

		// a second marshal of the decoded message is byte identical
		again := NewMessage(decoded.StreamID, decoded.Status, frame[HeaderSize:]).Marshal()
		assert.Equal(t, frame, again)
	}
}

func TestParseHeaderTruncated(t *testing.T) {
	_, err := ParseHeader([]byte{0, 1, 0})
	assert.True(t, errors.Is(err, common.ErrFraming))

	_, err = ReadHeader(bytes.NewReader([]byte{0, 1, 0, 0, 0}))
	assert.True(t, errors.Is(err, common.ErrFraming))
}

func TestParseHeaderBigEndian(t *testing.T) {
	h, err := ParseHeader([]byte{0x01, 0x02, 0x0f, 0xa0, 0x00, 0x00, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), h.StreamID)
	assert.Equal(t, uint16(CodeOkSoFar), h.Code)
	assert.Equal(t, uint32(256), h.BodyLength)
}

func TestReadFrameClosedMidBody(t *testing.T) {
	frame := NewMessage(1, StatusOk{}, []byte("0123456789")).Marshal()

	_, err := ReadFrame(bytes.NewReader(frame[:HeaderSize+4]))
	assert.True(t, errors.Is(err, common.ErrConnectionLost), "got %v", err)
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, common.ErrConnectionLost))
}

func TestDecodeUnknownStatus(t *testing.T) {
	_, err := Decode(Header{StreamID: 1, Code: 1234}, nil)
	assert.True(t, errors.Is(err, common.ErrFraming))
}

func TestParseRedirect(t *testing.T) {
	msg := NewMessage(1, StatusRedirect{Host: "b.example.org", Port: 7777, Token: "t1&x=y"}, nil)
	frame := msg.Marshal()

	r, err := ParseRedirect(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, "b.example.org", r.Host)
	assert.Equal(t, 7777, r.Port)
	assert.Equal(t, "t1&x=y", r.Token)

	_, err = ParseRedirect([]byte{0, 0, 0, 0, 'x'})
	assert.True(t, errors.Is(err, common.ErrFraming), "port 0 must be rejected")
}

func TestTakeBodyOnce(t *testing.T) {
	msg := NewMessage(1, StatusOk{}, []byte("data"))
	assert.Equal(t, 4, msg.BodyLen())
	assert.Equal(t, []byte("data"), msg.TakeBody())
	assert.Nil(t, msg.TakeBody())
	assert.Equal(t, 0, msg.BodyLen())
}

func TestStatusParamsDoNotAliasBody(t *testing.T) {
	for _, status := range []Status{
		StatusAuthMore{Params: []byte("challenge")},
		StatusAttn{Action: AttnMessage, Params: []byte("maintenance")},
	} {
		frame := NewMessage(1, status, nil).Marshal()
		decoded, err := ReadFrame(bytes.NewReader(frame))
		require.NoError(t, err)

		body := decoded.TakeBody()
		for i := range body {
			body[i] = 'X'
		}
		assert.Equal(t, status, decoded.Status, "status changed with the body")
	}
}

func TestStatusErrorSurfacesServerError(t *testing.T) {
	err := StatusError{ErrCode: 3011, Message: "no such file"}.Err()
	var serverErr *common.ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, int32(3011), serverErr.Code)
	assert.Equal(t, "no such file", serverErr.Message)
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 42, uint16(common.ReqPing), []byte("abc")))

	h, body, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), h.StreamID)
	assert.Equal(t, uint16(common.ReqPing), h.Code)
	assert.Equal(t, []byte("abc"), body)

	_, _, err = ReadRequest(&buf)
	assert.True(t, errors.Is(err, common.ErrConnectionLost))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFrameFailure(t *testing.T) {
	err := WriteFrame(failingWriter{}, 1, uint16(common.ReqPing), nil)
	assert.True(t, errors.Is(err, common.ErrConnectionLost))
}

func TestHandshake(t *testing.T) {
	assert.True(t, IsHandshakeRequest(HandshakeRequest()))

	reply := HandshakeReply(0x310, common.RoleLoadBalancer)
	require.True(t, IsExtendedType(reply[:HandshakeTypeSize]))

	info, err := ParseHandshakeBody(reply[HandshakeTypeSize:])
	require.NoError(t, err)
	assert.Equal(t, ProtocolExtended, info.Kind)
	assert.Equal(t, uint32(0x310), info.ProtocolVersion)
	assert.Equal(t, common.RoleLoadBalancer, info.Role)

	info, err = ParseHandshakeBody(HandshakeReply(0x310, common.RoleDataServer)[HandshakeTypeSize:])
	require.NoError(t, err)
	assert.Equal(t, common.RoleDataServer, info.Role)

	assert.False(t, IsExtendedType([]byte{0, 0, 0, 8}))

	_, err = ParseHandshakeBody([]byte{0, 0})
	assert.True(t, errors.Is(err, common.ErrFraming))
}
