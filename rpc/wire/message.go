package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Header
// --------------------------------------------------------------------------

const (
	// HeaderSize is the size of the fixed frame header
	HeaderSize = 8
	// MaxBodyLength guards against allocating absurd bodies from corrupted headers
	MaxBodyLength = 256 * 1024 * 1024
)

// Header is the decoded fixed-size frame header:
// - 2 bytes: stream id (uint16, big endian)
// - 2 bytes: request code or status code (uint16, big endian)
// - 4 bytes: body length (uint32, big endian)
type Header struct {
	StreamID   uint16
	Code       uint16
	BodyLength uint32
}

// ParseHeader decodes a header, b must hold at least HeaderSize bytes
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Wrapf(common.ErrFraming, "truncated header (%d bytes)", len(b))
	}
	h := Header{
		StreamID:   binary.BigEndian.Uint16(b[0:2]),
		Code:       binary.BigEndian.Uint16(b[2:4]),
		BodyLength: binary.BigEndian.Uint32(b[4:8]),
	}
	if h.BodyLength > MaxBodyLength {
		return Header{}, errors.Wrapf(common.ErrFraming, "body length %d exceeds limit", h.BodyLength)
	}
	return h, nil
}

// PutHeader encodes a header into b, b must hold at least HeaderSize bytes
func PutHeader(b []byte, h Header) {
	binary.BigEndian.PutUint16(b[0:2], h.StreamID)
	binary.BigEndian.PutUint16(b[2:4], h.Code)
	binary.BigEndian.PutUint32(b[4:8], h.BodyLength)
}

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// StatusCode is the raw status value carried by response headers
type StatusCode uint16

const (
	CodeOk       StatusCode = 0
	CodeOkSoFar  StatusCode = 4000
	CodeAttn     StatusCode = 4001
	CodeAuthMore StatusCode = 4002
	CodeError    StatusCode = 4003
	CodeRedirect StatusCode = 4004
	CodeWait     StatusCode = 4005
)

// Actions carried by unsolicited (attn) messages
const (
	AttnDisconnect int32 = 5001
	AttnMessage    int32 = 5002
	AttnRedirect   int32 = 5003
	AttnWait       int32 = 5004
)

// Status is the closed set of response statuses. The payload of each status
// is decoded once, when the frame is received.
type Status interface {
	Code() StatusCode
	isStatus()
}

// StatusOk is a terminal success, the data is the message body
type StatusOk struct{}

// StatusOkSoFar is a partial success, more frames follow on the same stream
type StatusOkSoFar struct{}

// StatusRedirect asks the client to reissue the request against another server
type StatusRedirect struct {
	Host  string
	Port  int
	Token string
}

// StatusWait asks the client to retry after the given number of seconds
type StatusWait struct {
	Seconds int32
	Message string
}

// StatusError is an explicit refusal of the request
type StatusError struct {
	ErrCode int32
	Message string
}

// StatusAuthMore asks for another authentication round with the given parameters
type StatusAuthMore struct {
	Params []byte
}

// StatusAttn is an unsolicited notice not bound to any outstanding request
type StatusAttn struct {
	Action int32
	Params []byte
}

func (StatusOk) Code() StatusCode       { return CodeOk }
func (StatusOkSoFar) Code() StatusCode  { return CodeOkSoFar }
func (StatusRedirect) Code() StatusCode { return CodeRedirect }
func (StatusWait) Code() StatusCode     { return CodeWait }
func (StatusError) Code() StatusCode    { return CodeError }
func (StatusAuthMore) Code() StatusCode { return CodeAuthMore }
func (StatusAttn) Code() StatusCode     { return CodeAttn }

func (StatusOk) isStatus()       {}
func (StatusOkSoFar) isStatus()  {}
func (StatusRedirect) isStatus() {}
func (StatusWait) isStatus()     {}
func (StatusError) isStatus()    {}
func (StatusAuthMore) isStatus() {}
func (StatusAttn) isStatus()     {}

func (s StatusRedirect) String() string {
	if s.Token == "" {
		return fmt.Sprintf("redirect %s", common.JoinEndpoint(s.Host, s.Port))
	}
	return fmt.Sprintf("redirect %s?%s", common.JoinEndpoint(s.Host, s.Port), s.Token)
}

// Err converts the error status to the error surfaced to callers
func (s StatusError) Err() error {
	return &common.ServerError{Code: s.ErrCode, Message: s.Message}
}

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// Message is a framed response. It is immutable once decoded except for
// the body, whose ownership is handed out exactly once by TakeBody.
type Message struct {
	StreamID uint16
	Status   Status
	body     []byte
}

// NewMessage creates a message, the message takes ownership of body
func NewMessage(streamID uint16, status Status, body []byte) *Message {
	return &Message{StreamID: streamID, Status: status, body: body}
}

// BodyLen returns the length of the body still owned by the message
func (m *Message) BodyLen() int {
	return len(m.body)
}

// TakeBody transfers ownership of the body to the caller. Subsequent
// calls return nil.
func (m *Message) TakeBody() []byte {
	b := m.body
	m.body = nil
	return b
}

// IsUnsolicited reports whether the message is a server initiated notice
func (m *Message) IsUnsolicited() bool {
	_, ok := m.Status.(StatusAttn)
	return ok
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{Stream: %d, Status: %d, Body: %d bytes}", m.StreamID, m.Status.Code(), len(m.body))
}

// Decode builds a message from a header and its body. Status payloads
// (redirect target, wait time, error code and text) are parsed here, the
// status never shares memory with the body.
func Decode(h Header, body []byte) (*Message, error) {
	if uint32(len(body)) != h.BodyLength {
		return nil, errors.Wrapf(common.ErrFraming, "body has %d bytes, header announced %d", len(body), h.BodyLength)
	}

	var status Status
	switch StatusCode(h.Code) {
	case CodeOk:
		status = StatusOk{}
	case CodeOkSoFar:
		status = StatusOkSoFar{}
	case CodeAuthMore:
		status = StatusAuthMore{Params: bytes.Clone(body)}
	case CodeAttn:
		if len(body) < 4 {
			return nil, errors.Wrap(common.ErrFraming, "attn body too short")
		}
		status = StatusAttn{Action: int32(binary.BigEndian.Uint32(body[:4])), Params: bytes.Clone(body[4:])}
	case CodeError:
		if len(body) < 4 {
			return nil, errors.Wrap(common.ErrFraming, "error body too short")
		}
		status = StatusError{ErrCode: int32(binary.BigEndian.Uint32(body[:4])), Message: cString(body[4:])}
	case CodeWait:
		if len(body) < 4 {
			return nil, errors.Wrap(common.ErrFraming, "wait body too short")
		}
		status = StatusWait{Seconds: int32(binary.BigEndian.Uint32(body[:4])), Message: cString(body[4:])}
	case CodeRedirect:
		redirect, err := ParseRedirect(body)
		if err != nil {
			return nil, err
		}
		status = redirect
	default:
		return nil, errors.Wrapf(common.ErrFraming, "unknown status code %d", h.Code)
	}

	return &Message{StreamID: h.StreamID, Status: status, body: body}, nil
}

// ParseRedirect decodes a redirect body: port (int32, big endian) followed by host[?token]
func ParseRedirect(body []byte) (StatusRedirect, error) {
	if len(body) < 5 {
		return StatusRedirect{}, errors.Wrap(common.ErrFraming, "redirect body too short")
	}
	port := int32(binary.BigEndian.Uint32(body[:4]))
	if port <= 0 || port > 65535 {
		return StatusRedirect{}, errors.Wrapf(common.ErrFraming, "invalid redirect port %d", port)
	}
	host, token, _ := strings.Cut(cString(body[4:]), "?")
	if host == "" {
		return StatusRedirect{}, errors.Wrap(common.ErrFraming, "redirect without host")
	}
	return StatusRedirect{Host: host, Port: int(port), Token: token}, nil
}

// Marshal encodes the message as a complete frame (header + body).
// For statuses with an inline payload the body is rebuilt from the payload.
func (m *Message) Marshal() []byte {
	body := m.body
	switch s := m.Status.(type) {
	case StatusRedirect:
		target := s.Host
		if s.Token != "" {
			target += "?" + s.Token
		}
		body = append(int32Bytes(int32(s.Port)), target...)
	case StatusWait:
		body = append(int32Bytes(s.Seconds), s.Message...)
	case StatusError:
		body = append(append(int32Bytes(s.ErrCode), s.Message...), 0)
	case StatusAuthMore:
		body = s.Params
	case StatusAttn:
		body = append(int32Bytes(s.Action), s.Params...)
	}

	frame := make([]byte, HeaderSize+len(body))
	PutHeader(frame, Header{StreamID: m.StreamID, Code: uint16(m.Status.Code()), BodyLength: uint32(len(body))})
	copy(frame[HeaderSize:], body)
	return frame
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func int32Bytes(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// cString returns the bytes up to the first NUL as string
func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
