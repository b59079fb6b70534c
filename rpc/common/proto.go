package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Request Codes
// --------------------------------------------------------------------------

// RequestCode identifies the operation carried by a request frame.
type RequestCode uint16

// Values as sent in the requestOrStatus field of the frame header
const (
	ReqAuth     RequestCode = 3000
	ReqClose    RequestCode = 3003
	ReqDirlist  RequestCode = 3004
	ReqProtocol RequestCode = 3006
	ReqLogin    RequestCode = 3007
	ReqOpen     RequestCode = 3010
	ReqPing     RequestCode = 3011
	ReqRead     RequestCode = 3013
	ReqStat     RequestCode = 3017
)

// String returns the string representation of a RequestCode.
func (c RequestCode) String() string {
	switch c {
	case ReqAuth:
		return "auth"
	case ReqClose:
		return "close"
	case ReqDirlist:
		return "dirlist"
	case ReqProtocol:
		return "protocol"
	case ReqLogin:
		return "login"
	case ReqOpen:
		return "open"
	case ReqPing:
		return "ping"
	case ReqRead:
		return "read"
	case ReqStat:
		return "stat"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// --------------------------------------------------------------------------
// Server roles and login state
// --------------------------------------------------------------------------

// ServerRole is the role a server announced during the handshake.
type ServerRole uint8

const (
	RoleUnknown ServerRole = iota
	RoleLoadBalancer
	RoleDataServer
)

func (r ServerRole) String() string {
	switch r {
	case RoleLoadBalancer:
		return "load balancer"
	case RoleDataServer:
		return "data server"
	default:
		return "unknown"
	}
}

// LoginState tracks whether a physical connection carries a logged in session.
type LoginState int32

const (
	LoginNo LoginState = iota
	LoginPending
	LoginYes
)

func (s LoginState) String() string {
	switch s {
	case LoginPending:
		return "pending"
	case LoginYes:
		return "yes"
	default:
		return "no"
	}
}

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// FileHandle is the opaque handle the server returns for an open file.
type FileHandle [4]byte

func (h FileHandle) String() string {
	return hex.EncodeToString(h[:])
}

// Open options
const (
	OpenRead    uint16 = 0x0010
	OpenUpdate  uint16 = 0x0020
	OpenRefresh uint16 = 0x0080
)

// Request is a single client request. Which fields are used depends on Code.
type Request struct {
	Code RequestCode

	Path    string     // Used for: Open, Stat, Dirlist
	Handle  FileHandle // Used for: Read, Close
	Offset  int64      // Used for: Read
	Length  int32      // Used for: Read
	Mode    uint16     // Used for: Open
	Options uint16     // Used for: Open

	PID   uint32 // Used for: Login
	User  string // Used for: Login
	Token string // Used for: Login (pending redirection token)

	Mechanism   string // Used for: Auth
	Credentials []byte // Used for: Auth
}

// UsesHandle reports whether the request refers to an open file handle
func (r *Request) UsesHandle() bool {
	return r.Code == ReqRead || r.Code == ReqClose
}

// WithHandle returns a copy of the request with the file handle substituted
func (r *Request) WithHandle(h FileHandle) *Request {
	c := *r
	c.Handle = h
	return &c
}

func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString(r.Code.String())
	switch r.Code {
	case ReqOpen, ReqStat, ReqDirlist:
		sb.WriteString(" " + r.Path)
	case ReqRead:
		sb.WriteString(fmt.Sprintf(" %s [%d,+%d)", r.Handle, r.Offset, r.Length))
	case ReqClose:
		sb.WriteString(" " + r.Handle.String())
	case ReqAuth:
		sb.WriteString(" " + r.Mechanism)
	case ReqLogin:
		sb.WriteString(" " + r.User)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Request Factory Functions
// --------------------------------------------------------------------------

// NewOpenRequest creates a new Open request
func NewOpenRequest(path string, mode, options uint16) *Request {
	return &Request{Code: ReqOpen, Path: path, Mode: mode, Options: options}
}

// NewReadRequest creates a new Read request for [offset, offset+length)
func NewReadRequest(h FileHandle, offset int64, length int32) *Request {
	return &Request{Code: ReqRead, Handle: h, Offset: offset, Length: length}
}

// NewStatRequest creates a new Stat request
func NewStatRequest(path string) *Request {
	return &Request{Code: ReqStat, Path: path}
}

// NewCloseRequest creates a new Close request
func NewCloseRequest(h FileHandle) *Request {
	return &Request{Code: ReqClose, Handle: h}
}

// NewDirlistRequest creates a new Dirlist request
func NewDirlistRequest(path string) *Request {
	return &Request{Code: ReqDirlist, Path: path}
}

// NewPingRequest creates a new Ping request
func NewPingRequest() *Request {
	return &Request{Code: ReqPing}
}

// NewLoginRequest creates a new Login request
func NewLoginRequest(pid uint32, user, token string) *Request {
	return &Request{Code: ReqLogin, PID: pid, User: user, Token: token}
}

// NewAuthRequest creates a new Auth request
func NewAuthRequest(mechanism string, credentials []byte) *Request {
	return &Request{Code: ReqAuth, Mechanism: mechanism, Credentials: credentials}
}
