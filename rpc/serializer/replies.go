package serializer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
)

const sessionIDSize = 16

// --------------------------------------------------------------------------
// Login
// --------------------------------------------------------------------------

// Mechanism is one authentication mechanism offered by a server
type Mechanism struct {
	Name   string
	Params string
}

// LoginReply is the decoded body of a successful login
type LoginReply struct {
	SessionID  [sessionIDSize]byte
	Mechanisms []Mechanism // in server preference order, empty if no auth is required
}

// DecodeLogin decodes session id and the optional '|' delimited mechanism list
func DecodeLogin(body []byte) (LoginReply, error) {
	var reply LoginReply
	if len(body) < sessionIDSize {
		return reply, fmt.Errorf("login reply too short (%d bytes)", len(body))
	}
	copy(reply.SessionID[:], body[:sessionIDSize])
	reply.Mechanisms = ParseMechanisms(string(body[sessionIDSize:]))
	return reply, nil
}

// ParseMechanisms parses "name[:params]|name[:params]|..."
func ParseMechanisms(list string) []Mechanism {
	var mechanisms []Mechanism
	for _, entry := range strings.Split(strings.TrimRight(list, "\x00"), "|") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, params, _ := strings.Cut(entry, ":")
		mechanisms = append(mechanisms, Mechanism{Name: name, Params: params})
	}
	return mechanisms
}

// EncodeLogin is the inverse of DecodeLogin (used by servers and tests)
func EncodeLogin(sessionID [sessionIDSize]byte, mechanisms []Mechanism) []byte {
	entries := make([]string, 0, len(mechanisms))
	for _, m := range mechanisms {
		if m.Params == "" {
			entries = append(entries, m.Name)
		} else {
			entries = append(entries, m.Name+":"+m.Params)
		}
	}
	return append(sessionID[:], strings.Join(entries, "|")...)
}

// --------------------------------------------------------------------------
// Open
// --------------------------------------------------------------------------

// DecodeOpen extracts the file handle of an open reply
func DecodeOpen(body []byte) (common.FileHandle, error) {
	var h common.FileHandle
	if len(body) < handleSize {
		return h, fmt.Errorf("open reply too short (%d bytes)", len(body))
	}
	copy(h[:], body[:handleSize])
	return h, nil
}

// --------------------------------------------------------------------------
// Stat
// --------------------------------------------------------------------------

// Stat flags
const (
	StatFlagDir      int64 = 0x02
	StatFlagOther    int64 = 0x04
	StatFlagOffline  int64 = 0x08
	StatFlagReadable int64 = 0x10
	StatFlagWritable int64 = 0x20
)

// StatInfo is the decoded body of a stat reply
type StatInfo struct {
	ID      string
	Size    int64
	Flags   int64
	ModTime time.Time
}

// IsDir reports whether the entry is a directory
func (s StatInfo) IsDir() bool {
	return s.Flags&StatFlagDir != 0
}

// DecodeStat decodes the textual "id size flags modtime" reply
func DecodeStat(body []byte) (StatInfo, error) {
	fields := strings.Fields(strings.TrimRight(string(body), "\x00"))
	if len(fields) < 4 {
		return StatInfo{}, fmt.Errorf("malformed stat reply %q", string(body))
	}

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return StatInfo{}, fmt.Errorf("malformed stat size %q", fields[1])
	}
	flags, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return StatInfo{}, fmt.Errorf("malformed stat flags %q", fields[2])
	}
	mtime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return StatInfo{}, fmt.Errorf("malformed stat modtime %q", fields[3])
	}

	return StatInfo{ID: fields[0], Size: size, Flags: flags, ModTime: time.Unix(mtime, 0)}, nil
}

// EncodeStat is the inverse of DecodeStat (used by servers and tests)
func EncodeStat(info StatInfo) []byte {
	return []byte(fmt.Sprintf("%s %d %d %d\x00", info.ID, info.Size, info.Flags, info.ModTime.Unix()))
}

// --------------------------------------------------------------------------
// Dirlist
// --------------------------------------------------------------------------

// DecodeDirlist splits the newline separated entries of a (reassembled) dirlist reply
func DecodeDirlist(body []byte) []string {
	var entries []string
	for _, line := range strings.Split(strings.TrimRight(string(body), "\x00"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	return entries
}
