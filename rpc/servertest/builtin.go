package servertest

import (
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/ValentinKolb/xrdc/rpc/wire"
)

// Error codes used by the built-in handler
const (
	ErrCodeArgInvalid  int32 = 3000
	ErrCodeFileNotOpen int32 = 3004
	ErrCodeNotFound    int32 = 3011
	ErrCodeUnsupported int32 = 3013
)

// Ok builds a single terminal success reply
func Ok(body []byte) []Reply {
	return []Reply{{Status: wire.StatusOk{}, Body: body}}
}

// Error builds a single error reply
func Error(code int32, msg string) []Reply {
	return []Reply{{Status: wire.StatusError{ErrCode: code, Message: msg}}}
}

// Redirect builds a single redirect reply
func Redirect(host string, port int, token string) []Reply {
	return []Reply{{Status: wire.StatusRedirect{Host: host, Port: port, Token: token}}}
}

// Wait builds a single wait reply
func Wait(seconds int32) []Reply {
	return []Reply{{Status: wire.StatusWait{Seconds: seconds, Message: "busy"}}}
}

// Chunked splits body into OkSoFar parts of size n followed by a final Ok
func Chunked(body []byte, n int) []Reply {
	if n <= 0 || len(body) <= n {
		return Ok(body)
	}
	var replies []Reply
	for len(body) > n {
		replies = append(replies, Reply{Status: wire.StatusOkSoFar{}, Body: body[:n]})
		body = body[n:]
	}
	return append(replies, Reply{Status: wire.StatusOk{}, Body: body})
}

// builtin answers a request like a simple data server backed by opts.Files
func (s *Server) builtin(req Request) []Reply {
	if req.Decoded == nil {
		return Error(ErrCodeArgInvalid, "malformed request")
	}
	r := req.Decoded

	switch req.Code {
	case common.ReqPing:
		return Ok(nil)

	case common.ReqLogin:
		var sid [16]byte
		copy(sid[:], r.User)
		return Ok(serializer.EncodeLogin(sid, s.opts.Mechanisms))

	case common.ReqAuth:
		for _, m := range s.opts.Mechanisms {
			if m.Name == r.Mechanism {
				return Ok(nil)
			}
		}
		return Error(ErrCodeArgInvalid, "mechanism not offered")

	case common.ReqOpen:
		if _, ok := s.opts.Files[r.Path]; !ok {
			return Error(ErrCodeNotFound, "no such file "+r.Path)
		}
		var h common.FileHandle
		n := s.nextHandle.Add(1)
		h[0], h[1], h[2], h[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
		s.mu.Lock()
		s.handles[h] = r.Path
		s.mu.Unlock()
		return Ok(h[:])

	case common.ReqRead:
		s.mu.Lock()
		path, ok := s.handles[r.Handle]
		s.mu.Unlock()
		if !ok {
			return Error(ErrCodeFileNotOpen, "invalid file handle")
		}
		data := s.opts.Files[path]
		begin := r.Offset
		if begin > int64(len(data)) {
			begin = int64(len(data))
		}
		end := begin + int64(r.Length)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out := make([]byte, end-begin)
		copy(out, data[begin:end])
		return Chunked(out, s.opts.ChunkSize)

	case common.ReqClose:
		s.mu.Lock()
		delete(s.handles, r.Handle)
		s.mu.Unlock()
		return Ok(nil)

	case common.ReqStat:
		if data, ok := s.opts.Files[r.Path]; ok {
			return Ok(serializer.EncodeStat(serializer.StatInfo{
				ID: "1", Size: int64(len(data)), Flags: serializer.StatFlagReadable, ModTime: time.Unix(1700000000, 0),
			}))
		}
		if len(s.children(r.Path)) > 0 {
			return Ok(serializer.EncodeStat(serializer.StatInfo{
				ID: "2", Flags: serializer.StatFlagDir | serializer.StatFlagReadable, ModTime: time.Unix(1700000000, 0),
			}))
		}
		return Error(ErrCodeNotFound, "no such file "+r.Path)

	case common.ReqDirlist:
		names := s.children(r.Path)
		if len(names) == 0 {
			return Error(ErrCodeNotFound, "no such directory "+r.Path)
		}
		return Chunked([]byte(strings.Join(names, "\n")), s.opts.ChunkSize)

	default:
		return Error(ErrCodeUnsupported, "unsupported request "+req.Code.String())
	}
}

// children returns the sorted direct entries below dir
func (s *Server) children(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := map[string]bool{}
	for p := range s.opts.Files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
