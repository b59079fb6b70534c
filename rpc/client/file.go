package client

import (
	"context"
	"io"
	"sync"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/ValentinKolb/xrdc/rpc/session"
	"github.com/pkg/errors"
)

// maxReadLength bounds the length of a single read request
const maxReadLength = 8 * 1024 * 1024

// File is a remote file opened for reading. It implements io.Reader,
// io.ReaderAt, io.Seeker and io.Closer. ReadAt is safe for concurrent use,
// the requests are serialized by the underlying session.
type File struct {
	url     common.URL
	session *session.Session
	handle  common.FileHandle
	size    int64

	mu     sync.Mutex // guards offset and closed
	offset int64
	closed bool
}

// URL returns the location of the file
func (f *File) URL() common.URL { return f.url }

// Size returns the file size at open time
func (f *File) Size() int64 { return f.size }

// Session returns the session the file is open on
func (f *File) Session() *session.Session { return f.session }

// ReadAt reads len(p) bytes at off. Fewer bytes are only returned together with
// io.EOF or an error.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is ReadAt bounded by ctx
func (f *File) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= f.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off+int64(n) < f.size {
		chunk := len(p) - n
		if chunk > maxReadLength {
			chunk = maxReadLength
		}
		data, err := f.session.Read(ctx, f.handle, off+int64(n), int32(chunk))
		if err != nil {
			return n, err
		}
		if len(data) == 0 {
			break
		}
		n += copy(p[n:], data)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read reads from the current offset
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()

	n, err := f.ReadAt(p, off)

	f.mu.Lock()
	f.offset = off + int64(n)
	f.mu.Unlock()

	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

// Seek sets the offset of the next Read
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += f.size
	default:
		return 0, errors.Errorf("invalid whence %d", whence)
	}
	if offset < 0 {
		return 0, errors.Errorf("negative offset %d", offset)
	}
	f.offset = offset
	return offset, nil
}

// Stat fetches the current metadata of the file
func (f *File) Stat(ctx context.Context) (serializer.StatInfo, error) {
	if err := f.checkOpen(); err != nil {
		return serializer.StatInfo{}, err
	}
	return statPath(ctx, f.session, f.url.Path)
}

// Close closes the file on the server and releases the session
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	return f.session.Close(context.Background())
}

func (f *File) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.Wrapf(common.ErrClosed, "file %s", f.url.Path)
	}
	return nil
}
