package serializer

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ValentinKolb/xrdc/rpc/common"
)

const (
	userFieldSize      = 8
	mechanismFieldSize = 4
	handleSize         = 4
)

// NewBinarySerializer creates a new serializer for the binary request layout
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using the big endian wire layout
type binarySerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(req *common.Request) ([]byte, error) {
	switch req.Code {
	case common.ReqOpen:
		// mode (2) + options (2) + path
		result := make([]byte, 4+len(req.Path))
		binary.BigEndian.PutUint16(result[0:2], req.Mode)
		binary.BigEndian.PutUint16(result[2:4], req.Options)
		copy(result[4:], req.Path)
		return result, nil

	case common.ReqRead:
		if req.Offset < 0 || req.Length < 0 {
			return nil, fmt.Errorf("invalid read range offset=%d length=%d", req.Offset, req.Length)
		}
		// handle (4) + offset (8) + length (4)
		result := make([]byte, handleSize+12)
		copy(result[0:4], req.Handle[:])
		binary.BigEndian.PutUint64(result[4:12], uint64(req.Offset))
		binary.BigEndian.PutUint32(result[12:16], uint32(req.Length))
		return result, nil

	case common.ReqStat, common.ReqDirlist:
		if req.Path == "" {
			return nil, fmt.Errorf("%s request without path", req.Code)
		}
		return []byte(req.Path), nil

	case common.ReqClose:
		result := make([]byte, handleSize)
		copy(result, req.Handle[:])
		return result, nil

	case common.ReqPing:
		return []byte{}, nil

	case common.ReqLogin:
		if len(req.User) > userFieldSize {
			return nil, fmt.Errorf("user name %q longer than %d bytes", req.User, userFieldSize)
		}
		// pid (4) + user (8, null padded) + token
		result := make([]byte, 4+userFieldSize+len(req.Token))
		binary.BigEndian.PutUint32(result[0:4], req.PID)
		copy(result[4:4+userFieldSize], req.User)
		copy(result[4+userFieldSize:], req.Token)
		return result, nil

	case common.ReqAuth:
		if req.Mechanism == "" || len(req.Mechanism) > mechanismFieldSize {
			return nil, fmt.Errorf("invalid mechanism name %q", req.Mechanism)
		}
		// mechanism (4, null padded) + credentials
		result := make([]byte, mechanismFieldSize+len(req.Credentials))
		copy(result[0:mechanismFieldSize], req.Mechanism)
		copy(result[mechanismFieldSize:], req.Credentials)
		return result, nil

	default:
		return nil, fmt.Errorf("cannot serialize request %s", req.Code)
	}
}

func (b binarySerializerImpl) Deserialize(code common.RequestCode, data []byte) (*common.Request, error) {
	req := &common.Request{Code: code}

	switch code {
	case common.ReqOpen:
		if len(data) < 4 {
			return nil, fmt.Errorf("data too short for open request")
		}
		req.Mode = binary.BigEndian.Uint16(data[0:2])
		req.Options = binary.BigEndian.Uint16(data[2:4])
		req.Path = string(data[4:])

	case common.ReqRead:
		if len(data) < handleSize+12 {
			return nil, fmt.Errorf("data too short for read request")
		}
		copy(req.Handle[:], data[0:4])
		req.Offset = int64(binary.BigEndian.Uint64(data[4:12]))
		req.Length = int32(binary.BigEndian.Uint32(data[12:16]))

	case common.ReqStat, common.ReqDirlist:
		req.Path = string(data)

	case common.ReqClose:
		if len(data) < handleSize {
			return nil, fmt.Errorf("data too short for close request")
		}
		copy(req.Handle[:], data[0:4])

	case common.ReqPing:

	case common.ReqLogin:
		if len(data) < 4+userFieldSize {
			return nil, fmt.Errorf("data too short for login request")
		}
		req.PID = binary.BigEndian.Uint32(data[0:4])
		req.User = strings.TrimRight(string(data[4:4+userFieldSize]), "\x00")
		req.Token = string(data[4+userFieldSize:])

	case common.ReqAuth:
		if len(data) < mechanismFieldSize {
			return nil, fmt.Errorf("data too short for auth request")
		}
		req.Mechanism = strings.TrimRight(string(data[0:mechanismFieldSize]), "\x00")
		req.Credentials = data[mechanismFieldSize:]

	default:
		return nil, fmt.Errorf("cannot deserialize request %s", code)
	}

	return req, nil
}
