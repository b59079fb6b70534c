package serializer

import "github.com/ValentinKolb/xrdc/rpc/common"

// IRPCSerializer is the interface for request body encoders
type IRPCSerializer interface {
	// Serialize encodes the body of a request frame
	// It returns the body bytes and an error if the request cannot be encoded
	Serialize(req *common.Request) ([]byte, error)
	// Deserialize decodes the body of a request frame with the given request code
	// It is the inverse of Serialize and is used by servers and tests
	Deserialize(code common.RequestCode, body []byte) (*common.Request, error)
}
