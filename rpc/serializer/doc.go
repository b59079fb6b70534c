// Package serializer encodes request bodies and decodes the typed reply
// bodies of the remote file protocol.
//
// The frame header (stream id, request code, body length) is handled by the
// wire package. This package only deals with what follows the header:
//
//   - IRPCSerializer: interface for request body encoders.
//
//   - binarySerializerImpl: the big endian binary layout spoken by data servers
//     and load balancers (fixed width fields, null padded names, trailing opaque bytes).
//
//   - Reply decoders: DecodeLogin, DecodeOpen, DecodeStat and DecodeDirlist turn
//     the body of an ok reply into typed values.
//
// Thread Safety:
//
//	The serializer is stateless and safe for concurrent use.
package serializer
