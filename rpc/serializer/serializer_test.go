package serializer

import (
	"testing"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRequests creates one request per supported request code
func testRequests() []*common.Request {
	return []*common.Request{
		common.NewOpenRequest("/data/file.root", 0, common.OpenRead),
		common.NewReadRequest(common.FileHandle{1, 2, 3, 4}, 1<<40, 4096),
		common.NewStatRequest("/data/file.root"),
		common.NewCloseRequest(common.FileHandle{9, 8, 7, 6}),
		common.NewDirlistRequest("/data"),
		common.NewPingRequest(),
		common.NewLoginRequest(4242, "alice", "t1"),
		common.NewAuthRequest("unix", []byte("alice users")),
	}
}

// TestSerializerRoundTrip tests that requests can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	s := NewBinarySerializer()

	for _, req := range testRequests() {
		body, err := s.Serialize(req)
		require.NoError(t, err, "serializing %s", req)

		decoded, err := s.Deserialize(req.Code, body)
		require.NoError(t, err, "deserializing %s", req)

		if req.Credentials == nil {
			decoded.Credentials = nil
		}
		assert.Equal(t, req, decoded)
	}
}

func TestLoginLayout(t *testing.T) {
	body, err := NewBinarySerializer().Serialize(common.NewLoginRequest(1, "bob", "tok"))
	require.NoError(t, err)

	// pid + fixed width null padded user + token
	assert.Equal(t, []byte{0, 0, 0, 1, 'b', 'o', 'b', 0, 0, 0, 0, 0, 't', 'o', 'k'}, body)
}

func TestSerializeRejectsInvalidRequests(t *testing.T) {
	s := NewBinarySerializer()

	_, err := s.Serialize(common.NewLoginRequest(1, "averylongname", ""))
	assert.Error(t, err)

	_, err = s.Serialize(common.NewAuthRequest("toolong", nil))
	assert.Error(t, err)

	_, err = s.Serialize(common.NewReadRequest(common.FileHandle{}, -1, 10))
	assert.Error(t, err)

	_, err = s.Serialize(common.NewStatRequest(""))
	assert.Error(t, err)

	_, err = s.Serialize(&common.Request{Code: common.ReqProtocol})
	assert.Error(t, err)
}

func TestLoginReply(t *testing.T) {
	var sid [16]byte
	sid[0] = 0xab

	offered := []Mechanism{{Name: "gsi", Params: "v:10000,ca:4a"}, {Name: "unix"}}
	reply, err := DecodeLogin(EncodeLogin(sid, offered))
	require.NoError(t, err)
	assert.Equal(t, sid, reply.SessionID)
	assert.Equal(t, offered, reply.Mechanisms)

	reply, err = DecodeLogin(sid[:])
	require.NoError(t, err)
	assert.Empty(t, reply.Mechanisms)

	_, err = DecodeLogin([]byte{1, 2})
	assert.Error(t, err)
}

func TestParseMechanisms(t *testing.T) {
	assert.Equal(t, []Mechanism{{Name: "krb5", Params: "a:b"}, {Name: "unix"}}, ParseMechanisms("krb5:a:b||unix\x00"))
	assert.Empty(t, ParseMechanisms(""))
}

func TestStatReply(t *testing.T) {
	info := StatInfo{ID: "1234", Size: 1 << 33, Flags: StatFlagReadable | StatFlagDir, ModTime: time.Unix(1700000000, 0)}

	decoded, err := DecodeStat(EncodeStat(info))
	require.NoError(t, err)
	assert.Equal(t, info.Size, decoded.Size)
	assert.Equal(t, info.ModTime.Unix(), decoded.ModTime.Unix())
	assert.True(t, decoded.IsDir())

	_, err = DecodeStat([]byte("1 2"))
	assert.Error(t, err)
	_, err = DecodeStat([]byte("1 x 0 0"))
	assert.Error(t, err)
}

func TestDecodeOpenAndDirlist(t *testing.T) {
	h, err := DecodeOpen([]byte{1, 2, 3, 4, 0xff})
	require.NoError(t, err)
	assert.Equal(t, common.FileHandle{1, 2, 3, 4}, h)

	_, err = DecodeOpen([]byte{1})
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b c", "d"}, DecodeDirlist([]byte("a\nb c\n\nd\n\x00")))
	assert.Empty(t, DecodeDirlist(nil))
}
