package mcproto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHandshakePayload(t *testing.T, protocol int32, addr string, port uint16, next int32) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, WriteVarInt(buf, 0x00))
	require.NoError(t, WriteVarInt(buf, protocol))
	require.NoError(t, WriteString(buf, addr))
	require.NoError(t, binary.Write(buf, binary.BigEndian, port))
	require.NoError(t, WriteVarInt(buf, next))
	return buf.Bytes()
}

func TestDecodeHandshakeStatus(t *testing.T) {
	payload := buildHandshakePayload(t, 765, "localhost", 25565, int32(NextStateStatus))
	hs, err := DecodeHandshake(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(765), hs.ProtocolVersion)
	assert.Equal(t, "localhost", hs.ServerAddress)
	assert.Equal(t, uint16(25565), hs.ServerPort)
	assert.Equal(t, NextStateStatus, hs.NextState)
}

func TestDecodeHandshakeLogin(t *testing.T) {
	payload := buildHandshakePayload(t, 765, "localhost", 25565, int32(NextStateLogin))
	hs, err := DecodeHandshake(payload)
	require.NoError(t, err)
	assert.Equal(t, NextStateLogin, hs.NextState)
}

func TestDecodeHandshakeRejectsBadNextState(t *testing.T) {
	payload := buildHandshakePayload(t, 765, "localhost", 25565, 9)
	_, err := DecodeHandshake(payload)
	assert.ErrorIs(t, err, ErrFramingError)
}

func TestDecodeHandshakeRejectsWrongID(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteVarInt(buf, 0x01))
	_, err := DecodeHandshake(buf.Bytes())
	assert.ErrorIs(t, err, ErrFramingError)
}

func TestIsStatusRequest(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteVarInt(buf, 0x00))
	assert.True(t, IsStatusRequest(buf.Bytes()))
	assert.False(t, IsStatusRequest([]byte{0x01}))
}

func TestPingPongRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteVarInt(buf, 0x01))
	require.NoError(t, binary.Write(buf, binary.BigEndian, int64(123456)))

	v, err := DecodePing(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), v)

	pong := EncodePong(v)
	r := bytes.NewReader(pong)
	id, err := ReadVarInt(r)
	require.NoError(t, err)
	assert.Equal(t, int32(0x01), id)
	var echoed int64
	require.NoError(t, binary.Read(r, binary.BigEndian, &echoed))
	assert.Equal(t, int64(123456), echoed)
}

func TestDecodeLoginStart(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteVarInt(buf, 0x00))
	require.NoError(t, WriteString(buf, "Alice"))
	name, err := DecodeLoginStart(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestEncodeStatusResponseContainsMOTD(t *testing.T) {
	resp := NewStatusResponse("1.21.1", 765, 20, "World is sleeping", "")
	packet, err := EncodeStatusResponse(resp)
	require.NoError(t, err)

	r := bytes.NewReader(packet)
	id, err := ReadVarInt(r)
	require.NoError(t, err)
	assert.Equal(t, int32(0x00), id)

	jsonStr, err := ReadString(r, 1<<20)
	require.NoError(t, err)
	assert.Contains(t, jsonStr, "World is sleeping")
	assert.Contains(t, jsonStr, `"online":0`)
}

func TestEncodeLoginDisconnect(t *testing.T) {
	packet, err := EncodeLoginDisconnect("Server is starting…")
	require.NoError(t, err)

	r := bytes.NewReader(packet)
	id, err := ReadVarInt(r)
	require.NoError(t, err)
	assert.Equal(t, int32(0x00), id)

	jsonStr, err := ReadString(r, 1<<20)
	require.NoError(t, err)
	assert.Contains(t, jsonStr, "Server is starting")
}

func TestReadWritePacketFraming(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WritePacket(buf, []byte{0x00, 0x01, 0x02}))
	payload, err := ReadPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, payload)
}

func TestReadPacketRejectsOversizedLength(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteVarInt(buf, MaxPacketLength+1))
	_, err := ReadPacket(buf)
	assert.ErrorIs(t, err, ErrFramingError)
}
