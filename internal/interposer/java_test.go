package interposer

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csw-project/csw/internal/mcproto"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeHandshake(t *testing.T, conn net.Conn, next mcproto.NextState) {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, mcproto.WriteVarInt(buf, 0x00))
	require.NoError(t, mcproto.WriteVarInt(buf, 765))
	require.NoError(t, mcproto.WriteString(buf, "localhost"))
	require.NoError(t, binary.Write(buf, binary.BigEndian, uint16(25565)))
	require.NoError(t, mcproto.WriteVarInt(buf, int32(next)))
	require.NoError(t, mcproto.WritePacket(conn, buf.Bytes()))
}

func TestJavaInterposerStatusResponse(t *testing.T) {
	logger := zap.NewNop()
	cfg := JavaConfig{
		ServerID:        "srv1",
		ListenAddr:      "127.0.0.1",
		VersionName:     "1.21.1",
		ProtocolVersion: 765,
		MaxPlayers:      20,
		MOTD:            "World is sleeping",
	}
	j := NewJava(cfg, logger, nil)
	port := freePort(t)
	require.NoError(t, j.Acquire(port))
	defer j.Release()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	writeHandshake(t, conn, mcproto.NextStateStatus)
	reqBuf := &bytes.Buffer{}
	require.NoError(t, mcproto.WriteVarInt(reqBuf, 0x00))
	require.NoError(t, mcproto.WritePacket(conn, reqBuf.Bytes()))

	payload, err := mcproto.ReadPacket(conn)
	require.NoError(t, err)
	id, err := mcproto.ReadVarInt(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int32(0x00), id)
	assert.Contains(t, string(payload), "World is sleeping")
}

func TestJavaInterposerLoginFiresWakeOnce(t *testing.T) {
	logger := zap.NewNop()
	var wakeCount int32
	cfg := JavaConfig{
		ServerID:          "srv1",
		ListenAddr:        "127.0.0.1",
		DisconnectMessage: "Server is starting…",
		CoalesceWindow:    50 * time.Millisecond,
	}
	j := NewJava(cfg, logger, func(serverID string) {
		atomic.AddInt32(&wakeCount, 1)
		assert.Equal(t, "srv1", serverID)
	})
	port := freePort(t)
	require.NoError(t, j.Acquire(port))
	defer j.Release()

	dialAndLogin := func() {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		require.NoError(t, err)
		defer conn.Close()
		writeHandshake(t, conn, mcproto.NextStateLogin)
		loginBuf := &bytes.Buffer{}
		require.NoError(t, mcproto.WriteVarInt(loginBuf, 0x00))
		require.NoError(t, mcproto.WriteString(loginBuf, "Steve"))
		require.NoError(t, mcproto.WritePacket(conn, loginBuf.Bytes()))
		_, _ = mcproto.ReadPacket(conn)
	}

	dialAndLogin()
	dialAndLogin()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&wakeCount))
}

