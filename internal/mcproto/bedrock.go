package mcproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// offlineMagic is RakNet's fixed 16-byte marker present in every unconnected
// ping/pong datagram, used to distinguish RakNet traffic from garbage.
var offlineMagic = [16]byte{0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe, 0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78}

const (
	idUnconnectedPing = 0x01
	idUnconnectedPong = 0x1c

	unconnectedPingLen = 1 + 8 + 16 + 8 // id + time + magic + client guid
)

// UnconnectedPing is the decoded RakNet Unconnected Ping datagram.
type UnconnectedPing struct {
	Time      int64
	ClientGUID int64
}

// DecodeUnconnectedPing parses a RakNet Unconnected Ping datagram (id 0x01).
// Any other shape — wrong id, wrong length, bad magic — is silently
// rejected by returning an error; callers must ignore the datagram rather
// than respond to it.
func DecodeUnconnectedPing(buf []byte) (UnconnectedPing, error) {
	if len(buf) != unconnectedPingLen {
		return UnconnectedPing{}, errors.New("mcproto: not an unconnected ping")
	}
	if buf[0] != idUnconnectedPing {
		return UnconnectedPing{}, errors.New("mcproto: unexpected packet id")
	}
	if !bytes.Equal(buf[9:25], offlineMagic[:]) {
		return UnconnectedPing{}, errors.New("mcproto: bad offline magic")
	}
	return UnconnectedPing{
		Time:       int64(binary.BigEndian.Uint64(buf[1:9])),
		ClientGUID: int64(binary.BigEndian.Uint64(buf[25:33])),
	}, nil
}

// ServerInfo carries the fields advertised in an Unconnected Pong's MOTD
// string (the semicolon-separated "MCPE;..." tuple).
type ServerInfo struct {
	MOTDLine1       string
	Protocol        int
	VersionName     string
	MaxPlayers      int
	ServerGUID      int64
	MOTDLine2       string
	PortIPv4        int
	PortIPv6        int
}

// EncodeUnconnectedPong builds a RakNet Unconnected Pong datagram (id 0x1c)
// echoing pingTime and advertising info.
func EncodeUnconnectedPong(pingTime int64, info ServerInfo) []byte {
	idString := fmt.Sprintf(
		"MCPE;%s;%d;%s;0;%d;%d;%s;Survival;1;%d;%d;",
		info.MOTDLine1, info.Protocol, info.VersionName, info.MaxPlayers,
		info.ServerGUID, info.MOTDLine2, info.PortIPv4, info.PortIPv6,
	)

	buf := &bytes.Buffer{}
	buf.WriteByte(idUnconnectedPong)
	binary.Write(buf, binary.BigEndian, pingTime)          //nolint:errcheck
	binary.Write(buf, binary.BigEndian, info.ServerGUID)   //nolint:errcheck
	buf.Write(offlineMagic[:])
	binary.Write(buf, binary.BigEndian, uint16(len(idString))) //nolint:errcheck
	buf.WriteString(idString)
	return buf.Bytes()
}

// SplitMOTD splits a legacy "line1\nline2" style MOTD into its two RakNet
// advertise lines. If there is no second line, MOTDLine2 is empty.
func SplitMOTD(motd string) (line1, line2 string) {
	parts := strings.SplitN(motd, "\n", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
