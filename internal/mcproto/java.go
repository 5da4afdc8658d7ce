package mcproto

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// NextState is the Handshake packet's declared intent for the connection
// that follows it.
type NextState int32

const (
	NextStateStatus NextState = 1
	NextStateLogin  NextState = 2
)

// Handshake is the decoded Handshake packet (id 0x00 in the handshaking
// state): protocol version, the address/port the client thinks it dialed,
// and what it wants to do next.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState
}

// maxHandshakeAddrLen bounds ServerAddress; real clients never send more
// than a few hundred bytes here (hostname or SRV-resolved address).
const maxHandshakeAddrLen = 512

// ErrFramingError marks any malformed packet: bad length, truncated read,
// unexpected packet id, or a field that fails its own bounds check. Callers
// close the connection silently on this error, per spec.
var ErrFramingError = errors.New("mcproto: protocol framing error")

// ReadPacket reads one length-prefixed packet from r and returns its
// payload (packet id included). An oversized or malformed length is
// reported as ErrFramingError.
func ReadPacket(r io.Reader) ([]byte, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if length < 0 || length > MaxPacketLength {
		return nil, ErrFramingError
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WritePacket frames payload with its VarInt length prefix and writes it.
func WritePacket(w io.Writer, payload []byte) error {
	if err := WriteVarInt(w, int32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// DecodeHandshake parses a Handshake packet payload (packet id already
// consumed by the caller is NOT assumed — payload starts at the packet id).
func DecodeHandshake(payload []byte) (Handshake, error) {
	r := bytes.NewReader(payload)

	id, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, ErrFramingError
	}
	if id != 0x00 {
		return Handshake{}, ErrFramingError
	}

	protocolVersion, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, ErrFramingError
	}

	addr, err := ReadString(r, maxHandshakeAddrLen)
	if err != nil {
		return Handshake{}, ErrFramingError
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Handshake{}, ErrFramingError
	}
	port := binary.BigEndian.Uint16(portBuf[:])

	next, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, ErrFramingError
	}
	if next != int32(NextStateStatus) && next != int32(NextStateLogin) {
		return Handshake{}, ErrFramingError
	}

	return Handshake{
		ProtocolVersion: protocolVersion,
		ServerAddress:   addr,
		ServerPort:      port,
		NextState:       NextState(next),
	}, nil
}

// IsStatusRequest reports whether payload is an empty Status Request
// (id 0x00, no body) in the status state.
func IsStatusRequest(payload []byte) bool {
	r := bytes.NewReader(payload)
	id, err := ReadVarInt(r)
	if err != nil || id != 0x00 {
		return false
	}
	return r.Len() == 0
}

// DecodePing parses a Ping packet (id 0x01, i64 payload) in the status
// state, returning the echoed payload.
func DecodePing(payload []byte) (int64, error) {
	r := bytes.NewReader(payload)
	id, err := ReadVarInt(r)
	if err != nil || id != 0x01 {
		return 0, ErrFramingError
	}
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, ErrFramingError
	}
	return v, nil
}

// EncodePong builds a Pong packet (id 0x01) echoing payload.
func EncodePong(payload int64) []byte {
	buf := &bytes.Buffer{}
	WriteVarInt(buf, 0x01) //nolint:errcheck // bytes.Buffer never errors
	binary.Write(buf, binary.BigEndian, payload) //nolint:errcheck
	return buf.Bytes()
}

const maxLoginUsernameLen = 16

// DecodeLoginStart parses a Login Start packet (id 0x00, String username)
// in the login state and returns the username.
func DecodeLoginStart(payload []byte) (string, error) {
	r := bytes.NewReader(payload)
	id, err := ReadVarInt(r)
	if err != nil || id != 0x00 {
		return "", ErrFramingError
	}
	username, err := ReadString(r, maxLoginUsernameLen)
	if err != nil {
		return "", ErrFramingError
	}
	return username, nil
}

// chatComponent is the minimal JSON chat component shape used for both the
// status description and the login disconnect message: {"text": "..."}.
type chatComponent struct {
	Text string `json:"text"`
}

// StatusVersion is the "version" object of a Status Response.
type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// StatusPlayers is the "players" object of a Status Response. Sample is
// always empty — this interposer never lists real players.
type StatusPlayers struct {
	Max    int   `json:"max"`
	Online int   `json:"online"`
	Sample []any `json:"sample"`
}

// StatusResponse is the full JSON payload of a Status Response packet.
type StatusResponse struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description chatComponent `json:"description"`
	Favicon     string        `json:"favicon,omitempty"`
}

// NewStatusResponse builds a StatusResponse from the interposer's static
// configuration. Online is always 0 — the server is not running.
func NewStatusResponse(versionName string, protocol, maxPlayers int, motd, favicon string) StatusResponse {
	return StatusResponse{
		Version: StatusVersion{Name: versionName, Protocol: protocol},
		Players: StatusPlayers{Max: maxPlayers, Online: 0, Sample: []any{}},
		Description: chatComponent{
			Text: motd,
		},
		Favicon: favicon,
	}
}

// EncodeStatusResponse frames a Status Response packet (id 0x00, String
// JSON payload).
func EncodeStatusResponse(resp StatusResponse) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := WriteVarInt(buf, 0x00); err != nil {
		return nil, err
	}
	if err := WriteString(buf, string(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeLoginDisconnect frames a Disconnect (login) packet (id 0x00, a JSON
// chat component payload) carrying message.
func EncodeLoginDisconnect(message string) ([]byte, error) {
	data, err := json.Marshal(chatComponent{Text: message})
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := WriteVarInt(buf, 0x00); err != nil {
		return nil, err
	}
	if err := WriteString(buf, string(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
