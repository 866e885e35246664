package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire constants for Valve's A2S query protocol
const (
	// Single-packet header prefixing every datagram
	PacketHeader uint32 = 0xFFFFFFFF

	// Request type bytes
	TypeInfoRequest    = 0x54 // 'T'
	TypePlayersRequest = 0x55 // 'U'
	TypeRulesRequest   = 0x56 // 'V'

	// Response type bytes
	TypeChallengeResponse = 0x41 // 'A'
	TypeInfoResponse      = 0x49 // 'I'
	TypePlayersResponse   = 0x44 // 'D'
	TypeRulesResponse     = 0x45 // 'E'

	// Packet structure sizes
	HeaderSize        = 5 // 4-byte packet header + 1 type byte
	ChallengeSize     = 4 // int32 challenge field
	MinChallengedSize = HeaderSize + ChallengeSize

	// InfoRequest payload, null terminator included
	InfoRequestPayload = "Source Engine Query\x00"
)

// EmptyChallenge is the sentinel meaning "no challenge known yet". Its
// little-endian encoding (0xFFFFFFFF) is also what first-contact clients
// put in a players/rules request.
const EmptyChallenge int32 = -1

// ErrMalformed reports a datagram that cannot be decoded at all, as
// opposed to one that decodes to an Unrecognized message.
var ErrMalformed = errors.New("malformed packet")

// Message is the closed set of A2S messages the proxy understands.
// Decode returns exactly one of the concrete types below.
type Message interface {
	isMessage()
}

// InfoRequest is an A2S_INFO query. It never carries a challenge.
type InfoRequest struct{}

// PlayersRequest is an A2S_PLAYER query carrying a challenge
// (EmptyChallenge on first contact).
type PlayersRequest struct {
	Challenge int32
}

// RulesRequest is an A2S_RULES query carrying a challenge.
type RulesRequest struct {
	Challenge int32
}

// ChallengeResponse is a server-issued S2C_CHALLENGE reply.
type ChallengeResponse struct {
	Challenge int32
}

// InfoResponse is an A2S_INFO reply. The payload is opaque to the proxy;
// the raw datagram bytes are what gets cached and served.
type InfoResponse struct{}

// PlayersResponse is an A2S_PLAYER reply (opaque).
type PlayersResponse struct{}

// RulesResponse is an A2S_RULES reply (opaque).
type RulesResponse struct{}

// Unrecognized is a well-framed packet whose type byte is not part of the
// query protocol. It is decodable but never servable.
type Unrecognized struct {
	Type byte
}

func (InfoRequest) isMessage()       {}
func (PlayersRequest) isMessage()    {}
func (RulesRequest) isMessage()      {}
func (ChallengeResponse) isMessage() {}
func (InfoResponse) isMessage()      {}
func (PlayersResponse) isMessage()   {}
func (RulesResponse) isMessage()     {}
func (Unrecognized) isMessage()      {}

// Decode parses a single inbound datagram into a Message.
//
// A datagram shorter than the five-byte header, or one whose packet header
// is not 0xFFFFFFFF (e.g. a split-packet frame), fails with ErrMalformed.
// A well-framed packet with an unknown type byte decodes successfully to
// Unrecognized; the two outcomes are deliberately distinct.
func Decode(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformed, len(data), HeaderSize)
	}
	if header := binary.LittleEndian.Uint32(data[0:4]); header != PacketHeader {
		return nil, fmt.Errorf("%w: bad packet header 0x%08x", ErrMalformed, header)
	}

	switch data[4] {
	case TypeInfoRequest:
		return InfoRequest{}, nil
	case TypePlayersRequest:
		challenge, err := decodeChallenge(data)
		if err != nil {
			return nil, err
		}
		return PlayersRequest{Challenge: challenge}, nil
	case TypeRulesRequest:
		challenge, err := decodeChallenge(data)
		if err != nil {
			return nil, err
		}
		return RulesRequest{Challenge: challenge}, nil
	case TypeChallengeResponse:
		challenge, err := decodeChallenge(data)
		if err != nil {
			return nil, err
		}
		return ChallengeResponse{Challenge: challenge}, nil
	case TypeInfoResponse:
		return InfoResponse{}, nil
	case TypePlayersResponse:
		return PlayersResponse{}, nil
	case TypeRulesResponse:
		return RulesResponse{}, nil
	default:
		return Unrecognized{Type: data[4]}, nil
	}
}

// decodeChallenge reads the int32 challenge following the header.
func decodeChallenge(data []byte) (int32, error) {
	if len(data) < MinChallengedSize {
		return 0, fmt.Errorf("%w: challenged packet of %d bytes, want at least %d",
			ErrMalformed, len(data), MinChallengedSize)
	}
	return int32(binary.LittleEndian.Uint32(data[HeaderSize : HeaderSize+ChallengeSize])), nil
}

// encodeHeader writes the single-packet header and type byte.
func encodeHeader(buf []byte, typeByte byte) {
	binary.LittleEndian.PutUint32(buf[0:4], PacketHeader)
	buf[4] = typeByte
}

func encodeChallenged(typeByte byte, challenge int32) []byte {
	buf := make([]byte, MinChallengedSize)
	encodeHeader(buf, typeByte)
	binary.LittleEndian.PutUint32(buf[HeaderSize:], uint32(challenge))
	return buf
}

// Encode serializes an A2S_INFO request.
func (InfoRequest) Encode() []byte {
	buf := make([]byte, HeaderSize+len(InfoRequestPayload))
	encodeHeader(buf, TypeInfoRequest)
	copy(buf[HeaderSize:], InfoRequestPayload)
	return buf
}

// Encode serializes the request with its embedded challenge.
func (r PlayersRequest) Encode() []byte {
	return encodeChallenged(TypePlayersRequest, r.Challenge)
}

// EncodeWithChallenge re-serializes the request under a substituted
// challenge, leaving the receiver unchanged.
func (r PlayersRequest) EncodeWithChallenge(challenge int32) []byte {
	return encodeChallenged(TypePlayersRequest, challenge)
}

// Encode serializes the request with its embedded challenge.
func (r RulesRequest) Encode() []byte {
	return encodeChallenged(TypeRulesRequest, r.Challenge)
}

// EncodeWithChallenge re-serializes the request under a substituted
// challenge, leaving the receiver unchanged.
func (r RulesRequest) EncodeWithChallenge(challenge int32) []byte {
	return encodeChallenged(TypeRulesRequest, challenge)
}

// Encode serializes a challenge reply issued to a client.
func (r ChallengeResponse) Encode() []byte {
	return encodeChallenged(TypeChallengeResponse, r.Challenge)
}

// String returns a human-readable representation of the message kind.
func (InfoRequest) String() string     { return "InfoRequest" }
func (InfoResponse) String() string    { return "InfoResponse" }
func (PlayersResponse) String() string { return "PlayersResponse" }
func (RulesResponse) String() string   { return "RulesResponse" }

func (r PlayersRequest) String() string {
	return fmt.Sprintf("PlayersRequest{Challenge:%d}", r.Challenge)
}

func (r RulesRequest) String() string {
	return fmt.Sprintf("RulesRequest{Challenge:%d}", r.Challenge)
}

func (r ChallengeResponse) String() string {
	return fmt.Sprintf("ChallengeResponse{Challenge:%d}", r.Challenge)
}

func (u Unrecognized) String() string {
	return fmt.Sprintf("Unrecognized(0x%02x)", u.Type)
}
