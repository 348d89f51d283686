// Package tds implements the client side of the TDS (Tabular Data Stream)
// wire protocol used by Microsoft SQL Server. It dials a server, performs
// the PRELOGIN/TLS/LOGIN7 handshake, and exposes a cooperative per-
// connection request pipeline over the resulting byte stream.
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of TDS packet.
type PacketType uint8

const (
	// PacketSQLBatch carries an ad-hoc SQL batch.
	PacketSQLBatch PacketType = 1

	// PacketRPCRequest carries a stored-procedure call.
	PacketRPCRequest PacketType = 3

	// PacketReply is sent only by the server.
	PacketReply PacketType = 4

	// PacketAttention cancels the in-flight request.
	PacketAttention PacketType = 6

	// PacketBulkLoad carries bulk insert data; unused by this driver.
	PacketBulkLoad PacketType = 7

	// PacketFedAuthToken carries a federated-auth token.
	PacketFedAuthToken PacketType = 8

	// PacketTransMgrReq carries a TRANSACTION MANAGER request.
	PacketTransMgrReq PacketType = 14

	// PacketLogin7 carries the TDS 7.x login block.
	PacketLogin7 PacketType = 16

	// PacketSSPIMessage carries an SSPI/Windows auth token.
	PacketSSPIMessage PacketType = 17

	// PacketPrelogin negotiates connection parameters before login.
	PacketPrelogin PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketFedAuthToken:
		return "FEDAUTH_TOKEN"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// PacketStatus indicates the status of a TDS packet.
type PacketStatus uint8

const (
	StatusNormal                  PacketStatus = 0x00
	StatusEOM                     PacketStatus = 0x01 // last packet of the message
	StatusIgnore                  PacketStatus = 0x02 // used during TLS handshake
	StatusResetConnection         PacketStatus = 0x08
	StatusResetConnectionSkipTran PacketStatus = 0x10
)

// HeaderSize is the size of a TDS packet header in bytes.
const HeaderSize = 8

// DefaultPacketSize is the packet size requested in LOGIN7 absent
// an explicit WithPacketSize option.
const DefaultPacketSize = 4096

// MaxPacketSize is the largest packet size a server will negotiate to.
const MaxPacketSize = 32767

// MinPacketSize is the smallest packet size this driver will request.
const MinPacketSize = 512

// Header is the fixed 8-byte TDS packet header. Length, SPID and the
// payload that follows are sent big-endian/little-endian as the protocol
// dictates; only the header's own multi-byte fields are big-endian.
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // total packet length, header included
	SPID     uint16
	PacketID uint8 // sequence number, wraps 1..255
	Window   uint8 // reserved, always 0
}

// ReadHeader reads a packet header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:     PacketType(buf[0]),
		Status:   PacketStatus(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}, nil
}

// Write writes the header to w.
func (h Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	_, err := w.Write(buf[:])
	return err
}

// PayloadLength returns the payload size, excluding the header.
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket reports whether this packet ends the current message.
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}
