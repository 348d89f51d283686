package tds

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"
)

// EncryptionMode selects how a connection negotiates TLS during PRELOGIN.
type EncryptionMode byte

const (
	// EncryptionOff refuses encryption; login travels obfuscated but
	// unencrypted, and the session stays plaintext. Only safe on a
	// trusted network.
	EncryptionOff EncryptionMode = EncryptionMode(EncryptOff)

	// EncryptionLoginOnly (the default) sends PRELOGIN in plaintext,
	// encrypts the LOGIN7 packet over TLS, and then drops back to
	// plaintext for the rest of the session, matching SQL Server's
	// historical default behavior.
	EncryptionLoginOnly EncryptionMode = EncryptionMode(EncryptOn)

	// EncryptionRequired keeps TLS in place for the life of the
	// connection.
	EncryptionRequired EncryptionMode = EncryptionMode(EncryptReq)

	// EncryptionStrict speaks TDS 8.0-style strict encryption: the TLS
	// handshake happens before any TDS framing at all, with no PRELOGIN
	// wrapping.
	EncryptionStrict EncryptionMode = EncryptionMode(EncryptStrict)
)

// handshakeWrapConn wraps a net.Conn so that, until markComplete is
// called, every Write is framed as a PRELOGIN packet and every Read
// unwraps one PRELOGIN (or REPLY) packet's payload. Once the TLS
// handshake finishes, the caller switches the wrapper to raw mode so
// application-data records travel unframed, matching how SQL Server's
// TDS/TLS hybrid behaves for EncryptionLoginOnly and EncryptionRequired.
type handshakeWrapConn struct {
	net.Conn
	packetSize int
	packetSeq  uint8

	readBuf []byte
	readPos int

	complete bool
}

func newHandshakeWrapConn(nc net.Conn, packetSize int) *handshakeWrapConn {
	return &handshakeWrapConn{Conn: nc, packetSize: packetSize, packetSeq: 1}
}

func (c *handshakeWrapConn) markComplete() { c.complete = true }

func (c *handshakeWrapConn) Read(b []byte) (int, error) {
	if c.complete {
		return c.Conn.Read(b)
	}

	if c.readPos < len(c.readBuf) {
		n := copy(b, c.readBuf[c.readPos:])
		c.readPos += n
		return n, nil
	}

	var data []byte
	for {
		hdr, err := ReadHeader(c.Conn)
		if err != nil {
			return 0, fmt.Errorf("tds: reading TLS handshake packet header: %w", err)
		}
		if hdr.Type != PacketPrelogin && hdr.Type != PacketReply {
			return 0, fmt.Errorf("tds: unexpected packet type %s during TLS handshake", hdr.Type)
		}
		if n := hdr.PayloadLength(); n > 0 {
			chunk := make([]byte, n)
			if _, err := io.ReadFull(c.Conn, chunk); err != nil {
				return 0, fmt.Errorf("tds: reading TLS handshake packet payload: %w", err)
			}
			data = append(data, chunk...)
		}
		if hdr.IsLastPacket() {
			break
		}
	}

	c.readBuf = data
	c.readPos = 0
	n := copy(b, c.readBuf)
	c.readPos = n
	return n, nil
}

func (c *handshakeWrapConn) Write(b []byte) (int, error) {
	if c.complete {
		return c.Conn.Write(b)
	}

	maxPayload := c.packetSize - HeaderSize
	remaining := b
	for {
		isLast := len(remaining) <= maxPayload
		var chunk []byte
		if isLast {
			chunk = remaining
		} else {
			chunk = remaining[:maxPayload]
			remaining = remaining[maxPayload:]
		}

		status := StatusNormal
		if isLast {
			status = StatusEOM
		}
		hdr := Header{
			Type:     PacketPrelogin,
			Status:   status,
			Length:   uint16(HeaderSize + len(chunk)),
			SPID:     0,
			PacketID: c.packetSeq,
		}
		if err := hdr.Write(c.Conn); err != nil {
			return 0, fmt.Errorf("tds: writing TLS handshake packet header: %w", err)
		}
		if _, err := c.Conn.Write(chunk); err != nil {
			return 0, fmt.Errorf("tds: writing TLS handshake packet payload: %w", err)
		}

		c.packetSeq++
		if c.packetSeq == 0 {
			c.packetSeq = 1
		}
		if isLast {
			break
		}
	}

	return len(b), nil
}

// UpgradeClientTLS performs the client side of the PRELOGIN-wrapped TLS
// handshake and returns a net.Conn that, once the handshake completes,
// carries raw TLS records on every subsequent Read/Write. Callers must
// keep using the returned conn (not nc) for the rest of the session.
func UpgradeClientTLS(nc net.Conn, packetSize int, cfg *tls.Config) (net.Conn, error) {
	wrap := newHandshakeWrapConn(nc, packetSize)

	deadline := time.Now().Add(30 * time.Second)
	nc.SetDeadline(deadline)
	defer nc.SetDeadline(time.Time{})

	tlsConn := tls.Client(wrap, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("tds: TLS handshake failed: %w", err)
	}

	wrap.markComplete()
	return tlsConn, nil
}

// UpgradeClientTLSStrict performs a plain (unwrapped) TLS handshake
// directly over nc, as required by EncryptionStrict (TDS 8.0): no
// PRELOGIN exchange precedes it at all.
func UpgradeClientTLSStrict(nc net.Conn, cfg *tls.Config) (net.Conn, error) {
	deadline := time.Now().Add(30 * time.Second)
	nc.SetDeadline(deadline)
	defer nc.SetDeadline(time.Time{})

	tlsConn := tls.Client(nc, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("tds: strict TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}
