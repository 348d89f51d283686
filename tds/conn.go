package tds

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	gotdserrors "github.com/ha1tch/gotds/pkg/errors"
)

// Conn is one client-side TDS connection: a dialed socket plus the
// negotiated packet size, TDS version, database, and collation that
// PRELOGIN/LOGIN7 settled on.
type Conn struct {
	mu         sync.Mutex
	netConn    net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	packetSize int
	packetSeq  uint8

	tlsActive bool

	database     string
	collation    Collation
	tdsVersion   uint32
	serverName   string
	txDescriptor uint64

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// ConnOption configures a Conn before it dials.
type ConnOption func(*connConfig)

type connConfig struct {
	packetSize   int
	readTimeout  time.Duration
	writeTimeout time.Duration
	dialTimeout  time.Duration
}

func defaultConnConfig() connConfig {
	return connConfig{packetSize: DefaultPacketSize, dialTimeout: 15 * time.Second}
}

// WithPacketSize requests a non-default TDS packet size.
func WithPacketSize(size int) ConnOption {
	return func(c *connConfig) {
		if size >= MinPacketSize && size <= MaxPacketSize {
			c.packetSize = size
		}
	}
}

// WithReadTimeout bounds every packet read.
func WithReadTimeout(d time.Duration) ConnOption {
	return func(c *connConfig) { c.readTimeout = d }
}

// WithWriteTimeout bounds every packet write.
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(c *connConfig) { c.writeTimeout = d }
}

// WithDialTimeout bounds the initial TCP dial.
func WithDialTimeout(d time.Duration) ConnOption {
	return func(c *connConfig) { c.dialTimeout = d }
}

// Dial opens a TCP connection to addr (host:port) and wraps it as a
// Conn, ready for Handshake. It performs no TDS traffic.
func Dial(ctx context.Context, addr string, opts ...ConnOption) (*Conn, error) {
	cfg := defaultConnConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := net.Dialer{Timeout: cfg.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "dial").
			WithField("addr", addr).Build()
	}

	c := &Conn{
		netConn:      netConn,
		reader:       bufio.NewReaderSize(netConn, MaxPacketSize),
		writer:       bufio.NewWriterSize(netConn, MaxPacketSize),
		packetSize:   cfg.packetSize,
		packetSeq:    1,
		readTimeout:  cfg.readTimeout,
		writeTimeout: cfg.writeTimeout,
	}
	return c, nil
}

// PacketSize returns the negotiated packet size.
func (c *Conn) PacketSize() int { return c.packetSize }

// Database returns the database selected by the most recent ENVCHANGE.
func (c *Conn) Database() string { return c.database }

// Collation returns the server's negotiated collation.
func (c *Conn) Collation() Collation { return c.collation }

// TDSVersion returns the TDS version the server acknowledged.
func (c *Conn) TDSVersion() uint32 { return c.tdsVersion }

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.netConn.Close() }

// RoutingError is returned from Handshake when the server responds with
// an ENVCHANGE routing redirect instead of completing login: SQL Server
// uses this to hand a client off to a different node (e.g. an Azure SQL
// gateway redirecting to the node that owns a database). The caller
// should close this connection and redial Host:Port.
type RoutingError struct {
	Host string
	Port uint16
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("tds: server requested routing to %s:%d", e.Host, e.Port)
}

// writePacket splits data into one or more TDS packets of at most
// c.packetSize bytes, marking the last one EOM.
func (c *Conn) writePacket(pktType PacketType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	maxPayload := c.packetSize - HeaderSize
	remaining := data
	if len(remaining) == 0 {
		remaining = []byte{}
	}

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
			Type:     pktType,
			Status:   status,
			Length:   uint16(HeaderSize + len(chunk)),
			PacketID: c.packetSeq,
		}
		if err := hdr.Write(c.writer); err != nil {
			return gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "write packet header").Build()
		}
		if _, err := c.writer.Write(chunk); err != nil {
			return gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "write packet payload").Build()
		}

		c.packetSeq++
		if c.packetSeq == 0 {
			c.packetSeq = 1
		}
		if isLast {
			break
		}
	}

	return c.writer.Flush()
}

// readMessage reads packets until one with the EOM status bit arrives,
// returning the concatenated payload: one fully-assembled TDS message
// body, ready for NewParser.
func (c *Conn) readMessage(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetReadDeadline(dl)
	} else if c.readTimeout > 0 {
		c.netConn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	defer c.netConn.SetReadDeadline(time.Time{})

	var data []byte
	for {
		hdr, err := ReadHeader(c.reader)
		if err != nil {
			return nil, gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "read packet header").Build()
		}
		if hdr.Length < HeaderSize {
			return nil, gotdserrors.New(gotdserrors.ErrCodeProtocolError, "invalid packet length").Build()
		}

		if n := hdr.PayloadLength(); n > 0 {
			chunk := make([]byte, n)
			if _, err := io.ReadFull(c.reader, chunk); err != nil {
				return nil, gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "read packet payload").Build()
			}
			data = append(data, chunk...)
		}

		if hdr.IsLastPacket() {
			break
		}
	}

	return data, nil
}

// HandshakeOptions carries everything Handshake needs beyond the dialed
// socket: login credentials, the server name as dialed (for TLS SNI and
// LOGIN7's ServerName field), and the encryption policy.
type HandshakeOptions struct {
	Hostname   string
	Username   string
	Password   string
	AppName    string
	ServerName string
	Database   string
	Language   string
	ClientID   [6]byte

	Encryption EncryptionMode
	TLSConfig  *tls.Config // required unless Encryption == EncryptionOff
}

// Handshake performs PRELOGIN, the optional TLS upgrade, and LOGIN7,
// leaving the Conn ready for request traffic. A *RoutingError return
// means the server redirected the client elsewhere; the caller should
// Close this Conn and redial the routed endpoint.
func (c *Conn) Handshake(ctx context.Context, opts HandshakeOptions) error {
	encByte := byte(opts.Encryption)
	if opts.Encryption == EncryptionStrict {
		upgraded, err := UpgradeClientTLSStrict(c.netConn, opts.TLSConfig)
		if err != nil {
			return gotdserrors.Wrap(err, gotdserrors.ErrCodeTLSError, "strict TLS handshake").Build()
		}
		c.netConn = upgraded
		c.reader = bufio.NewReaderSize(upgraded, MaxPacketSize)
		c.writer = bufio.NewWriterSize(upgraded, MaxPacketSize)
		c.tlsActive = true
	}

	preloginReq := Prelogin{
		Version: [6]byte{0, 1, 0, 0, 0, 0},
	}
	body := EncodePrelogin(preloginReq, encByte, "")
	if err := c.writePacket(PacketPrelogin, body); err != nil {
		return err
	}

	respData, err := c.readMessage(ctx)
	if err != nil {
		return err
	}
	serverPrelogin, err := ParsePrelogin(respData)
	if err != nil {
		return gotdserrors.Wrap(err, gotdserrors.ErrCodeProtocolError, "parse PRELOGIN response").Build()
	}

	if opts.Encryption != EncryptionOff && opts.Encryption != EncryptionStrict {
		if serverPrelogin.Encryption == EncryptNotSup {
			return gotdserrors.New(gotdserrors.ErrCodeTLSError, "server does not support encryption").Build()
		}
		upgraded, err := UpgradeClientTLS(c.netConn, c.packetSize, opts.TLSConfig)
		if err != nil {
			return gotdserrors.Wrap(err, gotdserrors.ErrCodeTLSError, "TLS handshake").Build()
		}
		c.netConn = upgraded
		c.reader = bufio.NewReaderSize(upgraded, MaxPacketSize)
		c.writer = bufio.NewWriterSize(upgraded, MaxPacketSize)
		c.tlsActive = true
	}

	login := EncodeLogin7(Login7Options{
		TDSVersion:     VerTDS74,
		PacketSize:     uint32(c.packetSize),
		ClientProgVer:  0x01000000,
		ClientPID:      uint32(0),
		OptionFlags1:   OptionFlags1UseDB | OptionFlags1InitLangWarn,
		OptionFlags2:   OptionFlags2UserTypeNormal | OptionFlags2OdbcDriver,
		ClientLCID:     0x00000409, // en-US
		Hostname:       opts.Hostname,
		Username:       opts.Username,
		Password:       opts.Password,
		AppName:        opts.AppName,
		ServerName:     opts.ServerName,
		Language:       opts.Language,
		Database:       opts.Database,
		ClientID:       opts.ClientID,
	})
	if err := c.writePacket(PacketLogin7, login); err != nil {
		return err
	}

	if c.tlsActive && opts.Encryption == EncryptionLoginOnly {
		// Login-only encryption: drop back to the raw socket now that
		// LOGIN7 has gone out over TLS. Subsequent packets travel
		// plaintext, matching SQL Server's historical default.
		if tc, ok := c.netConn.(*tls.Conn); ok {
			raw := tc.NetConn()
			c.netConn = raw
			c.reader = bufio.NewReaderSize(raw, MaxPacketSize)
			c.writer = bufio.NewWriterSize(raw, MaxPacketSize)
			c.tlsActive = false
		}
	}

	for {
		data, err := c.readMessage(ctx)
		if err != nil {
			return err
		}
		p := NewParser(data)
		done := false
		for {
			tok, err := p.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return gotdserrors.Wrap(err, gotdserrors.ErrCodeProtocolError, "parse login response").Build()
			}

			switch t := tok.(type) {
			case LoginAckToken:
				c.tdsVersion = t.TDSVersion
			case EnvChangeToken:
				if rerr := c.applyEnvChange(t); rerr != nil {
					return rerr
				}
			case ErrorToken:
				return gotdserrors.New(gotdserrors.ErrCodeLoginRejected, t.Message).
					WithField("number", t.Number).WithField("class", t.Class).Build()
			case DoneToken:
				if t.Final() {
					done = true
				}
			}
		}
		if done {
			break
		}
	}

	return nil
}

// applyEnvChange updates connection state from an ENVCHANGE token,
// or returns a *RoutingError if the server redirected the client.
func (c *Conn) applyEnvChange(t EnvChangeToken) error {
	switch t.Type {
	case EnvDatabase:
		c.database = t.NewValue
	case EnvSQLCollation:
		if len(t.NewCollation) >= 5 {
			copy(c.collation[:], t.NewCollation)
		}
	case EnvPacketSize:
		if n, err := strconv.Atoi(t.NewValue); err == nil && n >= MinPacketSize && n <= MaxPacketSize {
			c.packetSize = n
		}
	case EnvRouting:
		parts := strings.SplitN(t.NewValue, ":", 4)
		if len(parts) == 4 && parts[0] == "routing" {
			port, _ := strconv.Atoi(parts[3])
			return &RoutingError{Host: parts[2], Port: uint16(port)}
		}
	case EnvBeginTran:
		c.txDescriptor = t.TransactionDescriptor()
	case EnvCommitTran, EnvRollbackTran:
		c.txDescriptor = 0
	}
	return nil
}

// TransactionDescriptor returns the descriptor of the transaction this
// connection is currently inside, or 0 outside an explicit transaction
// (autocommit). Updated as BEGIN/COMMIT/ROLLBACK TRANSACTION ENVCHANGEs
// arrive on the response stream.
func (c *Conn) TransactionDescriptor() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txDescriptor
}

// SendMessage writes a single request body (already carrying its own
// ALL_HEADERS block where required) as one TDS message.
func (c *Conn) SendMessage(pktType PacketType, body []byte) error {
	return c.writePacket(pktType, body)
}

// SendAttention sends an ATTENTION packet to cancel the in-flight
// request.
func (c *Conn) SendAttention() error {
	return c.writePacket(PacketAttention, EncodeAttention())
}

// ReadMessage is the exported form of readMessage, used by the request
// pipeline to pull one complete server reply.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	return c.readMessage(ctx)
}
