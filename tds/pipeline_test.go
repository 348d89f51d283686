package tds

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ha1tch/gotds/internal/wire"
)

// testConnPair returns a client-side Conn wired to an in-memory
// net.Pipe, and the raw server-side end a test can read requests from
// and write canned responses to.
func testConnPair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	c := &Conn{
		netConn:    clientSide,
		reader:     bufio.NewReaderSize(clientSide, MaxPacketSize),
		writer:     bufio.NewWriterSize(clientSide, MaxPacketSize),
		packetSize: DefaultPacketSize,
		packetSeq:  1,
	}
	t.Cleanup(func() { clientSide.Close(); serverSide.Close() })
	return c, serverSide
}

// writeServerMessage frames data as a single-packet TDS message and
// writes it to serverSide, the way a real server's reply would arrive.
func writeServerMessage(t *testing.T, serverSide net.Conn, data []byte) {
	t.Helper()
	hdr := Header{Type: PacketReply, Status: StatusEOM, Length: uint16(HeaderSize + len(data)), PacketID: 1}
	if err := hdr.Write(serverSide); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := serverSide.Write(data); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func doneMessage(rowCount uint64) []byte {
	w := wire.NewWriter(0)
	w.Byte(byte(TokenDone))
	w.Uint16LE(DoneCount) // final, row count valid, no error
	w.Uint16LE(0)         // curCmd
	w.Uint64LE(rowCount)
	return w.Bytes()
}

// drainRequest reads and discards exactly one client request message
// from serverSide, the way a fake server stands in for the real one.
func drainRequest(t *testing.T, serverSide net.Conn) {
	t.Helper()
	for {
		hdr, err := ReadHeader(serverSide)
		if err != nil {
			t.Fatalf("read request header: %v", err)
		}
		buf := make([]byte, hdr.PayloadLength())
		if len(buf) > 0 {
			if _, err := readFull(serverSide, buf); err != nil {
				t.Fatalf("read request payload: %v", err)
			}
		}
		if hdr.IsLastPacket() {
			return
		}
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestPipelineExecuteSimpleBatch(t *testing.T) {
	c, serverSide := testConnPair(t)
	p := NewPipeline(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		drainRequest(t, serverSide)
		writeServerMessage(t, serverSide, doneMessage(3))
	}()

	d := NewExecuteDelegate()
	if err := p.Execute(context.Background(), PacketSQLBatch, []byte("SELECT 1"), d); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	<-done

	if d.RowsAffected != 3 {
		t.Fatalf("RowsAffected = %d; want 3", d.RowsAffected)
	}
	if p.Broken() {
		t.Fatal("Broken() = true after a clean request")
	}
}

func TestPipelineExecutePoisonsOnFatalError(t *testing.T) {
	c, serverSide := testConnPair(t)
	p := NewPipeline(c)

	w := wire.NewWriter(0)
	w.Byte(byte(TokenError))
	body := wire.NewWriter(0)
	body.Int32LE(4060)
	body.Byte(1)  // state
	body.Byte(20) // class, >= severityConnectionFatal
	body.UsVarChar("login failed")
	body.BVarChar("server")
	body.BVarChar("")
	body.Int32LE(1) // line number
	w.Uint16LE(uint16(len(body.Bytes())))
	errMsg := append(w.Bytes(), body.Bytes()...)
	errMsg = append(errMsg, doneMessage(0)...)

	go func() {
		drainRequest(t, serverSide)
		writeServerMessage(t, serverSide, errMsg)
	}()

	d := NewExecuteDelegate()
	err := p.Execute(context.Background(), PacketSQLBatch, []byte("SELECT 1/0"), d)
	if err == nil {
		t.Fatal("Execute() should fail on a severity-20 error token")
	}
	if !p.Broken() {
		t.Fatal("Broken() = false after a connection-fatal error token")
	}

	// A second Execute on a broken pipeline must fail immediately without
	// touching the socket again.
	if err := p.Execute(context.Background(), PacketSQLBatch, []byte("SELECT 1"), NewExecuteDelegate()); err == nil {
		t.Fatal("Execute() on a broken pipeline should fail immediately")
	}
}

func TestPipelineExecuteContextCancellation(t *testing.T) {
	c, serverSide := testConnPair(t)
	p := NewPipeline(c)

	// A deadline, not a bare cancel: the pipeline's mid-read cancellation
	// is driven by the Conn's read deadline, which readMessage only sets
	// from ctx.Deadline(), so a plain WithCancel never interrupts an
	// in-flight blocking read.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	go func() {
		drainRequest(t, serverSide) // the SQLBATCH
		drainRequest(t, serverSide) // the ATTENTION, sent once the deadline fires
		writeServerMessage(t, serverSide, attentionAckMessage())
	}()

	d := NewExecuteDelegate()
	err := p.Execute(ctx, PacketSQLBatch, []byte("WAITFOR DELAY '00:01:00'"), d)
	if err == nil {
		t.Fatal("Execute() should fail once ctx's deadline elapses")
	}
	if p.Broken() {
		t.Fatal("Broken() = true; a clean attention/drain cycle should leave the connection usable")
	}
}

func attentionAckMessage() []byte {
	w := wire.NewWriter(0)
	w.Byte(byte(TokenDone))
	w.Uint16LE(DoneAttn)
	w.Uint16LE(0)
	w.Uint64LE(0)
	return w.Bytes()
}

// colMetadataAndRowsMessage builds a COLMETADATA (zero columns, just
// enough to be a valid result-set header) followed by n ROW tokens and
// no terminal DONE, standing in for a result set a streaming consumer
// abandons partway through.
func colMetadataAndRowsMessage(n int) []byte {
	w := wire.NewWriter(0)
	w.Byte(byte(TokenColMetadata))
	w.Uint16LE(0) // zero columns
	for i := 0; i < n; i++ {
		w.Byte(byte(TokenRow))
	}
	return w.Bytes()
}

// TestPipelineExecuteStreamingAbandonmentTriggersAttention covers a
// streaming consumer that stops reading Events: the small buffer fills,
// the consumer's ctx expires without ever draining the channel, and the
// pipeline must notice mid-message (not just between messages) and
// switch to the Attention/drain path instead of wedging forever on a
// publish nobody will ever receive.
func TestPipelineExecuteStreamingAbandonmentTriggersAttention(t *testing.T) {
	c, serverSide := testConnPair(t)
	p := NewPipeline(c)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	go func() {
		drainRequest(t, serverSide) // the SQLBATCH
		writeServerMessage(t, serverSide, colMetadataAndRowsMessage(4))
		drainRequest(t, serverSide) // the ATTENTION, sent once the consumer is abandoned
		writeServerMessage(t, serverSide, attentionAckMessage())
	}()

	d := NewStreamingDelegate(1) // small buffer: fills after the first event
	err := p.Execute(ctx, PacketSQLBatch, []byte("SELECT * FROM huge_table"), d)
	if err == nil {
		t.Fatal("Execute() should fail once the abandoned consumer's ctx expires")
	}
	if p.Broken() {
		t.Fatal("Broken() = true; a clean attention/drain cycle should leave the connection usable")
	}

	// The caller never reads d.Events during the request; Execute()
	// having already returned above is itself proof finishStreaming
	// didn't block trying to deliver a final error. Draining what's left
	// confirms the channel was actually closed rather than abandoned
	// half-open.
	drained := make(chan struct{})
	go func() {
		for range d.Events {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("Events was never closed")
	}
}
