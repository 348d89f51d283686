package tds

import (
	"context"
	"io"
)

// EncodeAttention builds the (empty) body of an ATTENTION message. The
// body carries no payload; cancellation is conveyed entirely by the
// packet header (PacketAttention, StatusEOM).
func EncodeAttention() []byte {
	return nil
}

// messageReader is the minimal surface attention draining needs from a
// connection: read one fully reassembled message's token stream.
type messageReader interface {
	readMessage(ctx context.Context) ([]byte, error)
}

// DrainAttentionConfirmation reads and discards messages on conn until a
// DONE token with the DoneAttn bit set is observed, confirming the
// server has processed the ATTENTION and the connection is quiescent.
// Per MS-TDS, every token between the ATTENTION and that DONE must be
// discarded rather than delivered to the caller that requested
// cancellation: the in-flight request was abandoned mid-stream and its
// partial results are meaningless.
func DrainAttentionConfirmation(ctx context.Context, conn messageReader) error {
	for {
		data, err := conn.readMessage(ctx)
		if err != nil {
			return err
		}

		p := NewParser(data)
		for {
			tok, err := p.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if done, ok := tok.(DoneToken); ok && done.Cancelled() {
				return nil
			}
		}
	}
}
