package tds

import (
	"encoding/binary"
	"testing"

	"github.com/ha1tch/gotds/internal/wire"
)

// parseAllHeadersDescriptor extracts the transaction descriptor this
// driver's ALL_HEADERS block carries as its only header entry, the
// same layout encodeAllHeaders writes.
func parseAllHeadersDescriptor(t *testing.T, body []byte) uint64 {
	t.Helper()
	if len(body) < allHeadersTotalLength {
		t.Fatalf("body too short for ALL_HEADERS: %d bytes", len(body))
	}
	return binary.LittleEndian.Uint64(body[10:18])
}

func TestEncodeTransactionRequestBeginCarriesDescriptorAndIsolation(t *testing.T) {
	body := EncodeTransactionRequest(0x0102030405060708, TransactionRequest{
		Type:           TxnBegin,
		IsolationLevel: IsolationSerializable,
	})

	if got := parseAllHeadersDescriptor(t, body); got != 0x0102030405060708 {
		t.Fatalf("descriptor in ALL_HEADERS = %#x; want %#x", got, 0x0102030405060708)
	}

	rest := body[allHeadersTotalLength:]
	reqType := binary.LittleEndian.Uint16(rest[0:2])
	if reqType != tmBeginXact {
		t.Fatalf("request type = %#x; want tmBeginXact (%#x)", reqType, tmBeginXact)
	}
	if rest[2] != byte(IsolationSerializable) {
		t.Fatalf("isolation byte = %#x; want %#x", rest[2], byte(IsolationSerializable))
	}
}

func TestEncodeTransactionRequestSavepointEncodesName(t *testing.T) {
	body := EncodeTransactionRequest(0, TransactionRequest{
		Type:          TxnSavepoint,
		SavepointName: "sp1",
	})

	rest := body[allHeadersTotalLength:]
	reqType := binary.LittleEndian.Uint16(rest[0:2])
	if reqType != tmSaveXact {
		t.Fatalf("request type = %#x; want tmSaveXact (%#x)", reqType, tmSaveXact)
	}

	nameLen := rest[2]
	if int(nameLen) != len("sp1") {
		t.Fatalf("name length byte = %d; want %d", nameLen, len("sp1"))
	}
	nameBytes := rest[3 : 3+int(nameLen)*2]
	if got := wire.UCS2ToString(nameBytes); got != "sp1" {
		t.Fatalf("decoded savepoint name = %q; want sp1", got)
	}
}

func TestEncodeTransactionRequestRollbackPrefersSavepointName(t *testing.T) {
	body := EncodeTransactionRequest(0, TransactionRequest{
		Type:          TxnRollback,
		Name:          "outer",
		SavepointName: "sp1",
	})

	rest := body[allHeadersTotalLength:]
	nameLen := rest[2]
	nameBytes := rest[3 : 3+int(nameLen)*2]
	if got := wire.UCS2ToString(nameBytes); got != "sp1" {
		t.Fatalf("rollback should prefer SavepointName over Name: got %q", got)
	}
}
