package tds

import "github.com/ha1tch/gotds/internal/wire"

// TransactionRequestType identifies a TRANSACTION MANAGER request kind.
type TransactionRequestType uint16

const (
	TxnBegin               TransactionRequestType = 5
	TxnCommit              TransactionRequestType = 7
	TxnRollback            TransactionRequestType = 8
	TxnRollbackToSavepoint TransactionRequestType = 8 // same wire request, named savepoint
	TxnSavepoint           TransactionRequestType = 9
)

// IsolationLevel is the TRANSACTION MANAGER wire encoding of a BEGIN
// TRANSACTION isolation level.
type IsolationLevel byte

const (
	IsolationReadUncommitted IsolationLevel = 0x01
	IsolationReadCommitted   IsolationLevel = 0x02
	IsolationRepeatableRead  IsolationLevel = 0x03
	IsolationSerializable    IsolationLevel = 0x04
	IsolationSnapshot        IsolationLevel = 0x05
)

// TransactionRequest describes one TRANSACTION MANAGER request this
// driver issues directly from its client-facing transaction API (no SQL
// text is parsed or sent; BEGIN/COMMIT/ROLLBACK/SAVE travel as their own
// TDS message type, distinct from SQLBATCH).
type TransactionRequest struct {
	Type           TransactionRequestType
	Name           string // transaction name, optional
	SavepointName  string
	IsolationLevel IsolationLevel
}

// txnRequestType values, distinct from TransactionRequestType: the wire
// header's 2-byte selector inside the TRANSACTION MANAGER body.
const (
	tmBeginXact    uint16 = 5
	tmCommitXact   uint16 = 7
	tmRollbackXact uint16 = 8
	tmSaveXact     uint16 = 9
)

// EncodeTransactionRequest builds a TRANSACTION MANAGER request body:
// ALL_HEADERS followed by the 2-byte request type and its type-specific
// payload.
func EncodeTransactionRequest(transactionDescriptor uint64, req TransactionRequest) []byte {
	w := wire.NewWriter(allHeadersTotalLength + 32)
	w.Raw(encodeAllHeaders(transactionDescriptor))

	switch req.Type {
	case TxnBegin:
		w.Uint16LE(tmBeginXact)
		w.Byte(byte(req.IsolationLevel))
		writeTxnName(w, req.Name)

	case TxnCommit:
		w.Uint16LE(tmCommitXact)
		writeTxnName(w, req.Name)
		w.Byte(0) // flags: no NO_XACT/COMMIT flags used

	case TxnRollback:
		w.Uint16LE(tmRollbackXact)
		name := req.Name
		if req.SavepointName != "" {
			name = req.SavepointName
		}
		writeTxnName(w, name)

	case TxnSavepoint:
		w.Uint16LE(tmSaveXact)
		writeTxnName(w, req.SavepointName)
	}

	return w.Bytes()
}

// writeTxnName writes a transaction/savepoint name as a byte-length-
// prefixed UCS-2 string, the shape TRANSACTION MANAGER requests use:
// the B_VARCHAR shape (a 1-byte character count), not the 2-byte-length
// US_VARCHAR.
func writeTxnName(w *wire.Writer, name string) {
	enc := wire.StringToUCS2(name)
	w.Byte(byte(len(enc) / 2))
	w.Raw(enc)
}
