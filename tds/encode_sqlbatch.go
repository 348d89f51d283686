package tds

import "github.com/ha1tch/gotds/internal/wire"

// allHeadersTotalLength is the byte length of the ALL_HEADERS block this
// driver sends ahead of every SQLBATCH/RPC/TRANSMGR body on TDS 7.2+: a
// 4-byte TotalLength, a 4-byte HeaderLength, a 2-byte HeaderType
// (0x0002, transaction descriptor), an 8-byte transaction descriptor and
// a 4-byte outstanding-request count.
const allHeadersTotalLength = 4 + 4 + 2 + 8 + 4

// headerTypeTransDescriptor identifies the MARS transaction-descriptor
// ALL_HEADERS entry, the only header type this driver emits.
const headerTypeTransDescriptor uint16 = 0x0002

// encodeAllHeaders builds the ALL_HEADERS block required ahead of every
// SQLBATCH/RPC/TRANSMGR payload since TDS 7.2, carrying the active
// transaction descriptor (0 outside a transaction) and a request
// count that is always 1 since this driver never pipelines requests
// within a single connection.
func encodeAllHeaders(transactionDescriptor uint64) []byte {
	w := wire.NewWriter(allHeadersTotalLength)
	w.Uint32LE(uint32(allHeadersTotalLength))
	w.Uint32LE(uint32(allHeadersTotalLength) - 4)
	w.Uint16LE(headerTypeTransDescriptor)
	w.Uint64LE(transactionDescriptor)
	w.Uint32LE(1)
	return w.Bytes()
}

// EncodeSQLBatch builds a SQLBATCH message body: ALL_HEADERS followed by
// the UCS-2 encoded query text.
func EncodeSQLBatch(transactionDescriptor uint64, query string) []byte {
	w := wire.NewWriter(allHeadersTotalLength + len(query)*2)
	w.Raw(encodeAllHeaders(transactionDescriptor))
	w.Raw(wire.StringToUCS2(query))
	return w.Bytes()
}
