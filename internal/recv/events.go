// Package recv implements the per-transaction receive state machine:
// PDU dispatch, sub-state progression, gap computation and NAK
// generation, chunked CRC verification, and the FIN/FIN-ACK handshake,
// for both CFDP classes. Everything else in this module (pkg/engine,
// cmd/cfdp-recvd) exists to drive it.
package recv

import (
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// Event IDs, one per non-transient error or informational event a
// transaction can raise. Each fires exactly once per occurrence and is
// paired with at most one fault counter increment.
const (
	eventCreatErr      = "CREAT_ERR"
	eventCRCErr        = "CRC_ERR"
	eventWriteErr      = "WRITE_ERR"
	eventSeekFDErr     = "SEEK_FD_ERR"
	eventSeekCRCErr    = "SEEK_CRC_ERR"
	eventReadErr       = "READ_ERR"
	eventPDUEOFErr     = "PDU_EOF_ERR"
	eventSizeMismatch  = "SIZE_MISMATCH_ERR"
	eventEOFMDSizeErr  = "EOF_MD_SIZE_ERR"
	eventRenameErr     = "RENAME_ERR"
	eventOpenErr       = "OPEN_ERR"
	eventPDUMDErr      = "PDU_MD_ERR"
	eventPDUFinAckErr  = "PDU_FINACK_ERR"
	eventNakLimitErr   = "NAK_LIMIT_ERR"
	eventInactTimerErr = "INACT_TIMER_ERR"
	eventRequestMDInf  = "REQUEST_MD_INF"
	eventTempFileInf   = "TEMP_FILE_INF"
)

func emitErr(txn *transaction.Transaction, eventID, msg string) {
	txn.Logger.Error(msg, "event", eventID)
}

func emitInfo(txn *transaction.Transaction, eventID, msg string, args ...any) {
	txn.Logger.Info(msg, append([]any{"event", eventID}, args...)...)
}
