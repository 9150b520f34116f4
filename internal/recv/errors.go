package recv

import (
	"errors"

	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// classifyWriteErr translates a file-data write failure into transaction
// status. Fault counters are already bumped inside pkg/filesink; this
// only sets status and logs.
func classifyWriteErr(txn *transaction.Transaction, err error) {
	var seekErr *filesink.SeekError
	if errors.As(err, &seekErr) {
		emitErr(txn, eventSeekFDErr, "seek failed while positioning for file-data write")
		txn.SetStatus(pdu.FileSizeError)
		return
	}
	emitErr(txn, eventWriteErr, "file-data write failed")
	txn.SetStatus(pdu.FilestoreRejection)
}

// classifyCRCReadErr translates a CRC chunk read failure into
// transaction status.
func classifyCRCReadErr(txn *transaction.Transaction, err error) {
	var seekErr *filesink.SeekError
	if errors.As(err, &seekErr) {
		emitErr(txn, eventSeekCRCErr, "seek failed while positioning for CRC verification")
		txn.SetStatus(pdu.FileSizeError)
		return
	}
	emitErr(txn, eventReadErr, "read failed during CRC verification")
	txn.SetStatus(pdu.FileSizeError)
}
