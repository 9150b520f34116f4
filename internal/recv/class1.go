package recv

import (
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// RecvClass1 dispatches one inbound PDU for an unacknowledged-mode
// transaction. Every outcome either digests more file data or ends the
// transaction; Class-1 never emits PDUs.
func RecvClass1(txn *transaction.Transaction, frame pdu.Frame) {
	txn.InactivityElapsed = 0
	switch frame.Type {
	case pdu.TypeFileData:
		recvFileDataClass1(txn, frame.FileData)
	case pdu.TypeEOF:
		recvEOFClass1(txn, frame.EOF)
	default:
		// Any other PDU type is ignored in Class-1.
	}
}

func recvFileDataClass1(txn *transaction.Transaction, fd pdu.FileData) {
	if err := txn.Sink.WriteFileData(fd.Offset, fd.Data); err != nil {
		classifyWriteErr(txn, err)
		Reset(txn)
		return
	}
	txn.FSize = txn.Sink.FileSize()
	txn.CRCAccum = txn.CRCAccum.Block(fd.Data)
}

func recvEOFClass1(txn *transaction.Transaction, eof pdu.EOF) {
	if eof.FileSize != txn.FSize {
		emitErr(txn, eventSizeMismatch, "EOF file size disagrees with bytes received")
		txn.Counters.Fault(txn.ChanNum, metrics.FaultFileSizeMismatch)
		txn.SetStatus(pdu.FileSizeError)
		Reset(txn)
		return
	}
	if eof.FileChecksum != txn.CRCAccum.Uint32() {
		emitErr(txn, eventCRCErr, "EOF checksum does not match accumulated digest")
		txn.Counters.Fault(txn.ChanNum, metrics.FaultCRCMismatch)
		txn.SetStatus(pdu.FileChecksumFailure)
		Reset(txn)
		return
	}
	txn.Keep = true
	Reset(txn)
}
