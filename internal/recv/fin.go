package recv

import (
	"errors"

	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// ErrFinNotReady is returned by SubstateSendFin when the CRC of the
// reconstructed file has not finished verifying yet. Tick leaves send_fin
// set and retries on the next wakeup, the same as a transmit failure.
var ErrFinNotReady = errors.New("recv: fin deferred pending crc verification")

// crcChunkSize bounds the amount of file read in one CalcCrcChunk call,
// independent of the channel's configured per-wakeup budget.
const crcChunkSize = 4096

// SubstateSendFin sends the FIN PDU closing a Class-2 transaction, once
// CRC verification has completed. A transaction already carrying an
// error status skips verification; its FIN reports the error condition
// code instead.
func SubstateSendFin(txn *transaction.Transaction) error {
	if !txn.Recv.CRCCalc && !txn.IsError() {
		return ErrFinNotReady
	}

	if err := txn.Tx.SendFin(pdu.Fin{ConditionCode: txn.Status}); err != nil {
		return err
	}

	txn.Recv.SendFin = false
	firstEntry := txn.SubState != transaction.SubStateWaitForFinAck
	txn.SubState = transaction.SubStateWaitForFinAck
	if firstEntry {
		// acknak_count tracks FIN retransmission attempts once inside
		// WAIT_FOR_FIN_ACK; only the initial transition resets it. A
		// retransmit that reached here through the ACK timer must not
		// reset its own retry counter, or the ack_limit would never bite.
		txn.Recv.AckTimerArmed = true
		txn.AckTimerElapsed = 0
		txn.Recv.AckNakCount = 0
	}
	return nil
}

// recvFinAck handles arrival of a FIN-ACK. Parsing is the decoder's
// responsibility; a well-formed arrival always succeeds.
func recvFinAck(txn *transaction.Transaction) {
	txn.Recv.SendFin = false
	txn.Recv.AckTimerArmed = false
	txn.Recv.FinAckRecv = true
}

// CalcCrcChunk performs one bounded slice of the Class-2 CRC-over-file
// recomputation.
func CalcCrcChunk(txn *transaction.Transaction) {
	remaining := txn.FSize - txn.Recv.RxCRCCalcBytes
	if remaining == 0 {
		finalizeCrc(txn)
		return
	}

	budget := uint64(txn.Cfg.RxCrcCalcBytesPerWakeup)
	if budget == 0 || budget > crcChunkSize {
		budget = crcChunkSize
	}
	if budget > remaining {
		budget = remaining
	}

	buf := make([]byte, budget)
	n, err := txn.Sink.ReadChunk(txn.Recv.RxCRCCalcBytes, buf)
	if err != nil {
		classifyCRCReadErr(txn, err)
		return
	}
	if n == 0 {
		emitErr(txn, eventSizeMismatch, "file shorter than declared size during CRC verification")
		txn.Counters.Fault(txn.ChanNum, metrics.FaultFileSizeMismatch)
		txn.SetStatus(pdu.FileSizeError)
		return
	}

	txn.CRCAccum = txn.CRCAccum.Block(buf[:n])
	txn.Recv.RxCRCCalcBytes += uint64(n)

	if txn.Recv.RxCRCCalcBytes == txn.FSize {
		finalizeCrc(txn)
	}
}

func finalizeCrc(txn *transaction.Transaction) {
	txn.Recv.CRCCalc = true
	if !CheckCrc(txn.CRCAccum.Uint32(), txn.Recv.EOFCRC) {
		emitErr(txn, eventCRCErr, "recomputed file CRC does not match EOF checksum")
		txn.Counters.Fault(txn.ChanNum, metrics.FaultCRCMismatch)
		txn.SetStatus(pdu.FileChecksumFailure)
		return
	}
	txn.Keep = true
}
