package recv

import (
	"errors"

	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// RecvClass2 dispatches one inbound PDU for an acknowledged-mode
// transaction.
func RecvClass2(txn *transaction.Transaction, frame pdu.Frame) {
	txn.InactivityElapsed = 0
	switch frame.Type {
	case pdu.TypeFileData:
		recvFileDataClass2(txn, frame.FileData)
	case pdu.TypeEOF:
		recvEOFClass2(txn, frame.EOF)
	case pdu.TypeMetadata:
		RecvMetadata(txn, frame.Metadata)
	case pdu.TypeFinAck:
		if txn.SubState != transaction.SubStateWaitForFinAck {
			txn.Counters.IncError(txn.ChanNum)
			emitErr(txn, eventPDUFinAckErr, "FIN-ACK received outside WAIT_FOR_FIN_ACK")
			return
		}
		recvFinAck(txn)
	default:
		txn.Counters.IncError(txn.ChanNum)
	}
}

func recvFileDataClass2(txn *transaction.Transaction, fd pdu.FileData) {
	if txn.SubState != transaction.SubStateFileData && txn.SubState != transaction.SubStateEOF {
		txn.Counters.IncError(txn.ChanNum)
		return
	}
	if err := txn.Sink.WriteFileData(fd.Offset, fd.Data); err != nil {
		classifyWriteErr(txn, err)
		Reset(txn)
		return
	}
	txn.FSize = txn.Sink.FileSize()
	txn.Chunks.Add(fd.Offset, fd.Offset+uint64(len(fd.Data)))

	if txn.Recv.FDNakSent || !txn.Recv.Complete {
		txn.Recv.AckTimerArmed = true
		txn.AckTimerElapsed = 0
		txn.Recv.AckNakCount = 0
	}
}

func recvEOFClass2(txn *transaction.Transaction, eof pdu.EOF) {
	if txn.Recv.EOFRecv {
		return
	}
	txn.Recv.EOFCRC = eof.FileChecksum
	txn.Recv.EOFSize = eof.FileSize
	txn.Recv.EOFCC = eof.ConditionCode
	txn.Recv.EOFRecv = true
	txn.Recv.SendAck = true

	if eof.ConditionCode.IsError() {
		if eof.ConditionCode == pdu.CancelRequestReceived {
			txn.Recv.Canceled = true
		}
		txn.SetStatus(eof.ConditionCode)
		Reset(txn)
		return
	}

	if txn.Recv.MDRecv && txn.FSize != eof.FileSize {
		emitErr(txn, eventEOFMDSizeErr, "EOF size disagrees with previously recorded metadata size")
		txn.Counters.Fault(txn.ChanNum, metrics.FaultFileSizeMismatch)
		txn.SetStatus(pdu.FileSizeError)
	}

	txn.SubState = transaction.SubStateEOF
	Complete(txn, false)
}

// RecvMetadata processes a metadata PDU: the temporary backing file is
// renamed to the declared destination and reopened, and any previously
// received EOF size is checked against the declared size.
func RecvMetadata(txn *transaction.Transaction, md pdu.Metadata) {
	if txn.Recv.MDRecv {
		return
	}
	if md.DestFileName == "" {
		txn.Counters.IncError(txn.ChanNum)
		emitErr(txn, eventPDUMDErr, "metadata PDU missing destination filename")
		return
	}

	if err := txn.Sink.Rename(md.DestFileName); err != nil {
		var renameErr *filesink.RenameError
		if errors.As(err, &renameErr) {
			emitErr(txn, eventRenameErr, "failed to rename temporary file to destination")
		} else {
			emitErr(txn, eventOpenErr, "failed to reopen destination file after rename")
		}
		txn.SetStatus(pdu.FilestoreRejection)
		return
	}

	txn.DestName = md.DestFileName
	txn.Recv.MDRecv = true
	txn.Recv.AckNakCount = 0

	if md.HasFileSize {
		txn.FSize = md.FileSize
		txn.Sink.SetFileSize(md.FileSize)
	}

	if txn.Recv.EOFRecv && txn.FSize != txn.Recv.EOFSize {
		emitErr(txn, eventEOFMDSizeErr, "recorded file size disagrees with EOF size")
		txn.SetStatus(pdu.FileSizeError)
	}
}

// Complete checks whether the transaction has everything it needs to
// finish, scheduling a NAK (when permitted) or the FIN.
func Complete(txn *transaction.Transaction, okToSendNak bool) {
	if txn.IsError() {
		txn.Recv.Complete = true
		txn.Recv.SendFin = true
		txn.SubState = transaction.SubStateFileData
		return
	}

	if txn.Recv.MDRecv && txn.Recv.EOFRecv && txn.Chunks.Covers(0, txn.FSize) {
		txn.Recv.Complete = true
		txn.Recv.SendFin = true
		return
	}

	if okToSendNak {
		txn.Recv.AckNakCount++
		if txn.Recv.AckNakCount > txn.Cfg.NakLimit {
			txn.Counters.Fault(txn.ChanNum, metrics.FaultNakLimit)
			emitErr(txn, eventNakLimitErr, "NAK retransmission limit reached")
			txn.SetStatus(pdu.NakLimitReached)
			txn.Recv.Complete = true
			txn.Recv.SendFin = true
			return
		}
		txn.Recv.SendNak = true
	}
}

// SubstateSendNak computes the current gap set and emits a NAK covering
// it, or a blank metadata-request NAK when no metadata has arrived yet.
// A transmit error is returned unchanged so Tick can retry on the next
// wakeup, leaving send_nak set.
func SubstateSendNak(txn *transaction.Transaction) error {
	if !txn.Recv.MDRecv {
		if err := txn.Tx.SendNak(pdu.Nak{MetadataRequest: true}); err != nil {
			return err
		}
		emitInfo(txn, eventRequestMDInf, "requesting metadata via blank NAK")
		return nil
	}

	scopeStart, scopeEnd := uint64(0), txn.FSize
	var segments []pdu.NakSegment
	txn.Chunks.ComputeGaps(scopeStart, scopeEnd, func(gapStart, gapEnd uint64) bool {
		segments = append(segments, pdu.NakSegment{
			OffsetStart: gapStart - scopeStart,
			OffsetEnd:   gapEnd - scopeStart,
		})
		return len(segments) < pdu.MaxNakSegments
	})

	if len(segments) == 0 {
		txn.Recv.Complete = true
		txn.Recv.SendFin = true
		return nil
	}

	// fd_nak_sent records that a file-data NAK was attempted, even if the
	// send below fails.
	txn.Recv.FDNakSent = true

	return txn.Tx.SendNak(pdu.Nak{ScopeStart: scopeStart, ScopeEnd: scopeEnd, Segments: segments})
}
