package recv

import (
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// Reset tears down a transaction, dispatching on class. A Class-2
// transaction that has not yet reached a terminal condition schedules a
// FIN instead of tearing down outright.
func Reset(txn *transaction.Transaction) {
	if txn.Class == transaction.Class1 {
		teardown(txn)
		return
	}
	if txn.SubState == transaction.SubStateWaitForFinAck ||
		txn.Recv.EOFCC.IsError() ||
		txn.IsError() ||
		txn.Recv.Canceled {
		teardown(txn)
		return
	}
	txn.Recv.SendFin = true
}

func teardown(txn *transaction.Transaction) {
	if txn.Sink != nil {
		_ = txn.Sink.Close(txn.Keep)
	}
	txn.Finalize(txn.Keep)
}

// Cancel requests cooperative cancellation of txn. Class-2 passes
// through the FIN handshake unless already awaiting FIN-ACK.
func Cancel(txn *transaction.Transaction) {
	if txn.Class == transaction.Class1 {
		Reset(txn)
		return
	}
	txn.Recv.Canceled = true
	// An external cancel must take precedence over whatever status (or
	// lack of one) the transaction already carries, so the FIN it sends
	// reports the cancellation rather than NO_ERROR.
	SetFinStatus(txn, pdu.CancelRequestReceived)
	if txn.SubState == transaction.SubStateWaitForFinAck {
		Reset(txn)
		return
	}
	txn.Recv.SendFin = true
}

// CheckCrc reports whether a freshly finalized digest matches the
// expected EOF-carried checksum.
func CheckCrc(computed, expected uint32) bool {
	return computed == expected
}

// SetFinStatus unconditionally overrides the status that will be carried
// in the outbound FIN PDU, used when an external cancel or protocol event
// must take precedence over whatever status a transaction already holds.
func SetFinStatus(txn *transaction.Transaction, cc pdu.ConditionCode) {
	txn.Status = cc
}

// SendInactivityEvent raises the one-time inactivity event and counter
// for txn. The caller (Tick) is responsible for the inactivity_fired gate.
func SendInactivityEvent(txn *transaction.Transaction) {
	emitErr(txn, eventInactTimerErr, "transaction inactive")
	txn.Counters.Fault(txn.ChanNum, metrics.FaultInactivityTimer)
}
