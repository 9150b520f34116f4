package recv

import (
	"time"

	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// Tick advances one scheduler wakeup for txn. Once a FIN-ACK has arrived
// it only performs the terminal Reset. Otherwise it handles inactivity
// first, then pending ACK, pending NAK, pending FIN, the ACK timer, and
// finally one CRC slice. The order is fixed — pending sends are attempted before the
// ACK timer can queue new retransmissions. It returns false once the
// transaction has torn down and should be dropped by the caller.
func Tick(txn *transaction.Transaction, dt time.Duration) bool {
	if txn.Recv.FinAckRecv {
		Reset(txn)
		return !txn.Done
	}

	txn.InactivityElapsed += dt
	if txn.InactivityElapsed >= txn.Cfg.InactivityTimeout {
		if !txn.Recv.InactivityFired {
			txn.Recv.InactivityFired = true
			SendInactivityEvent(txn)
			txn.SetStatus(pdu.InactivityDetected)
		}
		if txn.Class == transaction.Class1 {
			Reset(txn)
			return !txn.Done
		}
		Reset(txn)
		if txn.Done {
			return false
		}
	}

	if txn.Class == transaction.Class1 {
		return !txn.Done
	}

	if txn.Recv.SendAck {
		if err := txn.Tx.SendAck(pdu.DirectiveEOF, txn.Status); err == nil {
			txn.Recv.SendAck = false
		}
	}

	if txn.Recv.SendNak {
		if err := SubstateSendNak(txn); err == nil {
			txn.Recv.SendNak = false
		}
	}

	if txn.Recv.SendFin {
		_ = SubstateSendFin(txn)
	}

	if txn.Recv.AckTimerArmed {
		txn.AckTimerElapsed += dt
		if txn.AckTimerElapsed >= txn.Cfg.AckTimeout {
			txn.AckTimerElapsed = 0
			if txn.SubState == transaction.SubStateWaitForFinAck {
				txn.Recv.AckNakCount++
				if txn.Recv.AckNakCount > txn.Cfg.AckLimit {
					txn.Counters.Fault(txn.ChanNum, metrics.FaultAckLimit)
					txn.SetStatus(pdu.AckLimitReached)
					Reset(txn)
					if txn.Done {
						return false
					}
				} else {
					txn.Recv.SendFin = true
				}
			} else {
				// Outside WAIT_FOR_FIN_ACK the ACK timer is the periodic
				// gap-recheck: it is what first turns a gap noticed at EOF
				// time into an actual NAK, and on every later expiry
				// re-requests whatever is still missing.
				Complete(txn, true)
			}
		}
	}

	if txn.Recv.SendFin && !txn.Recv.CRCCalc && !txn.IsError() {
		CalcCrcChunk(txn)
	}

	return !txn.Done
}
