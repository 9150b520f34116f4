package recv

import (
	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// Init opens or creates the transaction's backing file and arms the
// Class-2 ACK timer. It must be called once, before the first Recv or
// Tick.
func Init(txn *transaction.Transaction, fs filesink.FileSystem) {
	txn.SubState = transaction.SubStateFileData
	txn.Sink = filesink.New(fs, txn.ChanNum, txn.Counters)

	var openErr error
	if txn.Class == transaction.Class2 {
		name := filesink.TempName(txn.ID.EntityID, txn.ID.SequenceNumber)
		openErr = txn.Sink.OpenCreateTemp(name)
		if openErr == nil {
			emitInfo(txn, eventTempFileInf, "receiving into temporary file pending metadata", "file", name)
		}
	} else {
		openErr = txn.Sink.OpenCreateFinal(txn.DestName)
	}

	if openErr != nil {
		emitErr(txn, eventCreatErr, "failed to create destination file")
		if txn.Class == transaction.Class1 {
			Reset(txn)
			return
		}
		txn.SetStatus(pdu.FilestoreRejection)
		txn.Recv.SendFin = true
		return
	}

	if txn.Class == transaction.Class2 {
		txn.Recv.AckTimerArmed = true
	}
}
