// Package transaction defines the per-reception record the receive core
// operates on: identity, class, sub-state, and the Class-2 receive-state
// block. It carries no behavior of its own beyond small bookkeeping
// helpers — the state machine lives in internal/recv.
package transaction

import (
	"log/slog"
	"time"

	"github.com/cfdp-go/receiver/pkg/chunklist"
	"github.com/cfdp-go/receiver/pkg/config"
	"github.com/cfdp-go/receiver/pkg/crc"
	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
)

// Class identifies the CFDP transmission mode of a transaction.
type Class uint8

const (
	Class1 Class = iota
	Class2
)

func (c Class) String() string {
	if c == Class1 {
		return "class-1"
	}
	return "class-2"
}

// SubState tracks where a reception is within its lifecycle.
type SubState uint8

const (
	SubStateFileData SubState = iota
	SubStateEOF
	SubStateWaitForFinAck
)

func (s SubState) String() string {
	switch s {
	case SubStateFileData:
		return "FILEDATA"
	case SubStateEOF:
		return "EOF"
	case SubStateWaitForFinAck:
		return "WAIT_FOR_FIN_ACK"
	default:
		return "UNKNOWN"
	}
}

// ID identifies a transaction by its CFDP source entity and transaction
// sequence number, the key the outer engine multiplexes transactions on.
type ID struct {
	EntityID       uint64
	SequenceNumber uint32
}

// History is the terminal record left behind after Reset.
type History struct {
	ID       ID
	Class    Class
	Status   pdu.ConditionCode
	FileSize uint64
	Kept     bool
}

// ReceiveState holds the Class-2-only receive-state block; Class-1
// transactions leave it unused.
type ReceiveState struct {
	EOFRecv bool
	MDRecv  bool
	EOFCRC  uint32
	EOFSize uint64
	EOFCC   pdu.ConditionCode

	SendAck bool
	SendNak bool
	SendFin bool

	FDNakSent bool

	Complete        bool
	InactivityFired bool
	AckNakCount     uint32

	RxCRCCalcBytes uint64
	AckTimerArmed  bool
	CRCCalc        bool

	Canceled bool

	// FinAckRecv marks that a FIN-ACK arrived; Tick performs the terminal
	// Reset on its next wakeup rather than Recv doing it inline.
	FinAckRecv bool
}

// Transaction is the per-reception record.
type Transaction struct {
	ID    ID
	Class Class

	SubState SubState

	// FSize is the current known file size; CachedPos is read through to
	// the file sink (the single source of truth for file position) once
	// the sink exists, so the two never disagree.
	FSize    uint64
	CRCAccum crc.Digest

	// DestName is the destination filename. Class-1 transactions must
	// have it populated before Init runs (no separate metadata path
	// exists for Class-1). Class-2 transactions populate it from the
	// metadata PDU, at which point the file sink's temporary file is
	// renamed to it.
	DestName string

	ChanNum int
	History *History
	Keep    bool
	// Done is set once Reset has torn the transaction down; the owning
	// engine removes it from its live-transaction map on seeing this.
	Done bool

	// Tx is the outbound PDU transmitter for this transaction's channel.
	Tx pdu.Transmitter

	Status pdu.ConditionCode

	Recv ReceiveState

	Chunks *chunklist.List
	Sink   *filesink.Sink

	Cfg config.Channel

	InactivityElapsed time.Duration
	AckTimerElapsed   time.Duration

	Logger   *slog.Logger
	Counters *metrics.Counters
}

// New constructs a transaction in its initial FILEDATA sub-state. The
// file sink is wired by internal/recv's Init once the backing file has
// been opened.
func New(id ID, class Class, chanNum int, cfg config.Channel, counters *metrics.Counters, logger *slog.Logger) *Transaction {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("chan_num", chanNum, "seq", id.SequenceNumber, "entity", id.EntityID)
	return &Transaction{
		ID:       id,
		Class:    class,
		SubState: SubStateFileData,
		ChanNum:  chanNum,
		Cfg:      cfg,
		Counters: counters,
		Logger:   logger,
		Chunks:   chunklist.New(cfg.MaxChunks),
		History:  &History{ID: id, Class: class},
	}
}

// IsError reports whether the transaction status represents anything
// other than clean success.
func (t *Transaction) IsError() bool {
	return t.Status.IsError()
}

// CachedPos returns the file sink's last-known file position, or 0 before
// the sink has been opened.
func (t *Transaction) CachedPos() uint64 {
	if t.Sink == nil {
		return 0
	}
	return t.Sink.CachedPos()
}

// SetStatus assigns a terminal status unless one is already recorded;
// the first fault to touch a transaction wins.
func (t *Transaction) SetStatus(cc pdu.ConditionCode) {
	if t.Status == pdu.NoError {
		t.Status = cc
	}
}

// Finalize copies the terminal outcome into the transaction's history
// record, invoked by Reset.
func (t *Transaction) Finalize(kept bool) {
	t.Keep = kept
	t.History.Status = t.Status
	t.History.FileSize = t.FSize
	t.History.Kept = kept
	t.Done = true
}
