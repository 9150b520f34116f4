// Package engine is the outer per-channel scheduler that drives
// internal/recv: it owns the live transaction table, demuxes inbound PDUs
// to the right class's Recv entry point, and fires Tick on a periodic
// timer. It carries no protocol logic of its own — only dispatch. The
// run loop serializes all calls on a given transaction, so the receive
// core needs no locking.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cfdp-go/receiver/internal/recv"
	"github.com/cfdp-go/receiver/pkg/config"
	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// TransmitterFactory builds the outbound PDU transmitter a new
// transaction will send ACK/NAK/FIN through. Supplied by the caller
// wiring a real transport (cmd/cfdp-recvd) or a test fake.
type TransmitterFactory func(id transaction.ID) pdu.Transmitter

// Inbound is one PDU arriving on a channel, addressed to the transaction
// it belongs to. DestName is only consulted the first time a Class-1
// transaction is seen (Class-1 has no metadata PDU of its own to carry
// it); Class-2 transactions learn their destination name from a later
// metadata PDU instead.
type Inbound struct {
	ID       transaction.ID
	Class    transaction.Class
	DestName string
	Frame    pdu.Frame
}

// Channel is the per-channel transaction table and scheduler loop.
type Channel struct {
	num      int
	cfg      config.Channel
	counters *metrics.Counters
	fs       filesink.FileSystem
	newTx    TransmitterFactory
	logger   *slog.Logger
	period   time.Duration

	mu   sync.Mutex
	txns map[transaction.ID]*transaction.Transaction

	inbound chan Inbound
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewChannel constructs a channel engine. period is the Tick wakeup
// interval; cfg governs every transaction this channel creates.
func NewChannel(num int, cfg config.Channel, counters *metrics.Counters, fs filesink.FileSystem, newTx TransmitterFactory, logger *slog.Logger, period time.Duration) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		num:      num,
		cfg:      cfg,
		counters: counters,
		fs:       fs,
		newTx:    newTx,
		logger:   logger.With("service", "[ENGINE]", "chan_num", num),
		period:   period,
		txns:     make(map[transaction.ID]*transaction.Transaction),
		inbound:  make(chan Inbound, 64),
	}
}

// Submit enqueues an inbound PDU for processing by the channel's run
// loop. A full queue drops the PDU and counts it as an error, the same
// fate an unparseable or misrouted PDU would meet.
func (c *Channel) Submit(in Inbound) {
	select {
	case c.inbound <- in:
	default:
		c.counters.IncError(c.num)
		c.logger.Error("inbound queue full, dropping PDU",
			"entity", in.ID.EntityID, "seq", in.ID.SequenceNumber)
	}
}

// Start runs the channel's scheduler loop in a new goroutine.
func (c *Channel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop requests the run loop to exit. Wait blocks until it has.
func (c *Channel) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Wait blocks until the run loop started by Start has returned.
func (c *Channel) Wait() {
	c.wg.Wait()
}

func (c *Channel) run(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	last := time.Now()
	c.logger.Info("starting channel engine")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("exited channel engine")
			return
		case in := <-c.inbound:
			c.dispatch(in)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			c.tickAll(dt)
		}
	}
}

func (c *Channel) lookupOrCreate(in Inbound) *transaction.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn, ok := c.txns[in.ID]
	if ok {
		return txn
	}

	txn = transaction.New(in.ID, in.Class, c.num, c.cfg, c.counters, c.logger)
	txn.Tx = c.newTx(in.ID)
	if in.Class == transaction.Class1 {
		txn.DestName = in.DestName
	}
	recv.Init(txn, c.fs)
	c.txns[in.ID] = txn
	return txn
}

func (c *Channel) dispatch(in Inbound) {
	txn := c.lookupOrCreate(in)
	if txn.Done {
		c.drop(in.ID)
		return
	}

	if in.Class == transaction.Class1 {
		recv.RecvClass1(txn, in.Frame)
	} else {
		recv.RecvClass2(txn, in.Frame)
	}

	if txn.Done {
		c.drop(in.ID)
	}
}

func (c *Channel) tickAll(dt time.Duration) {
	c.mu.Lock()
	ids := make([]transaction.ID, 0, len(c.txns))
	for id := range c.txns {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.mu.Lock()
		txn, ok := c.txns[id]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if alive := recv.Tick(txn, dt); !alive {
			c.drop(id)
		}
	}
}

func (c *Channel) drop(id transaction.ID) {
	c.mu.Lock()
	delete(c.txns, id)
	c.mu.Unlock()
}

// CancelTransaction requests cooperative cancellation of a live
// transaction. It is a no-op if the transaction is not (or no longer)
// live.
func (c *Channel) CancelTransaction(id transaction.ID) {
	c.mu.Lock()
	txn, ok := c.txns[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	recv.Cancel(txn)
	if txn.Done {
		c.drop(id)
	}
}

// Len reports the number of live transactions, for tests and monitoring.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txns)
}
