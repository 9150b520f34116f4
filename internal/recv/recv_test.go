package recv

import (
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfdp-go/receiver/pkg/config"
	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

// memFile/memFS mirror pkg/filesink's test fakes; kept local and
// unexported since internal/recv has no import path to that package's
// test-only types.
type memFile struct {
	buf []byte
	pos int64
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	end := f.pos + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[f.pos:end], p)
	f.pos = end
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.buf)) + offset
	}
	return f.pos, nil
}

func (f *memFile) Close() error { return nil }

type memFS struct {
	files map[string]*memFile
}

func newMemFS() *memFS { return &memFS{files: map[string]*memFile{}} }

func (fs *memFS) OpenCreate(name string) (filesink.File, error) {
	f, ok := fs.files[name]
	if !ok {
		f = &memFile{}
		fs.files[name] = f
	}
	return f, nil
}

func (fs *memFS) Open(name string) (filesink.File, error) {
	f, ok := fs.files[name]
	if !ok {
		return nil, errors.New("no such file")
	}
	return f, nil
}

func (fs *memFS) Rename(oldName, newName string) error {
	f, ok := fs.files[oldName]
	if !ok {
		return errors.New("no such file")
	}
	fs.files[newName] = f
	delete(fs.files, oldName)
	return nil
}

func (fs *memFS) Remove(name string) error {
	delete(fs.files, name)
	return nil
}

// fakeTx is a pdu.Transmitter recording every call, with failure modes
// toggled per test.
type fakeTx struct {
	failNak bool
	failFin bool
	failAck bool
	acks    []pdu.ConditionCode
	naks    []pdu.Nak
	fins    []pdu.Fin
}

func (f *fakeTx) SendAck(directive pdu.DirectiveCode, cc pdu.ConditionCode) error {
	if f.failAck {
		return pdu.ErrNoBufAvail
	}
	f.acks = append(f.acks, cc)
	return nil
}

func (f *fakeTx) SendNak(nak pdu.Nak) error {
	if f.failNak {
		return pdu.ErrNoBufAvail
	}
	f.naks = append(f.naks, nak)
	return nil
}

func (f *fakeTx) SendFin(fin pdu.Fin) error {
	if f.failFin {
		return pdu.ErrNoBufAvail
	}
	f.fins = append(f.fins, fin)
	return nil
}

func newTestTxn(t *testing.T, class transaction.Class) (*transaction.Transaction, *memFS, *fakeTx) {
	t.Helper()
	cfg := config.Channel{
		AckLimit:                3,
		NakLimit:                2,
		RxCrcCalcBytesPerWakeup: 1 << 16,
		MaxChunks:               100,
		InactivityTimeout:       1_000_000,
		AckTimeout:              100,
	}
	txn := transaction.New(transaction.ID{EntityID: 1, SequenceNumber: 7}, class, 0, cfg, metrics.NewCounters(), nil)
	fs := newMemFS()
	tx := &fakeTx{}
	txn.Tx = tx
	if class == transaction.Class1 {
		txn.DestName = "dest.bin"
	}
	Init(txn, fs)
	require.NotNil(t, txn.Sink)
	return txn, fs, tx
}

func crc32Of(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func TestClass1SuccessfulTransferSetsKeepAndResets(t *testing.T) {
	txn, fs, _ := newTestTxn(t, transaction.Class1)

	RecvClass1(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: []byte("hello ")}})
	RecvClass1(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 6, Data: []byte("world!")}})

	want := crc32Of([]byte("hello world!"))
	RecvClass1(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 12, FileChecksum: want}})

	assert.True(t, txn.Keep)
	assert.True(t, txn.Done)
	assert.False(t, txn.IsError())
	assert.Equal(t, "hello world!", string(fs.files["dest.bin"].buf))
}

func TestClass1CRCMismatchResetsWithoutKeep(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class1)

	RecvClass1(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: []byte("abc")}})
	RecvClass1(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 3, FileChecksum: 0xDEADBEEF}})

	assert.False(t, txn.Keep)
	assert.True(t, txn.Done)
	assert.Equal(t, pdu.FileChecksumFailure, txn.Status)
}

func TestClass2GapRepairSchedulesNakThenFin(t *testing.T) {
	txn, _, tx := newTestTxn(t, transaction.Class2)

	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 300})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: make([]byte, 100)}})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 200, Data: make([]byte, 100)}})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 300}})

	assert.True(t, txn.Recv.SendAck)
	assert.False(t, txn.Recv.Complete)

	// Nothing is scheduled until the ACK timer's periodic gap-recheck
	// fires (it was armed at Init).
	Tick(txn, txn.Cfg.AckTimeout)
	assert.True(t, txn.Recv.SendNak)
	Tick(txn, 0)
	assert.False(t, txn.Recv.SendNak)

	require.Len(t, tx.naks, 1)
	assert.Equal(t, uint64(100), tx.naks[0].Segments[0].OffsetStart)
	assert.Equal(t, uint64(200), tx.naks[0].Segments[0].OffsetEnd)

	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 100, Data: make([]byte, 100)}})
	Complete(txn, false)
	assert.True(t, txn.Recv.SendFin)
}

func TestClass2NakLimitExceededSetsCompleteAndFin(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)
	txn.Cfg.NakLimit = 2
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 300})

	Complete(txn, true)
	assert.EqualValues(t, 1, txn.Recv.AckNakCount)
	assert.True(t, txn.Recv.SendNak)

	Complete(txn, true)
	assert.EqualValues(t, 2, txn.Recv.AckNakCount)
	assert.True(t, txn.Recv.SendNak)

	Complete(txn, true)
	assert.True(t, txn.Recv.Complete)
	assert.True(t, txn.Recv.SendFin)
	assert.Equal(t, pdu.NakLimitReached, txn.Status)
}

func TestClass2FinRetransmissionReachesAckLimitAndResets(t *testing.T) {
	txn, _, tx := newTestTxn(t, transaction.Class2)
	txn.Cfg.AckLimit = 3
	txn.Cfg.AckTimeout = 10
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 0})
	txn.Recv.CRCCalc = true
	txn.Recv.SendFin = true

	require.True(t, Tick(txn, 0))
	require.Len(t, tx.fins, 1)
	assert.Equal(t, transaction.SubStateWaitForFinAck, txn.SubState)

	// Three ACK-timer expirations each resend FIN (acknak_count 1..3,
	// still within ack_limit); the 4th pushes acknak_count to 4, which
	// exceeds ack_limit(3) and triggers Reset.
	alive := true
	for i := 0; i < 4; i++ {
		alive = Tick(txn, 10)
	}
	assert.False(t, alive)
	assert.True(t, txn.Done)
	assert.Len(t, tx.fins, 4)
}

func TestClass2IdempotentSecondEOFIsNoOp(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 10, FileChecksum: 1}})
	assert.True(t, txn.Recv.EOFRecv)

	before := txn.Recv
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 99, FileChecksum: 99}})
	assert.Equal(t, before, txn.Recv)
}

func TestClass2OutOfSequenceFinAckIsIgnored(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)
	require.Equal(t, transaction.SubStateFileData, txn.SubState)

	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFinAck})

	assert.False(t, txn.Recv.FinAckRecv)
	assert.Equal(t, transaction.SubStateFileData, txn.SubState)
}

func TestCancelMidTransferSchedulesFinWithCancelStatus(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin"})

	Cancel(txn)

	assert.True(t, txn.Recv.Canceled)
	assert.True(t, txn.Recv.SendFin)
	assert.Equal(t, pdu.CancelRequestReceived, txn.Status)
	assert.False(t, txn.Done)
}

func TestCancelDuringWaitForFinAckResetsImmediately(t *testing.T) {
	txn, _, tx := newTestTxn(t, transaction.Class2)
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 0})
	txn.Recv.CRCCalc = true
	txn.Recv.SendFin = true
	require.True(t, Tick(txn, 0))
	require.Len(t, tx.fins, 1)
	require.Equal(t, transaction.SubStateWaitForFinAck, txn.SubState)

	Cancel(txn)

	assert.Equal(t, pdu.CancelRequestReceived, txn.Status)
	assert.True(t, txn.Done)
}

func TestClass2SuccessfulTransferKeepsFile(t *testing.T) {
	txn, fs, tx := newTestTxn(t, transaction.Class2)

	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 5})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: []byte("hello")}})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 5, FileChecksum: crc32Of([]byte("hello"))}})

	require.Equal(t, transaction.SubStateEOF, txn.SubState)
	require.True(t, txn.Recv.Complete)
	require.True(t, txn.Recv.SendFin)

	// First wakeup does the CRC slice (the FIN is deferred until crc_calc),
	// the second sends the FIN.
	require.True(t, Tick(txn, 0))
	assert.True(t, txn.Recv.CRCCalc)
	assert.Empty(t, tx.fins)
	require.True(t, Tick(txn, 0))
	require.Len(t, tx.fins, 1)
	assert.Equal(t, pdu.NoError, tx.fins[0].ConditionCode)
	assert.Equal(t, transaction.SubStateWaitForFinAck, txn.SubState)

	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFinAck})
	assert.False(t, Tick(txn, 0))
	assert.True(t, txn.Keep)
	assert.Contains(t, fs.files, "dest.bin")
}

func TestClass2CRCSliceBytesSumToFileSize(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)
	txn.Cfg.RxCrcCalcBytesPerWakeup = 100

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 300})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: data}})
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeEOF, EOF: pdu.EOF{FileSize: 300, FileChecksum: crc32Of(data)}})
	require.True(t, txn.Recv.SendFin)

	var slices int
	for !txn.Recv.CRCCalc {
		CalcCrcChunk(txn)
		slices++
		require.LessOrEqual(t, slices, 3)
	}
	assert.Equal(t, 3, slices)
	assert.EqualValues(t, 300, txn.Recv.RxCRCCalcBytes)
	assert.False(t, txn.IsError())
	assert.True(t, txn.Keep)
}

func TestClass2BlankNakRequestsMetadata(t *testing.T) {
	txn, _, tx := newTestTxn(t, transaction.Class2)
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: []byte("abc")}})

	require.NoError(t, SubstateSendNak(txn))

	require.Len(t, tx.naks, 1)
	assert.True(t, tx.naks[0].MetadataRequest)
	assert.Empty(t, tx.naks[0].Segments)
	assert.False(t, txn.Recv.FDNakSent)
}

func TestClass2NakSegmentListClampedToMax(t *testing.T) {
	txn, _, tx := newTestTxn(t, transaction.Class2)
	txn.Recv.MDRecv = true
	txn.FSize = 400

	// Chunks at every even offset: with MaxChunks 100 the list bridges the
	// earliest ones, still leaving 99 interior gaps plus the tail, more than
	// one NAK may carry.
	for off := uint64(0); off < 400; off += 2 {
		txn.Chunks.Add(off, off+1)
	}

	require.NoError(t, SubstateSendNak(txn))

	require.Len(t, tx.naks, 1)
	assert.Len(t, tx.naks[0].Segments, pdu.MaxNakSegments)
	assert.True(t, txn.Recv.FDNakSent)
}

func TestClass2TransientFinSendFailureRetriesNextTick(t *testing.T) {
	txn, _, tx := newTestTxn(t, transaction.Class2)
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 0})
	txn.Recv.CRCCalc = true
	txn.Recv.SendFin = true

	tx.failFin = true
	require.True(t, Tick(txn, 0))
	assert.True(t, txn.Recv.SendFin)
	assert.Equal(t, transaction.SubStateFileData, txn.SubState)

	tx.failFin = false
	require.True(t, Tick(txn, 0))
	assert.False(t, txn.Recv.SendFin)
	assert.Equal(t, transaction.SubStateWaitForFinAck, txn.SubState)
	assert.Len(t, tx.fins, 1)
}

func TestInactivityFiresOnceAndTearsDown(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)

	alive := Tick(txn, txn.Cfg.InactivityTimeout)

	assert.False(t, alive)
	assert.True(t, txn.Recv.InactivityFired)
	assert.Equal(t, pdu.InactivityDetected, txn.Status)
	assert.True(t, txn.Done)
}

func TestRecvResetsInactivityTimer(t *testing.T) {
	txn, _, _ := newTestTxn(t, transaction.Class2)

	require.True(t, Tick(txn, txn.Cfg.InactivityTimeout/2))
	RecvClass2(txn, pdu.Frame{Type: pdu.TypeFileData, FileData: pdu.FileData{Offset: 0, Data: []byte("x")}})

	// Another half-interval after the PDU must not trip the timer.
	require.True(t, Tick(txn, txn.Cfg.InactivityTimeout/2))
	assert.False(t, txn.Recv.InactivityFired)
}

func TestClass2IdempotentSecondMetadataIsDiscarded(t *testing.T) {
	txn, fs, _ := newTestTxn(t, transaction.Class2)
	RecvMetadata(txn, pdu.Metadata{DestFileName: "dest.bin", HasFileSize: true, FileSize: 10})
	require.True(t, txn.Recv.MDRecv)

	RecvMetadata(txn, pdu.Metadata{DestFileName: "other.bin", HasFileSize: true, FileSize: 99})

	assert.Equal(t, "dest.bin", txn.DestName)
	assert.EqualValues(t, 10, txn.FSize)
	assert.NotContains(t, fs.files, "other.bin")
}
