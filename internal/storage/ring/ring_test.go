package ring

import (
	"testing"

	"github.com/sigurn/crc16"
	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/storage/device"
	testutil "github.com/xtxerr/flowhist/internal/testing"
)

const (
	t0   = uint32(1700000040) // on a minute boundary
	hour = uint32(3600)
)

func crcOf(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

func newRing(t *testing.T, capacity uint32) (*Ring, *device.Memory) {
	t.Helper()

	dev := device.NewMemory(Footprint(capacity) + 64)
	r, err := Open(dev, Config{Base: 0, Capacity: capacity, Interval: hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, dev
}

func mustAdd(t *testing.T, r *Ring, s Storage, value int32, ts uint32) {
	t.Helper()
	if err := r.Add(s, value, ts); err != nil {
		t.Fatalf("Add(%d, %d): %v", value, ts, err)
	}
}

func expectFind(t *testing.T, r *Ring, s Storage, ts uint32, want int32) {
	t.Helper()
	v, ok, err := r.Find(s, ts)
	if err != nil {
		t.Fatalf("Find(%d): %v", ts, err)
	}
	if !ok {
		t.Fatalf("Find(%d): expected a record", ts)
	}
	if v != want {
		t.Errorf("Find(%d): expected %d, got %d", ts, want, v)
	}
}

func expectMissing(t *testing.T, r *Ring, s Storage, ts uint32) {
	t.Helper()
	_, ok, err := r.Find(s, ts)
	if err != nil {
		t.Fatalf("Find(%d): %v", ts, err)
	}
	if ok {
		t.Errorf("Find(%d): expected no record", ts)
	}
}

func TestRing_AddFind(t *testing.T) {
	r, dev := newRing(t, 100)

	mustAdd(t, r, dev, 1234, 1700000000)

	expectFind(t, r, dev, 1700000000, 1234)
	expectMissing(t, r, dev, 1700003600)

	if r.Size() != 1 {
		t.Errorf("expected size 1, got %d", r.Size())
	}
}

func TestRing_FindEmpty(t *testing.T) {
	r, dev := newRing(t, 10)
	expectMissing(t, r, dev, t0)
}

func TestRing_Wraparound(t *testing.T) {
	r, dev := newRing(t, 5)

	wantOffsets := []uint32{0, 1, 2, 3, 4, 0}
	wantSizes := []uint32{1, 2, 3, 4, 5, 5}
	for i := range wantOffsets {
		mustAdd(t, r, dev, int32(i+1), t0+uint32(i)*hour)

		h := r.Header()
		if h.OffsetOfLast != wantOffsets[i] {
			t.Errorf("add %d: expected offset %d, got %d", i, wantOffsets[i], h.OffsetOfLast)
		}
		if h.Size != wantSizes[i] {
			t.Errorf("add %d: expected size %d, got %d", i, wantSizes[i], h.Size)
		}
	}

	// The first record has been overwritten.
	expectMissing(t, r, dev, t0)
	for i := 1; i < 6; i++ {
		expectFind(t, r, dev, t0+uint32(i)*hour, int32(i+1))
	}
}

func TestRing_GapFill(t *testing.T) {
	r, dev := newRing(t, 10)

	mustAdd(t, r, dev, 7, t0)
	mustAdd(t, r, dev, 9, t0+3*hour)

	if r.Size() != 4 {
		t.Fatalf("expected size 4, got %d", r.Size())
	}
	expectFind(t, r, dev, t0, 7)
	expectFind(t, r, dev, t0+hour, 0)
	expectFind(t, r, dev, t0+2*hour, 0)
	expectFind(t, r, dev, t0+3*hour, 9)
}

func TestRing_GapSpanningRingResets(t *testing.T) {
	r, dev := newRing(t, 5)

	mustAdd(t, r, dev, 1, t0)
	mustAdd(t, r, dev, 2, t0+hour)
	mustAdd(t, r, dev, 3, t0+6*hour)

	h := r.Header()
	if h.Size != 1 || h.OffsetOfLast != 0 || h.TimeOfLast != t0+6*hour {
		t.Errorf("expected a restarted ring, got %+v", h)
	}
	expectFind(t, r, dev, t0+6*hour, 3)
	expectMissing(t, r, dev, t0)
}

func TestRing_MonotonicTimestamps(t *testing.T) {
	r, dev := newRing(t, 20)

	ts := t0
	for i := 0; i < 15; i++ {
		ts += hour * uint32(1+i%3)
		mustAdd(t, r, dev, int32(i), ts)
	}

	recs, err := r.Records(dev)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if uint32(len(recs)) != r.Size() {
		t.Fatalf("expected %d records, got %d", r.Size(), len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp-recs[i-1].Timestamp != hour {
			t.Fatalf("record %d: expected spacing %d, got %d", i, hour, recs[i].Timestamp-recs[i-1].Timestamp)
		}
	}
	if recs[len(recs)-1].Timestamp != ts {
		t.Errorf("expected newest at %d, got %d", ts, recs[len(recs)-1].Timestamp)
	}
}

func TestRing_ReplaceWithinInterval(t *testing.T) {
	r, dev := newRing(t, 10)

	mustAdd(t, r, dev, 5, t0)
	before := r.Header()
	mustAdd(t, r, dev, 8, t0+30*60)

	if r.Header() != before {
		t.Errorf("header changed: %+v -> %+v", before, r.Header())
	}
	expectFind(t, r, dev, t0, 8)
}

func TestRing_StaleSampleDropped(t *testing.T) {
	r, dev := newRing(t, 10)

	mustAdd(t, r, dev, 1, t0)
	mustAdd(t, r, dev, 2, t0+hour)
	mustAdd(t, r, dev, 99, t0+hour-60)

	expectFind(t, r, dev, t0+hour, 2)
	if r.Size() != 2 {
		t.Errorf("expected size 2, got %d", r.Size())
	}
}

func TestRing_Rewind(t *testing.T) {
	r, dev := newRing(t, 10)

	for i := uint32(0); i < 5; i++ {
		mustAdd(t, r, dev, int32(i+1), t0+i*hour)
	}
	mustAdd(t, r, dev, 99, t0+2*hour)

	h := r.Header()
	if h.Size != 3 || h.OffsetOfLast != 2 || h.TimeOfLast != t0+2*hour {
		t.Fatalf("unexpected header after rewind: %+v", h)
	}
	expectFind(t, r, dev, t0, 1)
	expectFind(t, r, dev, t0+2*hour, 99)
	expectMissing(t, r, dev, t0+3*hour)

	// Forward again from the rewound cursor.
	mustAdd(t, r, dev, 4, t0+3*hour)
	expectFind(t, r, dev, t0+3*hour, 4)
	if r.Size() != 4 {
		t.Errorf("expected size 4, got %d", r.Size())
	}
}

func TestRing_RewindBetweenPeriods(t *testing.T) {
	r, dev := newRing(t, 10)

	for i := uint32(0); i < 5; i++ {
		mustAdd(t, r, dev, int32(i+1), t0+i*hour)
	}
	// An hour and a half back: the t0+3h and t0+4h records are dropped and
	// the sample follows t0+2h.
	mustAdd(t, r, dev, 99, t0+2*hour+1800)

	h := r.Header()
	if h.Size != 4 || h.OffsetOfLast != 3 || h.TimeOfLast != t0+2*hour+1800 {
		t.Fatalf("unexpected header after rewind: %+v", h)
	}
	expectFind(t, r, dev, t0+2*hour+1800, 99)

	// The next period lands after the sample without overwriting it.
	mustAdd(t, r, dev, 7, t0+3*hour+1800)
	h = r.Header()
	if h.Size != 5 || h.OffsetOfLast != 4 {
		t.Fatalf("unexpected header after forward add: %+v", h)
	}
	expectFind(t, r, dev, t0+2*hour+1800, 99)
	expectFind(t, r, dev, t0+3*hour+1800, 7)

	v, err := r.LastValue(dev)
	if err != nil || v != 7 {
		t.Errorf("LastValue = %d, %v; want 7", v, err)
	}
}

func TestRing_RewindBetweenPeriodsPastOldestResets(t *testing.T) {
	r, dev := newRing(t, 10)

	for i := uint32(0); i < 3; i++ {
		mustAdd(t, r, dev, int32(i+1), t0+i*hour)
	}
	// Half an hour before the oldest record.
	mustAdd(t, r, dev, 5, t0-1800)

	h := r.Header()
	if h.Size != 1 || h.OffsetOfLast != 0 || h.TimeOfLast != t0-1800 {
		t.Errorf("expected a restarted ring, got %+v", h)
	}
	expectFind(t, r, dev, t0-1800, 5)
}

func TestRing_RewindAcrossWrap(t *testing.T) {
	r, dev := newRing(t, 4)

	for i := uint32(0); i < 6; i++ {
		mustAdd(t, r, dev, int32(i), t0+i*hour)
	}
	// offset_of_last is 1; two steps back wraps to 3.
	mustAdd(t, r, dev, 40, t0+3*hour)

	h := r.Header()
	if h.OffsetOfLast != 3 || h.Size != 2 {
		t.Fatalf("unexpected header: %+v", h)
	}
	expectFind(t, r, dev, t0+2*hour, 2)
	expectFind(t, r, dev, t0+3*hour, 40)
}

func TestRing_RewindPastOldestResets(t *testing.T) {
	r, dev := newRing(t, 10)

	for i := uint32(0); i < 3; i++ {
		mustAdd(t, r, dev, int32(i), t0+i*hour)
	}
	mustAdd(t, r, dev, 77, t0-10*hour)

	h := r.Header()
	if h.Size != 1 || h.OffsetOfLast != 0 || h.TimeOfLast != t0-10*hour {
		t.Errorf("expected a restarted ring, got %+v", h)
	}
	expectFind(t, r, dev, t0-10*hour, 77)
}

func TestRing_Records(t *testing.T) {
	r, dev := newRing(t, 3)

	if recs, err := r.Records(dev); err != nil || len(recs) != 0 {
		t.Fatalf("expected no records, got %v, %v", recs, err)
	}

	for i := uint32(0); i < 4; i++ {
		mustAdd(t, r, dev, int32(10*i), t0+i*hour)
	}

	recs, err := r.Records(dev)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, rec := range recs {
		wantTS := t0 + uint32(i+1)*hour
		wantV := int32(10 * (i + 1))
		if rec.Timestamp != wantTS || rec.Value != wantV {
			t.Errorf("record %d: expected {%d %d}, got %+v", i, wantTS, wantV, rec)
		}
	}
}

func TestRing_Timestamps(t *testing.T) {
	r, dev := newRing(t, 10)

	if _, err := r.LastTimestamp(); !errors.Is(err, errors.ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
	if _, err := r.FirstTimestamp(); !errors.Is(err, errors.ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
	if _, err := r.LastValue(dev); !errors.Is(err, errors.ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}

	mustAdd(t, r, dev, 1, t0)
	mustAdd(t, r, dev, 2, t0+hour)
	mustAdd(t, r, dev, 3, t0+2*hour)

	first, _ := r.FirstTimestamp()
	last, _ := r.LastTimestamp()
	if first != t0 {
		t.Errorf("expected first %d, got %d", t0, first)
	}
	if last != t0+2*hour {
		t.Errorf("expected last %d, got %d", t0+2*hour, last)
	}
	if v, _ := r.LastValue(dev); v != 3 {
		t.Errorf("expected last value 3, got %d", v)
	}
}

func TestRing_Reset(t *testing.T) {
	r, dev := newRing(t, 10)

	mustAdd(t, r, dev, 1, t0)
	mustAdd(t, r, dev, 2, t0+hour)

	if err := r.Reset(dev); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !r.Empty() {
		t.Error("expected empty ring")
	}
	expectMissing(t, r, dev, t0)

	reopened, err := Open(dev, r.Config())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reopened.Empty() {
		t.Errorf("expected reset to persist, got %+v", reopened.Header())
	}
}

func TestRing_Persistence(t *testing.T) {
	r, dev := newRing(t, 10)

	for i := uint32(0); i < 4; i++ {
		mustAdd(t, r, dev, int32(-5*int(i)), t0+i*hour)
	}

	reopened, err := Open(dev, r.Config())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Header() != r.Header() {
		t.Errorf("expected %+v, got %+v", r.Header(), reopened.Header())
	}
	expectFind(t, reopened, dev, t0+3*hour, -15)
}

func TestOpen_CorruptHeader(t *testing.T) {
	r, dev := newRing(t, 10)
	mustAdd(t, r, dev, 1, t0)

	// Flip one bit of the stored size.
	b := make([]byte, 1)
	_ = dev.Read(0, b)
	b[0] ^= 0x04
	_ = dev.Write(0, b)

	reopened, err := Open(dev, r.Config())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reopened.Empty() {
		t.Errorf("expected empty ring, got %+v", reopened.Header())
	}
}

func TestOpen_HeaderOutOfBounds(t *testing.T) {
	dev := device.NewMemory(Footprint(4))
	_ = dev.Write(0, Encode(Header{Size: 9, OffsetOfLast: 1, TimeOfLast: t0}))

	r, err := Open(dev, Config{Capacity: 4, Interval: hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !r.Empty() {
		t.Errorf("expected empty ring, got %+v", r.Header())
	}
}

func TestOpen_StorageError(t *testing.T) {
	faulty := testutil.NewFaultyStorage(device.NewMemory(Footprint(4)))
	faulty.FailReads(true)

	_, err := Open(faulty, Config{Capacity: 4, Interval: hour})
	if !errors.Is(err, errors.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("expected cause to be kept, got %v", err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	dev := device.NewMemory(64)

	for _, cfg := range []Config{
		{Capacity: 0, Interval: hour},
		{Capacity: 4, Interval: 0},
		{Capacity: 4, Interval: 90},
	} {
		if _, err := Open(dev, cfg); !errors.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", cfg, err)
		}
	}
}

func TestAdd_HeaderWriteFailure(t *testing.T) {
	faulty := testutil.NewFaultyStorage(device.NewMemory(Footprint(4)))
	r, err := Open(faulty, Config{Capacity: 4, Interval: hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAdd(t, r, faulty, 1, t0)
	before := r.Header()

	// The record write succeeds, the header write does not.
	faulty.FailWritesAfter(1)
	err = r.Add(faulty, 2, t0+hour)
	if !errors.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if r.Header() != before {
		t.Errorf("header advanced despite failure: %+v", r.Header())
	}

	faulty.Heal()
	mustAdd(t, r, faulty, 2, t0+hour)
	expectFind(t, r, faulty, t0+hour, 2)
	expectFind(t, r, faulty, t0, 1)
}

func TestRing_GapFillBetweenPeriods(t *testing.T) {
	r, dev := newRing(t, 10)

	mustAdd(t, r, dev, 7, t0)
	mustAdd(t, r, dev, 9, t0+2*hour+1800)

	// Placeholders go in while more than one interval remains, so t0+1h
	// and t0+2h get one each and the sample follows half an hour later.
	h := r.Header()
	if h.Size != 4 || h.OffsetOfLast != 3 || h.TimeOfLast != t0+2*hour+1800 {
		t.Fatalf("unexpected header: %+v", h)
	}
	records, err := r.Records(dev)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	want := []int32{7, 0, 0, 9}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, rec := range records {
		if rec.Value != want[i] {
			t.Errorf("record %d: expected %d, got %d", i, want[i], rec.Value)
		}
	}
	expectFind(t, r, dev, t0+2*hour+1800, 9)
}

func TestAdd_GapFillInterrupted(t *testing.T) {
	mem := device.NewMemory(Footprint(10))
	faulty := testutil.NewFaultyStorage(mem)
	cfg := Config{Capacity: 10, Interval: hour}
	r, err := Open(faulty, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAdd(t, r, faulty, 1, t0)

	// First placeholder and its header land; the second placeholder fails.
	faulty.FailWritesAfter(2)
	err = r.Add(faulty, 9, t0+4*hour)
	if !errors.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}

	want := Header{Size: 2, OffsetOfLast: 1, TimeOfLast: t0 + hour}
	got := r.Header()
	got.CRC = 0
	if got != want {
		t.Errorf("in-memory header = %+v, want %+v", got, want)
	}

	reopened, err := Open(mem, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got = reopened.Header()
	got.CRC = 0
	if got != want {
		t.Errorf("persisted header = %+v, want %+v", got, want)
	}
	expectFind(t, reopened, mem, t0, 1)
	expectFind(t, reopened, mem, t0+hour, 0)
	expectMissing(t, reopened, mem, t0+2*hour)
}

func TestAdd_NormalizesToMinute(t *testing.T) {
	r, dev := newRing(t, 10)

	mustAdd(t, r, dev, 3, t0+59)
	if r.Header().TimeOfLast != t0 {
		t.Errorf("expected time %d, got %d", t0, r.Header().TimeOfLast)
	}
	expectFind(t, r, dev, t0+1, 3)
}
