package latest

import (
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/scalebridge/internal/types"
)

func TestStoreEmpty(t *testing.T) {
	s := New()
	if _, ok := s.Read(); ok {
		t.Fatal("Read() on empty store reported a value")
	}
}

func TestStoreReplace(t *testing.T) {
	s := New()
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	first := s.Replace(types.Measurement{Weight: 70, Units: "kg"}, at)
	second := s.Replace(types.Measurement{Weight: 71, Units: "kg"}, at.Add(time.Second))

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("sequence numbers = %d, %d; want 1, 2", first.Seq, second.Seq)
	}

	got, ok := s.Read()
	if !ok {
		t.Fatal("Read() reported no value after Replace")
	}
	if got != second {
		t.Errorf("Read() = %+v, want %+v", got, second)
	}
}

func TestStoreConcurrentReadersNeverTear(t *testing.T) {
	s := New()
	const writes = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeq uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := s.Read()
				if !ok {
					continue
				}
				// Each write sets Weight and Height from the same counter, so a
				// torn read would show them disagreeing.
				if snap.Measurement.Weight != snap.Measurement.Height.Value {
					t.Errorf("torn read: %+v", snap.Measurement)
					return
				}
				if snap.Seq < lastSeq {
					t.Errorf("sequence went backwards: %d after %d", snap.Seq, lastSeq)
					return
				}
				lastSeq = snap.Seq
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		v := float64(i)
		want := s.Replace(types.Measurement{Weight: v, Height: types.Some(v)}, time.Now())
		got, _ := s.Read()
		if got.Seq < want.Seq {
			t.Fatalf("read-after-write returned seq %d, want >= %d", got.Seq, want.Seq)
		}
	}
	close(stop)
	wg.Wait()
}
