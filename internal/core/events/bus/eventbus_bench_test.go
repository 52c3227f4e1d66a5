package bus

import (
	"strconv"
	"sync/atomic"
	"testing"
)

// The publish path sits on the session unlock path, so its cost is paid
// by every request that leaves work behind. Keep an eye on allocations.

func countingHandler(c *int64) Handler {
	return func(Event) error {
		atomic.AddInt64(c, 1)
		return nil
	}
}

func BenchmarkPublishSingleSubscriber(b *testing.B) {
	bus := New()
	var c int64
	_, _ = bus.Subscribe("s1", FlushPending, countingHandler(&c))
	e := NewEvent(FlushPending, "s1", 1)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(e)
	}
	b.StopTimer()
	_ = c
}

func BenchmarkPublishManySessions(b *testing.B) {
	for _, sessions := range []int{1, 16, 256} {
		b.Run("sessions="+strconv.Itoa(sessions), func(b *testing.B) {
			bus := New()
			var c int64
			ids := make([]string, sessions)
			for i := range ids {
				ids[i] = "s" + strconv.Itoa(i)
				_, _ = bus.Subscribe(ids[i], FlushPending, countingHandler(&c))
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = bus.Publish(NewEvent(FlushPending, ids[i%sessions], 1))
			}
			b.StopTimer()
			_ = c
		})
	}
}

func BenchmarkConcurrentPublishers(b *testing.B) {
	bus := New()
	var c int64
	_, _ = bus.Subscribe("s1", FlushPending, countingHandler(&c))
	e := NewEvent(FlushPending, "s1", 1)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = bus.Publish(e)
		}
	})
	_ = c
}
