package service

import (
	"sync"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
)

// snapshotKey identifies one published snapshot.
type snapshotKey struct {
	res models.Resolution
	day string // YYYYMMDD
}

func newSnapshotKey(res models.Resolution, day time.Time) snapshotKey {
	return snapshotKey{res: res, day: day.UTC().Format("20060102")}
}

func (k snapshotKey) String() string {
	return k.res.String() + ":" + k.day
}

// loadWatch counts grid loads in flight per snapshot. Every load that starts while the
// same snapshot is already loading is counted in sstGridLoadStampedeTotal for its resolution.
type loadWatch struct {
	mu       sync.Mutex
	inFlight map[snapshotKey]int
}

func newLoadWatch() *loadWatch {
	return &loadWatch{inFlight: make(map[snapshotKey]int)}
}

// begin registers a load of key. It returns how many loads of the snapshot are now in
// flight, including this one, and the func that ends the load.
func (w *loadWatch) begin(key snapshotKey) (int, func()) {
	w.mu.Lock()
	w.inFlight[key]++
	n := w.inFlight[key]
	w.mu.Unlock()

	if n > 1 {
		observability.GridLoadStampedeTotal.WithLabelValues(key.res.String()).Inc()
	}

	var once sync.Once
	return n, func() {
		once.Do(func() { w.end(key) })
	}
}

func (w *loadWatch) end(key snapshotKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[key] <= 1 {
		delete(w.inFlight, key)
		return
	}
	w.inFlight[key]--
}

// loading returns the number of loads of key in flight.
func (w *loadWatch) loading(key snapshotKey) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight[key]
}
