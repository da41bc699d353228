package clock

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TimeProbe answers a single round-trip time query against the remote
// device's clock endpoint. Implemented by the stroker SDK.
type TimeProbe interface {
	ServerTimeMs(ctx context.Context) (int64, error)
}

type sample struct {
	rtt    int64
	offset float64
}

// Synchronizer maintains an estimated offset between the local clock and
// the networked device's clock from round-trip probe samples. The offset
// is defined only while the device is connected; Invalidate clears it.
type Synchronizer struct {
	probe      TimeProbe
	probeCount int
	trimRatio  float64

	nowMs func() int64

	mu       sync.Mutex
	offsetMs float64
	valid    bool
}

// NewSynchronizer creates a synchronizer issuing probeCount probes per
// round and keeping the best trimRatio fraction of samples by RTT.
// probe may be nil and supplied later via SetProbe; the stroker client
// both consumes the offset and answers the probes.
func NewSynchronizer(probe TimeProbe, probeCount int, trimRatio float64) *Synchronizer {
	return &Synchronizer{
		probe:      probe,
		probeCount: probeCount,
		trimRatio:  trimRatio,
		nowMs:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SetProbe installs the probe target. Must be called before the first
// Synchronize.
func (s *Synchronizer) SetProbe(probe TimeProbe) {
	s.mu.Lock()
	s.probe = probe
	s.mu.Unlock()
}

// Synchronize runs one full probe round and updates the stored offset.
// It never returns an error: individual probe failures are skipped, and
// a round with zero successful samples leaves the previous offset in
// place so a flaky probe never blocks connection setup.
func (s *Synchronizer) Synchronize(ctx context.Context) {
	s.synchronize(ctx, 0)
}

// Resynchronize runs a drift-correction round with an RTT trust filter:
// samples with RTT above filter times the round's best RTT are discarded
// before averaging. A loose filter keeps more samples and converges
// faster right after network activity; a tight filter rejects noise.
func (s *Synchronizer) Resynchronize(ctx context.Context, filter float64) {
	s.synchronize(ctx, filter)
}

func (s *Synchronizer) synchronize(ctx context.Context, filter float64) {
	samples := s.collect(ctx)
	if len(samples) == 0 {
		slog.Debug("clock sync round produced no samples, keeping previous offset")
		return
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].rtt < samples[j].rtt })

	if filter > 0 {
		best := samples[0].rtt
		kept := samples[:0]
		for _, sm := range samples {
			if float64(sm.rtt) <= filter*float64(best) {
				kept = append(kept, sm)
			}
		}
		samples = kept
	} else if len(samples) > 3 {
		// Keep only the best 80% by RTT; tail-latency outliers bias the offset.
		keep := int(float64(len(samples)) * s.trimRatio)
		if keep < 1 {
			keep = 1
		}
		samples = samples[:keep]
	}

	var sum float64
	for _, sm := range samples {
		sum += sm.offset
	}
	offset := sum / float64(len(samples))

	s.mu.Lock()
	s.offsetMs = offset
	s.valid = true
	s.mu.Unlock()

	slog.Debug("clock offset updated", "offset_ms", offset, "samples", len(samples))
}

// collect issues sequential probes, recording departure and arrival
// locally and the remote-reported time from each response.
func (s *Synchronizer) collect(ctx context.Context) []sample {
	s.mu.Lock()
	probe := s.probe
	s.mu.Unlock()
	if probe == nil {
		return nil
	}

	samples := make([]sample, 0, s.probeCount)
	for i := 0; i < s.probeCount; i++ {
		if ctx.Err() != nil {
			break
		}
		departure := s.nowMs()
		remote, err := probe.ServerTimeMs(ctx)
		if err != nil {
			slog.Debug("clock probe failed", "probe", i, "error", err)
			continue
		}
		arrival := s.nowMs()
		rtt := arrival - departure
		offset := float64(remote) + float64(rtt)/2 - float64(arrival)
		samples = append(samples, sample{rtt: rtt, offset: offset})
	}
	return samples
}

// Offset returns the current offset and whether it is defined.
func (s *Synchronizer) Offset() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetMs, s.valid
}

// EstimateRemoteNow returns the current time in the remote clock's frame.
func (s *Synchronizer) EstimateRemoteNow() int64 {
	return s.TranslateLocalToRemote(s.nowMs())
}

// TranslateLocalToRemote converts a local timestamp to the remote
// clock's frame by simple addition of the stored offset.
func (s *Synchronizer) TranslateLocalToRemote(localMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return localMs + int64(s.offsetMs)
}

// Invalidate clears the offset. Called when the networked device
// disconnects: the offset is defined only for the life of a connection.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.offsetMs = 0
	s.valid = false
	s.mu.Unlock()
}
