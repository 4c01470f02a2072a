package device

import (
	"sync"
	"time"

	"github.com/vango-go/leadline/pkg/live/playback"
)

// Output is a per-call playback endpoint: a timeline plus whatever drives its
// clock (a speaker, a ticker, or a test).
type Output struct {
	*playback.Timeline

	once  sync.Once
	close func() error
}

// Close stops whatever drives the clock and closes the timeline.
func (o *Output) Close() error {
	var err error
	o.once.Do(func() {
		if o.close != nil {
			err = o.close()
		}
		if cerr := o.Timeline.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// NewManualOutput returns an output whose clock only moves when the caller
// calls Advance or Read on the timeline.
func NewManualOutput(sampleRateHz int) *Output {
	return &Output{Timeline: playback.NewTimeline(sampleRateHz)}
}

// NewHeadlessOutput returns an output whose clock follows wall time, rendered
// every tick and discarded (or recorded through the timeline tap).
func NewHeadlessOutput(sampleRateHz int, tick time.Duration) *Output {
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	tl := playback.NewTimeline(sampleRateHz)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				tl.Advance(now.Sub(last))
				last = now
			}
		}
	}()

	return &Output{
		Timeline: tl,
		close: func() error {
			close(stop)
			<-done
			return nil
		},
	}
}
