package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/leadline/pkg/core/audio"
)

// Decoder turns a transport audio chunk into a playable buffer. Decodes may
// run concurrently and finish in any order.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Buffer, error)
}

// PCMDecoder decodes raw PCM16 chunks.
type PCMDecoder struct {
	SampleRateHz int
	Channels     int
}

func (d PCMDecoder) Decode(ctx context.Context, data []byte) (*audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return audio.DecodePCM16(data, d.SampleRateHz, d.Channels), nil
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Workers int
	Logger  *slog.Logger

	// OnScheduled, if set, is called for every admitted buffer with its start
	// time on the output clock.
	OnScheduled func(seq uint64, start time.Duration, buf *audio.Buffer)
}

// Queue decodes inbound chunks concurrently but admits them to the Scheduler
// strictly in arrival order. Each chunk gets a sequence number when it is
// enqueued; decode n+1 is held back until decode n has been admitted.
type Queue struct {
	sched   *Scheduler
	decoder Decoder
	cfg     QueueConfig
	logger  *slog.Logger

	jobs   chan decodeJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	nextSeq   uint64
	nextAdmit uint64
	completed map[uint64]*audio.Buffer
	closed    bool
}

type decodeJob struct {
	seq  uint64
	data []byte
}

func NewQueue(sched *Scheduler, decoder Decoder, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sched:     sched,
		decoder:   decoder,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan decodeJob, 256),
		ctx:       ctx,
		cancel:    cancel,
		completed: make(map[uint64]*audio.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue assigns the chunk the next sequence number and hands it to the
// decode workers. It returns the assigned sequence number.
func (q *Queue) Enqueue(data []byte) uint64 {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	seq := q.nextSeq
	q.nextSeq++
	q.mu.Unlock()

	select {
	case q.jobs <- decodeJob{seq: seq, data: data}:
	case <-q.ctx.Done():
	}
	return seq
}

// Interrupt discards every chunk that arrived before the call, decoded or not,
// and interrupts the scheduler.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	clear(q.completed)
	q.nextAdmit = q.nextSeq
	q.mu.Unlock()

	q.sched.Interrupt()
}

// Pending returns the number of chunks enqueued but not yet admitted.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.nextSeq - q.nextAdmit)
}

// Close stops the decode workers and the scheduler.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.sched.Close()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			buf, err := q.decoder.Decode(q.ctx, job.data)
			if err != nil {
				if q.ctx.Err() != nil {
					return
				}
				q.logger.Warn("audio decode failed", "seq", job.seq, "error", err)
				buf = nil
			}
			q.complete(job.seq, buf)
		}
	}
}

func (q *Queue) complete(seq uint64, buf *audio.Buffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || seq < q.nextAdmit {
		return
	}
	q.completed[seq] = buf

	skipped := false
	for {
		next, ok := q.completed[q.nextAdmit]
		if !ok {
			break
		}
		delete(q.completed, q.nextAdmit)
		admitted := q.nextAdmit
		q.nextAdmit++
		// A failed decode leaves a gap rather than stalling the queue.
		if next == nil {
			skipped = true
			continue
		}
		start, err := q.sched.Schedule(next)
		if err != nil {
			return
		}
		skipped = false
		if q.cfg.OnScheduled != nil {
			q.cfg.OnScheduled(admitted, start, next)
		}
	}

	// A trailing gap ends the stream without any voice ending.
	if skipped && q.nextAdmit == q.nextSeq {
		q.sched.notifyIfIdle()
	}
}
