package transcript

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/router"
)

const (
	recorderQueueSize = 1024
	writeTimeout      = 5 * time.Second
)

type write struct {
	seq int64
	msg router.Message
}

// Recorder is a router.Observer that writes every change to a Repository on
// a single background goroutine, preserving order.
type Recorder struct {
	repo   Repository
	logger *logger.Logger

	mu     sync.Mutex
	seq    map[string]int64
	next   int64
	closed bool
	queue  chan write
	done   chan struct{}
}

var _ router.Observer = (*Recorder)(nil)

// NewRecorder starts a recorder writing to repo.
func NewRecorder(repo Repository, log *logger.Logger) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "transcript")),
		seq:    make(map[string]int64),
		queue:  make(chan write, recorderQueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Resume continues sequence numbers after messages loaded from the repository.
func (r *Recorder) Resume(msgs []router.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.next++
		r.seq[m.ID] = r.next
	}
}

func (r *Recorder) MessageAppended(msg router.Message) { r.enqueue(msg) }

func (r *Recorder) MessageUpdated(msg router.Message) { r.enqueue(msg) }

func (r *Recorder) enqueue(msg router.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	seq, ok := r.seq[msg.ID]
	if !ok {
		r.next++
		seq = r.next
		r.seq[msg.ID] = seq
	}
	// Blocking here applies backpressure to the update stream rather than
	// dropping transcript entries.
	r.queue <- write{seq: seq, msg: msg}
}

func (r *Recorder) run() {
	defer close(r.done)
	for w := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.UpsertMessage(ctx, w.seq, w.msg); err != nil {
			r.logger.Warn("failed to persist message",
				zap.String("message_id", w.msg.ID),
				zap.String("session_id", w.msg.SessionID),
				zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued writes and stops the recorder.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}
