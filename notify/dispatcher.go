package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Channel int

const (
	ChannelEmail Channel = iota
	ChannelTelegram
	channelCount
)

func (c Channel) String() string {
	switch c {
	case ChannelEmail:
		return "email"
	case ChannelTelegram:
		return "telegram"
	}
	return "unknown"
}

// Delivery is one fire-and-forget message.
type Delivery struct {
	Channel Channel
	Email   Email
	ChatID  int64
	Text    string
}

// Dispatcher runs one worker per channel so a slow SMTP relay never holds
// up Telegram broadcasts.
type Dispatcher struct {
	email    EmailSender
	telegram TelegramSender
	retry    RetryPolicy

	partitions []chan Delivery
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	stopOnce   sync.Once

	mu                 sync.RWMutex
	stopped            bool
	processed          uint64
	failed             uint64
	dropped            uint64
	processingDuration uint64
	bufferFillLevels   []int64
}

func NewDispatcher(email EmailSender, telegram TelegramSender, retry RetryPolicy, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	partitions := make([]chan Delivery, channelCount)
	for i := range partitions {
		partitions[i] = make(chan Delivery, buffer)
	}
	return &Dispatcher{
		email:            email,
		telegram:         telegram,
		retry:            retry,
		partitions:       partitions,
		ctx:              ctx,
		cancelFunc:       cancel,
		bufferFillLevels: make([]int64, channelCount),
	}
}

func (d *Dispatcher) Start() {
	logger.Get().Info("Starting notification dispatcher", zap.Int("partitions", len(d.partitions)))
	for i := range d.partitions {
		d.wg.Add(1)
		go d.worker(Channel(i))
	}
}

// Stop closes the queues and waits for queued deliveries to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		logger.Get().Info("Stopping notification dispatcher")
		d.mu.Lock()
		d.stopped = true
		for _, ch := range d.partitions {
			close(ch)
		}
		d.mu.Unlock()
		d.wg.Wait()
		d.cancelFunc()
	})
}

// Submit queues a delivery. It never blocks: a full queue drops the message.
func (d *Dispatcher) Submit(job Delivery) bool {
	if job.Channel < 0 || job.Channel >= channelCount {
		d.drop(job, "invalid channel")
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.dropLocked(job, "dispatcher stopped")
		return false
	}
	select {
	case d.partitions[job.Channel] <- job:
		d.bufferFillLevels[job.Channel]++
		metrics.DispatcherQueueDepth.WithLabelValues(job.Channel.String()).Inc()
		return true
	default:
		d.dropLocked(job, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(job Delivery, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropLocked(job, reason)
}

func (d *Dispatcher) dropLocked(job Delivery, reason string) {
	d.dropped++
	metrics.DeliveriesTotal.WithLabelValues(job.Channel.String(), "dropped").Inc()
	logger.Get().Warn("Delivery dropped",
		zap.String("channel", job.Channel.String()),
		zap.String("reason", reason))
}

func (d *Dispatcher) worker(ch Channel) {
	defer d.wg.Done()
	logger.Get().Info("Dispatcher worker started", zap.String("channel", ch.String()))

	for job := range d.partitions[ch] {
		d.mu.Lock()
		d.bufferFillLevels[ch]--
		d.mu.Unlock()
		metrics.DispatcherQueueDepth.WithLabelValues(ch.String()).Dec()

		startTime := time.Now()
		err := d.retry.do(d.ctx, func() error { return d.deliver(job) })

		d.mu.Lock()
		if err != nil {
			d.failed++
		} else {
			d.processed++
		}
		d.processingDuration += uint64(time.Since(startTime).Milliseconds())
		d.mu.Unlock()

		if err != nil {
			metrics.DeliveriesTotal.WithLabelValues(ch.String(), "failed").Inc()
			logger.Get().Error("Delivery failed",
				zap.String("channel", ch.String()),
				zap.Error(err))
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues(ch.String(), "sent").Inc()
	}
	logger.Get().Info("Dispatcher worker stopping", zap.String("channel", ch.String()))
}

func (d *Dispatcher) deliver(job Delivery) error {
	switch job.Channel {
	case ChannelEmail:
		return d.email.Send(d.ctx, job.Email)
	case ChannelTelegram:
		return d.telegram.SendMessage(d.ctx, job.ChatID, job.Text)
	}
	return nil
}

type DispatcherStats struct {
	Processed         uint64  `json:"messages_processed"`
	Failed            uint64  `json:"messages_failed"`
	Dropped           uint64  `json:"messages_dropped"`
	AvgProcessingTime float64 `json:"avg_processing_ms"`
	BufferLevels      []int64 `json:"buffer_levels"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var avg float64
	if done := d.processed + d.failed; done > 0 {
		avg = float64(d.processingDuration) / float64(done)
	}
	levels := make([]int64, len(d.bufferFillLevels))
	copy(levels, d.bufferFillLevels)
	return DispatcherStats{
		Processed:         d.processed,
		Failed:            d.failed,
		Dropped:           d.dropped,
		AvgProcessingTime: avg,
		BufferLevels:      levels,
	}
}

// MetricsHandler returns the current dispatcher counters as JSON
func (d *Dispatcher) MetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, d.Stats())
}
