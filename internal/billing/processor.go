package billing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"keyserve.app/cloud/internal/logger"
)

// Processor runs webhook events through the reconciler off the request path.
// The webhook endpoint acknowledges immediately; processing is best-effort
// and failures only show up in the logs and counters.
type Processor struct {
	reconciler *Reconciler
	timeout    time.Duration
	wg         sync.WaitGroup

	Received  atomic.Int64
	Applied   atomic.Int64
	Discarded atomic.Int64
	Failed    atomic.Int64
}

func NewProcessor(reconciler *Reconciler, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Processor{
		reconciler: reconciler,
		timeout:    timeout,
	}
}

// Enqueue hands an event off for asynchronous reconciliation. The inbound
// request context is deliberately not reused; the caller has already been
// answered.
func (p *Processor) Enqueue(ev Event) {
	p.Received.Inc()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		p.run(ctx, ev)
	}()
}

// Drain blocks until all enqueued events finished reconciling.
func (p *Processor) Drain() {
	p.wg.Wait()
}

func (p *Processor) run(ctx context.Context, ev Event) {
	applied, err := p.reconciler.Reconcile(ctx, ev)
	switch {
	case err != nil:
		p.Failed.Inc()
		logger.Error("Event reconciliation failed", map[string]interface{}{
			"subscription_id": ev.SubscriptionID,
			"event_status":    string(ev.Status),
			"error":           err.Error(),
		})
	case applied:
		p.Applied.Inc()
	default:
		p.Discarded.Inc()
	}
}
