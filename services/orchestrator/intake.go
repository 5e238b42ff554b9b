package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeshield/pkg/bus"
	"codeshield/services/scanner"
)

// busyRedelivery is how long JetStream waits before redelivering a request
// that hit the concurrency limit.
const busyRedelivery = 5 * time.Second

// Start subscribes to scan requests published on the bus. Requests are
// admitted through SubmitScan exactly like HTTP submissions.
func (o *Orchestrator) Start(ctx context.Context, sub Subscriber) error {
	if sub == nil {
		return errors.New("nil subscriber")
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{SubjectScanRequested, intakeDurable, o.handleScanRequested},
	}

	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, spec := range specs {
		s, err := sub.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
		if err != nil {
			for _, c := range o.subs {
				_ = c.Close()
			}
			o.subs = nil
			return fmt.Errorf("subscribe %s: %w", spec.subject, err)
		}
		o.subs = append(o.subs, s)
	}
	return nil
}

func (o *Orchestrator) closeSubscriptions() {
	o.subsMu.Lock()
	subs := o.subs
	o.subs = nil
	o.subsMu.Unlock()

	for _, s := range subs {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("close subscription")
		}
	}
}

func (o *Orchestrator) handleScanRequested(ctx context.Context, data []byte) error {
	var evt ScanRequestedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		o.logger.Warn().Err(err).Msg("drop malformed scan request")
		return fmt.Errorf("%w: decode scan request: %v", bus.ErrDrop, err)
	}

	id, err := o.SubmitScan(ctx, ScanRequest{Target: evt.Target, CodeHash: evt.CodeHash, Source: evt.Source})
	var verr *scanner.ValidationError
	switch {
	case err == nil:
		o.logger.Info().Str("scan_id", id).Str("target", evt.Target).Msg("scan request admitted from bus")
		return nil
	case errors.As(err, &verr):
		o.logger.Warn().Err(err).Str("target", evt.Target).Msg("drop invalid scan request")
		return fmt.Errorf("%w: %v", bus.ErrDrop, err)
	case errors.Is(err, scanner.ErrBusy), errors.Is(err, ErrClosed):
		return &bus.RetryAfter{Delay: busyRedelivery, Err: err}
	default:
		return err
	}
}
