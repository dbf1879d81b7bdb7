package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Publisher emits run progress events over a broker. Publishing is
// fire-and-forget: a broker outage degrades live progress, it never fails the
// run, so errors are logged and swallowed.
type Publisher struct {
	broker scraper.Broker
	logger *zap.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(broker scraper.Broker, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{broker: broker, logger: logger}
}

// Status publishes a lifecycle or counter update for the run.
func (p *Publisher) Status(ctx context.Context, runID string, payload StatusPayload) {
	p.publish(ctx, runID, TypeStatus, payload)
}

// Record publishes the extracted data of one successful URL.
func (p *Publisher) Record(ctx context.Context, runID string, data scraper.ResultData) {
	p.publish(ctx, runID, TypeRecord, data)
}

// URLError publishes a per-URL failure.
func (p *Publisher) URLError(ctx context.Context, runID, url string, errText string) {
	p.publish(ctx, runID, TypeURLError, URLErrorPayload{URL: url, Error: errText})
}

func (p *Publisher) publish(ctx context.Context, runID string, t Type, payload any) {
	raw, err := Encode(t, payload)
	if err != nil {
		p.logger.Warn("encode event failed",
			zap.String("run_id", runID),
			zap.String("event_type", string(t)),
			zap.Error(err),
		)
		return
	}
	if err := p.broker.Publish(ctx, scraper.RunChannel(runID), raw); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("run_id", runID),
			zap.String("event_type", string(t)),
			zap.Error(err),
		)
	}
}
