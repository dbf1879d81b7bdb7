package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

func TestPublisherStatus(t *testing.T) {
	t.Parallel()

	broker := &fakeBroker{}
	pub := NewPublisher(broker, zap.NewNop())

	pub.Status(context.Background(), "run-1", StatusPayload{
		RecordsExtracted: Int(0),
		Status:           "running",
	})

	require.Len(t, broker.published, 1)
	require.Equal(t, "run:run-1", broker.published[0].channel)

	env, err := Decode(broker.published[0].message)
	require.NoError(t, err)
	require.Equal(t, TypeStatus, env.Type)
	require.JSONEq(t, `{"records_extracted":0,"status":"running"}`, string(env.Data))
}

func TestPublisherRecord(t *testing.T) {
	t.Parallel()

	broker := &fakeBroker{}
	pub := NewPublisher(broker, zap.NewNop())

	title := "Hello"
	pub.Record(context.Background(), "run-1", scraper.ResultData{
		URL:         "https://example.com",
		Title:       title,
		ExtractedAt: "2026-08-28T10:00:00Z",
		Fields:      map[string]*string{"title": &title},
	})

	require.Len(t, broker.published, 1)
	env, err := Decode(broker.published[0].message)
	require.NoError(t, err)
	require.Equal(t, TypeRecord, env.Type)

	var data scraper.ResultData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "https://example.com", data.URL)
	require.Equal(t, "Hello", *data.Fields["title"])
}

func TestPublisherURLError(t *testing.T) {
	t.Parallel()

	broker := &fakeBroker{}
	pub := NewPublisher(broker, zap.NewNop())

	pub.URLError(context.Background(), "run-9", "https://example.com/broken", "navigation timeout")

	require.Len(t, broker.published, 1)
	env, err := Decode(broker.published[0].message)
	require.NoError(t, err)
	require.Equal(t, TypeURLError, env.Type)
	require.JSONEq(t, `{"url":"https://example.com/broken","error":"navigation timeout"}`, string(env.Data))
}

func TestPublisherSwallowsBrokerErrors(t *testing.T) {
	t.Parallel()

	broker := &fakeBroker{err: errors.New("broker down")}
	pub := NewPublisher(broker, nil)

	// Must not panic or propagate.
	pub.Status(context.Background(), "run-1", StatusPayload{Status: "running"})
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("not json"))
	require.Error(t, err)

	_, err = Decode([]byte(`{"data":{}}`))
	require.ErrorContains(t, err, "missing type")
}

// --- fakes ---

type publishedMessage struct {
	channel string
	message []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, publishedMessage{channel: channel, message: message})
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (scraper.Subscription, error) {
	return nil, errors.New("not implemented")
}
