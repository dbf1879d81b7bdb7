package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapewizard/scrapewizard/internal/config"
	"github.com/scrapewizard/scrapewizard/internal/events"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

type sseFrame struct {
	event string
	data  string
}

// readFrame consumes one "event:/data:" pair from the stream.
func readFrame(t *testing.T, scanner *bufio.Scanner) sseFrame {
	t.Helper()
	var frame sseFrame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			frame.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			frame.data = strings.TrimPrefix(line, "data: ")
		case line == "" && frame.event != "":
			return frame
		}
	}
	t.Fatalf("stream ended before a full frame: %v", scanner.Err())
	return frame
}

func streamSetup(t *testing.T) (*harness, *httptest.Server, scraper.Run) {
	t.Helper()
	h := newHarness(t, config.Config{})
	project := h.project(t)
	run, err := h.stores.Runs.CreateRun(context.Background(), scraper.Run{
		ProjectID: project.ID, Status: scraper.RunPending, URL: "https://a.test",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h.server.Handler())
	t.Cleanup(srv.Close)
	return h, srv, run
}

func TestStreamForwardsEvents(t *testing.T) {
	h, srv, run := streamSetup(t)
	channel := scraper.RunChannel(run.ID)

	resp, err := http.Get(srv.URL + "/runs/" + run.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return h.broker.SubscriberCount(channel) == 1
	}, time.Second, 5*time.Millisecond)

	raw, err := events.Encode(events.TypeStatus, events.StatusPayload{
		Status:           "running",
		RecordsExtracted: events.Int(0),
	})
	require.NoError(t, err)
	require.NoError(t, h.broker.Publish(context.Background(), channel, raw))

	scanner := bufio.NewScanner(resp.Body)
	frame := readFrame(t, scanner)
	require.Equal(t, "status", frame.event)
	require.JSONEq(t, `{"status": "running", "records_extracted": 0}`, frame.data)

	record, err := events.Encode(events.TypeRecord, scraper.ResultData{
		URL:   "https://a.test",
		Title: "Hello",
	})
	require.NoError(t, err)
	require.NoError(t, h.broker.Publish(context.Background(), channel, record))

	frame = readFrame(t, scanner)
	require.Equal(t, "record", frame.event)
	require.JSONEq(t, `{"url": "https://a.test", "title": "Hello"}`, frame.data)
}

func TestStreamEmitsErrorOnMalformedMessage(t *testing.T) {
	h, srv, run := streamSetup(t)
	channel := scraper.RunChannel(run.ID)

	resp, err := http.Get(srv.URL + "/runs/" + run.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return h.broker.SubscriberCount(channel) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.broker.Publish(context.Background(), channel, []byte("not json")))

	scanner := bufio.NewScanner(resp.Body)
	frame := readFrame(t, scanner)
	require.Equal(t, "error", frame.event)
	require.Contains(t, frame.data, "Malformed event data")

	// the stream survives the malformed message
	raw, err := events.Encode(events.TypeStatus, events.StatusPayload{Status: "completed"})
	require.NoError(t, err)
	require.NoError(t, h.broker.Publish(context.Background(), channel, raw))
	frame = readFrame(t, scanner)
	require.Equal(t, "status", frame.event)
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	h, srv, run := streamSetup(t)
	channel := scraper.RunChannel(run.ID)

	resp, err := http.Get(srv.URL + "/runs/" + run.ID + "/stream")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.broker.SubscriberCount(channel) == 1
	}, time.Second, 5*time.Millisecond)

	resp.Body.Close()

	require.Eventually(t, func() bool {
		return h.broker.SubscriberCount(channel) == 0
	}, 10*time.Second, 20*time.Millisecond)
}

func TestStreamUnknownRun(t *testing.T) {
	_, srv, _ := streamSetup(t)

	resp, err := http.Get(srv.URL + "/runs/nope/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
