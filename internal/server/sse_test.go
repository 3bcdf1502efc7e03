package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/icgate/internal/events"
	"github.com/alfredjeanlab/icgate/internal/model"
)

func publish(t *testing.T, h *Hub, topic string, event any) {
	t.Helper()
	if err := h.Publish(context.Background(), topic, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func gateAdvanced(dealID string, seq int64) events.GateAdvanced {
	return events.GateAdvanced{DealID: dealID, From: model.GateScreen, To: model.GateIOI, Actor: "x", Seq: seq}
}

func receive(t *testing.T, c *sseClient) *sseEvent {
	t.Helper()
	select {
	case evt := <-c.ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNone(t *testing.T, c *sseClient) {
	t.Helper()
	select {
	case evt := <-c.ch:
		t.Fatalf("unexpected event %s", evt.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishAndReceive(t *testing.T) {
	hub := NewHub()
	client := hub.subscribe(nil, "")
	defer hub.unsubscribe(client)

	publish(t, hub, events.TopicGateAdvanced, gateAdvanced("deal-1", 7))

	evt := receive(t, client)
	if evt.Topic != events.TopicGateAdvanced || evt.DealID != "deal-1" || evt.ID != 1 {
		t.Fatalf("event = %+v", evt)
	}
	if !strings.Contains(string(evt.Data), `"seq":7`) {
		t.Errorf("data = %s", evt.Data)
	}
}

func TestHub_Filters(t *testing.T) {
	hub := NewHub()
	votes := hub.subscribe([]string{"icgate.vote.*"}, "")
	deal2 := hub.subscribe(nil, "deal-2")
	defer hub.unsubscribe(votes)
	defer hub.unsubscribe(deal2)

	publish(t, hub, events.TopicGateAdvanced, gateAdvanced("deal-1", 1))
	publish(t, hub, events.TopicVoteCast, events.VoteCast{Vote: &model.Vote{DealID: "deal-2"}, Seq: 2})

	if evt := receive(t, votes); evt.Topic != events.TopicVoteCast {
		t.Errorf("votes client got %s", evt.Topic)
	}
	expectNone(t, votes)

	if evt := receive(t, deal2); evt.DealID != "deal-2" {
		t.Errorf("deal client got %+v", evt)
	}
	expectNone(t, deal2)
}

func TestHub_EventsSince(t *testing.T) {
	hub := NewHub()
	for i := range 5 {
		publish(t, hub, events.TopicGateAdvanced, gateAdvanced("deal-1", int64(i+1)))
	}

	evts := hub.eventsSince(2)
	if len(evts) != 3 || evts[0].ID != 3 || evts[2].ID != 5 {
		t.Fatalf("eventsSince(2) = %d events", len(evts))
	}
	if len(hub.eventsSince(5)) != 0 {
		t.Error("expected nothing after the newest id")
	}
	if len(NewHub().eventsSince(0)) != 0 {
		t.Error("expected empty ring")
	}
}

func TestHub_RingBufferWrap(t *testing.T) {
	hub := NewHub()
	total := sseRingBufferSize + 10
	for i := range total {
		hub.broadcast(events.TopicVoteCast, "deal-1", []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}
	evts := hub.eventsSince(0)
	if len(evts) != sseRingBufferSize {
		t.Fatalf("expected %d buffered events, got %d", sseRingBufferSize, len(evts))
	}
	if evts[0].ID != 11 || evts[len(evts)-1].ID != uint64(total) {
		t.Errorf("oldest %d newest %d", evts[0].ID, evts[len(evts)-1].ID)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	client := hub.subscribe(nil, "")
	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-client.ch; ok {
		t.Error("client channel should be closed")
	}
	if err := hub.Publish(context.Background(), events.TopicVoteCast, gateAdvanced("d", 1)); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Publish after Close = %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	late := hub.subscribe(nil, "")
	if _, ok := <-late.ch; ok {
		t.Error("subscription after Close should be closed")
	}
}

func TestMatchTopicPattern(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"icgate.vote.cast", "icgate.vote.cast", true},
		{"icgate.vote.*", "icgate.vote.cast", true},
		{"icgate.*", "icgate.vote.cast", false},
		{"icgate.>", "icgate.vote.cast", true},
		{"icgate.>", "icgate", false},
		{"icgate.*.advanced", "icgate.gate.advanced", true},
		{"icgate.deal.created", "icgate.deal", false},
	}
	for _, tt := range tests {
		if got := matchTopicPattern(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("matchTopicPattern(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

// readSSE reads "event:" lines from an SSE stream until n have arrived.
func readSSE(t *testing.T, sc *bufio.Scanner, n int) []string {
	t.Helper()
	var topics []string
	for len(topics) < n && sc.Scan() {
		if topic, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
			topics = append(topics, topic)
		}
	}
	if len(topics) < n {
		t.Fatalf("stream ended after %v: %v", topics, sc.Err())
	}
	return topics
}

func TestHandleEventStream_CommittedChanges(t *testing.T) {
	e := newTestEnv(t, "")
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/stream?deal=deal-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(time.Second)
	for e.hub.clientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	e.do(t, http.MethodPost, "/v1/deals", map[string]any{"id": "deal-2", "actor": "analyst"})
	e.do(t, http.MethodPost, "/v1/deals", map[string]any{"id": "deal-1", "actor": "analyst"})
	// Rejected commands announce nothing.
	e.do(t, http.MethodPost, "/v1/advance", map[string]any{"deal_id": "deal-1", "target": "ioi", "actor": "x"})
	e.passScreen(t, "deal-1")

	got := readSSE(t, bufio.NewScanner(resp.Body), 4)
	want := []string{events.TopicDealCreated, events.TopicArtifactSubmitted, events.TopicVoteCast, events.TopicVoteCast}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("topics = %v, want %v", got, want)
		}
	}
}

func TestHandleEventStream_LastEventID(t *testing.T) {
	e := newTestEnv(t, "")
	for i := range 3 {
		publish(t, e.hub, events.TopicGateAdvanced, gateAdvanced("deal-1", int64(i+1)))
	}

	ts := httptest.NewServer(e.handler)
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/stream", nil)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	var ids []string
	for len(ids) < 2 && sc.Scan() {
		if id, ok := strings.CutPrefix(sc.Text(), "id:"); ok {
			ids = append(ids, id)
		}
	}
	if strings.Join(ids, ",") != "2,3" {
		t.Fatalf("replayed ids = %v", ids)
	}
}

func TestHandleEventStream_Disabled(t *testing.T) {
	e := newTestEnv(t, "")
	e.srv.hub = nil
	rec := httptest.NewRecorder()
	e.srv.handleEventStream(rec, httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
}
