package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studiodesk/studiodesk/pkg/logger"
)

func TestPublishReachesOnlyOwner(t *testing.T) {
	hub := NewHub(nil, logger.Discard())
	mine, cancelMine := hub.Subscribe("o1")
	defer cancelMine()
	other, cancelOther := hub.Subscribe("o2")
	defer cancelOther()

	hub.Publish("o1", Event{Type: EventCreated, AppointmentID: "a1", Date: "2026-05-01"})

	select {
	case ev := <-mine:
		if ev.AppointmentID != "a1" || ev.At.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case ev := <-other:
		t.Fatalf("foreign owner received %+v", ev)
	default:
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	hub := NewHub(nil, logger.Discard())
	events, cancel := hub.Subscribe("o1")
	defer cancel()

	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Publish("o1", Event{Type: EventUpdated, AppointmentID: "a"})
	}
	if n := hub.Subscribers("o1"); n != 0 {
		t.Fatalf("slow subscriber still registered: %d", n)
	}
	count := 0
	for range events {
		count++
	}
	if count != subscriberBuffer {
		t.Fatalf("expected %d buffered events before close, got %d", subscriberBuffer, count)
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	hub := NewHub(nil, logger.Discard())
	events, _ := hub.Subscribe("o1")
	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := <-events; ok {
		t.Fatal("channel should be closed")
	}
}

func TestServeWSStreamsEvents(t *testing.T) {
	hub := NewHub(nil, logger.Discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "o1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("o1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish("o1", Event{Type: EventDeleted, AppointmentID: "a9"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventDeleted || ev.AppointmentID != "a9" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestOriginAllowList(t *testing.T) {
	hub := NewHub([]string{"https://app.example.com"}, logger.Discard())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if hub.upgrader.CheckOrigin(req) {
		t.Fatal("foreign origin accepted")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !hub.upgrader.CheckOrigin(req) {
		t.Fatal("allowed origin rejected")
	}
}

func TestOriginMatchesCORSRules(t *testing.T) {
	cases := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{[]string{"*"}, "https://studio.example.com", true},
		{[]string{"https://App.Example.com/"}, "https://app.example.com", true},
		{[]string{"https://app.example.com"}, "https://APP.example.com/", true},
		{nil, "https://anything.example.com", true},
		{[]string{"https://app.example.com"}, "https://app.example.com.evil.test", false},
	}
	for _, tc := range cases {
		hub := NewHub(tc.allowed, logger.Discard())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", tc.origin)
		if got := hub.upgrader.CheckOrigin(req); got != tc.want {
			t.Fatalf("allowed=%v origin=%q: CheckOrigin=%v, want %v", tc.allowed, tc.origin, got, tc.want)
		}
	}
}
