package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPPublisherSendsNDJSON(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	p := NewHTTPPublisher(server.URL, "ingest-token", "production", server.Client())
	err := p.Publish(t.Context(),
		Event{Type: TypeGeneration, AccountID: "acct-1", PollenAmount: 0.02, Timestamp: "2026-01-06T09:00:00Z"},
		Event{Type: TypeTierRefill, AccountID: "acct-2", Timestamp: "2026-01-06T09:00:00Z"},
	)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if gotContentType != "application/x-ndjson" {
		t.Errorf("content type %q", gotContentType)
	}
	if gotAuth != "Bearer ingest-token" {
		t.Errorf("authorization %q", gotAuth)
	}

	var lines []Event
	scanner := bufio.NewScanner(bytes.NewReader(gotBody))
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line not valid JSON: %q", scanner.Text())
		}
		lines = append(lines, ev)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 NDJSON lines, got %d", len(lines))
	}
	if lines[0].Type != TypeGeneration || lines[1].Type != TypeTierRefill {
		t.Errorf("unexpected events: %+v", lines)
	}
	if lines[0].Environment != "production" {
		t.Errorf("publisher must stamp its environment, got %q", lines[0].Environment)
	}
}

func TestHTTPPublisherKeepsExplicitEnvironment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev Event
		if err := json.Unmarshal(bytes.TrimSpace(body), &ev); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if ev.Environment != "staging" {
			t.Errorf("explicit environment must win, got %q", ev.Environment)
		}
	}))
	defer server.Close()

	p := NewHTTPPublisher(server.URL, "token", "production", server.Client())
	if err := p.Publish(t.Context(), Event{Type: TypeGeneration, Environment: "staging", Timestamp: "2026-01-06T09:00:00Z"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestHTTPPublisherReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	p := NewHTTPPublisher(server.URL, "token", "production", server.Client())
	if err := p.Publish(t.Context(), Event{Type: TypeGeneration}); err == nil {
		t.Error("non-2xx ingest status must surface as an error")
	}
}

func TestHTTPPublisherEmptyBatchIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	p := NewHTTPPublisher(server.URL, "token", "production", server.Client())
	if err := p.Publish(t.Context()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if called {
		t.Error("an empty batch must not produce a request")
	}
}

func TestFanoutPublishesToAllBackends(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()

	fanout := Fanout{a, b}
	if err := fanout.Publish(t.Context(), Event{Type: TypeGeneration}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("both sinks must receive the event: %d, %d", len(a.Events()), len(b.Events()))
	}
}

func TestPublishAsyncDoesNotBlock(t *testing.T) {
	sink := NewMemorySink()
	PublishAsync(sink, Event{Type: TypeTierChange})

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("async event never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Nil publishers and empty batches are tolerated silently.
	PublishAsync(nil, Event{Type: TypeTierChange})
	PublishAsync(sink)
}
