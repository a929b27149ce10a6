package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/hostpanel/internal/audit"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
		contentType    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "devpanel-actions")
	rec := audit.Record{
		TS:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Action:  "delete",
		Status:  "warning",
		Context: map[string]any{"project": "core.loc", "reason": "delete_guard"},
	}
	if err := sink.Send(context.Background(), rec); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/devpanel-actions/_doc" {
		t.Errorf("Unexpected URL path %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("Unexpected content type %q", contentType)
	}
	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc["action"] != "delete" || doc["status"] != "warning" || doc["ts"] != "2026-01-01T00:00:00Z" {
		t.Errorf("Unexpected document %v", doc)
	}
	ctx, _ := doc["context"].(map[string]any)
	if ctx["reason"] != "delete_guard" {
		t.Errorf("Context not forwarded: %v", doc["context"])
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := New(server.URL, "idx").Send(context.Background(), audit.Record{Action: "x"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	sink := New("http://127.0.0.1:1", "idx")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Send(ctx, audit.Record{Action: "x"}); err == nil {
		t.Fatal("expected connection error")
	}
}
