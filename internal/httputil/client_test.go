package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sheetURL = "https://docs.google.com/spreadsheets/d/abc/export?format=csv"

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	client := NewStandardClient(customClient)

	if client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}

	if NewStandardClient(nil).Client != http.DefaultClient {
		t.Error("expected nil to select http.DefaultClient")
	}
}

func TestStandardClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("shot,energy\n1,2.5\n"))
	}))
	defer server.Close()

	resp, err := NewStandardClient(nil).Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "shot,energy\n1,2.5\n" {
		t.Errorf("got body %q", body)
	}
}

func TestMockHTTPClient_Get(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "shot\n1\n")

	resp, err := mock.Get(sheetURL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "shot\n1\n" {
		t.Errorf("got body %q", string(body))
	}

	if mock.RequestCount() != 1 {
		t.Errorf("got %d requests, want 1", mock.RequestCount())
	}
	if got := mock.GetRequest(0).URL.String(); got != sheetURL {
		t.Errorf("got request URL %q", got)
	}
	if mock.GetRequest(1) != nil {
		t.Error("expected nil for out of range request")
	}
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "").
		AddErrorResponse(errors.New("connection reset")).
		AddResponse(http.StatusOK, "ok")

	resp, _ := mock.Get(sheetURL)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("first: got status %d", resp.StatusCode)
	}
	if _, err := mock.Get(sheetURL); err == nil {
		t.Error("second: expected error")
	}
	resp, _ = mock.Get(sheetURL)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("third: got status %d", resp.StatusCode)
	}

	// queue exhausted: default 200
	resp, _ = mock.Get(sheetURL)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("default: got status %d", resp.StatusCode)
	}
}

func TestMockHTTPClient_Routes(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddRoute(sheetURL, http.StatusOK, "routed")
	mock.AddResponse(http.StatusNotFound, "")

	for i := 0; i < 2; i++ {
		resp, err := mock.Get(sheetURL)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "routed" {
			t.Errorf("got body %q", body)
		}
	}

	resp, _ := mock.Get("https://example.com/other")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unrouted URL should use the queue, got %d", resp.StatusCode)
	}
}

func TestMockHTTPClient_CancelledContext(t *testing.T) {
	mock := NewMockHTTPClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, sheetURL, nil)
	if _, err := mock.Do(req); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMockHTTPClient_DoFuncAndReset(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("custom")
	}
	if _, err := mock.Get(sheetURL); err == nil || err.Error() != "custom" {
		t.Errorf("expected custom error, got %v", err)
	}

	mock.DefaultError = errors.New("default")
	mock.Reset()
	if mock.RequestCount() != 0 || mock.DoFunc != nil || mock.DefaultError != nil {
		t.Error("Reset should clear state")
	}
}
