package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"panelworks/stevedore/pkg/clients"
)

func newTestClient(t *testing.T, serverURL, method string) *Client {
	t.Helper()
	spec, err := NewSpec(serverURL, "test-key", method, 5)
	if err != nil {
		t.Fatalf("failed to build spec: %v", err)
	}
	retryConfig := clients.DefaultRetryConfig()
	retryConfig.MaxRetries = 0
	return NewClient(Config{
		Spec:        spec,
		Logger:      logrus.New(),
		RetryConfig: &retryConfig,
	})
}

func TestClientAddOrderPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostFormValue("key") != "test-key" {
			t.Errorf("expected api key in body, got %q", r.PostFormValue("key"))
		}
		if r.PostFormValue("action") != "add" {
			t.Errorf("expected action add, got %q", r.PostFormValue("action"))
		}
		w.Write([]byte(`{"order": 90210, "charge": "1.25"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "POST")
	result, err := client.AddOrder(context.Background(), "101", "https://example.com/p/1", 500, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID != "90210" {
		t.Errorf("expected order id 90210, got %q", result.OrderID)
	}
	if result.Charge != 1.25 {
		t.Errorf("expected charge 1.25, got %v", result.Charge)
	}
}

func TestClientOrderStatusGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("action") != "status" || q.Get("order") != "90210" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`{"status": "Completed", "remains": "0", "start_count": "1000", "charge": "1.25"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "GET")
	result, err := client.OrderStatus(context.Background(), "90210")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("expected completed, got %q", result.Status)
	}
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "POST")
	_, err := client.AddOrder(context.Background(), "101", "https://example.com/p/1", 500, 0, 0)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if transportErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", transportErr.StatusCode)
	}
}

func TestClientParseErrorDistinctFromTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "Invalid API key"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "POST")
	_, err := client.AddOrder(context.Background(), "101", "https://example.com/p/1", 500, 0, 0)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		t.Error("ParseError should not match TransportError")
	}
}

func TestClientUnreachableProvider(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", "POST")
	_, err := client.Balance(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}
