package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_StartSessionPostsArgs(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/voice/start" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type=%q", ct)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["caller_phone"] != "+39 333 1234567" {
			t.Errorf("body=%v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"S-1"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL+"/api/voice/", ts.Client())
	got, err := client.StartSession(context.Background(), map[string]any{"caller_phone": "+39 333 1234567", "agency_id": 1.0})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["session_id"] != "S-1" {
		t.Fatalf("result=%#v", got)
	}
}

func TestClient_PropertyInfoEscapesCode(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method=%s", r.Method)
		}
		if r.URL.EscapedPath() != "/property/RM%2F12%20A" {
			t.Errorf("path=%s", r.URL.EscapedPath())
		}
		_ = json.NewEncoder(w).Encode(PropertyInfo{Code: "RM/12 A", Price: "250000", Zone: "Prati", Type: "Trilocale"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, ts.Client())
	got, err := client.PropertyInfo(context.Background(), "RM/12 A")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.(map[string]any)["zone"] != "Prati" {
		t.Fatalf("result=%#v", got)
	}

	if _, err := client.PropertyInfo(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestClient_Non2xxWithJSONIsAResult(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"missing full_name"}`))
	}))
	defer ts.Close()

	got, err := NewClient(ts.URL, ts.Client()).SaveLead(context.Background(), nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.(map[string]any)["error"] != "missing full_name" {
		t.Fatalf("result=%#v", got)
	}
}

func TestClient_NonJSONBodyIsAnError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, ts.Client()).ContactRefusal(context.Background(), map[string]any{"refusal_count": 1.0})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("err=%v, want status in message", err)
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	if _, err := NewClient(url, nil).StartSession(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	if got := NewClient("", nil).BaseURL(); got != DefaultBaseURL {
		t.Fatalf("base=%q", got)
	}
}
