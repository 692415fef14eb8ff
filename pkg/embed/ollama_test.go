package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllama_Embed(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"embedding":[0.5,0.25]}`))
	}))
	defer srv.Close()

	o := NewOllama(Config{Endpoint: srv.URL + "/", Model: DefaultGeminiModel})
	v, err := o.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v[0] != 0.5 {
		t.Fatalf("vector = %v", v)
	}
	if got.Model != DefaultOllamaModel || got.Prompt != "hello" {
		t.Fatalf("request = %+v", got)
	}
}

func TestOllama_Failures(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
		"empty":  func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(`{"embedding":[]}`)) },
		"bad":    func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(`nope`)) },
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			if _, err := NewOllama(Config{Endpoint: srv.URL}).Embed(context.Background(), "x"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOllama_Defaults(t *testing.T) {
	o := NewOllama(Config{Endpoint: DefaultGeminiEndpoint})
	if o.baseURL != DefaultOllamaEndpoint || o.model != DefaultOllamaModel {
		t.Fatalf("defaults = %s %s", o.baseURL, o.model)
	}
}
