package cli

import (
	"context"
	"testing"
)

func TestNewEmbedder(t *testing.T) {
	tests := []struct {
		name string
		ep   *Endpoint
		want string
	}{
		{"nil", nil, "hash:fnv64a:256"},
		{"hash", &Endpoint{Provider: "hash", Dimension: 32}, "hash:fnv64a:32"},
		{"openai", &Endpoint{Provider: "openai", APIKey: "sk-test"}, "openai:text-embedding-3-small:1536"},
		{"openai dim", &Endpoint{Provider: "openai", APIKey: "sk-test", Dimension: 256}, "openai:text-embedding-3-small:256"},
		{"dashscope", &Endpoint{Provider: "dashscope", APIKey: "sk-test"}, "dashscope:text-embedding-v4:1024"},
		{"siliconflow", &Endpoint{Provider: "siliconflow", APIKey: "sk-test"}, "siliconflow:BAAI/bge-m3:1024"},
		{"siliconflow model", &Endpoint{Provider: "siliconflow", Model: "Qwen/Qwen3-Embedding-0.6B"}, "siliconflow:Qwen/Qwen3-Embedding-0.6B:1024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedder(context.Background(), tt.ep)
			if err != nil {
				t.Fatalf("NewEmbedder() error = %v", err)
			}
			if got := e.Fingerprint(); got != tt.want {
				t.Errorf("Fingerprint() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewEmbedder(context.Background(), &Endpoint{Provider: "word2vec"}); err == nil {
		t.Error("NewEmbedder(word2vec) should fail")
	}
}

func TestNewReranker(t *testing.T) {
	rr, err := NewReranker(nil)
	if err != nil || rr != nil {
		t.Errorf("NewReranker(nil) = %v, %v; want nil, nil", rr, err)
	}

	rr, err = NewReranker(&Endpoint{Provider: "siliconflow", APIKey: "sk-test"})
	if err != nil || rr == nil {
		t.Errorf("NewReranker(siliconflow) = %v, %v", rr, err)
	}

	rr, err = NewReranker(&Endpoint{Provider: "openai", BaseURL: "http://localhost:9999/v1"})
	if err != nil || rr == nil {
		t.Errorf("NewReranker(openai with base url) = %v, %v", rr, err)
	}

	if _, err := NewReranker(&Endpoint{Provider: "openai"}); err == nil {
		t.Error("NewReranker(openai) without base_url should fail")
	}
	if _, err := NewReranker(&Endpoint{Provider: "cohere"}); err == nil {
		t.Error("NewReranker(cohere) should fail")
	}
}
