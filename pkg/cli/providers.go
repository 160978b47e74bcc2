package cli

import (
	"context"
	"fmt"

	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/rerank"
)

// Provider names accepted in an [Endpoint].
const (
	ProviderOpenAI      = "openai"
	ProviderDashScope   = "dashscope"
	ProviderGemini      = "gemini"
	ProviderSiliconFlow = "siliconflow"
	ProviderHash        = "hash"
)

const (
	siliconFlowBaseURL    = "https://api.siliconflow.cn/v1"
	siliconFlowEmbedModel = "BAAI/bge-m3"
	siliconFlowEmbedDim   = 1024
)

// NewEmbedder creates the embedder an endpoint describes. A nil endpoint
// selects the offline hash embedder.
func NewEmbedder(ctx context.Context, ep *Endpoint) (embed.Embedder, error) {
	if ep == nil {
		return embed.NewHash(0), nil
	}
	var opts []embed.Option
	if ep.Model != "" {
		opts = append(opts, embed.WithModel(ep.Model))
	}
	if ep.Dimension > 0 {
		opts = append(opts, embed.WithDimension(ep.Dimension))
	}
	if ep.BaseURL != "" {
		opts = append(opts, embed.WithBaseURL(ep.BaseURL))
	}
	key := ep.ResolveAPIKey()

	switch ep.Provider {
	case ProviderHash, "":
		return embed.NewHash(ep.Dimension), nil
	case ProviderOpenAI:
		return embed.NewOpenAI(key, opts...), nil
	case ProviderDashScope:
		return embed.NewDashScope(key, opts...), nil
	case ProviderGemini:
		return embed.NewGemini(ctx, key, opts...)
	case ProviderSiliconFlow:
		defaults := []embed.Option{
			embed.WithProvider(ProviderSiliconFlow),
			embed.WithBaseURL(siliconFlowBaseURL),
			embed.WithModel(siliconFlowEmbedModel),
			embed.WithDimension(siliconFlowEmbedDim),
		}
		return embed.NewOpenAI(key, append(defaults, opts...)...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ep.Provider)
	}
}

// NewReranker creates the reranker an endpoint describes. A nil endpoint
// returns nil, which disables reranking.
func NewReranker(ep *Endpoint) (rerank.Reranker, error) {
	if ep == nil {
		return nil, nil
	}
	var opts []rerank.Option
	switch ep.Provider {
	case ProviderSiliconFlow, "":
		base := ep.BaseURL
		if base == "" {
			base = siliconFlowBaseURL
		}
		opts = append(opts, rerank.WithBaseURL(base))
	case ProviderOpenAI, ProviderDashScope:
		if ep.BaseURL == "" {
			return nil, fmt.Errorf("rerank provider %q needs base_url", ep.Provider)
		}
		opts = append(opts, rerank.WithBaseURL(ep.BaseURL))
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", ep.Provider)
	}
	return rerank.NewClient(ep.ResolveAPIKey(), ep.Model, opts...), nil
}
