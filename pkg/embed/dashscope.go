package embed

// DashScope embedding models.
const (
	// ModelDashScopeV4 supports 100+ languages, dimensions 64–2048,
	// default 1024.
	ModelDashScopeV4 = "text-embedding-v4"

	// ModelDashScopeV3 supports 50+ languages, dimensions 64–1024.
	ModelDashScopeV3 = "text-embedding-v3"
)

const (
	dashScopeBaseURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	dashScopeMaxBatch   = 10 // v3/v4 limit
	dashScopeDefaultDim = 1024
)

// NewDashScope creates an embedder for Aliyun DashScope's
// OpenAI-compatible endpoint.
func NewDashScope(apiKey string, opts ...Option) *OpenAI {
	return newOpenAICompat(apiKey, config{
		provider: "dashscope",
		model:    ModelDashScopeV4,
		dim:      dashScopeDefaultDim,
		baseURL:  dashScopeBaseURL,
		maxBatch: dashScopeMaxBatch,
	}, opts)
}
