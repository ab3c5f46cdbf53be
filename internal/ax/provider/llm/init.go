package llm

import (
	"github.com/axrun/ax/common/environment"
	"github.com/axrun/ax/internal/ax/provider/registry"
)

// init registers the OpenAI-compatible provider under the closed registry
// (design note SC-SEC-002). Its constructor reads its own configuration
// from the environment at build time rather than accepting config
// parameters directly, since registry.Constructor takes none — config
// only ever selects a registered name, never supplies code or endpoints.
func init() {
	registry.Register(registry.KindLLM, "openai", func() (interface{}, error) {
		return NewOpenAI(OpenAIConfig{
			APIKeyEnvValue: environment.StringOr("AX_PROXY_DUMMY_KEY", "ax-proxy"),
			BaseURL:        environment.StringOr("AX_LLM_BASE_URL", ""),
			Model:          environment.StringOr("AX_LLM_MODEL", "gpt-4o-mini"),
		}), nil
	})
}
