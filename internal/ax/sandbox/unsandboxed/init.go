package unsandboxed

import "github.com/axrun/ax/internal/ax/provider/registry"

func init() {
	registry.Register(registry.KindSandbox, "unsandboxed", func() (interface{}, error) {
		return New(), nil
	})
}
