package dockersandbox

import "github.com/axrun/ax/internal/ax/provider/registry"

func init() {
	registry.Register(registry.KindSandbox, "docker", func() (interface{}, error) {
		return New()
	})
}
