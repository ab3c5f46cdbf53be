package nsjail

import "github.com/axrun/ax/internal/ax/provider/registry"

func init() {
	registry.Register(registry.KindSandbox, "nsjail", func() (interface{}, error) {
		return New(), nil
	})
}
