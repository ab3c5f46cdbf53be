package matrix

import (
	"fmt"

	"github.com/axrun/ax/common/environment"
	"github.com/axrun/ax/internal/ax/provider/registry"
)

// init registers the Matrix channel adapter under the closed registry.
// Its constructor reads connection settings from the environment since
// registry.Constructor takes no arguments; a deployment that never sets
// AX_MATRIX_HOMESERVER simply never calls Build for this name.
func init() {
	registry.Register(registry.KindChannel, "matrix", func() (interface{}, error) {
		homeserver, err := environment.RequiredString("AX_MATRIX_HOMESERVER")
		if err != nil {
			return nil, fmt.Errorf("matrix: %w", err)
		}
		userID, err := environment.RequiredString("AX_MATRIX_USER_ID")
		if err != nil {
			return nil, fmt.Errorf("matrix: %w", err)
		}
		token, err := environment.RequiredString("AX_MATRIX_ACCESS_TOKEN")
		if err != nil {
			return nil, fmt.Errorf("matrix: %w", err)
		}
		rooms := environment.StringSliceOr("AX_MATRIX_ROOMS", nil)

		return New(Config{Homeserver: homeserver, UserID: userID, AccessToken: token, Rooms: rooms})
	})
}
