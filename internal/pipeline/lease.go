package pipeline

import (
	"context"
	"fmt"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
)

// LeaseWindow fetches the single validity window a batch signs against.
func LeaseWindow(ctx context.Context, ledger Ledger) (model.ValidityWindow, error) {
	window, err := ledger.LatestWindow(ctx)
	if err != nil {
		return model.ValidityWindow{}, fmt.Errorf("%w: lease validity window: %w", ErrResolution, err)
	}
	return window, nil
}
