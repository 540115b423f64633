package pipeline

import (
	"fmt"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
)

// MaxGroupOps is the largest instruction group the builder emits.
const MaxGroupOps = 2

// Capacities are the per-transaction instruction limits by asset kind.
type Capacities struct {
	Native int
	Token  int
}

// Validate rejects limits that could not hold the largest group.
func (c Capacities) Validate() error {
	if c.Native < MaxGroupOps {
		return fmt.Errorf("native capacity %d is below the maximum group size %d", c.Native, MaxGroupOps)
	}
	if c.Token < MaxGroupOps {
		return fmt.Errorf("token capacity %d is below the maximum group size %d", c.Token, MaxGroupOps)
	}
	return nil
}

func (c Capacities) For(kind model.AssetKind) int {
	if kind == model.AssetKindToken {
		return c.Token
	}
	return c.Native
}

// Pack bins groups into chunks greedily and in order. A new chunk starts only
// when the current one is non-empty and the next group would overflow it.
func Pack(groups []model.InstructionGroup, capacity int) ([]model.Chunk, error) {
	var (
		chunks  []model.Chunk
		current model.Chunk
	)
	for _, g := range groups {
		ops := g.OpCount()
		if ops > capacity {
			return nil, fmt.Errorf("%w: recipient %d needs %d instructions, capacity %d",
				ErrGroupExceedsCapacity, g.RecipientIndex, ops, capacity)
		}
		if len(current.Groups) > 0 && current.OpCount+ops > capacity {
			chunks = append(chunks, current)
			current = model.Chunk{Index: len(chunks)}
		}
		current.Groups = append(current.Groups, g)
		current.OpCount += ops
	}
	if len(current.Groups) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}
