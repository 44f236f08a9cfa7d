package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"clucko/internal/domain"
)

// MissionTuple mirrors the Mission struct returned by getMissions. Field order
// must match the ABI tuple components.
type MissionTuple struct {
	ID             *big.Int       `abi:"id"`
	Name           string         `abi:"name"`
	Description    string         `abi:"description"`
	TargetContract common.Address `abi:"targetContract"`
	RewardAmount   *big.Int       `abi:"rewardAmount"`
	RewardToken    common.Address `abi:"rewardToken"`
	IsActive       bool           `abi:"isActive"`
}

func (t MissionTuple) mission() domain.Mission {
	m := domain.Mission{
		Name:           t.Name,
		Description:    t.Description,
		TargetContract: t.TargetContract,
		RewardToken:    t.RewardToken,
		IsActive:       t.IsActive,
		RewardAmount:   new(big.Int),
	}
	if t.ID != nil {
		m.ID = t.ID.String()
	}
	if t.RewardAmount != nil {
		m.RewardAmount.Set(t.RewardAmount)
	}
	return m
}

var errNoOutput = errors.New("getMissions returned no output")

func decodeMissions(out []any) (missions []domain.Mission, err error) {
	if len(out) == 0 {
		return nil, errNoOutput
	}
	defer func() {
		// abi.ConvertType panics on shape mismatch
		if r := recover(); r != nil {
			missions, err = nil, fmt.Errorf("decode getMissions: %v", r)
		}
	}()
	tuples := *abi.ConvertType(out[0], new([]MissionTuple)).(*[]MissionTuple)
	missions = make([]domain.Mission, 0, len(tuples))
	for _, t := range tuples {
		missions = append(missions, t.mission())
	}
	return missions, nil
}
