package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MissionDraft is the in-progress create form as typed by the user.
type MissionDraft struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetContract string `json:"target_contract"`
	RewardAmount   string `json:"reward_amount"`
	RewardToken    string `json:"reward_token"`
}

// Validate checks the draft and converts it into a createMission input. The
// form requires a strictly positive reward.
func (d MissionDraft) Validate() (CreateMissionInput, error) {
	in := CreateMissionInput{
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
	}
	if in.Name == "" {
		return CreateMissionInput{}, ValidationError{Field: "name", Message: "required"}
	}
	if in.Description == "" {
		return CreateMissionInput{}, ValidationError{Field: "description", Message: "required"}
	}
	target, err := ParseAddress("target_contract", d.TargetContract)
	if err != nil {
		return CreateMissionInput{}, err
	}
	token, err := ParseAddress("reward_token", d.RewardToken)
	if err != nil {
		return CreateMissionInput{}, err
	}
	amount, err := ParseAmount("reward_amount", d.RewardAmount)
	if err != nil {
		return CreateMissionInput{}, err
	}
	if amount.Sign() == 0 {
		return CreateMissionInput{}, ValidationError{Field: "reward_amount", Message: "must be greater than zero"}
	}
	in.TargetContract = target
	in.RewardToken = token
	in.RewardAmount = amount
	return in, nil
}

// ParseAddress parses a 0x-prefixed 20-byte hex address.
func ParseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, ValidationError{Field: field, Message: "required"}
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, ValidationError{Field: field, Message: "must be 0x-prefixed"}
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, ValidationError{Field: field, Message: "not a valid address"}
	}
	return common.HexToAddress(s), nil
}

// ParseAmount parses a base-10 unsigned integer that fits in 256 bits.
func ParseAmount(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ValidationError{Field: field, Message: "required"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, ValidationError{Field: field, Message: "must be a non-negative integer"}
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	if err := CheckAmount(field, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CheckAmount verifies v is present, non-negative and within uint256.
func CheckAmount(field string, v *big.Int) error {
	if v == nil {
		return ValidationError{Field: field, Message: "required"}
	}
	if v.Sign() < 0 {
		return ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	if v.Cmp(maxUint256) > 0 {
		return ValidationError{Field: field, Message: "exceeds uint256"}
	}
	return nil
}
