package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/mission_manager.json
var missionManagerABI []byte

var requiredMethods = []string{"missionFee", "getMissions", "createMission"}

// MissionManagerABI returns the embedded mission manager ABI.
func MissionManagerABI() (*abi.ABI, error) {
	return parseABI(missionManagerABI)
}

// LoadABI reads an ABI descriptor from path, or returns the embedded one when
// path is empty.
func LoadABI(path string) (*abi.ABI, error) {
	if path == "" {
		return MissionManagerABI()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abi: %w", err)
	}
	return parseABI(data)
}

func parseABI(data []byte) (*abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	for _, name := range requiredMethods {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("abi is missing method %s", name)
		}
	}
	return &parsed, nil
}
