package evm

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContractABI describes the posting contract methods the indexer decodes.
const ContractABI = `[
	{"type":"function","name":"post","stateMutability":"nonpayable","inputs":[{"name":"_ipfsHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"share","stateMutability":"nonpayable","inputs":[{"name":"_ipfsHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"reply","stateMutability":"nonpayable","inputs":[{"name":"_ipfsHash","type":"string"}],"outputs":[]}
]`

// DefaultABI parses ContractABI.
func DefaultABI() (*abi.ABI, error) {
	a, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &a, nil
}

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			abis[path] = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// FindMethod searches loaded ABIs for a method with the given name.
func FindMethod(abis map[string]*abi.ABI, name string) (*abi.Method, bool) {
	for _, a := range abis {
		if m, ok := a.Methods[name]; ok {
			return &m, true
		}
	}
	return nil, false
}
