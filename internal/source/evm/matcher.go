package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallDecoder recognizes post/share/reply calls to one contract.
type CallDecoder struct {
	address common.Address
	methods map[[4]byte]decoderMethod
}

type decoderMethod struct {
	kind   string
	method abi.Method
}

// NewCallDecoder builds a decoder for contract. Methods found in abis take
// precedence over the embedded ContractABI.
func NewCallDecoder(contract string, abis map[string]*abi.ABI) (*CallDecoder, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address: %q", contract)
	}
	base, err := DefaultABI()
	if err != nil {
		return nil, err
	}

	methods := make(map[[4]byte]decoderMethod, 3)
	for _, kind := range []string{KindPost, KindShare, KindReply} {
		m, ok := FindMethod(abis, kind)
		if !ok {
			def := base.Methods[kind]
			m = &def
		}
		if len(m.Inputs) != 1 || m.Inputs[0].Type.T != abi.StringTy {
			return nil, fmt.Errorf("method %s: expected a single string input, got %s", kind, m.Sig)
		}
		var sel [4]byte
		copy(sel[:], m.ID)
		methods[sel] = decoderMethod{kind: kind, method: *m}
	}

	return &CallDecoder{
		address: common.HexToAddress(contract),
		methods: methods,
	}, nil
}

// Address returns the watched contract.
func (d *CallDecoder) Address() common.Address {
	return d.address
}

// Decode inspects a transaction. matched reports whether it targets the
// contract with a known selector; err is set when such a call cannot be
// unpacked.
func (d *CallDecoder) Decode(tx *types.Transaction) (kind, ipfsHash string, matched bool, err error) {
	to := tx.To()
	if to == nil || *to != d.address {
		return "", "", false, nil
	}
	data := tx.Data()
	if len(data) < 4 {
		return "", "", false, nil
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	m, ok := d.methods[sel]
	if !ok {
		return "", "", false, nil
	}

	values, err := m.method.Inputs.Unpack(data[4:])
	if err != nil {
		return m.kind, "", true, fmt.Errorf("unpack %s input: %w", m.kind, err)
	}
	hash, ok := values[0].(string)
	if !ok {
		return m.kind, "", true, fmt.Errorf("unpack %s input: unexpected type %T", m.kind, values[0])
	}
	return m.kind, hash, true, nil
}
