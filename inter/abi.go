package inter

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// NewArguments builds an abi.encode argument list from Solidity type names.
// It is meant for package level variables and panics on an unknown type.
func NewArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}
