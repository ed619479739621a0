package contracts

import (
	"fmt"

	"github.com/rony4d/go-ftso-provider/inter"
)

// SplitCalldata separates the method selector from the raw payload that
// follows it. Submission methods take no ABI arguments; the payload is the
// concatenation of protocol messages.
func SplitCalldata(input []byte) (Selector, []byte, error) {
	var sel Selector
	if len(input) < SelectorLength {
		return sel, nil, fmt.Errorf("%w: calldata of %d bytes has no selector", inter.ErrDecode, len(input))
	}
	copy(sel[:], input[:SelectorLength])
	return sel, input[SelectorLength:], nil
}

// Calldata prefixes payload with the selector of method.
func (c *Codec) Calldata(method string, payload []byte) []byte {
	sel := c.MethodSelector(method)
	out := make([]byte, 0, SelectorLength+len(payload))
	out = append(out, sel[:]...)
	return append(out, payload...)
}
