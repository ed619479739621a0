package inter

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// FeedNameLength is the width of an on-chain feed identifier.
const FeedNameLength = 8

// FeedName identifies a price feed on chain. The 8 bytes hold the base symbol
// and the quote symbol, 4 bytes each, zero padded ("BTC\x00USDT").
type FeedName [FeedNameLength]byte

// Feed is a feed identifier together with the decimal precision its values are
// reported in.
type Feed struct {
	Name     FeedName `json:"name"`
	Decimals int8     `json:"decimals"`
}

// NewFeedName builds a feed identifier from base and quote symbols. Symbols
// longer than 4 bytes are rejected.
func NewFeedName(base, quote string) (FeedName, error) {
	var name FeedName
	if len(base) > 4 || len(quote) > 4 {
		return name, fmt.Errorf("feed symbols %q/%q exceed 4 bytes", base, quote)
	}
	copy(name[0:4], base)
	copy(name[4:8], quote)
	return name, nil
}

// MustFeedName is NewFeedName for constants; it panics on invalid input.
func MustFeedName(base, quote string) FeedName {
	name, err := NewFeedName(base, quote)
	if err != nil {
		panic(err)
	}
	return name
}

// ParseFeedName parses the 16 hex digit form, with or without "0x".
func ParseFeedName(s string) (FeedName, error) {
	var name FeedName
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return name, fmt.Errorf("feed name %q: %w", s, err)
	}
	if len(raw) != FeedNameLength {
		return name, fmt.Errorf("feed name %q: want %d bytes, got %d", s, FeedNameLength, len(raw))
	}
	copy(name[:], raw)
	return name, nil
}

// String returns the 0x-prefixed hex form.
func (n FeedName) String() string {
	return "0x" + hex.EncodeToString(n[:])
}

// Symbol renders the human readable "BASE/QUOTE" form.
func (n FeedName) Symbol() string {
	base := string(bytes.TrimRight(n[0:4], "\x00"))
	quote := string(bytes.TrimRight(n[4:8], "\x00"))
	return base + "/" + quote
}

// Less orders feed names bytewise.
func (n FeedName) Less(o FeedName) bool {
	return bytes.Compare(n[:], o[:]) < 0
}

// MarshalText encodes the name as hex so it can be used as a JSON map key.
func (n FeedName) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText decodes the hex form produced by MarshalText.
func (n *FeedName) UnmarshalText(input []byte) error {
	res, err := ParseFeedName(string(input))
	if err != nil {
		return err
	}
	*n = res
	return nil
}
