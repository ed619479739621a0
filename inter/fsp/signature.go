package fsp

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-ftso-provider/utils/fast"
)

// SignatureLength is the encoded size of an ECDSASignature.
const SignatureLength = 1 + 2*common.HashLength

var (
	errInvalidBool = errors.New("invalid boolean byte")

	// ErrInvalidSignature is returned when a signature does not recover to a key.
	ErrInvalidSignature = errors.New("invalid signature")
)

// ECDSASignature is a secp256k1 signature in the (v, r, s) layout used by the
// protocol contracts. V is 27 or 28.
type ECDSASignature struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// SignMessageHash signs hash with the Ethereum signed message prefix, the way
// protocol contracts verify submitted signatures.
func SignMessageHash(hash common.Hash, key *ecdsa.PrivateKey) (ECDSASignature, error) {
	sig, err := crypto.Sign(accounts.TextHash(hash[:]), key)
	if err != nil {
		return ECDSASignature{}, err
	}
	return ECDSASignature{
		V: sig[crypto.RecoveryIDOffset] + 27,
		R: common.BytesToHash(sig[0:32]),
		S: common.BytesToHash(sig[32:64]),
	}, nil
}

// RecoverSigner returns the address whose key produced the signature over hash.
func (s ECDSASignature) RecoverSigner(hash common.Hash) (common.Address, error) {
	if s.V != 27 && s.V != 28 {
		return common.Address{}, fmt.Errorf("%w: v=%d", ErrInvalidSignature, s.V)
	}
	raw := make([]byte, crypto.SignatureLength)
	copy(raw[0:32], s.R[:])
	copy(raw[32:64], s.S[:])
	raw[crypto.RecoveryIDOffset] = s.V - 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash[:]), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Bytes returns the flat v || r || s representation.
func (s ECDSASignature) Bytes() []byte {
	w := fast.NewWriter(make([]byte, 0, SignatureLength))
	w.WriteUint8(s.V)
	w.Write(s.R[:])
	w.Write(s.S[:])
	return w.Bytes()
}

// String returns the 0x-prefixed hex form of Bytes.
func (s ECDSASignature) String() string {
	return "0x" + common.Bytes2Hex(s.Bytes())
}

// SignatureFromString parses a hex string (with or without "0x" prefix).
func SignatureFromString(str string) (ECDSASignature, error) {
	return SignatureFromBytes(common.FromHex(str))
}

// SignatureFromBytes reconstructs a signature from exactly SignatureLength bytes.
func SignatureFromBytes(b []byte) (ECDSASignature, error) {
	if len(b) != SignatureLength {
		return ECDSASignature{}, decodeErr("signature", fast.ErrShortBuffer)
	}
	return readSignature(fast.NewReader(b))
}

func readSignature(r *fast.Reader) (ECDSASignature, error) {
	var s ECDSASignature
	v, err := r.ReadByte()
	if err != nil {
		return s, decodeErr("signature", err)
	}
	rr, err := r.Next(common.HashLength)
	if err != nil {
		return s, decodeErr("signature", err)
	}
	ss, err := r.Next(common.HashLength)
	if err != nil {
		return s, decodeErr("signature", err)
	}
	s.V = v
	s.R = common.BytesToHash(rr)
	s.S = common.BytesToHash(ss)
	return s, nil
}

// MarshalText implements the encoding.TextMarshaler interface so signatures
// show up as hex strings in JSON.
func (s ECDSASignature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *ECDSASignature) UnmarshalText(input []byte) error {
	res, err := SignatureFromString(string(input))
	if err != nil {
		return err
	}
	*s = res
	return nil
}
