package fsp

import (
	"github.com/rony4d/go-ftso-provider/utils/fast"
)

// SignaturePayloadType is the only signature payload layout currently defined.
const SignaturePayloadType uint8 = 0

// SignaturePayload is the payload of a submitSignatures message: a signed
// protocol message plus optional data the signer did not sign.
type SignaturePayload struct {
	Type            uint8                     `json:"type"`
	Message         ProtocolMessageMerkleRoot `json:"message"`
	Signature       ECDSASignature            `json:"signature"`
	UnsignedMessage []byte                    `json:"unsignedMessage,omitempty"`
}

// Encode serializes the payload.
func (p SignaturePayload) Encode() []byte {
	w := fast.NewWriter(make([]byte, 0, 1+ProtocolMessageLength+SignatureLength+len(p.UnsignedMessage)))
	w.WriteUint8(p.Type)
	w.Write(p.Message.Encode())
	w.Write(p.Signature.Bytes())
	w.Write(p.UnsignedMessage)
	return w.Bytes()
}

// DecodeSignaturePayload parses a submitSignatures message payload.
func DecodeSignaturePayload(data []byte) (SignaturePayload, error) {
	var p SignaturePayload
	r := fast.NewReader(data)
	typ, err := r.ReadByte()
	if err != nil {
		return p, decodeErr("signature payload", err)
	}
	if typ != SignaturePayloadType {
		return p, decodeErr("signature payload", errUnknownType)
	}
	msg, err := readProtocolMessage(r)
	if err != nil {
		return p, err
	}
	sig, err := readSignature(r)
	if err != nil {
		return p, err
	}
	p.Type = typ
	p.Message = msg
	p.Signature = sig
	if rest := r.Rest(); len(rest) > 0 {
		p.UnsignedMessage = append([]byte(nil), rest...)
	}
	return p, nil
}
