package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
)

// Digest selects the HMAC digest a venue expects.
type Digest string

const (
	DigestSHA256 Digest = "sha256"
	DigestSHA384 Digest = "sha384"
	DigestSHA512 Digest = "sha512"
)

func (d Digest) hasher() (func() hash.Hash, error) {
	switch d {
	case DigestSHA256:
		return sha256.New, nil
	case DigestSHA384:
		return sha512.New384, nil
	case DigestSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported digest %q", string(d))
	}
}

// Signer authenticates request bodies the way most centralized venues expect:
// the canonical JSON body is base64-encoded, the encoded payload is HMAC-signed
// with the secret key, and both travel in headers next to the API key.
type Signer struct {
	secret []byte
	hasher func() hash.Hash
}

func NewSigner(secretKey string, digest Digest) (*Signer, error) {
	h, err := digest.hasher()
	if err != nil {
		return nil, err
	}
	return &Signer{secret: []byte(secretKey), hasher: h}, nil
}

// Sign returns the base64 payload and its hex HMAC signature.
func (s *Signer) Sign(body []byte) (payload string, signature string) {
	payload = base64.StdEncoding.EncodeToString(body)

	mac := hmac.New(s.hasher, s.secret)
	mac.Write([]byte(payload))
	return payload, hex.EncodeToString(mac.Sum(nil))
}
