// Package exchange relays signed, encrypted consent payloads to the
// counterpart participant's connector endpoints.
package exchange

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	dErrors "covenant/pkg/domain-errors"
)

// Envelope is the wire shape posted to connector endpoints. SignedConsent
// is "<ivHex>:<cipherHex>" over the consent JSON; Encrypted carries the
// AES key itself, wrapped with this service's RSA private key (raw
// PKCS#1 v1.5 private-key operation), so a counterpart holding the
// public key recovers the key with the public operation. This is a
// minimal envelope, not an authenticated-encryption construction.
type Envelope struct {
	SignedConsent string `json:"signedConsent"`
	Encrypted     string `json:"encrypted"`
}

// Sealer encrypts consent payloads with a pre-shared AES-256 key in CBC
// mode and wraps the key with a local RSA private key. Key material comes
// from configuration, resolved once at startup.
type Sealer struct {
	aesKey []byte
	rsaKey *rsa.PrivateKey
}

// NewSealer parses the hex-encoded AES-256 key and PEM-encoded RSA
// private key (PKCS#1 or PKCS#8).
func NewSealer(aesKeyHex, rsaPrivateKeyPEM string) (*Sealer, error) {
	aesKey, err := hex.DecodeString(aesKeyHex)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode AES key")
	}
	if len(aesKey) != 32 {
		return nil, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("AES key must be 32 bytes, got %d", len(aesKey)))
	}

	block, _ := pem.Decode([]byte(rsaPrivateKeyPEM))
	if block == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "no PEM block in RSA private key")
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "parse RSA private key")
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, dErrors.New(dErrors.CodeInternal, "private key is not RSA")
		}
		rsaKey = key
	}
	return &Sealer{aesKey: aesKey, rsaKey: rsaKey}, nil
}

// Seal encrypts the payload and produces the connector envelope. A fresh
// random 16-byte IV prefixes each ciphertext in hex, colon-separated.
func (s *Sealer) Seal(payload []byte) (*Envelope, error) {
	block, err := aes.NewCipher(s.aesKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init cipher")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate IV")
	}

	padded := pkcs7Pad(payload, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wrapped, err := s.wrapKey()
	if err != nil {
		return nil, err
	}
	return &Envelope{
		SignedConsent: hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext),
		Encrypted:     wrapped,
	}, nil
}

// Open decrypts a SignedConsent value produced by Seal. Counterpart
// connectors hold the same pre-shared key; locally it backs tests and
// diagnostics.
func (s *Sealer) Open(signedConsent string) ([]byte, error) {
	ivHex, cipherHex, ok := strings.Cut(signedConsent, ":")
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed consent envelope")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed envelope IV")
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed envelope ciphertext")
	}

	block, err := aes.NewCipher(s.aesKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init cipher")
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// VerifyWrappedKey checks that an Encrypted value wraps this sealer's
// AES key. Used by tests standing in for the counterpart, which in the
// field recovers the key with the RSA public operation instead.
func (s *Sealer) VerifyWrappedKey(encrypted string) error {
	wrapped, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "malformed wrapped key")
	}
	if err := rsa.VerifyPKCS1v15(&s.rsaKey.PublicKey, crypto.Hash(0), s.aesKey, wrapped); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "wrapped key mismatch")
	}
	return nil
}

// wrapKey applies the RSA private-key PKCS#1 v1.5 operation to the AES
// key itself. With a zero hash, SignPKCS1v15 pads and transforms the
// message directly, so the public operation on the result yields the key.
func (s *Sealer) wrapKey() (string, error) {
	wrapped, err := rsa.SignPKCS1v15(rand.Reader, s.rsaKey, crypto.Hash(0), s.aesKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "wrap envelope key")
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed padding")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed padding")
		}
	}
	return data[:len(data)-padding], nil
}
