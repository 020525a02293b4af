package exchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyMaterial(t *testing.T) (aesKeyHex, rsaPEM string) {
	t.Helper()
	aesKey := make([]byte, 32)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})
	return hex.EncodeToString(aesKey), string(pemBytes)
}

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	aesKeyHex, rsaPEM := testKeyMaterial(t)
	sealer, err := NewSealer(aesKeyHex, rsaPEM)
	require.NoError(t, err)
	return sealer
}

func TestSealProducesColonJoinedHexPair(t *testing.T) {
	sealer := newTestSealer(t)

	envelope, err := sealer.Seal([]byte(`{"id":"c-1"}`))
	require.NoError(t, err)

	ivHex, cipherHex, ok := strings.Cut(envelope.SignedConsent, ":")
	require.True(t, ok, "signedConsent must be ivHex:cipherHex")

	iv, err := hex.DecodeString(ivHex)
	require.NoError(t, err)
	assert.Len(t, iv, 16)

	ciphertext, err := hex.DecodeString(cipherHex)
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.Zero(t, len(ciphertext)%16)
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealer := newTestSealer(t)
	payload := []byte(`{"id":"c-1","status":"granted","consented":true}`)

	envelope, err := sealer.Seal(payload)
	require.NoError(t, err)

	opened, err := sealer.Open(envelope.SignedConsent)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestSealUsesFreshIVs(t *testing.T) {
	sealer := newTestSealer(t)
	payload := []byte(`{"id":"c-1"}`)

	first, err := sealer.Seal(payload)
	require.NoError(t, err)
	second, err := sealer.Seal(payload)
	require.NoError(t, err)

	assert.NotEqual(t, first.SignedConsent, second.SignedConsent)
}

func TestWrappedKeyVerifies(t *testing.T) {
	sealer := newTestSealer(t)

	envelope, err := sealer.Seal([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, sealer.VerifyWrappedKey(envelope.Encrypted))

	other := newTestSealer(t)
	assert.Error(t, other.VerifyWrappedKey(envelope.Encrypted))
}

func TestWrappedKeyRecoverableWithPublicKey(t *testing.T) {
	sealer := newTestSealer(t)

	envelope, err := sealer.Seal([]byte(`{}`))
	require.NoError(t, err)

	wrapped, err := base64.StdEncoding.DecodeString(envelope.Encrypted)
	require.NoError(t, err)

	// Apply the public operation (wrapped^e mod n) the way a counterpart
	// connector does, then strip the PKCS#1 v1.5 type-1 padding.
	pub := &sealer.rsaKey.PublicKey
	m := new(big.Int).Exp(new(big.Int).SetBytes(wrapped), big.NewInt(int64(pub.E)), pub.N)
	padded := m.FillBytes(make([]byte, pub.Size()))

	require.Equal(t, byte(0x00), padded[0])
	require.Equal(t, byte(0x01), padded[1])
	i := 2
	for i < len(padded) && padded[i] == 0xff {
		i++
	}
	require.Less(t, i, len(padded))
	require.Equal(t, byte(0x00), padded[i])

	assert.Equal(t, sealer.aesKey, padded[i+1:], "public operation must recover the AES key itself")
}

func TestOpenRejectsMalformedEnvelopes(t *testing.T) {
	sealer := newTestSealer(t)

	for _, input := range []string{
		"",
		"no-colon",
		"zz:zz",
		"00112233445566778899aabbccddeeff:abc",  // odd-length ciphertext
		"0011:00112233445566778899aabbccddeeff", // short IV
	} {
		_, err := sealer.Open(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestNewSealerRejectsBadKeyMaterial(t *testing.T) {
	_, rsaPEM := testKeyMaterial(t)

	_, err := NewSealer("not-hex", rsaPEM)
	assert.Error(t, err)

	_, err = NewSealer(hex.EncodeToString(make([]byte, 16)), rsaPEM)
	assert.Error(t, err, "16-byte key must be rejected")

	aesHex, _ := testKeyMaterial(t)
	_, err = NewSealer(aesHex, "not a pem block")
	assert.Error(t, err)
}
