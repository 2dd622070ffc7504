package certs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedProducesValidCert(t *testing.T) {
	b, err := GenerateSelfSigned("node.rune.local")
	require.NoError(t, err)
	require.NotNil(t, b.Certificate)
	require.Equal(t, "node.rune.local", b.Certificate.Subject.CommonName)
	require.Contains(t, b.Certificate.DNSNames, "node.rune.local")
	require.False(t, b.Certificate.IsCA)
	require.Len(t, []rune(b.Fingerprint), minFingerprintLen)
}

func TestFingerprintSPKIDeterministic(t *testing.T) {
	data := []byte("some subject public key info bytes")
	a := FingerprintSPKI(data)
	b := FingerprintSPKI(data)
	require.Equal(t, a, b)
	require.Len(t, []rune(a), minFingerprintLen)
}

func TestFingerprintSPKIDiffersByInput(t *testing.T) {
	a := FingerprintSPKI([]byte("one"))
	b := FingerprintSPKI([]byte("two"))
	require.NotEqual(t, a, b)
}

func TestFingerprintSPKIAllRunesFromAlphabet(t *testing.T) {
	fp := FingerprintSPKI([]byte("arbitrary"))
	alphabet := make(map[rune]bool, len(runicAlphabet))
	for _, r := range runicAlphabet {
		alphabet[r] = true
	}
	for _, r := range fp {
		require.True(t, alphabet[r], "unexpected rune %q in fingerprint", r)
	}
}

func TestPEMRoundTrip(t *testing.T) {
	b, err := GenerateSelfSigned("node2.rune.local")
	require.NoError(t, err)
	require.Contains(t, string(b.PEMCertificate()), "BEGIN CERTIFICATE")
	keyPEM, err := b.PEMPrivateKey()
	require.NoError(t, err)
	require.Contains(t, string(keyPEM), "BEGIN PRIVATE KEY")
}
