// Package certs issues self-signed TLS leaf certificates and derives the
// Runic Base-85 fingerprint nodes use to identify each other, per
// spec.md §5/§6. Grounded on
// _examples/original_source/discovery/src/ssl.rs's generate_self_signed_cert
// and calculate_base85_fingerprint.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/runic-labs/rune/pkg/ids"
)

// runicAlphabet is the 85-rune Elder Futhark alphabet ssl.rs's BASE85
// table uses for fingerprint encoding.
var runicAlphabet = []rune(
	"ᚠᚡᚢᚣᚤᚥᚦᚧᚨᚩᚪᚫᚬᚭᚮᚯᚰᚱᚲᚳᚴᚵᚶᚷᚸᚹᚺᚻᚼᚽᚾᚿᛀᛁᛂᛃᛄᛅᛆᛇᛈᛉᛊᛋᛌᛍᛎᛏᛐᛑᛒᛓᛔᛕᛖᛗᛘᛙᛚᛛᛜᛝᛞᛟᛠᛡᛢᛣᛤᛥᛦᛨᛩᛪᛮᛯᛰᛱᛲᛳᛴᛵᛶᛷᛸ",
)

const (
	// rsaBits matches ssl.rs's RSA-2048 key size.
	rsaBits = 2048
	// validity matches ssl.rs's default 10-year leaf validity.
	validity = 10 * 365 * 24 * time.Hour
	// minFingerprintLen is ssl.rs's "hash.len()*8/6.409" minimum length,
	// ceil(256/log2(85)) symbols, for a SHA-256 digest.
	minFingerprintLen = 40
)

// Bundle is one issued identity: a private key, its self-signed leaf
// certificate, and the certificate's Runic fingerprint.
type Bundle struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	CertDER     []byte
	Fingerprint string
}

// GenerateSelfSigned issues a fresh RSA-2048 self-signed certificate for
// commonName, SAN=CN only, per ssl.rs's generate_self_signed_cert.
func GenerateSelfSigned(commonName string) (*Bundle, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "certs: generate rsa key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "certs: generate serial", err)
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		DNSNames:              []string{commonName},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "certs: create certificate", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "certs: parse certificate", err)
	}

	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "certs: marshal spki", err)
	}
	fingerprint := FingerprintSPKI(spki)

	return &Bundle{
		PrivateKey:  key,
		Certificate: cert,
		CertDER:     der,
		Fingerprint: fingerprint,
	}, nil
}

// FingerprintSPKI computes the Runic Base-85 encoding of SHA-256(spkiDER),
// per ssl.rs's calculate_base85_fingerprint: repeated division of the
// digest (as a big-endian unsigned integer) by 85, most-significant digit
// first, left-padded with the alphabet's first symbol to a minimum of 40
// symbols for a 256-bit hash.
func FingerprintSPKI(spkiDER []byte) string {
	sum := sha256.Sum256(spkiDER)
	n := new(big.Int).SetBytes(sum[:])
	base := big.NewInt(int64(len(runicAlphabet)))

	if n.Sign() == 0 {
		return padLeft(string(runicAlphabet[0]), minFingerprintLen)
	}

	var digits []rune
	zero := new(big.Int)
	rem := new(big.Int)
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, rem)
		digits = append(digits, runicAlphabet[rem.Int64()])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return padLeft(string(digits), minFingerprintLen)
}

func padLeft(s string, n int) string {
	r := []rune(s)
	for len(r) < n {
		r = append([]rune{runicAlphabet[0]}, r...)
	}
	return string(r)
}

// PEMCertificate returns b's certificate encoded as a PEM block.
func (b *Bundle) PEMCertificate() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.CertDER})
}

// PEMPrivateKey returns b's private key encoded as a PKCS8 PEM block.
func (b *Bundle) PEMPrivateKey() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(b.PrivateKey)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "certs: marshal pkcs8 key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
