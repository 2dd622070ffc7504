package main

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/runic-labs/rune/internal/certs"
	"github.com/runic-labs/rune/pkg/ids"
)

// loadOrCreateIdentity loads a persisted self-signed identity from
// dataDir/identity.{crt,key}, or mints and persists a fresh one via
// certs.GenerateSelfSigned, per spec.md §5: "a node's identity survives
// restarts; its fingerprint must not change across them."
func loadOrCreateIdentity(dataDir, alias string) (*certs.Bundle, error) {
	crtPath := filepath.Join(dataDir, "identity.crt")
	keyPath := filepath.Join(dataDir, "identity.key")

	if bundle, err := loadIdentity(crtPath, keyPath); err == nil {
		return bundle, nil
	}

	bundle, err := certs.GenerateSelfSigned(alias)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, ids.Wrap(ids.KindIO, "runed: create data dir", err)
	}
	keyPEM, err := bundle.PEMPrivateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(crtPath, bundle.PEMCertificate(), 0o644); err != nil {
		return nil, ids.Wrap(ids.KindIO, "runed: persist identity certificate", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, ids.Wrap(ids.KindIO, "runed: persist identity key", err)
	}
	return bundle, nil
}

func loadIdentity(crtPath, keyPath string) (*certs.Bundle, error) {
	crtBytes, err := os.ReadFile(crtPath)
	if err != nil {
		return nil, err
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	crtBlock, _ := pem.Decode(crtBytes)
	if crtBlock == nil {
		return nil, ids.New(ids.KindDecode, "runed: decode identity certificate PEM")
	}
	cert, err := x509.ParseCertificate(crtBlock.Bytes)
	if err != nil {
		return nil, ids.Wrap(ids.KindDecode, "runed: parse identity certificate", err)
	}

	keyBlock, _ := pem.Decode(keyBytes)
	if keyBlock == nil {
		return nil, ids.New(ids.KindDecode, "runed: decode identity key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, ids.Wrap(ids.KindDecode, "runed: parse identity key", err)
	}

	return &certs.Bundle{
		PrivateKey:  key,
		Certificate: cert,
		CertDER:     crtBlock.Bytes,
		Fingerprint: certs.FingerprintSPKI(cert.RawSubjectPublicKeyInfo),
	}, nil
}
