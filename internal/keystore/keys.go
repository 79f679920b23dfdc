package keystore

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrCreateEd25519 returns the named Ed25519 private key, generating
// and persisting a fresh one on first run. The private key is stored
// PKCS#8-PEM inside the encrypted <name>_private.enc file; the public
// key is written alongside as plain <name>_public.pem.
func (s *Store) LoadOrCreateEd25519(name, passphrase string) (ed25519.PrivateKey, error) {
	raw, err := s.Load(name+"_private", passphrase)
	if err == nil {
		key, err := parsePKCS8(raw)
		if err != nil {
			return nil, err
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keystore: %s is not an ed25519 key", name)
		}
		return priv, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate ed25519 key: %w", err)
	}
	if err := s.persist(name, passphrase, priv, pub); err != nil {
		return nil, err
	}
	return priv, nil
}

// LoadOrCreateECDSA returns the named P-256 private key, generating and
// persisting a fresh one on first run.
func (s *Store) LoadOrCreateECDSA(name, passphrase string) (*ecdsa.PrivateKey, error) {
	raw, err := s.Load(name+"_private", passphrase)
	if err == nil {
		key, err := parsePKCS8(raw)
		if err != nil {
			return nil, err
		}
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keystore: %s is not an ecdsa key", name)
		}
		return priv, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate ecdsa key: %w", err)
	}
	if err := s.persist(name, passphrase, priv, &priv.PublicKey); err != nil {
		return nil, err
	}
	return priv, nil
}

func (s *Store) persist(name, passphrase string, priv, pub any) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("keystore: marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := s.Save(name+"_private", privPEM, passphrase); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("keystore: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	pubPath := filepath.Join(s.baseDir, name+"_public.pem")
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("keystore: write %s: %w", pubPath, err)
	}
	return nil
}

func parsePKCS8(pemBytes []byte) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("keystore: stored key is not PEM")
	}
	return x509.ParsePKCS8PrivateKey(block.Bytes)
}
