// Package keystore persists agent private keys to disk encrypted with
// a passphrase: PBKDF2-HMAC-SHA256 (>=100k iterations) derives an
// AES-256 key from the passphrase and a random per-file salt;
// AES-256-CBC with PKCS#7 padding encrypts the key bytes; a random IV
// is generated per write. Salt and IV are prepended to the ciphertext
// in that order so a single file is self-describing.
package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 16
	ivSize           = aes.BlockSize // 16
	keySize          = 32            // AES-256
	pbkdf2Iterations = 100_000
)

// Store persists and loads encrypted key files under a base directory.
// File permissions are 0600 (owner read/write only) on platforms that
// honor Unix permission bits.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("keystore: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Save encrypts plaintext with a key derived from passphrase and writes
// it to <name>.enc under the store's base directory.
func (s *Store) Save(name string, plaintext []byte, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("keystore: generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("keystore: generate iv: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("keystore: new cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, saltSize+ivSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)

	path := s.path(name)
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	return nil
}

// Load reads <name>.enc and decrypts it with a key derived from passphrase.
func (s *Store) Load(name string, passphrase string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	if len(raw) < saltSize+ivSize {
		return nil, errors.New("keystore: file too short")
	}

	salt := raw[:saltSize]
	iv := raw[saltSize : saltSize+ivSize]
	ciphertext := raw[saltSize+ivSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("keystore: ciphertext is not block-aligned")
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, fmt.Errorf("keystore: unpad (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.baseDir, name+".enc")
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
