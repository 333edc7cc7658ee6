package registration

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// PrivateKeyFile is the name of the private key file written by GenerateKey.
	PrivateKeyFile = "private-key.pem"
	// PublicKeyPath is where Tesla expects to find the public key, relative to the root of the
	// partner domain.
	PublicKeyPath = ".well-known/appspecific/com.tesla.3p.public-key.pem"
)

var ErrInvalidKey = errors.New("invalid private key")

// LoadPrivateKey reads a PEM-encoded NIST P-256 private key from filename.
func LoadPrivateKey(filename string) (*ecdsa.PrivateKey, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(contents)
	if block == nil {
		return nil, ErrInvalidKey
	}
	skey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	if skey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: curve must be P-256", ErrInvalidKey)
	}
	return skey, nil
}

// PublicKeyPEM returns the PEM encoding of pkey.
func PublicKeyPEM(pkey *ecdsa.PublicKey) ([]byte, error) {
	derPublicKey, err := x509.MarshalPKIXPublicKey(pkey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derPublicKey}), nil
}

// GenerateKey creates a key pair under dir. The private key is written to [PrivateKeyFile] and the
// public key to [PublicKeyPath], so that dir can be served as the root of the partner domain
// (after moving the private key elsewhere).
//
// If a private key already exists and overwrite is false, the existing key is loaded and its
// public key is rewritten instead.
func GenerateKey(dir string, overwrite bool) (*ecdsa.PrivateKey, error) {
	privatePath := filepath.Join(dir, PrivateKeyFile)
	skey, err := LoadPrivateKey(privatePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) && !overwrite {
		return nil, err
	}
	if skey == nil || overwrite {
		if skey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			return nil, err
		}
		derPrivateKey, err := x509.MarshalECPrivateKey(skey)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		encoded := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derPrivateKey})
		if err := os.WriteFile(privatePath, encoded, 0600); err != nil {
			return nil, err
		}
	}

	publicPEM, err := PublicKeyPEM(&skey.PublicKey)
	if err != nil {
		return nil, err
	}
	publicPath := filepath.Join(dir, filepath.FromSlash(PublicKeyPath))
	if err := os.MkdirAll(filepath.Dir(publicPath), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(publicPath, publicPEM, 0644); err != nil {
		return nil, err
	}
	return skey, nil
}
