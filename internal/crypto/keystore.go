package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"hash"
	"math/big"
	"os"
	"time"
)

// Signature algorithm identifiers used on the redirect binding's SigAlg
// query parameter.
const (
	SigAlgRSASHA1   = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	SigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SigAlgRSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
)

// KeyStore holds the service provider's RSA signing key and certificate.
// It satisfies goxmldsig's X509KeyStore for enveloped signing and also signs
// and verifies the detached query-string signatures of the redirect binding.
type KeyStore struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

// LoadKeyStore reads a PEM-encoded private key and certificate pair from
// disk. Both paths must be set.
func LoadKeyStore(keyPath, certPath string) (*KeyStore, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no CERTIFICATE block in %s", certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, fmt.Errorf("certificate public key does not match private key")
	}

	return &KeyStore{key: key, cert: cert}, nil
}

func parsePrivateKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key material")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want RSA", key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// GenerateKeyStore creates a fresh 2048-bit RSA key with a one year
// self-signed certificate. Used when no key material is configured, which
// is only sensible for development.
func GenerateKeyStore(entityID string) (*KeyStore, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: entityID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}

	return &KeyStore{key: key, cert: cert}, nil
}

// GetKeyPair implements goxmldsig's X509KeyStore.
func (ks *KeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert.Raw, nil
}

// Certificate returns the signing certificate.
func (ks *KeyStore) Certificate() *x509.Certificate {
	return ks.cert
}

// SignatureAlgorithm reports the SigAlg URI this store signs with.
func (ks *KeyStore) SignatureAlgorithm() string {
	return SigAlgRSASHA256
}

// SignRedirectQuery produces the PKCS1v15 RSA-SHA256 signature over the
// literal query octets of a redirect-binding message.
func (ks *KeyStore) SignRedirectQuery(query string) ([]byte, error) {
	digest := sha256.Sum256([]byte(query))
	sig, err := rsa.SignPKCS1v15(rand.Reader, ks.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign redirect query: %w", err)
	}
	return sig, nil
}

// VerifyRedirectQuery checks a detached query signature against the public
// keys of the given certificates, using the hash the sender named in sigAlg.
// It succeeds when any certificate verifies.
func VerifyRedirectQuery(sigAlg, query string, signature []byte, certs []*x509.Certificate) error {
	var (
		hashFunc crypto.Hash
		hasher   hash.Hash
	)
	switch sigAlg {
	case SigAlgRSASHA1:
		hashFunc, hasher = crypto.SHA1, sha1.New()
	case SigAlgRSASHA256:
		hashFunc, hasher = crypto.SHA256, sha256.New()
	case SigAlgRSASHA512:
		hashFunc, hasher = crypto.SHA512, sha512.New()
	default:
		return fmt.Errorf("unsupported signature algorithm %q", sigAlg)
	}

	hasher.Write([]byte(query))
	digest := hasher.Sum(nil)

	var lastErr error
	for _, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			lastErr = fmt.Errorf("certificate key is %T, want RSA", cert.PublicKey)
			continue
		}
		if err := rsa.VerifyPKCS1v15(pub, hashFunc, digest, signature); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate certificates")
	}
	return fmt.Errorf("redirect query signature did not verify: %w", lastErr)
}
