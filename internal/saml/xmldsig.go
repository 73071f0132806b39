package saml

import (
	"crypto/x509"
	"errors"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// ErrNoSignature reports that a document carries no enveloped signature on
// its top-level element. Callers decide whether that is acceptable: the
// login path tolerates it, the logout path does not.
var ErrNoSignature = errors.New("no enveloped signature on document")

// SignEnveloped adds an enveloped RSA-SHA256 signature to the document's
// root element and returns the signed serialization.
func SignEnveloped(xmlData []byte, keyStore dsig.X509KeyStore) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, WrapError(ClassParse, "parse document for signing", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, Errorf(ClassParse, "document has no root element")
	}

	ctx := dsig.NewDefaultSigningContext(keyStore)
	// SAML identifies signed elements through an "ID" attribute, not the
	// library's default "Id".
	ctx.IdAttribute = "ID"
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, WrapError(ClassSignature, "set signature method", err)
	}

	signed, err := ctx.SignEnveloped(root)
	if err != nil {
		return nil, WrapError(ClassSignature, "sign document", err)
	}

	signedDoc := etree.NewDocument()
	signedDoc.SetRoot(signed)
	out, err := signedDoc.WriteToBytes()
	if err != nil {
		return nil, WrapError(ClassSignature, "serialize signed document", err)
	}
	return out, nil
}

// VerifyEnveloped checks the enveloped signature on the document's root
// element against the trusted certificates. Returns ErrNoSignature when the
// top-level element is unsigned, and a ClassSignature error when a signature
// exists but does not verify.
func VerifyEnveloped(xmlData []byte, trusted ...*x509.Certificate) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return WrapError(ClassParse, "parse document for verification", err)
	}
	root := doc.Root()
	if root == nil {
		return Errorf(ClassParse, "document has no root element")
	}

	roots := make([]*x509.Certificate, 0, len(trusted))
	for _, cert := range trusted {
		if cert != nil {
			roots = append(roots, cert)
		}
	}
	if len(roots) == 0 {
		return Errorf(ClassSignature, "no trusted certificate available")
	}

	ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: roots})
	ctx.IdAttribute = "ID"

	if _, err := ctx.Validate(root); err != nil {
		if errors.Is(err, dsig.ErrMissingSignature) {
			return ErrNoSignature
		}
		return WrapError(ClassSignature, "enveloped signature invalid", err)
	}
	return nil
}
