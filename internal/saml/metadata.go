package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"strings"
)

// Key usage values from the SAML 2.0 Metadata schema. An absent use
// attribute means the key serves both purposes.
const (
	KeyUseSigning    = "signing"
	KeyUseEncryption = "encryption"
)

// EntitiesDescriptor is the federation wrapper element. Aggregated metadata
// documents published by federations nest EntityDescriptor elements, possibly
// recursively, under this root.
type EntitiesDescriptor struct {
	XMLName            xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntitiesDescriptor"`
	Name               string               `xml:"Name,attr,omitempty"`
	EntitiesDescriptor []EntitiesDescriptor `xml:"EntitiesDescriptor,omitempty"`
	EntityDescriptors  []EntityDescriptor   `xml:"EntityDescriptor,omitempty"`
}

// EntityDescriptor describes one SAML entity in a metadata document.
type EntityDescriptor struct {
	XMLName          xml.Name          `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID         string            `xml:"entityID,attr"`
	ValidUntil       string            `xml:"validUntil,attr,omitempty"`
	CacheDuration    string            `xml:"cacheDuration,attr,omitempty"`
	IDPSSODescriptor *IDPSSODescriptor `xml:"IDPSSODescriptor,omitempty"`
	SPSSODescriptor  *SPSSODescriptor  `xml:"SPSSODescriptor,omitempty"`
	Organization     *Organization     `xml:"Organization,omitempty"`
	ContactPerson    []ContactPerson   `xml:"ContactPerson,omitempty"`
}

// IDPSSODescriptor describes an Identity Provider role.
type IDPSSODescriptor struct {
	XMLName                    xml.Name              `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`
	ProtocolSupportEnumeration string                `xml:"protocolSupportEnumeration,attr"`
	WantAuthnRequestsSigned    bool                  `xml:"WantAuthnRequestsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor       `xml:"KeyDescriptor,omitempty"`
	NameIDFormats              []string              `xml:"NameIDFormat,omitempty"`
	SingleSignOnServices       []SingleSignOnService `xml:"SingleSignOnService"`
	SingleLogoutServices       []SingleLogoutService `xml:"SingleLogoutService,omitempty"`
}

// SPSSODescriptor describes a Service Provider role.
type SPSSODescriptor struct {
	XMLName                    xml.Name                   `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`
	ProtocolSupportEnumeration string                     `xml:"protocolSupportEnumeration,attr"`
	AuthnRequestsSigned        bool                       `xml:"AuthnRequestsSigned,attr,omitempty"`
	WantAssertionsSigned       bool                       `xml:"WantAssertionsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor            `xml:"KeyDescriptor,omitempty"`
	SingleLogoutServices       []SingleLogoutService      `xml:"SingleLogoutService,omitempty"`
	NameIDFormats              []string                   `xml:"NameIDFormat,omitempty"`
	AssertionConsumerServices  []AssertionConsumerService `xml:"AssertionConsumerService"`
}

// KeyDescriptor binds certificate material to a key usage.
type KeyDescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata KeyDescriptor"`
	Use     string   `xml:"use,attr,omitempty"`
	KeyInfo KeyInfo  `xml:"KeyInfo"`
}

// KeyInfo carries the ds:KeyInfo certificate payload.
type KeyInfo struct {
	XMLName  xml.Name  `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	X509Data *X509Data `xml:"X509Data,omitempty"`
}

// X509Data holds base64 DER certificates.
type X509Data struct {
	XMLName          xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# X509Data"`
	X509Certificates []string `xml:"X509Certificate"`
}

// SingleSignOnService is an IdP login endpoint.
type SingleSignOnService struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SingleSignOnService"`
	Binding  string   `xml:"Binding,attr"`
	Location string   `xml:"Location,attr"`
}

// SingleLogoutService is a logout endpoint.
type SingleLogoutService struct {
	XMLName          xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SingleLogoutService"`
	Binding          string   `xml:"Binding,attr"`
	Location         string   `xml:"Location,attr"`
	ResponseLocation string   `xml:"ResponseLocation,attr,omitempty"`
}

// AssertionConsumerService is an SP endpoint that receives assertions.
type AssertionConsumerService struct {
	XMLName   xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata AssertionConsumerService"`
	Binding   string   `xml:"Binding,attr"`
	Location  string   `xml:"Location,attr"`
	Index     int      `xml:"index,attr"`
	IsDefault bool     `xml:"isDefault,attr,omitempty"`
}

// Organization carries publisher information.
type Organization struct {
	XMLName                  xml.Name        `xml:"urn:oasis:names:tc:SAML:2.0:metadata Organization"`
	OrganizationNames        []LocalizedName `xml:"OrganizationName"`
	OrganizationDisplayNames []LocalizedName `xml:"OrganizationDisplayName"`
	OrganizationURLs         []LocalizedName `xml:"OrganizationURL"`
}

// LocalizedName is a language-tagged string.
type LocalizedName struct {
	Lang  string `xml:"xml:lang,attr"`
	Value string `xml:",chardata"`
}

// ContactPerson carries contact information.
type ContactPerson struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata ContactPerson"`
	ContactType  string   `xml:"contactType,attr"`
	Company      string   `xml:"Company,omitempty"`
	EmailAddress []string `xml:"EmailAddress,omitempty"`
}

// ParseMetadata parses a metadata document whose root may be either a single
// EntityDescriptor or a federation EntitiesDescriptor, and returns the flat
// list of entity descriptors it contains.
func ParseMetadata(xmlData []byte) ([]EntityDescriptor, error) {
	if err := checkRoundTrip(xmlData); err != nil {
		return nil, WrapError(ClassParse, "metadata document failed round-trip validation", err)
	}

	var entity EntityDescriptor
	if err := xml.Unmarshal(xmlData, &entity); err == nil {
		return []EntityDescriptor{entity}, nil
	}

	var entities EntitiesDescriptor
	if err := xml.Unmarshal(xmlData, &entities); err != nil {
		return nil, WrapError(ClassParse, "metadata document is neither EntityDescriptor nor EntitiesDescriptor", err)
	}
	return flattenEntities(&entities), nil
}

func flattenEntities(root *EntitiesDescriptor) []EntityDescriptor {
	out := append([]EntityDescriptor(nil), root.EntityDescriptors...)
	for i := range root.EntitiesDescriptor {
		out = append(out, flattenEntities(&root.EntitiesDescriptor[i])...)
	}
	return out
}

// Certificates decodes the X509Certificate payloads of a key descriptor.
// Certificate text in metadata is base64 DER, often wrapped and indented by
// the publisher, so whitespace is stripped before decoding.
func (kd *KeyDescriptor) Certificates() ([]*x509.Certificate, error) {
	if kd.KeyInfo.X509Data == nil {
		return nil, nil
	}
	var certs []*x509.Certificate
	for _, raw := range kd.KeyInfo.X509Data.X509Certificates {
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(raw), ""))
		if err != nil {
			return nil, WrapError(ClassParse, "malformed certificate in key descriptor", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, WrapError(ClassParse, "unparsable certificate in key descriptor", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// SPMetadataConfig holds the inputs for generating this Service Provider's
// own metadata document.
type SPMetadataConfig struct {
	EntityID    string
	ACSURL      string
	SLOURL      string
	Certificate *x509.Certificate

	OrgName        string
	OrgDisplayName string
	OrgURL         string
	TechnicalEmail string
}

// BuildSPMetadata assembles the SP metadata this engine publishes. The POST
// assertion consumer endpoint is the default; the same certificate is
// declared for signing and encryption.
func BuildSPMetadata(config SPMetadataConfig) *EntityDescriptor {
	descriptor := &SPSSODescriptor{
		ProtocolSupportEnumeration: NamespaceSAMLp,
		AuthnRequestsSigned:        true,
		WantAssertionsSigned:       true,
		NameIDFormats: []string{
			NameIDFormatPersistent,
			NameIDFormatEmail,
			NameIDFormatTransient,
			NameIDFormatUnspecified,
		},
		AssertionConsumerServices: []AssertionConsumerService{
			{Binding: BindingURNHTTPPost, Location: config.ACSURL, Index: 0, IsDefault: true},
			{Binding: BindingURNHTTPRedirect, Location: config.ACSURL, Index: 1},
		},
		SingleLogoutServices: []SingleLogoutService{
			{Binding: BindingURNHTTPRedirect, Location: config.SLOURL},
			{Binding: BindingURNHTTPPost, Location: config.SLOURL},
		},
	}

	if config.Certificate != nil {
		certB64 := base64.StdEncoding.EncodeToString(config.Certificate.Raw)
		descriptor.KeyDescriptors = []KeyDescriptor{
			{Use: KeyUseSigning, KeyInfo: KeyInfo{X509Data: &X509Data{X509Certificates: []string{certB64}}}},
			{Use: KeyUseEncryption, KeyInfo: KeyInfo{X509Data: &X509Data{X509Certificates: []string{certB64}}}},
		}
	}

	metadata := &EntityDescriptor{
		EntityID:        config.EntityID,
		SPSSODescriptor: descriptor,
	}

	if config.OrgName != "" {
		metadata.Organization = &Organization{
			OrganizationNames:        []LocalizedName{{Lang: "en", Value: config.OrgName}},
			OrganizationDisplayNames: []LocalizedName{{Lang: "en", Value: config.OrgDisplayName}},
			OrganizationURLs:         []LocalizedName{{Lang: "en", Value: config.OrgURL}},
		}
	}
	if config.TechnicalEmail != "" {
		metadata.ContactPerson = []ContactPerson{
			{ContactType: "technical", EmailAddress: []string{config.TechnicalEmail}},
		}
	}

	return metadata
}

// MarshalMetadata serializes a metadata document with an XML declaration.
func MarshalMetadata(metadata *EntityDescriptor) ([]byte, error) {
	xmlData, err := xml.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), xmlData...), nil
}
