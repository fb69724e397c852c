// Servicio de firma digital XMLDSig (enveloped) para comprobantes UBL 2.1.
// Inyecta <ds:Signature> en el <ext:ExtensionContent> reservado por el builder
// y calcula el hash de contenido autoritativo sobre el XML ya firmado.

package ose

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
	"github.com/yohandry10/erp-sub001/internal/domain"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// Namespaces y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2000/09/xmldsig#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	// ID del nodo ds:Signature, referenciado por SUNAT en cac:Signature.
	SignatureID = "SignSUNAT"
)

// DigitalSignatureService implementa sunat.Signer con RSA-SHA256 sobre
// SignedInfo canonicalizado (C14N inclusive).
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign firma el XML e inyecta ds:Signature en el ExtensionContent reservado.
// El ContentHash (SHA-256 hex del XML firmado) se recalcula en cada firma.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cert tls.Certificate) (*sunat.SignedResult, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("ose: XML vacío")
	}
	if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
		return nil, fmt.Errorf("ose: certificado sin llave privada: %w", domain.ErrSigningUnavailable)
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ose: el certificado debe incluir llave privada RSA: %w", domain.ErrSigningUnavailable)
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("ose: parsear certificado: %w", err)
	}

	// 1) Digest del documento completo (C14N inclusive, Reference URI="")
	canonicalDoc, err := canonicalizeXML(xmlBytes)
	if err != nil {
		canonicalDoc = xmlBytes
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	// 2) SignedInfo canonicalizado y firmado con RSA-SHA256
	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("ose: firmar SignedInfo: %w", err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)
	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)

	// 3) Nodo ds:Signature completo e inyección en el placeholder
	signatureXML := buildSignatureXML(signedInfoXML, signatureValueB64, certB64)
	signedXML, err := injectSignature(xmlBytes, signatureXML)
	if err != nil {
		return nil, err
	}

	contentHash := sha256.Sum256(signedXML)
	return &sunat.SignedResult{
		SignedXML:   signedXML,
		ContentHash: hex.EncodeToString(contentHash[:]),
	}, nil
}

// Validate re-verifica que el payload contenga una firma bien formada: nodo
// ds:Signature presente, DigestValue y SignatureValue en Base64 válido, y
// SignatureValue verificable contra el certificado embebido.
func (s *DigitalSignatureService) Validate(signedXML []byte) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return false
	}
	sig := findFirst(doc.Root(), "Signature")
	if sig == nil {
		return false
	}
	digestEl := findFirst(sig, "DigestValue")
	sigValEl := findFirst(sig, "SignatureValue")
	certEl := findFirst(sig, "X509Certificate")
	if digestEl == nil || sigValEl == nil || certEl == nil {
		return false
	}
	if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(digestEl.Text())); err != nil {
		return false
	}
	sigVal, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValEl.Text()))
	if err != nil {
		return false
	}
	certRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return false
	}
	x509Cert, err := x509.ParseCertificate(certRaw)
	if err != nil {
		return false
	}
	pub, ok := x509Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}

	// Reconstruir el SignedInfo tal como se firmó (C14N del DigestValue embebido)
	signedInfoXML := buildSignedInfo(strings.TrimSpace(digestEl.Text()))
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, signHash[:], sigVal) == nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildSignatureXML(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" Id="` + SignatureID + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

// injectSignature parsea el XML y añade ds:Signature dentro del
// ext:ExtensionContent que el builder deja vacío como primer hijo de la raíz.
func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("ose: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("ose: documento sin raíz")
	}
	ublExt := findChild(root, "UBLExtensions")
	if ublExt == nil {
		return nil, fmt.Errorf("ose: no se encontró ext:UBLExtensions")
	}
	var extContent *etree.Element
	for _, ext := range ublExt.ChildElements() {
		if localTag(ext) != "UBLExtension" {
			continue
		}
		if ec := findChild(ext, "ExtensionContent"); ec != nil {
			extContent = ec
			break
		}
	}
	if extContent == nil {
		return nil, fmt.Errorf("ose: no se encontró ext:ExtensionContent para inyectar la firma")
	}
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("ose: parsear Signature: %w", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		extContent.AddChild(sigRoot)
	}
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("ose: serializar XML firmado: %w", err)
	}
	return out.Bytes(), nil
}

// localTag devuelve el tag sin prefijo de namespace ("ext:UBLExtensions" -> "UBLExtensions").
func localTag(el *etree.Element) string {
	tag := el.Tag
	if i := strings.Index(tag, ":"); i != -1 {
		return tag[i+1:]
	}
	return tag
}

func findChild(parent *etree.Element, local string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if localTag(child) == local {
			return child
		}
	}
	return nil
}

// findFirst busca en profundidad el primer elemento con el tag local dado.
func findFirst(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	if localTag(el) == local {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findFirst(child, local); found != nil {
			return found
		}
	}
	return nil
}

var _ sunat.Signer = (*DigitalSignatureService)(nil)
