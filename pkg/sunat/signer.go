// Puerto para la firma digital de documentos XML (XMLDSig enveloped, UBL 2.1).

package sunat

import "crypto/tls"

// SignedResult resultado de firmar un documento.
type SignedResult struct {
	SignedXML   []byte // XML con el nodo ds:Signature inyectado en ext:ExtensionContent
	ContentHash string // SHA-256 hex sobre el XML firmado; autoritativo aguas abajo
}

// Signer firma un XML de comprobante y devuelve el XML firmado más su hash de contenido.
type Signer interface {
	// Sign toma el XML del comprobante (sin firma) y el certificado con llave privada.
	// Firmar dos veces el mismo XML puede producir bytes de firma distintos si el
	// esquema no es determinista; el ContentHash se recalcula en cada firma y es
	// lo que el resto del pipeline trata como autoritativo.
	Sign(xmlBytes []byte, cert tls.Certificate) (*SignedResult, error)

	// Validate re-verifica que el payload firmado contenga una firma bien formada
	// con digest consistente. Se ejecuta antes del envío al OSE.
	Validate(signedXML []byte) bool
}
