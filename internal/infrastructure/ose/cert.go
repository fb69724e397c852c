// Carga de certificado de firma desde .p12 (PKCS#12) o par PEM, y modo demo.

package ose

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/yohandry10/erp-sub001/pkg/config"
	"golang.org/x/crypto/pkcs12"
)

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	// pkcs12.Decode devuelve un solo certificado; basta el certificado hoja.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (separados o combinados).
func LoadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
	}
	return cert, nil
}

// LoadSigningCert resuelve el certificado de firma según la configuración OSE:
// .p12/.pfx por extensión, si no par PEM. Con CertPath vacío y AllowDemoSigning
// activo genera un certificado autofirmado efímero (solo desarrollo); con el
// flag apagado, la firma queda no disponible: nunca un fallback silencioso.
func LoadSigningCert(cfg config.OSEConfig) (tls.Certificate, error) {
	if cfg.CertPath == "" {
		if cfg.AllowDemoSigning {
			return GenerateDemoCert()
		}
		return tls.Certificate{}, fmt.Errorf("OSE_CERT_PATH no configurado y firma demo deshabilitada")
	}
	lower := strings.ToLower(cfg.CertPath)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		return LoadFromP12(cfg.CertPath, cfg.CertPassword)
	}
	return LoadFromPEM(cfg.CertPath, cfg.CertKeyPath)
}

// GenerateDemoCert genera un certificado RSA autofirmado en memoria para el
// modo de firma demo. La firma resultante es estructuralmente válida pero no
// tiene ningún valor legal.
func GenerateDemoCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generar llave demo: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "FIRMA DEMO - SIN VALOR LEGAL",
			Organization: []string{"demo"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour * 365),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generar certificado demo: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}
