package ose

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// CompressXMLToZip empaqueta el XML firmado en un archivo ZIP en memoria.
// El OSE exige que el ZIP contenga un único archivo XML con el nombre
// convenido (ver Filenames). Devuelve los bytes del ZIP listos para enviar.
func CompressXMLToZip(xmlBytes []byte, xmlFilename string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fw, err := zw.Create(xmlFilename)
	if err != nil {
		return nil, fmt.Errorf("zip: crear entrada %s: %w", xmlFilename, err)
	}
	if _, err := fw.Write(xmlBytes); err != nil {
		return nil, fmt.Errorf("zip: escribir XML: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtractFirstXMLFromZip abre un ZIP (ej. el CDR devuelto por el OSE) y
// devuelve el contenido del primer archivo .xml encontrado.
func ExtractFirstXMLFromZip(zipBytes []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("zip: abrir CDR: %w", err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip: abrir entrada %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, 4<<20)) // max 4 MB
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip: leer entrada %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("zip: el CDR no contiene ningún XML")
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// Filenames genera los nombres de archivo requeridos por el OSE para el XML y
// el ZIP. Formato determinista, también usado para consultas de estado:
//
//	{RUC}-{tipoComprobante}-{serie}-{numero}
//
// Ejemplo: 20600055519-01-F001-00000123
func Filenames(meta DocumentMeta) (xmlName, zipName string) {
	ruc := nonDigit.ReplaceAllString(meta.IssuerRUC, "")
	base := fmt.Sprintf("%s-%s-%s-%08d", ruc, meta.TypeCode, strings.TrimSpace(meta.Series), meta.Number)
	return base + ".xml", base + ".zip"
}
