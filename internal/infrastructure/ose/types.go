package ose

import "context"

// Kind de resultado del gateway. Variante cerrada: el parseo del CDR/SOAP
// produce exactamente uno de estos tres casos, nunca un escaneo ad hoc de strings.
type ResultKind int

const (
	// ResultAccepted respuesta bien formada: SUNAT aceptó el comprobante.
	ResultAccepted ResultKind = iota
	// ResultRejected respuesta bien formada: rechazo de negocio (código de error SUNAT).
	// Terminal salvo corrección y reenvío manual.
	ResultRejected
	// ResultFault fallo de transporte o de protocolo (timeout, conexión, SOAP Fault,
	// respuesta malformada). Recuperable: dispara la política de reintentos.
	ResultFault
)

// String para logs.
func (k ResultKind) String() string {
	switch k {
	case ResultAccepted:
		return "ACCEPTED"
	case ResultRejected:
		return "REJECTED"
	default:
		return "FAULT"
	}
}

// GatewayResult resultado normalizado de una operación contra el OSE.
// Tanto los rechazos de la autoridad como los fallos de transporte se entregan
// como resultado, no como error, para que la máquina de estados reaccione uniforme.
type GatewayResult struct {
	Kind             ResultKind
	AuthorityCode    string // cbc:ResponseCode del CDR, o código de fault
	AuthorityMessage string
	ReferenceID      string // ticket / ID de referencia devuelto al aceptar
}

// DocumentMeta metadatos mínimos del comprobante para empaquetar y direccionar el envío.
type DocumentMeta struct {
	IssuerRUC   string
	TypeCode    string // Catálogo 01: "01", "07", "08", "09"
	Series      string
	Number      int64
	SOLUser     string
	SOLPassword string
}

// OSESubmitter puerto de salida hacia el OSE. La implementación concreta usa
// SOAP; para tests se inyecta un doble.
type OSESubmitter interface {
	// Submit empaqueta el XML firmado en ZIP y lo envía al servicio de la
	// familia correspondiente (facturas/notas vs guías de remisión).
	Submit(ctx context.Context, signedXML []byte, meta DocumentMeta) *GatewayResult

	// QueryStatus consulta idempotente del estado de un comprobante ya enviado.
	// No tiene efectos secundarios en el gateway.
	QueryStatus(ctx context.Context, meta DocumentMeta) *GatewayResult
}
