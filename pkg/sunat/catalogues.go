// Package sunat contiene catálogos y validaciones alineados a los Anexos de la
// Resolución de Superintendencia 097-2012/SUNAT y sus catálogos vigentes (Perú).
package sunat

// =============================================================================
// Catálogo 01 - Tipo de Comprobante de Pago o Documento
// Códigos usados en el nombre de archivo y en cbc:InvoiceTypeCode.
// =============================================================================

const (
	DocTypeInvoice    = "01" // Factura
	DocTypeCreditNote = "07" // Nota de crédito
	DocTypeDebitNote  = "08" // Nota de débito
	DocTypeWaybill    = "09" // Guía de remisión remitente
)

// ValidDocumentTypeCodes contiene los códigos de tipo de comprobante soportados por el pipeline.
var ValidDocumentTypeCodes = map[string]bool{
	DocTypeInvoice:    true,
	DocTypeCreditNote: true,
	DocTypeDebitNote:  true,
	DocTypeWaybill:    true,
}

// =============================================================================
// Catálogo 06 - Tipo de Documento de Identidad
// =============================================================================

const (
	IdentDNI      = "1" // Documento Nacional de Identidad
	IdentRUC      = "6" // Registro Único de Contribuyentes
	IdentPasporte = "7" // Pasaporte
)

// =============================================================================
// Catálogo 03 - Unidades de Medida (códigos UN/ECE rec 20 de uso frecuente)
// =============================================================================

const (
	UnitUnit      = "NIU" // Unidad (bienes)
	UnitService   = "ZZ"  // Unidad (servicios)
	UnitKilogram  = "KGM" // Kilogramo
	UnitGram      = "GRM" // Gramo
	UnitLitre     = "LTR" // Litro
	UnitMetre     = "MTR" // Metro
	UnitTonne     = "TNE" // Tonelada métrica
	UnitDozen     = "DZN" // Docena
	UnitHour      = "HUR" // Hora
	UnitDay       = "DAY" // Día
)

// ValidMeasurementUnitCodes códigos de unidad de medida válidos (uso común en emisión).
var ValidMeasurementUnitCodes = map[string]bool{
	UnitUnit: true, UnitService: true, UnitKilogram: true, UnitGram: true,
	UnitLitre: true, UnitMetre: true, UnitTonne: true, UnitDozen: true,
	UnitHour: true, UnitDay: true,
}

// =============================================================================
// Catálogo 02 - Monedas (ISO 4217)
// =============================================================================

const (
	CurrencyPEN = "PEN" // Sol
	CurrencyUSD = "USD" // Dólar americano
)

// ValidCurrencyCodes monedas aceptadas por el emisor.
var ValidCurrencyCodes = map[string]bool{
	CurrencyPEN: true,
	CurrencyUSD: true,
}

// =============================================================================
// Catálogo 20 - Motivo de Traslado (guía de remisión)
// =============================================================================

const (
	TransferReasonSale     = "01" // Venta
	TransferReasonPurchase = "02" // Compra
	TransferReasonInternal = "04" // Traslado entre establecimientos de la misma empresa
)
