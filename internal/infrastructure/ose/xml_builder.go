package ose

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// Namespaces oficiales UBL 2.1.
const (
	// Namespace por defecto (UBL Invoice)
	NsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	// Namespace por defecto (UBL DespatchAdvice, guía de remisión)
	NsDespatch = "urn:oasis:names:specification:ubl:schema:xsd:DespatchAdvice-2"
	// Common Aggregate Components
	NsCac = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	// Common Basic Components
	NsCbc = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	// Extension Components
	NsExt = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	// XML Digital Signature
	NsDs = "http://www.w3.org/2000/09/xmldsig#"
)

// BuildContext datos necesarios para construir el XML de un comprobante.
type BuildContext struct {
	Document *entity.FiscalDocument
	Company  *entity.Company
}

// XMLBuilderService construye el payload canónico UBL 2.1 del comprobante
// (sin firma; el firmador inyecta ds:Signature en el placeholder de extensiones).
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build genera el []byte del documento UBL según su tipo: Invoice para
// facturas y notas, DespatchAdvice para guías de remisión.
func (s *XMLBuilderService) Build(ctx *BuildContext) ([]byte, error) {
	if ctx == nil || ctx.Document == nil || ctx.Company == nil {
		return nil, fmt.Errorf("ose: faltan document o company en el contexto")
	}
	if ctx.Document.DocumentType == entity.DocTypeWaybill {
		return s.buildDespatchAdvice(ctx)
	}
	return s.buildInvoice(ctx)
}

// buildInvoice genera un UBL Invoice 2.1 (facturas, notas de crédito/débito).
func (s *XMLBuilderService) buildInvoice(ctx *BuildContext) ([]byte, error) {
	doc := ctx.Document
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Space: NsInvoice, Local: "Invoice"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: NsInvoice},
			{Name: xml.Name{Local: "xmlns:cac"}, Value: NsCac},
			{Name: xml.Name{Local: "xmlns:cbc"}, Value: NsCbc},
			{Name: xml.Name{Local: "xmlns:ds"}, Value: NsDs},
			{Name: xml.Name{Local: "xmlns:ext"}, Value: NsExt},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	// ext:UBLExtensions siempre como primer hijo (requerido por el firmador)
	writeSignaturePlaceholder(enc)

	writeCbc(enc, "UBLVersionID", "2.1")
	writeCbc(enc, "CustomizationID", "2.0")
	writeCbc(enc, "ID", doc.Name())
	writeCbc(enc, "IssueDate", doc.CreatedAt.Format("2006-01-02"))
	writeCbc(enc, "IssueTime", doc.CreatedAt.Format("15:04:05"))
	writeCbc(enc, "InvoiceTypeCode", TypeCodeFor(doc.DocumentType))
	writeCbc(enc, "DocumentCurrencyCode", doc.Currency)
	writeCbc(enc, "LineCountNumeric", strconv.Itoa(len(doc.LineItems)))

	// Nota con referencia al documento relacionado (notas de crédito/débito)
	if doc.RelatedDocumentID != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "BillingReference"}})
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "InvoiceDocumentReference"}})
		writeCbc(enc, "ID", doc.RelatedDocumentID)
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "InvoiceDocumentReference"}})
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "BillingReference"}})
	}

	s.writeSupplierParty(enc, ctx, "AccountingSupplierParty")
	s.writeCustomerParty(enc, ctx, "AccountingCustomerParty")

	// cac:TaxTotal (IGV)
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})
	writeCbcAmount(enc, "TaxAmount", formatDecimal(doc.Totals.Tax), doc.Currency)
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxSubtotal"}})
	writeCbcAmount(enc, "TaxableAmount", formatDecimal(doc.Totals.TaxableBase), doc.Currency)
	writeCbcAmount(enc, "TaxAmount", formatDecimal(doc.Totals.Tax), doc.Currency)
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxCategory"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
	writeCbc(enc, "ID", "1000")
	writeCbc(enc, "Name", "IGV")
	writeCbc(enc, "TaxTypeCode", "VAT")
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxCategory"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxSubtotal"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})

	// cac:LegalMonetaryTotal
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "LegalMonetaryTotal"}})
	writeCbcAmount(enc, "LineExtensionAmount", formatDecimal(doc.Totals.TaxableBase), doc.Currency)
	writeCbcAmount(enc, "TaxInclusiveAmount", formatDecimal(doc.Totals.GrandTotal), doc.Currency)
	writeCbcAmount(enc, "PayableAmount", formatDecimal(doc.Totals.GrandTotal), doc.Currency)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "LegalMonetaryTotal"}})

	for i, line := range doc.LineItems {
		s.writeInvoiceLine(enc, i+1, line, doc.Currency)
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildDespatchAdvice genera un UBL DespatchAdvice 2.1 (guía de remisión remitente).
func (s *XMLBuilderService) buildDespatchAdvice(ctx *BuildContext) ([]byte, error) {
	doc := ctx.Document
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Space: NsDespatch, Local: "DespatchAdvice"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: NsDespatch},
			{Name: xml.Name{Local: "xmlns:cac"}, Value: NsCac},
			{Name: xml.Name{Local: "xmlns:cbc"}, Value: NsCbc},
			{Name: xml.Name{Local: "xmlns:ds"}, Value: NsDs},
			{Name: xml.Name{Local: "xmlns:ext"}, Value: NsExt},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	writeSignaturePlaceholder(enc)

	writeCbc(enc, "UBLVersionID", "2.1")
	writeCbc(enc, "CustomizationID", "2.0")
	writeCbc(enc, "ID", doc.Name())
	writeCbc(enc, "IssueDate", doc.CreatedAt.Format("2006-01-02"))
	writeCbc(enc, "IssueTime", doc.CreatedAt.Format("15:04:05"))
	writeCbc(enc, "DespatchAdviceTypeCode", TypeCodeFor(doc.DocumentType))

	// Referencia a la factura que motivó el traslado
	if doc.RelatedDocumentID != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "AdditionalDocumentReference"}})
		writeCbc(enc, "ID", doc.RelatedDocumentID)
		writeCbc(enc, "DocumentTypeCode", sunat.DocTypeInvoice)
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "AdditionalDocumentReference"}})
	}

	s.writeSupplierParty(enc, ctx, "DespatchSupplierParty")
	s.writeCustomerParty(enc, ctx, "DeliveryCustomerParty")

	// cac:Shipment: motivo de traslado y peso bruto estimado
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Shipment"}})
	writeCbc(enc, "ID", "1")
	writeCbc(enc, "HandlingCode", sunat.TransferReasonSale)
	grossWeight := sumQuantities(doc.LineItems)
	writeCbcWithAttr(enc, "GrossWeightMeasure", formatDecimal(grossWeight), "unitCode", sunat.UnitKilogram)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Shipment"}})

	for i, line := range doc.LineItems {
		s.writeDespatchLine(enc, i+1, line)
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeSignaturePlaceholder escribe ext:UBLExtensions con un ExtensionContent
// vacío; el firmador inyectará <ds:Signature> aquí.
func writeSignaturePlaceholder(enc *xml.Encoder) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtensions"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtensions"}})
}

func (s *XMLBuilderService) writeSupplierParty(enc *xml.Encoder, ctx *BuildContext, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: local}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Party"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyIdentification"}})
	writeCbcWithAttr(enc, "ID", ctx.Company.RUC, "schemeID", sunat.IdentRUC)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyIdentification"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})
	writeCbc(enc, "RegistrationName", ctx.Company.Name)
	if ctx.Company.Address != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "RegistrationAddress"}})
		if ctx.Company.Ubigeo != "" {
			writeCbc(enc, "ID", ctx.Company.Ubigeo)
		}
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "AddressLine"}})
		writeCbc(enc, "Line", ctx.Company.Address)
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "AddressLine"}})
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "RegistrationAddress"}})
	}
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Party"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: local}})
}

func (s *XMLBuilderService) writeCustomerParty(enc *xml.Encoder, ctx *BuildContext, local string) {
	doc := ctx.Document
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: local}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Party"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyIdentification"}})
	writeCbcWithAttr(enc, "ID", doc.RecipientTaxID, "schemeID", identSchemeFor(doc.RecipientTaxID))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyIdentification"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})
	writeCbc(enc, "RegistrationName", doc.RecipientName)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Party"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: local}})
}

func (s *XMLBuilderService) writeInvoiceLine(enc *xml.Encoder, lineNum int, line entity.LineItem, currency string) {
	unitCode := line.UnitCode
	if unitCode == "" {
		unitCode = sunat.UnitUnit
	}
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "InvoiceLine"}})
	writeCbc(enc, "ID", strconv.Itoa(lineNum))
	writeCbcWithAttr(enc, "InvoicedQuantity", formatDecimal(line.Quantity), "unitCode", unitCode)
	writeCbcAmount(enc, "LineExtensionAmount", formatDecimal(line.LineTotal), currency)

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Item"}})
	writeCbc(enc, "Description", line.Description)
	if line.Code != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "SellersItemIdentification"}})
		writeCbc(enc, "ID", line.Code)
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "SellersItemIdentification"}})
	}
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Item"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Price"}})
	writeCbcAmount(enc, "PriceAmount", formatDecimal(line.UnitPrice), currency)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Price"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "InvoiceLine"}})
}

func (s *XMLBuilderService) writeDespatchLine(enc *xml.Encoder, lineNum int, line entity.LineItem) {
	unitCode := line.UnitCode
	if unitCode == "" {
		unitCode = sunat.UnitUnit
	}
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "DespatchLine"}})
	writeCbc(enc, "ID", strconv.Itoa(lineNum))
	writeCbcWithAttr(enc, "DeliveredQuantity", formatDecimal(line.Quantity), "unitCode", unitCode)
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Item"}})
	writeCbc(enc, "Description", line.Description)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Item"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "DespatchLine"}})
}

// TypeCodeFor traduce el tipo de documento de dominio al código del Catálogo 01.
func TypeCodeFor(documentType string) string {
	switch documentType {
	case entity.DocTypeInvoice:
		return sunat.DocTypeInvoice
	case entity.DocTypeCreditNote:
		return sunat.DocTypeCreditNote
	case entity.DocTypeDebitNote:
		return sunat.DocTypeDebitNote
	case entity.DocTypeWaybill:
		return sunat.DocTypeWaybill
	default:
		return sunat.DocTypeInvoice
	}
}

func identSchemeFor(taxID string) string {
	if len(taxID) == 11 {
		return sunat.IdentRUC
	}
	return sunat.IdentDNI
}

func sumQuantities(items []entity.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Quantity)
	}
	if total.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return total
}

func writeCbc(enc *xml.Encoder, local, value string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCbc, Local: local}})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

func writeCbcAmount(enc *xml.Encoder, local, value string, currency string) {
	attr := []xml.Attr{}
	if currency != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "currencyID"}, Value: currency})
	}
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCbc, Local: local}, Attr: attr})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

func writeCbcWithAttr(enc *xml.Encoder, local, value, attrLocal, attrValue string) {
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Space: NsCbc, Local: local},
		Attr: []xml.Attr{{Name: xml.Name{Local: attrLocal}, Value: attrValue}},
	})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

func formatDecimal(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
