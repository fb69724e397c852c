package ose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/yohandry10/erp-sub001/pkg/logger"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// ── Rutas de servicio ─────────────────────────────────────────────────────────
//
// El OSE expone rutas distintas por familia de documento sobre el mismo host:
// facturas y notas van al billService general; las guías de remisión van al
// servicio de emisión de guías. El envelope y las operaciones son los mismos.

const (
	pathBillService    = "/ol-ti-itcpfegem/billService"
	pathWaybillService = "/ol-ti-itemision-guia-gem/billService"

	soapNS     = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS  = "http://service.sunat.gob.pe"
	wsseNS     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
)

// SOAPOSEClient implementa OSESubmitter contra el WS SOAP del OSE.
type SOAPOSEClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewSOAPOSEClient construye el cliente con un timeout de red generoso, ya que
// el OSE puede tardar varios segundos en validar y responder.
func NewSOAPOSEClient(baseURL string, timeout time.Duration, log *logger.Logger) *SOAPOSEClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SOAPOSEClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// ── Estructuras SOAP de petición ──────────────────────────────────────────────

type soapEnvelope struct {
	XMLName   xml.Name   `xml:"soapenv:Envelope"`
	XmlnsS    string     `xml:"xmlns:soapenv,attr"`
	XmlnsSer  string     `xml:"xmlns:ser,attr"`
	XmlnsWsse string     `xml:"xmlns:wsse,attr"`
	Header    soapHeader `xml:"soapenv:Header"`
	Body      soapBody   `xml:"soapenv:Body"`
}

// soapHeader lleva el UsernameToken WS-Security con las credenciales SOL.
type soapHeader struct {
	Security wsseSecurity `xml:"wsse:Security"`
}

type wsseSecurity struct {
	UsernameToken wsseUsernameToken `xml:"wsse:UsernameToken"`
}

type wsseUsernameToken struct {
	Username string `xml:"wsse:Username"`
	Password string `xml:"wsse:Password"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// sendBillBody operación sendBill: ZIP con el XML firmado, en Base64.
type sendBillBody struct {
	XMLName     xml.Name `xml:"ser:sendBill"`
	FileName    string   `xml:"fileName"`
	ContentFile string   `xml:"contentFile"`
}

// getStatusBody operación getStatus: consulta por clave de comprobante.
type getStatusBody struct {
	XMLName xml.Name `xml:"ser:getStatus"`
	RUC     string   `xml:"rucComprobante"`
	Type    string   `xml:"tipoComprobante"`
	Series  string   `xml:"serieComprobante"`
	Number  string   `xml:"numeroComprobante"`
}

// ── Estructuras SOAP de respuesta ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	SendBillResponse  *sendBillResponse  `xml:"sendBillResponse"`
	GetStatusResponse *getStatusResponse `xml:"getStatusResponse"`
	Fault             *soapFault         `xml:"Fault"`
}

type sendBillResponse struct {
	ApplicationResponse string `xml:"applicationResponse"` // ZIP del CDR en Base64
}

type getStatusResponse struct {
	Status struct {
		StatusCode string `xml:"statusCode"`
		Content    string `xml:"content"` // ZIP del CDR en Base64 (cuando existe)
	} `xml:"status"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

// ── CDR (ApplicationResponse UBL) ─────────────────────────────────────────────

type cdrApplicationResponse struct {
	ID               string `xml:"ID"`
	DocumentResponse struct {
		Response struct {
			ResponseCode string `xml:"ResponseCode"`
			Description  string `xml:"Description"`
		} `xml:"Response"`
	} `xml:"DocumentResponse"`
}

// ── Operaciones ───────────────────────────────────────────────────────────────

// Submit empaqueta el XML firmado y lo envía con sendBill al servicio de la
// familia del documento. Nunca retorna error: todo se normaliza en GatewayResult.
func (c *SOAPOSEClient) Submit(ctx context.Context, signedXML []byte, meta DocumentMeta) *GatewayResult {
	xmlName, zipName := Filenames(meta)
	zipBytes, err := CompressXMLToZip(signedXML, xmlName)
	if err != nil {
		return faultResult("ZIP", err.Error())
	}
	body := &sendBillBody{
		FileName:    zipName,
		ContentFile: base64.StdEncoding.EncodeToString(zipBytes),
	}
	raw, res := c.call(ctx, meta, "urn:sendBill", body)
	if res != nil {
		return res
	}
	return c.parseSendBillResponse(raw)
}

// QueryStatus consulta getStatus; idempotente y sin efectos en el gateway.
func (c *SOAPOSEClient) QueryStatus(ctx context.Context, meta DocumentMeta) *GatewayResult {
	body := &getStatusBody{
		RUC:    meta.IssuerRUC,
		Type:   meta.TypeCode,
		Series: meta.Series,
		Number: fmt.Sprintf("%d", meta.Number),
	}
	raw, res := c.call(ctx, meta, "urn:getStatus", body)
	if res != nil {
		return res
	}
	return c.parseGetStatusResponse(raw)
}

// call serializa el envelope, hace el POST y devuelve el cuerpo crudo, o un
// GatewayResult de fallo de transporte ya normalizado.
func (c *SOAPOSEClient) call(ctx context.Context, meta DocumentMeta, action string, content interface{}) ([]byte, *GatewayResult) {
	envelope := soapEnvelope{
		XmlnsS:    soapNS,
		XmlnsSer:  serviceNS,
		XmlnsWsse: wsseNS,
		Header: soapHeader{
			Security: wsseSecurity{
				UsernameToken: wsseUsernameToken{
					Username: meta.SOLUser,
					Password: meta.SOLPassword,
				},
			},
		},
		Body: soapBody{Content: content},
	}

	xmlPayload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, faultResult("MARSHAL", fmt.Sprintf("serializar envelope: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointFor(meta.TypeCode),
		bytes.NewReader(xmlPayload))
	if err != nil {
		return nil, faultResult("REQUEST", err.Error())
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, faultResult("TIMEOUT", ctx.Err().Error())
		}
		return nil, faultResult("CONNECTION", err.Error())
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // max 4 MB
	if err != nil {
		return nil, faultResult("READ", err.Error())
	}
	return rawBody, nil
}

// endpointFor resuelve la ruta del servicio según la familia del documento.
func (c *SOAPOSEClient) endpointFor(typeCode string) string {
	if typeCode == sunat.DocTypeWaybill {
		return c.baseURL + pathWaybillService
	}
	return c.baseURL + pathBillService
}

// parseSendBillResponse desempaqueta la respuesta SOAP y el CDR interno.
func (c *SOAPOSEClient) parseSendBillResponse(rawBody []byte) *GatewayResult {
	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(rawBody, &envResp); err != nil {
		return faultResult("PARSE", "respuesta SOAP malformada: "+truncate(string(rawBody), 512))
	}
	if envResp.Body.Fault != nil {
		return c.classifyFault(envResp.Body.Fault)
	}
	if envResp.Body.SendBillResponse == nil {
		return faultResult("PARSE", "respuesta SOAP vacía o inesperada")
	}
	return c.parseCDR(envResp.Body.SendBillResponse.ApplicationResponse)
}

func (c *SOAPOSEClient) parseGetStatusResponse(rawBody []byte) *GatewayResult {
	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(rawBody, &envResp); err != nil {
		return faultResult("PARSE", "respuesta SOAP malformada: "+truncate(string(rawBody), 512))
	}
	if envResp.Body.Fault != nil {
		return c.classifyFault(envResp.Body.Fault)
	}
	if envResp.Body.GetStatusResponse == nil {
		return faultResult("PARSE", "respuesta SOAP vacía o inesperada")
	}
	status := envResp.Body.GetStatusResponse.Status
	switch status.StatusCode {
	case "0":
		if status.Content != "" {
			return c.parseCDR(status.Content)
		}
		return &GatewayResult{Kind: ResultAccepted, AuthorityCode: "0"}
	case "98":
		// En proceso: tratado como fallo recuperable, se vuelve a consultar.
		return faultResult("98", "comprobante en proceso de validación")
	default:
		return &GatewayResult{
			Kind:             ResultRejected,
			AuthorityCode:    status.StatusCode,
			AuthorityMessage: "comprobante rechazado o no encontrado",
		}
	}
}

// parseCDR abre el ZIP Base64 del CDR (ApplicationResponse) y extrae el veredicto.
// ResponseCode "0" = aceptado; distinto de cero = rechazo de negocio.
func (c *SOAPOSEClient) parseCDR(b64zip string) *GatewayResult {
	zipBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64zip))
	if err != nil {
		return faultResult("CDR", "applicationResponse no es Base64 válido")
	}
	cdrXML, err := ExtractFirstXMLFromZip(zipBytes)
	if err != nil {
		return faultResult("CDR", err.Error())
	}
	var cdr cdrApplicationResponse
	if err := xml.Unmarshal(cdrXML, &cdr); err != nil {
		return faultResult("CDR", "ApplicationResponse malformado")
	}
	code := strings.TrimSpace(cdr.DocumentResponse.Response.ResponseCode)
	msg := strings.TrimSpace(cdr.DocumentResponse.Response.Description)
	if code == "0" {
		return &GatewayResult{
			Kind:             ResultAccepted,
			AuthorityCode:    code,
			AuthorityMessage: msg,
			ReferenceID:      strings.TrimSpace(cdr.ID),
		}
	}
	return &GatewayResult{
		Kind:             ResultRejected,
		AuthorityCode:    code,
		AuthorityMessage: msg,
	}
}

// numericFaultCode detecta códigos de error de negocio SUNAT embebidos en el
// faultcode (ej. "soap-env:Client.2017"): 4 dígitos = rechazo del emisor.
var numericFaultCode = regexp.MustCompile(`(\d{4})`)

// classifyFault separa faults de negocio (código numérico SUNAT → rechazo) de
// faults de protocolo/transporte (recuperables).
func (c *SOAPOSEClient) classifyFault(fault *soapFault) *GatewayResult {
	if m := numericFaultCode.FindStringSubmatch(fault.FaultCode); m != nil {
		return &GatewayResult{
			Kind:             ResultRejected,
			AuthorityCode:    m[1],
			AuthorityMessage: fault.FaultString,
		}
	}
	c.log.Warn().
		Str("faultcode", fault.FaultCode).
		Str("faultstring", fault.FaultString).
		Msg("SOAP Fault de protocolo del OSE")
	return faultResult(fault.FaultCode, fault.FaultString)
}

func faultResult(code, msg string) *GatewayResult {
	return &GatewayResult{Kind: ResultFault, AuthorityCode: code, AuthorityMessage: msg}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ OSESubmitter = (*SOAPOSEClient)(nil)
