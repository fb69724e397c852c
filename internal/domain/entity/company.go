package entity

import "time"

// Company datos de registro del emisor (colaborador de configuración de negocio).
// El pipeline solo los lee: RUC y razón social van al XML UBL; las credenciales
// SOL van al encabezado WS-Security del envío al OSE.
type Company struct {
	ID          string
	RUC         string
	Name        string // razón social
	TradeName   string // nombre comercial
	Address     string
	Ubigeo      string // código de ubicación geográfica INEI
	SOLUser     string
	SOLPassword string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
