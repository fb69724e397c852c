package dto

// CommandResult resultado normalizado de las operaciones de comando del
// pipeline (create, sign, submit, resubmit, query-status, void). Ninguna
// operación lanza pánicos ni errores crudos a través de la frontera de
// colaboradores: todo se normaliza aquí.
type CommandResult struct {
	Success      bool        `json:"success"`
	Data         interface{} `json:"data,omitempty"`
	ErrorCode    string      `json:"errorCode,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// Códigos de error de la frontera de comandos.
const (
	CodeValidation         = "VALIDATION"
	CodeNotFound           = "NOT_FOUND"
	CodeDuplicate          = "DUPLICATE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeSigningUnavailable = "SIGNING_UNAVAILABLE"
	CodeNumberConflict     = "NUMBER_CONFLICT"
	CodeRetriesExhausted   = "RETRIES_EXHAUSTED"
	CodeInternal           = "INTERNAL"
)

// OK construye un resultado exitoso.
func OK(data interface{}) CommandResult {
	return CommandResult{Success: true, Data: data}
}

// Fail construye un resultado de error.
func Fail(code, message string) CommandResult {
	return CommandResult{Success: false, ErrorCode: code, ErrorMessage: message}
}

// ErrorResponse cuerpo de error HTTP.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
