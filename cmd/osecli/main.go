// osecli herramienta de operación del pipeline de emisión: consulta de estado,
// reenvío manual y anulación de comprobantes contra la API del servicio.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	token   string
	timeout time.Duration
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

var rootCmd = &cobra.Command{
	Use:   "osecli",
	Short: "Operación del pipeline de emisión electrónica (SUNAT/OSE)",
	Long: `osecli es la herramienta de operación del pipeline de emisión:
consulta el estado de un comprobante ante el OSE, fuerza el reenvío manual
de documentos rechazados o con reintentos agotados, y anula borradores.

Requiere un token JWT con rol admin u operador (flag --token o env OSECLI_TOKEN).`,
}

var statusCmd = &cobra.Command{
	Use:   "status [document-id]",
	Short: "Consulta el estado del comprobante ante el OSE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/api/documents/"+args[0]+"/status")
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit [document-id]",
	Short: "Reenvía manualmente un comprobante (reutiliza el XML firmado)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, "/api/documents/"+args[0]+"/resubmit")
	},
}

var voidCmd = &cobra.Command{
	Use:   "void [document-id]",
	Short: "Anula un comprobante no aceptado",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, "/api/documents/"+args[0]+"/void")
	},
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts [document-id]",
	Short: "Lista los intentos de envío del comprobante",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/api/documents/"+args[0]+"/attempts")
	},
}

// call lanza la petición y vuelca la respuesta JSON indentada a stdout.
func call(method, path string) error {
	req, err := http.NewRequest(method, baseURL+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("llamar al servicio: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("leer respuesta: %w", err)
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		body = out
	}
	fmt.Println(string(body))

	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("el servicio devolvió error")
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", envOr("OSECLI_BASE_URL", "http://localhost:8080"), "URL base del servicio")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("OSECLI_TOKEN"), "Token JWT (Bearer)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout de la petición")
	rootCmd.AddCommand(statusCmd, resubmitCmd, voidCmd, attemptsCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("comando fallido")
		os.Exit(1)
	}
}
