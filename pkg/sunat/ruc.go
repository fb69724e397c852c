package sunat

import (
	"fmt"
	"unicode"
)

// pesos para el cálculo del dígito verificador del RUC (módulo 11, SUNAT).
// Se aplican a los 10 primeros dígitos del RUC, de izquierda a derecha.
var rucWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ValidateRUC valida que el RUC tenga 11 dígitos, un prefijo de tipo de
// contribuyente conocido (10, 15, 17, 20) y un dígito verificador correcto
// según el algoritmo módulo 11 de SUNAT.
func ValidateRUC(taxID string) error {
	digits := extractDigits(taxID)
	if len(digits) != 11 {
		return fmt.Errorf("sunat: RUC debe tener 11 dígitos, se encontraron %d", len(digits))
	}
	prefix := string(digits[:2])
	switch prefix {
	case "10", "15", "17", "20":
		// prefijos válidos: persona natural, sucesiones, rústicas, persona jurídica
	default:
		return fmt.Errorf("sunat: prefijo de RUC desconocido %q", prefix)
	}
	expected, err := ComputeRUCCheckDigit(string(digits[:10]))
	if err != nil {
		return err
	}
	if digits[10] != expected {
		return fmt.Errorf("sunat: dígito verificador del RUC inválido: esperado %c, recibido %c", expected, digits[10])
	}
	return nil
}

// ComputeRUCCheckDigit calcula el dígito verificador para los 10 primeros dígitos del RUC.
func ComputeRUCCheckDigit(base string) (byte, error) {
	digits := extractDigits(base)
	if len(digits) < 10 {
		return 0, fmt.Errorf("sunat: se requieren 10 dígitos para calcular el dígito verificador, se encontraron %d", len(digits))
	}
	var sum int
	for i, d := range digits[:10] {
		sum += int(d-'0') * rucWeights[i]
	}
	check := 11 - sum%11
	if check >= 10 {
		check -= 10
	}
	return byte('0' + check), nil
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return out
}
