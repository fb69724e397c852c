package sunat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// ─────────────────────────────────────────────
// ValidateRUC
// ─────────────────────────────────────────────

func TestValidateRUC_Valido(t *testing.T) {
	// RUC de pruebas de SUNAT (persona jurídica)
	assert.NoError(t, sunat.ValidateRUC("20131312955"))
}

func TestValidateRUC_IgnoraSeparadores(t *testing.T) {
	assert.NoError(t, sunat.ValidateRUC("20-13131295-5"))
}

func TestValidateRUC_Invalidos(t *testing.T) {
	casos := []struct {
		nombre string
		ruc    string
	}{
		{"dígito verificador incorrecto", "20131312954"},
		{"muy corto", "2013131295"},
		{"muy largo", "201313129555"},
		{"prefijo desconocido", "30131312955"},
		{"vacío", ""},
		{"sin dígitos", "RUC-EMPRESA"},
	}
	for _, c := range casos {
		t.Run(c.nombre, func(t *testing.T) {
			assert.Error(t, sunat.ValidateRUC(c.ruc))
		})
	}
}

// ─────────────────────────────────────────────
// ComputeRUCCheckDigit
// ─────────────────────────────────────────────

func TestComputeRUCCheckDigit(t *testing.T) {
	check, err := sunat.ComputeRUCCheckDigit("2013131295")
	require.NoError(t, err)
	assert.Equal(t, byte('5'), check)
}

func TestComputeRUCCheckDigit_BaseInsuficiente(t *testing.T) {
	_, err := sunat.ComputeRUCCheckDigit("12345")
	assert.Error(t, err)
}
