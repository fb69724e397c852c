// Reglas que deciden si un comprobante aceptado exige la emisión de una guía
// de remisión derivada. Las reglas se evalúan en orden y gana la primera que
// opina; la última es siempre un catch-all configurable.

package derivation

import (
	"github.com/shopspring/decimal"
	"github.com/yohandry10/erp-sub001/internal/domain/event"
)

// Rule regla de derivación. Evaluate devuelve (require, matched): matched=false
// significa que la regla no opina sobre este evento y se pasa a la siguiente.
type Rule interface {
	Name() string
	Evaluate(ev event.DocumentIssued) (require bool, matched bool)
}

// AmountThresholdRule exige guía cuando el importe total supera el umbral
// (estrictamente mayor; un total igual al umbral no dispara).
type AmountThresholdRule struct {
	Threshold decimal.Decimal
}

func (r AmountThresholdRule) Name() string { return "amount-threshold" }

func (r AmountThresholdRule) Evaluate(ev event.DocumentIssued) (bool, bool) {
	if ev.GrandTotal.GreaterThan(r.Threshold) {
		return true, true
	}
	return false, false
}

// DefaultRule catch-all: decide todo evento que ninguna regla anterior decidió.
type DefaultRule struct {
	Require bool
}

func (r DefaultRule) Name() string { return "default" }

func (r DefaultRule) Evaluate(event.DocumentIssued) (bool, bool) {
	return r.Require, true
}

// evaluate recorre las reglas en orden y devuelve la decisión de la primera
// que opina, junto con su nombre.
func evaluate(rules []Rule, ev event.DocumentIssued) (bool, string) {
	for _, rule := range rules {
		if require, matched := rule.Evaluate(ev); matched {
			return require, rule.Name()
		}
	}
	return false, ""
}
