package notice

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.MustParse("pt-BR")

	message.SetString(lang, KeyRequestSent, "Pedido de rolagem enviado para %s.")
	message.SetString(lang, KeyInvalidFormula, "Não foi possível rolar %q para %s: a fórmula é inválida.")
	message.SetString(lang, KeyRollCancelled, "A rolagem de %s foi cancelada.")
}
