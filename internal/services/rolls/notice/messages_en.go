package notice

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.MustParse("en-US")

	message.SetString(lang, KeyRequestSent, "Roll request sent to %s.")
	message.SetString(lang, KeyInvalidFormula, "Could not roll %q for %s: the formula is invalid.")
	message.SetString(lang, KeyRollCancelled, "Roll for %s was cancelled.")
}
