package logo

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Display prints the banner with the name of the binary below.
func Display(binary string) {
	s, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Echo", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("ledger", pterm.FgLightMagenta.ToStyle())).Srender()
	pterm.DefaultCenter.Println(s)
	pterm.DefaultCenter.WithCenterEachLineSeparately().
		Println("Byzantine fault tolerant ledger\n" + binary)
}
