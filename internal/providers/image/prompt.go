package image

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var styleTitle = cases.Title(language.English)

// BuildPrompt composes the provider prompt from the user's request. The style
// name is title-cased so free-form input ("oil painting", "OIL PAINTING")
// produces one canonical prompt per version.
func BuildPrompt(prompt, style, instruction string) string {
	var b strings.Builder
	style = strings.TrimSpace(style)
	if style != "" {
		fmt.Fprintf(&b, "Transform this selfie into a %s portrait.", styleTitle.String(style))
	} else {
		b.WriteString("Transform this selfie into an artistic portrait.")
	}
	if p := strings.TrimSpace(prompt); p != "" {
		b.WriteString(" ")
		b.WriteString(p)
	}
	if i := strings.TrimSpace(instruction); i != "" {
		b.WriteString(" Refinement: ")
		b.WriteString(i)
	}
	return b.String()
}
