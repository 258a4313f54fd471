package intent

import (
	"fmt"
	"strings"

	"rikapay/apps/gateway/internal/catalog"
)

const schemaLine = `{"api_route": string or null, "parameters": object, "error": string or null}`

// SystemPrompt renders the resolver instructions for a language model.
func SystemPrompt(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("You are Rika, an assistant that maps payroll management requests onto a fixed set of API routes.\n\n")
	b.WriteString("Available API routes. Use the route string exactly as written:\n")
	writeRoutes(&b, cat)
	b.WriteString("\nRules:\n")
	b.WriteString("1. Choose a route only from the list above. Never invent a route or a parameter name.\n")
	b.WriteString("2. Take parameter values only from the conversation and the current request. Never guess a value.\n")
	b.WriteString("3. Copy addresses verbatim. Return amounts, salaries, indexes and interval codes as plain integers without currency conversion. Return dates as the Unix timestamps the user gave.\n")
	fmt.Fprintf(&b, "4. If a route matches but required parameters are missing, return the route, the parameters you found and the error \"%s <comma separated names>\".\n", MissingParametersPrefix)
	fmt.Fprintf(&b, "5. If no route matches, or several routes match equally well, return api_route null and the error \"%s\".\n", UnclearIntentError)
	b.WriteString("6. Earlier turns may carry the intent while the latest message only supplies missing values. Combine them.\n")
	b.WriteString("7. Respond with one JSON object and nothing else, shaped as:\n")
	b.WriteString(schemaLine)
	b.WriteString("\n")
	return b.String()
}

// RepairPrompt asks the model to rewrite malformed output into the schema.
func RepairPrompt(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("The text below was supposed to be a single JSON object describing an API call for a payroll system, but it does not conform.\n")
	b.WriteString("Rewrite it as exactly one JSON object shaped as:\n")
	b.WriteString(schemaLine)
	b.WriteString("\nValid routes and their parameters:\n")
	writeRoutes(&b, cat)
	b.WriteString("Keep the meaning of the original. Do not add values that are not present in it. Output only the JSON object.\n")
	return b.String()
}

func writeRoutes(b *strings.Builder, cat *catalog.Catalog) {
	for _, op := range cat.Operations() {
		method := "POST"
		if !op.Mutating() {
			method = "GET"
		}
		fmt.Fprintf(b, "- %s %s", method, op.ID)
		if op.Summary != "" {
			fmt.Fprintf(b, ": %s", op.Summary)
		}
		b.WriteString("\n  parameters: ")
		parts := make([]string, 0, len(op.Params))
		for _, p := range op.Params {
			parts = append(parts, fmt.Sprintf("%s (%s)", p.Name, p.Kind))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
}
