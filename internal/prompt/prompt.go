// Package prompt builds the grounded question-answering prompt from a
// template, retrieved context, and the user question.
package prompt

import "strings"

const (
	contextPlaceholder  = "{context}"
	questionPlaceholder = "{question}"
)

// DefaultTemplate is used when a chatbot has no custom prompt configured.
const DefaultTemplate = `You are a friendly and helpful assistant. Be conversational and engaging in your responses.
Use the following pieces of context to answer the user's question.
If you don't know the answer, just say that you don't know, but maintain a friendly tone.
Make sure you only talk about this company. If user asks you something different, tell him, that you are only for answering questions about this company.
Context: {context}
Question: {question}
Please provide a friendly and helpful response:`

// Repair ensures a template contains both the {context} and {question}
// placeholders, appending the missing ones so rendering never fails.
// An empty template yields DefaultTemplate.
func Repair(template string) string {
	if template == "" {
		return DefaultTemplate
	}
	if !strings.Contains(template, contextPlaceholder) {
		template += "\nContext: " + contextPlaceholder
	}
	if !strings.Contains(template, questionPlaceholder) {
		template += "\nQuestion: " + questionPlaceholder
	}
	return template
}

// Render substitutes the placeholders in an already-repaired template.
func Render(template, context, question string) string {
	rendered := strings.ReplaceAll(template, contextPlaceholder, context)
	return strings.ReplaceAll(rendered, questionPlaceholder, question)
}
