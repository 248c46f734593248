// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.

package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// SignalSystemPrompt instructs the vision model to read printed brand and
// model text and report it as strict JSON.
//
//go:embed prompts/signal-system.txt
var SignalSystemPrompt string

//go:embed prompts/signal-request.txt
var signalRequestTemplate string

var signalRequestTmpl = template.Must(template.New("signal").Parse(signalRequestTemplate))

// SignalPromptData holds the dynamic data injected into the signal request.
type SignalPromptData struct {
	// Category is the category hint supplied with the scan. Empty when the
	// scan searches every category.
	Category string
	// CaptureContext is a short description of camera metadata, if any.
	CaptureContext string
}

// RenderSignalPrompt renders the per-image signal extraction request.
func RenderSignalPrompt(data SignalPromptData) string {
	var buf bytes.Buffer
	// Template execution errors are not expected with our simple templates,
	// but we handle them gracefully by returning whatever was rendered.
	_ = signalRequestTmpl.Execute(&buf, data)
	return buf.String()
}
