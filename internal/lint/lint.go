// Package lint syntax-checks Custom scripts before they are saved or run.
// It parses only; nothing is evaluated or sandboxed.
package lint

import (
	"github.com/evanw/esbuild/pkg/api"
)

// Diagnostic is one parser message. Line is 1-based, Column 0-based.
type Diagnostic struct {
	Text     string `json:"text"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	LineText string `json:"lineText,omitempty"`
}

// Result lists the errors and warnings for one script.
type Result struct {
	OK       bool         `json:"ok"`
	Errors   []Diagnostic `json:"errors,omitempty"`
	Warnings []Diagnostic `json:"warnings,omitempty"`
}

// Check parses code as a browser script.
func Check(code string) Result {
	res := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     api.ESNext,
		Platform:   api.PlatformBrowser,
		Sourcefile: "script.js",
		LogLevel:   api.LogLevelSilent,
	})
	return Result{
		OK:       len(res.Errors) == 0,
		Errors:   convert(res.Errors),
		Warnings: convert(res.Warnings),
	}
}

func convert(msgs []api.Message) []Diagnostic {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{Text: m.Text}
		if m.Location != nil {
			d.Line = m.Location.Line
			d.Column = m.Location.Column
			d.LineText = m.Location.LineText
		}
		out = append(out, d)
	}
	return out
}
