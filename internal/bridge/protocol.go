// Package bridge runs Custom scripts in the active tab through a debugging
// session. A requester sends a Request over a Transport; the Executor on
// the other side attaches to the tab, evaluates the code, detaches, and
// answers with a single Response.
package bridge

import (
	"encoding/json"
	"errors"
	"time"
)

// TypeRunCustomScript is the only request type the executor answers.
const TypeRunCustomScript = "RUN_CUSTOM_SCRIPT"

// ProtocolVersion is the debugging protocol version requested on attach.
const ProtocolVersion = "1.3"

// Exception names reported on infrastructure failures.
const (
	AttachErrorName      = "browser.debugger.attach error"
	SendCommandErrorName = "browser.debugger.sendCommand error"
)

// NoActiveTabText is the text of the response sent when no tab is active.
const NoActiveTabText = "No active tab"

// Response status codes.
const (
	StatusOK        = 200
	StatusException = 400
	StatusFailure   = 500
)

// ErrUnknownType is returned for requests whose Type is not
// TypeRunCustomScript. No Response is produced for them.
var ErrUnknownType = errors.New("bridge: unknown request type")

// Request asks the executor to evaluate Code in the active tab.
type Request struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// NewRequest builds a run request for code.
func NewRequest(code string) Request {
	return Request{Type: TypeRunCustomScript, Code: code}
}

// ExceptionDetails describes why a run did not succeed. Text is only set
// on the no-active-tab response.
type ExceptionDetails struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Response is the single answer to a Request. The no-active-tab response
// carries no Status; every other path does.
type Response struct {
	Status           int               `json:"status,omitempty"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
	// Result is the evaluated value, present on status 200 when the
	// expression produced a serialisable value.
	Result json.RawMessage `json:"result,omitempty"`
}

// OK reports a successful evaluation.
func (r Response) OK() bool { return r.Status == StatusOK }

// Err returns a short description of a non-OK response, or "".
func (r Response) Err() string {
	if r.OK() {
		return ""
	}
	if r.ExceptionDetails == nil {
		return "no response"
	}
	d := r.ExceptionDetails
	switch {
	case d.Text != "":
		return d.Text
	case d.Description != "":
		return d.Name + ": " + d.Description
	}
	return d.Name
}

func noActiveTab() Response {
	return Response{ExceptionDetails: &ExceptionDetails{Text: NoActiveTabText}}
}

func failure(name, description string) Response {
	return Response{
		Status:           StatusFailure,
		ExceptionDetails: &ExceptionDetails{Name: name, Description: description},
	}
}

// Run is the record of one script execution, delivered to sinks.
type Run struct {
	ID        string    `json:"id"`
	Command   string    `json:"command,omitempty"`
	Code      string    `json:"code"`
	Response  Response  `json:"response"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`
}

// EvaluateParams are the Runtime.evaluate parameters.
type EvaluateParams struct {
	Expression            string `json:"expression"`
	IncludeCommandLineAPI bool   `json:"includeCommandLineAPI"`
	AwaitPromise          bool   `json:"awaitPromise"`
	UserGesture           bool   `json:"userGesture"`
	ReturnByValue         bool   `json:"returnByValue"`
}

// EvaluateResult is the subset of the Runtime.evaluate reply the executor
// reads.
type EvaluateResult struct {
	Result *struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value,omitempty"`
	} `json:"result,omitempty"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			ClassName   string `json:"className"`
			Description string `json:"description"`
		} `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}
