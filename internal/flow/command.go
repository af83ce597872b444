// Package flow sequences the donation dialogue for one session: per platform,
// prompt for a file, validate it, offer retries, render the extracted tables
// for consent and finally donate. The machine is cooperative: it suspends at
// every render command and resumes only when the host feeds it exactly one
// response, so it never blocks a thread while a user thinks.
package flow

import (
	"encoding/json"

	"portside/internal/extract"
)

// CommandKind tags the commands a flow emits towards its host.
type CommandKind string

const (
	// CommandRender asks the host to show a page and demands exactly one
	// response before the flow proceeds.
	CommandRender CommandKind = "render"
	// CommandDonate hands the host a payload to persist. Fire and forget;
	// the flow never learns whether it was stored.
	CommandDonate CommandKind = "donate"
	// CommandStatus is a best-effort machine-readable progress marker.
	CommandStatus CommandKind = "status"
	// CommandExit closes the session.
	CommandExit CommandKind = "exit"
)

// PageKind tags the body of a render command.
type PageKind string

const (
	PageFilePrompt  PageKind = "file_prompt"
	PageConfirm     PageKind = "confirm"
	PageConsentForm PageKind = "consent_form"
	PageEnd         PageKind = "end"
)

// Page is the body of a render command.
type Page struct {
	Kind        PageKind             `json:"kind"`
	Platform    string               `json:"platform,omitempty"`
	Header      extract.Translatable `json:"header,omitempty"`
	Description extract.Translatable `json:"description,omitempty"`
	// Extensions hints accepted MIME types/extensions on a file prompt.
	Extensions string `json:"extensions,omitempty"`
	// OK and Cancel label the two choices of a confirm page.
	OK     extract.Translatable `json:"ok,omitempty"`
	Cancel extract.Translatable `json:"cancel,omitempty"`
	// Tables are shown on a consent form.
	Tables []extract.Table `json:"tables,omitempty"`
}

// Donation is the payload of a donate command.
type Donation struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// StatusEvent is the payload of a status command.
type StatusEvent struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ExitEvent is the payload of an exit command.
type ExitEvent struct {
	Code int    `json:"code"`
	Info string `json:"info"`
}

// Command is one emission of the flow. Exactly one of the pointer fields is
// set, selected by Kind.
type Command struct {
	Kind   CommandKind  `json:"kind"`
	Render *Page        `json:"render,omitempty"`
	Donate *Donation    `json:"donate,omitempty"`
	Status *StatusEvent `json:"status,omitempty"`
	Exit   *ExitEvent   `json:"exit,omitempty"`
}

// ResponseKind tags host responses: a file reference, an affirmative
// confirmation, a consent payload, or no value when the user skipped.
type ResponseKind string

const (
	ResponseFile    ResponseKind = "file"
	ResponseConfirm ResponseKind = "confirm"
	ResponseConsent ResponseKind = "consent"
	ResponseNone    ResponseKind = "none"
)

// Response is the host's answer to the pending render command.
type Response struct {
	Kind ResponseKind `json:"kind"`
	// Value carries the file reference for ResponseFile.
	Value string `json:"value,omitempty"`
	// Consent carries the accepted consent payload for ResponseConsent.
	Consent json.RawMessage `json:"consent,omitempty"`
}
