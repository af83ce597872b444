package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"portside/internal/ddp"
	"portside/internal/extract"
)

// State names the suspension points of the machine.
type State string

const (
	StatePromptFile    State = "prompt_file"
	StateRetryConfirm  State = "retry_confirm"
	StateReviewConsent State = "review_consent"
	StateDone          State = "done"
)

// ErrFinished is returned when the host advances a session that already
// emitted its exit command.
var ErrFinished = errors.New("flow already finished")

// Flow drives the donation dialogue for one session. Not safe for concurrent
// use; a session has a single logical thread of control.
type Flow struct {
	sessionID string
	platforms []extract.Platform
	log       *zap.Logger
	now       func() time.Time

	state    State
	idx      int
	tables   []extract.Table
	dict     extract.DonationDict
	logLines []string
}

// New builds a flow over the given platforms, processed in order. Start must
// be called once to obtain the first commands.
func New(sessionID string, platforms []extract.Platform, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Flow{
		sessionID: sessionID,
		platforms: platforms,
		log:       log.With(zap.String("session", sessionID)),
		now:       time.Now,
		state:     StatePromptFile,
	}
}

// State returns the current suspension point.
func (f *Flow) State() State { return f.state }

// PlatformName returns the platform currently being processed, "" when done.
func (f *Flow) PlatformName() string {
	if f.idx >= len(f.platforms) {
		return ""
	}
	return f.platforms[f.idx].Name
}

// Start emits the opening commands: the initial tracking donation and the
// first file prompt (or an immediate exit when no platforms are configured).
func (f *Flow) Start() []Command {
	f.logf("Starting the donation flow")
	cmds := []Command{f.donateLogs(f.sessionID + "-tracking")}
	if len(f.platforms) == 0 {
		f.state = StateDone
		return append(cmds, f.exitCommands()...)
	}
	return append(cmds, f.promptCurrent()...)
}

// Advance consumes the host's response to the pending render command and
// returns the next commands, ending in exactly one render command until the
// session exits. A decline or skip is a normal transition, never an error.
func (f *Flow) Advance(resp Response) ([]Command, error) {
	switch f.state {
	case StatePromptFile:
		return f.advancePromptFile(resp), nil
	case StateRetryConfirm:
		return f.advanceRetryConfirm(resp), nil
	case StateReviewConsent:
		return f.advanceReviewConsent(resp), nil
	case StateDone:
		return nil, ErrFinished
	default:
		return nil, fmt.Errorf("flow in unknown state %q", f.state)
	}
}

func (f *Flow) advancePromptFile(resp Response) []Command {
	platform := f.platforms[f.idx]
	if resp.Kind != ResponseFile || resp.Value == "" {
		f.logf("Skipped %s", platform.Name)
		cmds := []Command{f.donateTracking()}
		return append(cmds, f.nextPlatform()...)
	}

	c := platform.Validate(resp.Value)
	if c.Status.ID != ddp.StatusValid {
		f.logf("Not a valid %s package (status %d); prompting retry", platform.Name, c.Status.ID)
		cmds := []Command{f.donateTracking()}
		f.state = StateRetryConfirm
		return append(cmds, f.renderRetryConfirm(platform.Name))
	}

	f.logf("Payload for %s", platform.Name)
	cmds := []Command{f.donateTracking()}
	f.tables, f.dict = platform.Extract(resp.Value, c)

	f.logf("Prompt consent; %s", platform.Name)
	cmds = append(cmds, f.donateTracking())
	if len(f.tables) == 0 {
		cmds = append(cmds, Command{Kind: CommandStatus, Status: &StatusEvent{
			Key:     fmt.Sprintf("%s-%s-NO-DATA-FOUND", f.sessionID, platform.Name),
			Message: "NO_DATA_FOUND",
		}})
		f.tables = []extract.Table{emptyTable(platform.Name)}
	}
	f.state = StateReviewConsent
	return append(cmds, f.renderConsentForm(platform.Name, f.tables))
}

func (f *Flow) advanceRetryConfirm(resp Response) []Command {
	platform := f.platforms[f.idx]
	if resp.Kind == ResponseConfirm {
		f.state = StatePromptFile
		return f.promptCurrent()
	}
	f.logf("Skipped during retry %s", platform.Name)
	cmds := []Command{f.donateTracking()}
	return append(cmds, f.nextPlatform()...)
}

func (f *Flow) advanceReviewConsent(resp Response) []Command {
	platform := f.platforms[f.idx]
	var cmds []Command
	if resp.Kind == ResponseConsent {
		f.logf("Data donated; %s", platform.Name)
		if f.dict != nil {
			cmds = append(cmds, f.donateDict(platform.Name)...)
		} else {
			payload := resp.Consent
			if payload == nil {
				payload = consentPayload(f.tables)
			}
			cmds = append(cmds, Command{Kind: CommandDonate, Donate: &Donation{Key: platform.Name, Payload: payload}})
		}
		cmds = append(cmds, f.donateTracking())
		cmds = append(cmds, Command{Kind: CommandStatus, Status: &StatusEvent{
			Key:     fmt.Sprintf("%s-%s-DONATED", f.sessionID, platform.Name),
			Message: "DONATED",
		}})
	} else {
		f.logf("Skipped after reviewing consent: %s", platform.Name)
		cmds = append(cmds, f.donateTracking())
		cmds = append(cmds, Command{Kind: CommandStatus, Status: &StatusEvent{
			Key:     fmt.Sprintf("%s-%s-SKIP-REVIEW-CONSENT", f.sessionID, platform.Name),
			Message: "SKIP_REVIEW_CONSENT",
		}})
	}
	return append(cmds, f.nextPlatform()...)
}

// donateDict fans out the capped donation mapping: one donate command per
// key, instead of the displayed tables, so the preview stays bounded while
// the full dataset is captured.
func (f *Flow) donateDict(platformName string) []Command {
	keys := make([]string, 0, len(f.dict))
	for k := range f.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cmds := make([]Command, 0, len(keys))
	for _, k := range keys {
		payload, err := f.dict.Payload(k)
		if err != nil {
			f.log.Error("donation payload marshal failed", zap.String("key", k), zap.Error(err))
			continue
		}
		cmds = append(cmds, Command{Kind: CommandDonate, Donate: &Donation{
			Key:     platformName + "_" + k,
			Payload: payload,
		}})
	}
	return cmds
}

// nextPlatform resets per-platform state and either prompts for the next
// platform's file or closes the session. One platform failing or being
// skipped never stops the loop.
func (f *Flow) nextPlatform() []Command {
	f.idx++
	f.tables = nil
	f.dict = nil
	if f.idx < len(f.platforms) {
		f.state = StatePromptFile
		return f.promptCurrent()
	}
	f.state = StateDone
	return f.exitCommands()
}

func (f *Flow) promptCurrent() []Command {
	platform := f.platforms[f.idx]
	f.logf("Prompt for file for %s", platform.Name)
	return []Command{
		f.donateTracking(),
		f.renderFilePrompt(platform),
	}
}

func (f *Flow) exitCommands() []Command {
	return []Command{
		{Kind: CommandExit, Exit: &ExitEvent{Code: 0, Info: "Success"}},
		{Kind: CommandRender, Render: &Page{Kind: PageEnd}},
	}
}

func (f *Flow) renderFilePrompt(platform extract.Platform) Command {
	return Command{Kind: CommandRender, Render: &Page{
		Kind:     PageFilePrompt,
		Platform: platform.Name,
		Header:   extract.Translatable{"en": platform.Name, "nl": platform.Name},
		Description: extract.Translatable{
			"en": fmt.Sprintf("Please follow the download instructions and choose the file that you stored on your device. Click “Skip” at the right bottom, if you do not have a file from %s.", platform.Name),
			"nl": fmt.Sprintf("Volg de download instructies en kies het bestand dat je opgeslagen hebt op je apparaat. Als je geen %s bestand hebt klik dan op “Overslaan” rechts onder.", platform.Name),
		},
		Extensions: platform.FileHint,
	}}
}

func (f *Flow) renderRetryConfirm(platformName string) Command {
	return Command{Kind: CommandRender, Render: &Page{
		Kind:     PageConfirm,
		Platform: platformName,
		Header:   extract.Translatable{"en": platformName, "nl": platformName},
		Description: extract.Translatable{
			"en": fmt.Sprintf("Unfortunately, we could not process your %s file. If you are sure that you selected the correct file, press Continue. To select a different file, press Try again.", platformName),
			"nl": fmt.Sprintf("Helaas, kunnen we je %s bestand niet verwerken. Weet je zeker dat je het juiste bestand hebt gekozen? Ga dan verder. Probeer opnieuw als je een ander bestand wilt kiezen.", platformName),
		},
		OK:     extract.Translatable{"en": "Try again", "nl": "Probeer opnieuw"},
		Cancel: extract.Translatable{"en": "Continue", "nl": "Verder"},
	}}
}

func (f *Flow) renderConsentForm(platformName string, tables []extract.Table) Command {
	return Command{Kind: CommandRender, Render: &Page{
		Kind:     PageConsentForm,
		Platform: platformName,
		Header:   extract.Translatable{"en": platformName, "nl": platformName},
		Tables:   tables,
	}}
}

// emptyTable is shown when extraction found nothing, so the participant
// still sees an explanation instead of a blank consent page.
func emptyTable(platformName string) extract.Table {
	return extract.Table{
		Name: platformName + "_no_data_found",
		Title: extract.Translatable{
			"en": "Nothing went wrong, but we couldn't find any data in your files",
			"nl": "Er ging niks mis, maar we konden geen gegevens in jouw data vinden",
		},
		Data: extract.Frame{
			Columns: []string{"No data found"},
			Records: [][]string{{"No data found"}},
		},
	}
}

// consentPayload serializes the reviewed tables when the host's consent
// response carries no payload of its own.
func consentPayload(tables []extract.Table) json.RawMessage {
	out := map[string]any{}
	for _, t := range tables {
		out[t.Name] = t.Data.Maps()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// logf records a line in the donated log buffer and mirrors it to the
// structured logger.
func (f *Flow) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	f.log.Info(line, zap.String("platform", f.PlatformName()))
	f.logLines = append(f.logLines, f.now().UTC().Format(time.RFC3339)+" --- "+line)
}

// donateTracking flushes the log buffer under the per-platform tracking key.
func (f *Flow) donateTracking() Command {
	return f.donateLogs(fmt.Sprintf("%s-%s-tracking", f.sessionID, f.PlatformName()))
}

// donateLogs donates the accumulated log lines. Best-effort: the host may
// drop it without affecting the flow.
func (f *Flow) donateLogs(key string) Command {
	lines := f.logLines
	if len(lines) == 0 {
		lines = []string{"no logs"}
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		payload = json.RawMessage(`["no logs"]`)
	}
	return Command{Kind: CommandDonate, Donate: &Donation{Key: key, Payload: payload}}
}
