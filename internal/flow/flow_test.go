package flow_test

import (
	"encoding/json"
	"strings"
	"testing"

	"portside/internal/ddp"
	"portside/internal/extract"
	"portside/internal/flow"
)

func stubPlatform(name string, tables []extract.Table, dict extract.DonationDict) extract.Platform {
	return extract.Platform{
		Name:     name,
		FileHint: "application/zip",
		Validate: func(zipPath string) ddp.Classification {
			if strings.Contains(zipPath, "bad") {
				return ddp.Classification{Status: ddp.StatusCode{ID: ddp.StatusUnhandledFormat, Description: "unhandled"}}
			}
			cat := ddp.Category{ID: "json_en", Filetype: ddp.FiletypeJSON, Language: ddp.LanguageEN}
			return ddp.Classification{Status: ddp.StatusCode{ID: ddp.StatusValid}, Category: &cat}
		},
		Extract: func(zipPath string, c ddp.Classification) ([]extract.Table, extract.DonationDict) {
			return tables, dict
		},
	}
}

func oneTable(name string) []extract.Table {
	return []extract.Table{{
		Name:  name,
		Title: extract.Translatable{"en": name},
		Data: extract.Frame{
			Columns: []string{"Title", "Date"},
			Records: [][]string{{"some video", "2023-01-05"}},
		},
	}}
}

// lastRender returns the trailing render command, which is the suspension
// point the host must answer.
func lastRender(t *testing.T, cmds []flow.Command) *flow.Page {
	t.Helper()
	if len(cmds) == 0 {
		t.Fatalf("expected commands")
	}
	last := cmds[len(cmds)-1]
	if last.Kind != flow.CommandRender {
		t.Fatalf("expected trailing render command, got %s", last.Kind)
	}
	return last.Render
}

func countKind(cmds []flow.Command, kind flow.CommandKind) int {
	n := 0
	for _, c := range cmds {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// dataDonations filters out the best-effort tracking log donations.
func dataDonations(cmds []flow.Command) []flow.Donation {
	var out []flow.Donation
	for _, c := range cmds {
		if c.Kind == flow.CommandDonate && !strings.HasSuffix(c.Donate.Key, "-tracking") {
			out = append(out, *c.Donate)
		}
	}
	return out
}

func statusMessages(cmds []flow.Command) []string {
	var out []string
	for _, c := range cmds {
		if c.Kind == flow.CommandStatus {
			out = append(out, c.Status.Message)
		}
	}
	return out
}

func TestStartPromptsFirstPlatform(t *testing.T) {
	f := flow.New("s1", []extract.Platform{stubPlatform("YouTube", oneTable("youtube_watch_history"), nil)}, nil)
	cmds := f.Start()
	page := lastRender(t, cmds)
	if page.Kind != flow.PageFilePrompt || page.Platform != "YouTube" {
		t.Fatalf("expected YouTube file prompt, got %+v", page)
	}
	if f.State() != flow.StatePromptFile {
		t.Fatalf("state: %s", f.State())
	}
}

func TestRetryLoop(t *testing.T) {
	f := flow.New("s1", []extract.Platform{stubPlatform("YouTube", oneTable("youtube_watch_history"), nil)}, nil)
	f.Start()

	// invalid file: exactly one retry confirmation
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "bad.zip"})
	if err != nil {
		t.Fatal(err)
	}
	if page := lastRender(t, cmds); page.Kind != flow.PageConfirm {
		t.Fatalf("expected confirm page, got %s", page.Kind)
	}
	if f.State() != flow.StateRetryConfirm {
		t.Fatalf("state: %s", f.State())
	}
	if len(dataDonations(cmds)) != 0 {
		t.Fatalf("no donation may happen before a valid file")
	}

	// user chooses try again: exactly one re-prompt
	cmds, err = f.Advance(flow.Response{Kind: flow.ResponseConfirm})
	if err != nil {
		t.Fatal(err)
	}
	prompts := 0
	for _, c := range cmds {
		if c.Kind == flow.CommandRender && c.Render.Kind == flow.PageFilePrompt {
			prompts++
		}
	}
	if prompts != 1 {
		t.Fatalf("expected exactly one re-prompt, got %d", prompts)
	}

	// valid file now reaches consent
	cmds, err = f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "good.zip"})
	if err != nil {
		t.Fatal(err)
	}
	if page := lastRender(t, cmds); page.Kind != flow.PageConsentForm {
		t.Fatalf("expected consent form, got %s", page.Kind)
	}
}

func TestRetryDeclineSkipsPlatform(t *testing.T) {
	f := flow.New("s1", []extract.Platform{
		stubPlatform("YouTube", oneTable("youtube_watch_history"), nil),
		stubPlatform("TikTok", oneTable("tiktok_searches"), nil),
	}, nil)
	f.Start()
	f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "bad.zip"})
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseNone})
	if err != nil {
		t.Fatal(err)
	}
	page := lastRender(t, cmds)
	if page.Kind != flow.PageFilePrompt || page.Platform != "TikTok" {
		t.Fatalf("expected advance to TikTok, got %+v", page)
	}
}

func TestSkipAtFilePrompt(t *testing.T) {
	f := flow.New("s1", []extract.Platform{stubPlatform("YouTube", oneTable("t"), nil)}, nil)
	f.Start()
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseNone})
	if err != nil {
		t.Fatal(err)
	}
	if countKind(cmds, flow.CommandExit) != 1 {
		t.Fatalf("expected session exit after last platform skipped")
	}
	if page := lastRender(t, cmds); page.Kind != flow.PageEnd {
		t.Fatalf("expected end page, got %s", page.Kind)
	}
	if f.State() != flow.StateDone {
		t.Fatalf("state: %s", f.State())
	}
}

func TestEmptyExtractionPlaceholder(t *testing.T) {
	f := flow.New("s1", []extract.Platform{stubPlatform("YouTube", nil, nil)}, nil)
	f.Start()
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "good.zip"})
	if err != nil {
		t.Fatal(err)
	}
	msgs := statusMessages(cmds)
	if len(msgs) != 1 || msgs[0] != "NO_DATA_FOUND" {
		t.Fatalf("expected NO_DATA_FOUND status, got %v", msgs)
	}
	page := lastRender(t, cmds)
	if len(page.Tables) != 1 || page.Tables[0].Name != "YouTube_no_data_found" {
		t.Fatalf("expected exactly one placeholder table, got %+v", page.Tables)
	}
	// status must be emitted before the consent render
	for i, c := range cmds {
		if c.Kind == flow.CommandStatus {
			for _, later := range cmds[:i] {
				if later.Kind == flow.CommandRender {
					t.Fatalf("status emitted after a render command")
				}
			}
		}
	}
}

func TestConsentAcceptDonatesTable(t *testing.T) {
	f := flow.New("s1", []extract.Platform{stubPlatform("YouTube", oneTable("youtube_watch_history"), nil)}, nil)
	f.Start()
	f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "good.zip"})

	consent, _ := json.Marshal(map[string]any{"youtube_watch_history": []map[string]string{{"Title": "some video", "Date": "2023-01-05"}}})
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseConsent, Consent: consent})
	if err != nil {
		t.Fatal(err)
	}
	donations := dataDonations(cmds)
	if len(donations) != 1 {
		t.Fatalf("expected one donate command, got %d", len(donations))
	}
	if donations[0].Key != "YouTube" {
		t.Fatalf("donation keyed %q, want platform name", donations[0].Key)
	}
	if !strings.Contains(string(donations[0].Payload), "some video") {
		t.Fatalf("payload does not carry the table rows: %s", donations[0].Payload)
	}
	msgs := statusMessages(cmds)
	if len(msgs) != 1 || msgs[0] != "DONATED" {
		t.Fatalf("expected DONATED status after donation, got %v", msgs)
	}
}

func TestConsentDeclineSkips(t *testing.T) {
	f := flow.New("s1", []extract.Platform{stubPlatform("YouTube", oneTable("t"), nil)}, nil)
	f.Start()
	f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "good.zip"})
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseNone})
	if err != nil {
		t.Fatal(err)
	}
	if len(dataDonations(cmds)) != 0 {
		t.Fatalf("decline must not donate")
	}
	msgs := statusMessages(cmds)
	if len(msgs) != 1 || msgs[0] != "SKIP_REVIEW_CONSENT" {
		t.Fatalf("expected SKIP_REVIEW_CONSENT, got %v", msgs)
	}
}

func TestCappedDonationFanOut(t *testing.T) {
	dict := extract.DonationDict{
		"tiktok_video_browsing_history_0": {{"Date": "2023-01-01"}},
		"tiktok_video_browsing_history_1": {{"Date": "2023-01-02"}},
		"tiktok_video_browsing_history_2": {{"Date": "2023-01-03"}},
	}
	f := flow.New("s1", []extract.Platform{stubPlatform("TikTok", oneTable("tiktok_video_browsing_history_0"), dict)}, nil)
	f.Start()
	f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "good.zip"})
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseConsent, Consent: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	donations := dataDonations(cmds)
	if len(donations) != len(dict) {
		t.Fatalf("expected %d fan-out donations, got %d", len(dict), len(donations))
	}
	for _, d := range donations {
		if d.Key == "TikTok" {
			t.Fatalf("whole-table donation must not be emitted alongside a donation dict")
		}
		if !strings.HasPrefix(d.Key, "TikTok_tiktok_video_browsing_history_") {
			t.Fatalf("unexpected donation key %q", d.Key)
		}
	}
}

func TestEndToEndDonatedScenario(t *testing.T) {
	f := flow.New("session-42", []extract.Platform{stubPlatform("YouTube", oneTable("youtube_watch_history"), nil)}, nil)
	f.Start()
	f.Advance(flow.Response{Kind: flow.ResponseFile, Value: "watch-history.zip"})
	consent, _ := json.Marshal(map[string]any{"youtube_watch_history": []map[string]string{{"Title": "some video"}}})
	cmds, err := f.Advance(flow.Response{Kind: flow.ResponseConsent, Consent: consent})
	if err != nil {
		t.Fatal(err)
	}
	// one donation keyed by platform name, then DONATED, then exit + end page
	donations := dataDonations(cmds)
	if len(donations) != 1 || donations[0].Key != "YouTube" {
		t.Fatalf("donations: %+v", donations)
	}
	var sawDonated bool
	for _, c := range cmds {
		if c.Kind == flow.CommandStatus && c.Status.Message == "DONATED" {
			sawDonated = true
		}
	}
	if !sawDonated {
		t.Fatalf("missing DONATED status event")
	}
	if countKind(cmds, flow.CommandExit) != 1 {
		t.Fatalf("expected exit command")
	}
	if page := lastRender(t, cmds); page.Kind != flow.PageEnd {
		t.Fatalf("expected end page last")
	}
	if _, err := f.Advance(flow.Response{Kind: flow.ResponseNone}); err == nil {
		t.Fatalf("advancing a finished flow must fail")
	}
}
