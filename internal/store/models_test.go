package store

import "testing"

func strptr(s string) *string { return &s }

func TestApplyToMergesOnlyPresentFields(t *testing.T) {
	target := Term{
		ID:         "term_1",
		Term:       "ubuntu",
		Definition: "old definition",
		Language:   "zu",
		Category:   "philosophy",
		Notes:      "keep me",
	}

	patch := ProposedContent{
		Definition:   strptr("humanity towards others"),
		UsageExample: strptr("umuntu ngumuntu ngabantu"),
	}
	patch.ApplyTo(&target)

	if target.Definition != "humanity towards others" {
		t.Errorf("definition not merged: %q", target.Definition)
	}
	if target.UsageExample != "umuntu ngumuntu ngabantu" {
		t.Errorf("usage example not merged: %q", target.UsageExample)
	}
	if target.Term != "ubuntu" || target.Language != "zu" || target.Category != "philosophy" || target.Notes != "keep me" {
		t.Errorf("absent fields must stay untouched: %+v", target)
	}
}

func TestApplyToEmptyStringOverwrites(t *testing.T) {
	target := Term{Notes: "stale note"}
	patch := ProposedContent{Notes: strptr("")}
	patch.ApplyTo(&target)
	if target.Notes != "" {
		t.Errorf("present empty field must clear the target, got %q", target.Notes)
	}
}

func TestIsEdit(t *testing.T) {
	if (TermApplication{}).IsEdit() {
		t.Error("new-term application reported as edit")
	}
	editTarget := "term_1"
	if !(TermApplication{EditForTermID: &editTarget}).IsEdit() {
		t.Error("edit application not reported as edit")
	}
}
