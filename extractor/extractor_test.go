package extractor

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "oneshot-log.json")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestExtractResult_PicksHighestScoringCandidate(t *testing.T) {
	path := writeLog(t,
		`{"data": "just thinking out loud"}`,
		`{"data": "STATUS: in progress"}`,
		`{"data": "DONE: the task is finished with STATUS SUCCESS"}`,
	)

	summary, err := ExtractResult(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if summary == nil {
		t.Fatal("expected non-nil summary")
	}
	if summary.Result != "DONE: the task is finished with STATUS SUCCESS" {
		t.Errorf("unexpected result: %q", summary.Result)
	}
	if summary.Score != weightDoneKeyword+weightStatusKeyword+weightSuccessKeyword {
		t.Errorf("unexpected score: %d", summary.Score)
	}
}

func TestExtractResult_CapturesLeadingAndTrailingContext(t *testing.T) {
	path := writeLog(t,
		`{"data": "line 0"}`,
		`{"data": "line 1"}`,
		`{"data": "DONE: the winner"}`,
		`{"data": "line 3"}`,
		`{"data": "line 4"}`,
	)

	summary, err := ExtractResult(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(summary.LeadingContext) != 2 || summary.LeadingContext[0] != "line 0" {
		t.Errorf("unexpected leading context: %v", summary.LeadingContext)
	}
	if len(summary.TrailingContext) != 2 || summary.TrailingContext[1] != "line 4" {
		t.Errorf("unexpected trailing context: %v", summary.TrailingContext)
	}
}

func TestExtractResult_FallsBackToLastEventWhenNothingScores(t *testing.T) {
	path := writeLog(t,
		`{"data": "nothing special here"}`,
		`{"data": "still nothing notable"}`,
	)

	summary, err := ExtractResult(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if summary.Result != "still nothing notable" {
		t.Errorf("expected fallback to last event, got %q", summary.Result)
	}
	if summary.Score != 0 {
		t.Errorf("expected zero score for fallback, got %d", summary.Score)
	}
}

func TestExtractResult_MissingFileReturnsNilNoError(t *testing.T) {
	summary, err := ExtractResult(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if summary != nil {
		t.Errorf("expected nil summary for missing file, got %+v", summary)
	}
}

func TestExtractResult_HumanInterventionPenalized(t *testing.T) {
	path := writeLog(t,
		`{"data": "DONE but needs HUMAN INTERVENTION to proceed"}`,
	)

	summary, err := ExtractResult(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := weightDoneKeyword + weightHumanKeyword + weightInterventionKeyword
	if summary.Score != want {
		t.Errorf("expected penalized score %d, got %d", want, summary.Score)
	}
}

func TestScoreText_JSONStructureAndValidity(t *testing.T) {
	// "result" is the only keyword signal here, so the JSON-structure
	// weights are isolated from the DONE/STATUS/SUCCESS bonuses.
	valid := `some text {"result": "ok"}`
	got := scoreText(valid)
	want := weightJSONStructure + weightJSONValid + weightResultField
	if got != want {
		t.Errorf("scoreText(%q) = %d, want %d", valid, got, want)
	}

	malformed := `some text {"result": broken}`
	got = scoreText(malformed)
	want = weightJSONStructure + weightResultField
	if got != want {
		t.Errorf("scoreText(%q) = %d, want %d", malformed, got, want)
	}
}
