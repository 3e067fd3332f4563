package safety

import (
	"regexp"
	"testing"

	"github.com/jidohq/sessiond/internal/errs"
)

func secretRule() Rule {
	return Rule{Code: "secret", Severity: High, Regex: regexp.MustCompile(`sk-[a-zA-Z0-9]+`)}
}

func TestScanOverlappingMatchesLeftToRightLongest(t *testing.T) {
	t.Parallel()
	cfg := Config{Rules: []Rule{
		{Code: "short", Severity: Low, Regex: regexp.MustCompile(`ab`)},
		{Code: "long", Severity: Medium, Regex: regexp.MustCompile(`abcd`)},
	}}

	findings := Scan("abcd", cfg)
	if len(findings) != 1 {
		t.Fatalf("len(findings) = %d, want 1 (shorter overlapping match dropped)", len(findings))
	}
	if findings[0].Code != "long" {
		t.Errorf("findings[0].Code = %q, want %q", findings[0].Code, "long")
	}
}

func TestEvaluateApprovedCodesSuppressFindings(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Rules:         []Rule{secretRule()},
		ApprovedCodes: []string{"secret"},
	}
	findings := Scan("token sk-abc123 here", cfg)
	blocked, active, err := Evaluate(findings, cfg)
	if blocked {
		t.Error("an approved code should never block")
	}
	if len(active) != 0 {
		t.Errorf("active = %v, want empty (approved)", active)
	}
	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestEvaluateBlockSeverities(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Rules:           []Rule{secretRule()},
		BlockSeverities: []Severity{High},
	}
	findings := Scan("token sk-abc123 here", cfg)
	blocked, active, err := Evaluate(findings, cfg)
	if !blocked {
		t.Fatal("a high-severity finding with High blocked should block")
	}
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}
	if err == nil || err.Code != errs.Forbidden {
		t.Errorf("err = %v, want a forbidden error", err)
	}
}

func TestEvaluateMasksSnippetWithConfiguredString(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Rules: []Rule{secretRule()},
		Mask:  "***",
	}
	findings := Scan("token sk-abc123 here", cfg)
	_, active, _ := Evaluate(findings, cfg)
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}
	if active[0].Snippet != "***" {
		t.Errorf("active[0].Snippet = %q, want masked %q", active[0].Snippet, "***")
	}
}

func TestEvaluateMaskFuncTakesPrecedenceOverMask(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Rules: []Rule{secretRule()},
		Mask:  "***",
		MaskFunc: func(snippet string) string {
			return "sk-" + "redacted"
		},
	}
	findings := Scan("token sk-abc123 here", cfg)
	_, active, _ := Evaluate(findings, cfg)
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}
	if active[0].Snippet != "sk-redacted" {
		t.Errorf("active[0].Snippet = %q, want %q", active[0].Snippet, "sk-redacted")
	}
}

func TestEvaluateNoMaskLeavesSnippetIntact(t *testing.T) {
	t.Parallel()
	cfg := Config{Rules: []Rule{secretRule()}}
	findings := Scan("token sk-abc123 here", cfg)
	_, active, _ := Evaluate(findings, cfg)
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}
	if active[0].Snippet != "sk-abc123" {
		t.Errorf("active[0].Snippet = %q, want unmasked %q", active[0].Snippet, "sk-abc123")
	}
}
