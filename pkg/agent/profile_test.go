package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if p.Model != DefaultModel || p.Voice != "Puck" || p.CallerID != DefaultCallerID {
		t.Fatalf("profile=%+v", p)
	}
	if !strings.Contains(p.SystemInstruction, "Marco") || !strings.Contains(p.SystemInstruction, "start_lead_session") {
		t.Fatalf("embedded instruction missing persona or tools")
	}
}

func TestLoadProfile_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := "voice: Charon\ncaller_id: \"+39 06 1234\"\nagency_id: 7\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Voice != "Charon" || p.CallerID != "+39 06 1234" || p.AgencyID != 7 {
		t.Fatalf("profile=%+v", p)
	}
	if p.Model != DefaultModel {
		t.Fatalf("model=%q, want default", p.Model)
	}
}

func TestLoadProfile_JSONAndErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.json")
	if err := os.WriteFile(path, []byte(`{"model":"custom-model"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil || p.Model != "custom-model" {
		t.Fatalf("p=%+v err=%v", p, err)
	}

	if _, err := LoadProfile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("voice: [unterminated"), 0o600)
	if _, err := LoadProfile(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInstructionIncludesCallerID(t *testing.T) {
	p := DefaultProfile()
	got := p.Instruction("+39 02 9999")
	if !strings.Contains(got, "Caller ID: +39 02 9999") {
		t.Fatalf("instruction missing caller id:\n%s", got)
	}
	if !strings.Contains(p.Instruction(""), "Caller ID: "+DefaultCallerID) {
		t.Fatalf("default caller id not used")
	}
}
