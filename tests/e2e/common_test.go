package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// buildTallyBinary builds the tally binary in dir and returns its path.
func buildTallyBinary(t *testing.T, dir string) string {
	t.Helper()
	bin := filepath.Join(dir, "tally.exe")
	buildCmd := exec.Command("go", "build", "-o", bin, "../../cmd/tally")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build tally: %v\n%s", err, string(out))
	}
	return bin
}

// tally runs the binary inside dir with env appended to a clean TALLY_*
// environment and returns trimmed stdout.
func tally(t *testing.T, bin, dir string, env []string, args ...string) string {
	t.Helper()
	out, err := tallyErr(bin, dir, env, args...)
	if err != nil {
		t.Fatalf("tally %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// tallyErr returns stdout on success and stdout plus stderr on failure.
func tallyErr(bin, dir string, env []string, args ...string) (string, error) {
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "TALLY_") {
			cmd.Env = append(cmd.Env, kv)
		}
	}
	cmd.Env = append(cmd.Env, env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return strings.TrimSpace(string(out) + "\n" + stderr.String()), err
	}
	return strings.TrimSpace(string(out)), nil
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Command %s %v failed: %v\nOutput:\n%s", name, args, err, string(out))
	}
}
