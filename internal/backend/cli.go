package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLI runs a local command per request, writing the prompt to stdin. The
// reply is stdout, or the text field of a JSON object printed last.
type CLI struct {
	path string
	args []string
}

// NewCLI splits command on whitespace, e.g. "ollama run llama3.2".
func NewCLI(command string) (*CLI, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("cli backend requires a command")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("cli backend: %w", err)
	}
	return &CLI{path: path, args: fields[1:]}, nil
}

func (b *CLI) Name() string { return "cli" }

func (b *CLI) Answer(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt()
	if instr := strings.TrimSpace(req.Instructions); instr != "" {
		prompt = instr + "\n\n" + prompt
	}

	cmd := exec.CommandContext(ctx, b.path, b.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// CommandContext reports "signal: killed" rather than the context error.
			return "", wrapErr(ctx, b.Name(), ctx.Err())
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return "", fmt.Errorf("%s: %w: %s", b.Name(), err, detail)
		}
		return "", fmt.Errorf("%s: %w", b.Name(), err)
	}
	return finalText(b.Name(), parseCLIReply(stdout.String()))
}

func parseCLIReply(raw string) string {
	raw = strings.TrimSpace(raw)
	if obj, ok := lastJSONObject(raw); ok {
		if text := extractText(obj); strings.TrimSpace(text) != "" {
			return text
		}
	}
	return raw
}

// lastJSONObject parses raw as JSON, or the last line-started object when
// the command logs before printing its result.
func lastJSONObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}
	if start := strings.LastIndex(raw, "\n{"); start >= 0 {
		if err := json.Unmarshal([]byte(raw[start+1:]), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}
