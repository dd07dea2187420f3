package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"printcalc/internal/domain"

	"github.com/google/uuid"
)

// waitDelay bounds how long Run waits for output pipes after the process is killed
const waitDelay = 2 * time.Second

// LocalBackend runs the analyzer executable in CLI mode
type LocalBackend struct {
	executable string
	timeout    time.Duration
	tempDir    string
}

// NewLocalBackend creates a local backend. Documents are staged in tempDir,
// or the OS temp directory when it is empty.
func NewLocalBackend(executable string, timeout time.Duration, tempDir string) *LocalBackend {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &LocalBackend{
		executable: executable,
		timeout:    timeout,
		tempDir:    tempDir,
	}
}

// Mode returns domain.ModeLocal
func (b *LocalBackend) Mode() domain.BackendMode {
	return domain.ModeLocal
}

// Analyze stages the document in a temp file, runs
// `<exe> --mode cli --file <path> --color-threshold <n> --photo-threshold <n> --output json`
// and decodes stdout. The temp file is removed on every return path.
func (b *LocalBackend) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.PageBreakdown, error) {
	if err := b.checkExecutable(); err != nil {
		return domain.PageBreakdown{}, err
	}

	path, err := b.stage(req)
	if err != nil {
		return domain.PageBreakdown{}, newError(domain.ModeLocal, KindProcessFailed, "failed to stage document: %w", err)
	}
	defer os.Remove(path)

	stdout, err := b.run(ctx,
		"--mode", "cli",
		"--file", path,
		"--color-threshold", formatThreshold(req.Thresholds.Color),
		"--photo-threshold", formatThreshold(req.Thresholds.Photo),
		"--output", "json",
	)
	if err != nil {
		return domain.PageBreakdown{}, err
	}

	return decodeBreakdown(domain.ModeLocal, stdout, KindProcessFailed)
}

// Probe runs `<exe> --mode cli --help`
func (b *LocalBackend) Probe(ctx context.Context) error {
	if err := b.checkExecutable(); err != nil {
		return err
	}
	_, err := b.run(ctx, "--mode", "cli", "--help")
	return err
}

func (b *LocalBackend) stage(req domain.AnalysisRequest) (string, error) {
	ext := strings.ToLower(filepath.Ext(req.FileName))
	path := filepath.Join(b.tempDir, "pdf_analyzer_"+uuid.NewString()+ext)

	if err := os.WriteFile(path, req.Data, 0o600); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (b *LocalBackend) run(ctx context.Context, args ...string) ([]byte, error) {
	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, b.executable, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("local analysis aborted: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, newError(domain.ModeLocal, KindTimeout, "process did not finish within %s", b.timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, newError(domain.ModeLocal, KindProcessFailed, "exit status %d: %s", exitErr.ExitCode(), snippet(stderr.Bytes()))
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.Is(err, exec.ErrNotFound) {
		return nil, &Error{Kind: KindExecutableMissing, Mode: domain.ModeLocal, Err: err}
	}
	return nil, newError(domain.ModeLocal, KindProcessFailed, "failed to run analyzer: %w", err)
}

func (b *LocalBackend) checkExecutable() error {
	if b.executable == "" {
		return newError(domain.ModeLocal, KindExecutableMissing, "no executable configured")
	}

	info, err := os.Stat(b.executable)
	if err != nil {
		return &Error{Kind: KindExecutableMissing, Mode: domain.ModeLocal, Err: err}
	}
	if info.IsDir() {
		return newError(domain.ModeLocal, KindExecutableMissing, "%s is a directory", b.executable)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return newError(domain.ModeLocal, KindExecutableMissing, "%s is not executable", b.executable)
	}
	return nil
}
