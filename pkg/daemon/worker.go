package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mnemo-sh/mnemo/pkg/memory"
)

// recentTranscriptWindow bounds the fallback search: when no transcript file
// names the session, the newest file modified inside this window is assumed
// to belong to it.
const recentTranscriptWindow = time.Hour

type execWorker struct {
	cmd *exec.Cmd
}

func (w *execWorker) PID() int    { return w.cmd.Process.Pid }
func (w *execWorker) Wait() error { return w.cmd.Wait() }

// execSpawner runs the configured extractor command as a detached process,
// one per session.
type execSpawner struct {
	transcriptsDir string
	command        []string
}

func (s *execSpawner) Spawn(session memory.SessionRecord) (Worker, error) {
	if len(s.command) == 0 {
		return nil, fmt.Errorf("spawn worker: no extractor command configured")
	}
	transcript, err := findTranscript(s.transcriptsDir, session.ID)
	if err != nil {
		return nil, fmt.Errorf("spawn worker for %s: %w", session.ID, err)
	}

	args := append(append([]string{}, s.command[1:]...), session.ID, transcript)
	cmd := exec.Command(s.command[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker for %s: %w", session.ID, err)
	}
	return &execWorker{cmd: cmd}, nil
}

// findTranscript locates the session's transcript: the newest JSONL file
// whose name contains the session id, falling back to the most recently
// modified transcript when none matches by name.
func findTranscript(dir, sessionID string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read transcripts dir: %w", err)
	}

	var (
		named, recent       string
		namedMod, recentMod time.Time
	)
	cutoff := time.Now().Add(-recentTranscriptWindow)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if strings.Contains(entry.Name(), sessionID) && info.ModTime().After(namedMod) {
			named = path
			namedMod = info.ModTime()
		}
		if info.ModTime().After(cutoff) && info.ModTime().After(recentMod) {
			recent = path
			recentMod = info.ModTime()
		}
	}

	if named != "" {
		return named, nil
	}
	if recent != "" {
		return recent, nil
	}
	return "", fmt.Errorf("no transcript found for session %s", sessionID)
}
