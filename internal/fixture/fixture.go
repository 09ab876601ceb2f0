// Package fixture prepares the isolated workspace an agent runs in and
// records what the agent changed there.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// Workspace is a fixture root built from a template directory. Changes
// are tracked in a git repository kept outside the root so the agent
// and the tool under test never see it.
type Workspace struct {
	Root   string
	GitDir string
}

// New creates an empty fixture root, removing any previous one.
func New(root, gitDir string) (*Workspace, error) {
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("clearing fixture %s: %w", root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating fixture %s: %w", root, err)
	}
	return &Workspace{Root: root, GitDir: gitDir}, nil
}

// Setup copies templatesDir/name into the root.
func (w *Workspace) Setup(templatesDir, name string) error {
	src := filepath.Join(templatesDir, name)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("fixture not found: %s", src)
	}
	if !info.IsDir() {
		return fmt.Errorf("fixture %s is not a directory", src)
	}
	if err := CopyDir(src, w.Root); err != nil {
		return fmt.Errorf("copying fixture %s: %w", name, err)
	}
	return nil
}

// Baseline commits the current contents of the root so CaptureChanges
// can diff against them. Without git the workspace is still usable and
// CaptureChanges returns nothing.
func (w *Workspace) Baseline() error {
	if w.GitDir == "" {
		return nil
	}
	if _, err := exec.LookPath("git"); err != nil {
		log.Printf("warning: git not found, change capture disabled: %v", err)
		w.GitDir = ""
		return nil
	}
	if err := os.RemoveAll(w.GitDir); err != nil {
		return fmt.Errorf("clearing %s: %w", w.GitDir, err)
	}
	steps := [][]string{
		{"init", "--quiet"},
		{"add", "-A"},
		{"commit", "--quiet", "--allow-empty", "--no-gpg-sign", "-m", "baseline"},
	}
	for _, args := range steps {
		if out, err := w.git(args...); err != nil {
			return fmt.Errorf("git %s: %s: %w", args[0], out, err)
		}
	}
	return nil
}

// CaptureChanges stages all changes (including untracked files) and returns
// the diff against the baseline.
func (w *Workspace) CaptureChanges() ([]byte, error) {
	if w.GitDir == "" {
		return nil, nil
	}
	if _, err := os.Stat(w.GitDir); err != nil {
		return nil, nil
	}
	if out, err := w.git("add", "-A"); err != nil {
		return nil, fmt.Errorf("git add -A: %s: %w", out, err)
	}
	cmd := w.command("diff", "--cached", "--binary")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --cached: %w", err)
	}
	return out, nil
}

func (w *Workspace) git(args ...string) ([]byte, error) {
	return w.command(args...).CombinedOutput()
}

func (w *Workspace) command(args ...string) *exec.Cmd {
	full := append([]string{
		"--git-dir=" + w.GitDir,
		"--work-tree=" + w.Root,
		"-c", "user.name=llm-tool-test",
		"-c", "user.email=llm-tool-test@localhost",
		"-c", "core.autocrlf=false",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = w.Root
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// CopyDir copies the tree at src into dst, preserving file modes and
// symlinks.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			log.Printf("warning: skipping special file %s", path)
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()
	_, err = io.Copy(out, in)
	return err
}
