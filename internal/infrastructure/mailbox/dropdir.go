package mailbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/insurelane/docpipe/internal/core/ports"
)

const processedDir = "processed"

// DropDir is a filesystem mailbox: producers drop .eml files into the
// root, the poller picks them up, and processed files are moved into a
// processed/ subdirectory so a crash between submit and mark only causes
// a harmless re-submission.
type DropDir struct {
	root string
}

func New(root string) (*DropDir, error) {
	if root == "" {
		return nil, fmt.Errorf("mailbox dir is required")
	}
	if err := os.MkdirAll(filepath.Join(root, processedDir), 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox dirs: %w", err)
	}
	return &DropDir{root: root}, nil
}

func (d *DropDir) FetchUnread(_ context.Context) ([]ports.InboundEmail, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read mailbox dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".eml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([]ports.InboundEmail, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(d.root, name))
		if err != nil {
			// The file may have been marked by a concurrent poller.
			continue
		}
		out = append(out, ports.InboundEmail{Name: name, Body: f})
	}
	return out, nil
}

func (d *DropDir) MarkProcessed(_ context.Context, name string) error {
	src := filepath.Join(d.root, filepath.Base(name))
	dst := filepath.Join(d.root, processedDir, filepath.Base(name))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move processed email: %w", err)
	}
	return nil
}
