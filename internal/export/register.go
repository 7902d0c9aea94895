package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tira-io/tirex-tracker/internal/model"
)

type registeredFile struct {
	resolveTo string
	file      string
	subdir    string
}

var (
	regMu    sync.Mutex
	regMeta  = map[string]any{}
	regFiles []registeredFile
)

// RegisterMetadata adds top-level keys merged into every export. Later
// registrations replace earlier keys of the same name.
func RegisterMetadata(meta map[string]any) {
	regMu.Lock()
	defer regMu.Unlock()
	for k, v := range meta {
		regMeta[k] = v
	}
}

// ClearMetadata drops all registered metadata.
func ClearMetadata() {
	regMu.Lock()
	defer regMu.Unlock()
	regMeta = map[string]any{}
}

func registeredMetadata() map[string]any {
	regMu.Lock()
	defer regMu.Unlock()
	return cloneMap(regMeta)
}

// RegisterFile records resolveTo/file to be copied into subdir next to every
// export file. The file must exist when registered.
func RegisterFile(resolveTo, file, subdir string) error {
	info, err := os.Stat(resolveTo)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", model.ErrInvalidArgument, resolveTo)
	}
	info, err = os.Stat(filepath.Join(resolveTo, file))
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a file", model.ErrInvalidArgument, filepath.Join(resolveTo, file))
	}
	if subdir == "" {
		subdir = "."
	}

	regMu.Lock()
	defer regMu.Unlock()
	regFiles = append(regFiles, registeredFile{resolveTo: resolveTo, file: file, subdir: subdir})
	return nil
}

// ClearFiles drops all registered files.
func ClearFiles() {
	regMu.Lock()
	defer regMu.Unlock()
	regFiles = nil
}

func copyRegisteredFiles(dir string) error {
	regMu.Lock()
	files := append([]registeredFile(nil), regFiles...)
	regMu.Unlock()

	for _, rf := range files {
		target := filepath.Join(dir, rf.subdir, rf.file)
		if err := copyFile(filepath.Join(rf.resolveTo, rf.file), target); err != nil {
			return fmt.Errorf("%w: copy %s: %w", ErrExportIO, rf.file, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, isMap := v.(map[string]any); isMap {
			v = cloneMap(sub)
		}
		out[k] = v
	}
	return out
}
