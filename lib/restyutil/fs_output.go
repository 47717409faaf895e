package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes every exchange to its own file in a directory.
type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput clears `dir` and uses it as the output directory.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".http"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
