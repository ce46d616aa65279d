package toolbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// FileTools gives the model read-only access to files under a project
// root. Paths are resolved relative to the root and may not escape it.
// There are deliberately no write tools here: mutations need a
// permission surface this core does not have.
type FileTools struct {
	root string
}

func NewFileTools(root string) *FileTools {
	return &FileTools{root: root}
}

func (f *FileTools) Definitions() ([]*tools.Definition, error) {
	readFolder, err := tools.NewToolFromFunc("read_folder",
		"List the contents of a directory relative to the project root. Use '.' for the root itself.",
		f.readFolder)
	if err != nil {
		return nil, err
	}
	readFile, err := tools.NewToolFromFunc("read_file",
		"Read the contents of a file relative to the project root. Optionally restrict to a 1-based line range.",
		f.readFile)
	if err != nil {
		return nil, err
	}
	return []*tools.Definition{readFolder, readFile}, nil
}

// resolve joins rel onto the project root and rejects anything that
// escapes it. Join cleans the path first, so ".." segments collapse
// before the containment check.
func (f *FileTools) resolve(rel string) (string, bool) {
	absRoot, err := filepath.Abs(f.root)
	if err != nil {
		return "", false
	}
	full := filepath.Join(absRoot, rel)
	if full != absRoot && !strings.HasPrefix(full, absRoot+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

type readFolderInput struct {
	RelativePath string `json:"relative_path" jsonschema:"required,description=Path relative to the project root. Use '.' for the root."`
}

func (f *FileTools) readFolder(in readFolderInput) map[string]any {
	full, ok := f.resolve(in.RelativePath)
	if !ok {
		return errorResult("Path outside project scope")
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return errorResult("Folder not found")
		}
		return errorResult(err.Error())
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		items = append(items, name)
	}
	return map[string]any{"status": "success", "items": items}
}

type readFileInput struct {
	RelativePath string `json:"relative_path" jsonschema:"required,description=File path relative to the project root."`
	StartLine    int    `json:"start_line,omitempty" jsonschema:"description=Start line (1-based, optional)."`
	EndLine      int    `json:"end_line,omitempty" jsonschema:"description=End line (1-based, inclusive, optional)."`
}

func (f *FileTools) readFile(in readFileInput) map[string]any {
	full, ok := f.resolve(in.RelativePath)
	if !ok {
		return errorResult("Path outside project scope")
	}
	b, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return errorResult("File not found")
		}
		return errorResult(err.Error())
	}

	lines := strings.SplitAfter(string(b), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	totalLines := len(lines)

	content := string(b)
	if in.StartLine > 0 && in.EndLine > 0 {
		start := in.StartLine - 1
		if start < 0 {
			start = 0
		}
		end := in.EndLine
		if end > totalLines {
			end = totalLines
		}
		if start >= end {
			content = ""
		} else {
			content = strings.Join(lines[start:end], "")
		}
	}

	return map[string]any{
		"status":      "success",
		"content":     content,
		"total_lines": totalLines,
		"path":        in.RelativePath,
	}
}
