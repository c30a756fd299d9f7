package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/recordset/internal/compiler"
	"github.com/roach88/recordset/internal/model"
)

// LoadResult contains the entities compiled from a schema path.
type LoadResult struct {
	Entities  []*model.Descriptor
	FileCount int // Number of CUE files found
}

// Entity returns the descriptor with the given name.
func (r *LoadResult) Entity(name string) (*model.Descriptor, error) {
	for _, d := range r.Entities {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeUnknownEntity, Message: fmt.Sprintf("unknown entity %q", name)}
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchema compiles the entities of a CUE file or of the CUE package in a
// directory. Structural validation is left to the caller.
func LoadSchema(path string) (*LoadResult, error) {
	if path == "" {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "no schema given (use --schema)"}
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema: %v", err)}
	}

	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading schema: %v", err)}
		}
		descs, err := compiler.CompileString(path, string(src))
		if err != nil {
			return nil, convertCompileError(err)
		}
		return &LoadResult{Entities: descs, FileCount: 1}, nil
	}

	cueFiles, err := FindCUEFiles(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	descs, err := compiler.Compile(value)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return &LoadResult{Entities: descs, FileCount: len(cueFiles)}, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
// Schema validation codes (E101-E105) come from the compiler.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeNoEntities    = "E007" // No entity block
	ErrCodeBadEntity     = "E008" // Entity fields missing or malformed
	ErrCodeUnknownEntity = "E009" // Entity named on the command line is not declared
	ErrCodeBadArgument   = "E010" // Unparseable filter or key
	ErrCodeConfig        = "E020" // Connection config error
	ErrCodeQueryFailed   = "E021" // Backing store rejected a statement
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "entity":
		return ErrCodeNoEntities
	case "cue":
		return ErrCodeBuildFailed
	case "table", "primary_key", "protected", "key_separator", "columns", "type":
		return ErrCodeBadEntity
	}
	if strings.HasPrefix(field, "entity.") {
		return ErrCodeBadEntity
	}
	return ErrCodeGeneric
}
