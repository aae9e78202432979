package cli

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/opnotify/internal/ir"
)

//go:embed schema/operation.cue
var operationSchema string

// LoadError represents an error that occurred while loading an operation file.
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

// LoadOperation reads a confirmed operation from a .yaml, .yml, .json or
// .cue file and validates it.
func LoadOperation(path string) (ir.Operation, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ir.Operation{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("operation file not found: %s", path)}
	}
	if err != nil {
		return ir.Operation{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var op ir.Operation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		op, err = decodeCUEOperation(path, data)
	case ".yaml", ".yml", ".json":
		op, err = decodeYAMLOperation(data)
	default:
		return ir.Operation{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported operation file type %q", filepath.Ext(path))}
	}
	if err != nil {
		return ir.Operation{}, err
	}

	if err := op.Validate(); err != nil {
		return ir.Operation{}, &LoadError{Code: ErrCodeInvalidInput, Message: err.Error()}
	}
	return op, nil
}

// decodeYAMLOperation parses YAML (and therefore JSON) with strict field
// validation.
func decodeYAMLOperation(data []byte) (ir.Operation, error) {
	var op ir.Operation
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&op); err != nil {
		return ir.Operation{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("failed to parse YAML: %v", err)}
	}
	return op, nil
}

// decodeCUEOperation unifies the file with #Operation, then decodes the
// concrete result through JSON.
func decodeCUEOperation(path string, data []byte) (ir.Operation, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(operationSchema, cue.Filename("operation.cue"))
	if err := schema.Err(); err != nil {
		return ir.Operation{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building schema: %v", err)}
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return ir.Operation{}, cueLoadError(ErrCodeLoadFailed, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Operation")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return ir.Operation{}, cueLoadError(ErrCodeBuildFailed, err)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return ir.Operation{}, cueLoadError(ErrCodeBuildFailed, err)
	}

	var op ir.Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return ir.Operation{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("decoding operation: %v", err)}
	}
	return op, nil
}

// cueLoadError converts the first CUE error to a LoadError with position info.
func cueLoadError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	return &LoadError{
		Code:    code,
		Message: first.Error(),
		Pos:     first.Position(),
	}
}
