package extract

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	jss "github.com/kaptinlin/jsonschema"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

//go:embed schemas/result.schema.json
var resultSchema []byte

// Validator checks that a recovered object is a benchmark result.
type Validator struct {
	schema *jss.Schema
}

func NewValidator() (Validator, error) {
	compiler := jss.NewCompiler()
	schema, err := compiler.Compile(resultSchema)
	if err != nil {
		return Validator{}, fmt.Errorf("compiling result schema: %w", err)
	}
	return Validator{schema: schema}, nil
}

// Validate returns a JSONParsingError describing every schema violation.
func (v Validator) Validate(result model.BenchmarkResult) error {
	if v.schema == nil {
		return nil
	}
	res := v.schema.Validate(map[string]any(result))
	if res.Valid {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, err := range res.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", err.Keyword, err.Error()))
	}
	sort.Strings(msgs)
	return diskerrors.NewJSONParsingError(
		"benchmark result does not match schema: "+strings.Join(msgs, "; "),
		0, 0, "",
	)
}
