package filter

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// Filter is a compiled record predicate. A nil filter matches every record.
type Filter struct {
	expr string
	prg  cel.Program
}

// Compile builds a filter from a CEL expression over the record variables
// entityType, logicalId, displayName, phase, vendor, payload and scope.
// The expression must evaluate to a boolean. An empty expression compiles
// to nil, which matches everything.
func Compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("entityType", decls.String),
			decls.NewVar("logicalId", decls.String),
			decls.NewVar("displayName", decls.String),
			decls.NewVar("phase", decls.String),
			decls.NewVar("vendor", decls.String),
			decls.NewVar("payload", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("scope", decls.NewMapType(decls.String, decls.String)),
		),
	)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, err, "failed to create filter env")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, issues.Err(), "invalid filter expression")
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errdefs.New(errdefs.KindInvalidInput,
			"filter expression must evaluate to a boolean, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "invalid filter expression")
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Match evaluates the filter against one record.
func (f *Filter) Match(rec *types.NormalizedRecord) (bool, error) {
	if f == nil || f.prg == nil {
		return true, nil
	}

	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	out, _, err := f.prg.Eval(map[string]any{
		"entityType":  rec.EntityType,
		"logicalId":   rec.LogicalID,
		"displayName": rec.DisplayName,
		"phase":       rec.Phase,
		"vendor":      rec.Provenance.Vendor,
		"payload":     payload,
		"scope": map[string]string{
			"orgId":     rec.Scope.OrgID,
			"domainId":  rec.Scope.DomainID,
			"projectId": rec.Scope.ProjectID,
			"teamId":    rec.Scope.TeamID,
		},
	})
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindInvalidInput, err, "filter evaluation failed")
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, errdefs.New(errdefs.KindInvalidInput, "filter did not return a boolean")
	}
	return matched, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}
