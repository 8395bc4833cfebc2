package delivery

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
)

// placeholder matches {{name}} tokens in a template string (§4.3.3).
var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Context is the variable set a destination template renders against: the
// standard fields §4.3.3 always supplies, plus user-supplied
// template_variables.
type Context map[string]string

// NewContext builds the standard rendering context for one Execution's
// delivery, before any destination-specific template_variables are merged in.
func NewContext(exec *domain.Execution, taskName, taskVersion string) Context {
	return Context{
		"job_id":       strconv.FormatInt(exec.JobID, 10),
		"task_id":      strconv.FormatInt(exec.TaskID, 10),
		"execution_id": strconv.FormatInt(exec.ID, 10),
		"task_name":    taskName,
		"task_version": taskVersion,
		"environment":  "production",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
}

// WithVariables returns a copy of c merged with extra, used for
// user-supplied template_variables (extra wins on key collision).
func (c Context) WithVariables(extra map[string]string) Context {
	out := make(Context, len(c)+len(extra))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// MissingTemplateVariable reports a template referencing a variable absent
// from its context — §4.3.3: "missing variables are an error, not empty
// string."
type MissingTemplateVariable struct {
	Name string
}

func (e *MissingTemplateVariable) Error() string {
	return fmt.Sprintf("delivery: template variable %q is not defined", e.Name)
}

// Render substitutes every {{name}} token in tmpl from ctx, failing closed
// on the first undefined reference.
func Render(tmpl string, ctx Context) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := placeholder.FindStringSubmatch(match)[1]
		val, ok := ctx[name]
		if !ok {
			firstErr = &MissingTemplateVariable{Name: name}
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
