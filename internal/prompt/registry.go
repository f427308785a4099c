// Package prompt holds the section prompt registry for DMP generation.
//
// A Template is a string with named {slot} placeholders. Every registered
// template must reference the required slots {project_info} and {context};
// this is validated once at registry construction so a broken template is a
// startup failure, never a mid-run degradation. The registry is read-only
// after construction.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrPromptNotFound indicates a section key has no registered template.
	// A missing mapping is a configuration bug and aborts the whole run.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrMissingVariable indicates a template references a slot absent from
	// the render variables.
	ErrMissingVariable = errors.New("missing template variable")

	// ErrInvalidTemplate indicates a template failed registry validation:
	// a required slot is absent or an unknown slot is referenced.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrDuplicateSection indicates two specs share a section key.
	ErrDuplicateSection = errors.New("duplicate section key")
)

// requiredSlots must appear in every registered template.
var requiredSlots = []string{"project_info", "context"}

// allowedSlots is the full slot vocabulary templates may reference.
var allowedSlots = map[string]bool{
	"project_info": true,
	"context":      true,
	"section_name": true,
}

var slotPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Template is a prompt template with named {slot} placeholders.
type Template string

// Render fills every slot in the template from vars.
// Referencing a slot absent from vars returns ErrMissingVariable.
func Render(tpl Template, vars map[string]string) (string, error) {
	var renderErr error
	out := slotPattern.ReplaceAllStringFunc(string(tpl), func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := vars[name]
		if !ok {
			if renderErr == nil {
				renderErr = fmt.Errorf("%w: {%s}", ErrMissingVariable, name)
			}
			return match
		}
		return value
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// slots returns the distinct slot names referenced by the template.
func (t Template) slots() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range slotPattern.FindAllStringSubmatch(string(t), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ProjectInfo is the flat project metadata supplied per generation request
// (title, PI, institution, free-text research-context fields). It is not
// persisted by the core.
type ProjectInfo map[string]string

// Title returns the project title, trying the conventional keys.
func (p ProjectInfo) Title() string {
	for _, key := range []string{"project_title", "title"} {
		if v := strings.TrimSpace(p[key]); v != "" {
			return v
		}
	}
	return ""
}

// Format renders the project fields as sorted "key: value" lines, so the
// {project_info} slot is filled deterministically for identical inputs.
func (p ProjectInfo) Format() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(p[k])
	}
	return b.String()
}

// QueryBuilder constructs the retrieval query for a section from the
// project metadata. Deterministic given identical inputs.
type QueryBuilder func(info ProjectInfo) string

// SectionSpec declares one generatable DMP section.
type SectionSpec struct {
	// Key is the stable section identifier (e.g. "data_types").
	Key string

	// Title is the human-readable section heading.
	Title string

	// Template is the generation prompt for this section.
	Template Template

	// BuildQuery produces the retrieval query for this section.
	BuildQuery QueryBuilder
}

// Registry is a static, read-only mapping from section key to SectionSpec.
// Construct once at startup; mutating section specs after generation has
// begun is not supported.
type Registry struct {
	specs map[string]SectionSpec
	order []string
}

// NewRegistry validates and indexes the given specs.
// Every template must reference {project_info} and {context} and may not
// reference slots outside the allowed set; violations return
// ErrInvalidTemplate. Order of specs is preserved as the default section
// order.
func NewRegistry(specs []SectionSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]SectionSpec, len(specs))}

	for _, spec := range specs {
		if spec.Key == "" {
			return nil, fmt.Errorf("%w: empty section key", ErrInvalidTemplate)
		}
		if _, exists := r.specs[spec.Key]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSection, spec.Key)
		}
		if spec.BuildQuery == nil {
			return nil, fmt.Errorf("%w: section %q has no query builder", ErrInvalidTemplate, spec.Key)
		}
		if err := validateTemplate(spec.Key, spec.Template); err != nil {
			return nil, err
		}
		r.specs[spec.Key] = spec
		r.order = append(r.order, spec.Key)
	}

	return r, nil
}

func validateTemplate(key string, tpl Template) error {
	referenced := make(map[string]bool)
	for _, name := range tpl.slots() {
		if !allowedSlots[name] {
			return fmt.Errorf("%w: section %q references unknown slot {%s}", ErrInvalidTemplate, key, name)
		}
		referenced[name] = true
	}
	for _, required := range requiredSlots {
		if !referenced[required] {
			return fmt.Errorf("%w: section %q is missing required slot {%s}", ErrInvalidTemplate, key, required)
		}
	}
	return nil
}

// Get returns the spec for a section key.
func (r *Registry) Get(key string) (SectionSpec, error) {
	spec, ok := r.specs[key]
	if !ok {
		return SectionSpec{}, fmt.Errorf("%w: %q", ErrPromptNotFound, key)
	}
	return spec, nil
}

// Keys returns the section keys in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered sections.
func (r *Registry) Len() int {
	return len(r.order)
}
