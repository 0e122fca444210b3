package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMetadataParse marks a malformed block, record or option.
	ErrMetadataParse = errors.New("metadata parse error")
	// ErrNoMetadata marks a script without any metadata block. Such scripts
	// are helpers: loaded, but contributing no descriptors.
	ErrNoMetadata = errors.New("no metadata block")
)

// DefaultDescription replaces a missing command description.
const DefaultDescription = "No description provided."

// ParseError describes what could not be parsed and where.
type ParseError struct {
	Script string
	// Record is the index of the record in the block, -1 for the block itself.
	Record int
	// Field names the option or subcommand path when only a part failed.
	Field  string
	Reason string
	// NoBlock is set when the script has no block at all.
	NoBlock bool
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("metadata parse error in ")
	b.WriteString(e.Script)
	if e.Record >= 0 {
		fmt.Fprintf(&b, " record %d", e.Record)
	}
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ParseError) Unwrap() []error {
	if e.NoBlock {
		return []error{ErrMetadataParse, ErrNoMetadata}
	}
	return []error{ErrMetadataParse}
}

type record map[string]any

// Parse interprets block as a JSON array of definition records. A block that
// is not such an array fails as a whole; bad records and options are skipped
// and listed in Definitions.Failures.
func Parse(block, script string) (*Definitions, error) {
	var records []record
	if err := json.Unmarshal([]byte(block), &records); err != nil {
		return nil, &ParseError{Script: script, Record: -1, Reason: err.Error()}
	}

	defs := &Definitions{Script: script}
	for i, rec := range records {
		if rec == nil {
			defs.Failures = append(defs.Failures, &ParseError{Script: script, Record: i, Reason: "record is not an object"})
			continue
		}
		switch {
		case rec.has("name") && rec.has("handler"):
			cmd, err := parseCommand(defs, i, rec)
			if err != nil {
				defs.Failures = append(defs.Failures, err)
				continue
			}
			defs.Commands = append(defs.Commands, cmd)
		case rec.has("event") && rec.has("handler"):
			ev, err := parseEvent(defs, i, rec)
			if err != nil {
				defs.Failures = append(defs.Failures, err)
				continue
			}
			defs.Events = append(defs.Events, ev)
		default:
			defs.Failures = append(defs.Failures, &ParseError{
				Script: script, Record: i,
				Reason: "record has neither name+handler nor event+handler",
			})
		}
	}
	return defs, nil
}

func parseCommand(defs *Definitions, idx int, rec record) (Command, error) {
	name, ok := rec.str("name")
	if !ok || name == "" {
		return Command{}, &ParseError{Script: defs.Script, Record: idx, Field: "name", Reason: "must be a non-empty string"}
	}
	handler, ok := rec.str("handler")
	if !ok || handler == "" {
		return Command{}, &ParseError{Script: defs.Script, Record: idx, Field: "handler", Reason: "must be a non-empty string"}
	}
	desc, _ := rec.str("description")
	if desc == "" {
		desc = DefaultDescription
		defs.Warnings = append(defs.Warnings, fmt.Sprintf("command %q has no description", name))
	}

	cmd := Command{
		Name:        name,
		Description: desc,
		Handler:     handler,
		Script:      defs.Script,
	}
	if raw, ok := rec["options"]; ok {
		cmd.Options = parseOptions(defs, idx, name, raw)
	}
	if raw, ok := rec["subcommands"]; ok {
		list, ok := raw.([]any)
		if !ok {
			defs.Failures = append(defs.Failures, &ParseError{Script: defs.Script, Record: idx, Field: name + ".subcommands", Reason: "must be an array"})
		}
		for j, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				defs.Failures = append(defs.Failures, &ParseError{Script: defs.Script, Record: idx, Field: fmt.Sprintf("%s.subcommands[%d]", name, j), Reason: "must be an object"})
				continue
			}
			subName, _ := record(sub).str("name")
			if subName == "" {
				defs.Failures = append(defs.Failures, &ParseError{Script: defs.Script, Record: idx, Field: fmt.Sprintf("%s.subcommands[%d]", name, j), Reason: "missing name"})
				continue
			}
			subDesc, _ := record(sub).str("description")
			if subDesc == "" {
				subDesc = DefaultDescription
			}
			sc := Subcommand{Name: subName, Description: subDesc}
			if raw, ok := sub["options"]; ok {
				sc.Options = parseOptions(defs, idx, name+"."+subName, raw)
			}
			cmd.Subcommands = append(cmd.Subcommands, sc)
		}
	}
	return cmd, nil
}

// parseOptions keeps every well-formed option; a broken one is recorded and
// dropped without failing the owning command.
func parseOptions(defs *Definitions, idx int, owner string, raw any) []Option {
	list, ok := raw.([]any)
	if !ok {
		defs.Failures = append(defs.Failures, &ParseError{Script: defs.Script, Record: idx, Field: owner + ".options", Reason: "must be an array"})
		return nil
	}
	var out []Option
	for j, item := range list {
		field := fmt.Sprintf("%s.options[%d]", owner, j)
		m, ok := item.(map[string]any)
		if !ok {
			defs.Failures = append(defs.Failures, &ParseError{Script: defs.Script, Record: idx, Field: field, Reason: "must be an object"})
			continue
		}
		opt, err := parseOption(record(m))
		if err != "" {
			defs.Failures = append(defs.Failures, &ParseError{Script: defs.Script, Record: idx, Field: field, Reason: err})
			continue
		}
		out = append(out, opt)
	}
	return out
}

func parseOption(m record) (Option, string) {
	rawType, ok := m.str("type")
	if !ok {
		return Option{}, "missing type"
	}
	name, ok := m.str("name")
	if !ok || name == "" {
		return Option{}, "missing name"
	}
	t, known := ParseOptionType(rawType)
	if !known {
		return Option{}, fmt.Sprintf("unknown type %q", rawType)
	}
	desc, _ := m.str("description")
	if desc == "" {
		desc = name
	}
	opt := Option{Name: name, Description: desc, Type: t}
	if v, ok := m["required"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Option{}, "required must be a boolean"
		}
		opt.Required = b
	}
	return opt, ""
}

func parseEvent(defs *Definitions, idx int, rec record) (EventBinding, error) {
	raw, ok := rec.str("event")
	if !ok || raw == "" {
		return EventBinding{}, &ParseError{Script: defs.Script, Record: idx, Field: "event", Reason: "must be a non-empty string"}
	}
	handler, ok := rec.str("handler")
	if !ok || handler == "" {
		return EventBinding{}, &ParseError{Script: defs.Script, Record: idx, Field: "handler", Reason: "must be a non-empty string"}
	}
	tag := NormalizeEvent(raw)
	if !tag.Known() {
		defs.Warnings = append(defs.Warnings, fmt.Sprintf("event %q is not emitted by the host; handler %s will never fire", tag, handler))
	}
	return EventBinding{Event: tag, Handler: handler, Script: defs.Script}, nil
}

func (r record) has(key string) bool {
	_, ok := r[key]
	return ok
}

func (r record) str(key string) (string, bool) {
	v, ok := r[key].(string)
	return strings.TrimSpace(v), ok
}
