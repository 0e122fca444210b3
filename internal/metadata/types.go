// Package metadata reads the definition block at the top of a script and turns
// it into typed command, option and event descriptors.
//
// A script declares what it implements in its first /** ... */ comment:
//
//	/**
//	[
//	  { "name": "ping", "description": "Pong!", "handler": "handlePing" },
//	  { "event": "MEMBER_JOIN", "handler": "onJoin" }
//	]
//	*/
package metadata

import "strings"

// OptionType is the primitive type tag of a command option.
type OptionType string

const (
	OptionString      OptionType = "STRING"
	OptionInteger     OptionType = "INTEGER"
	OptionBoolean     OptionType = "BOOLEAN"
	OptionUser        OptionType = "USER"
	OptionChannel     OptionType = "CHANNEL"
	OptionRole        OptionType = "ROLE"
	OptionMentionable OptionType = "MENTIONABLE"
	OptionNumber      OptionType = "NUMBER"
	OptionAttachment  OptionType = "ATTACHMENT"
)

var optionTypes = map[OptionType]struct{}{
	OptionString:      {},
	OptionInteger:     {},
	OptionBoolean:     {},
	OptionUser:        {},
	OptionChannel:     {},
	OptionRole:        {},
	OptionMentionable: {},
	OptionNumber:      {},
	OptionAttachment:  {},
}

// ParseOptionType upper-cases s and reports whether it names a known type.
func ParseOptionType(s string) (OptionType, bool) {
	t := OptionType(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := optionTypes[t]
	return t, ok
}

// EventTag identifies a gateway event scripts can bind to.
type EventTag string

const (
	EventMemberJoin      EventTag = "MEMBER_JOIN"
	EventMemberLeave     EventTag = "MEMBER_LEAVE"
	EventMessageReceived EventTag = "MESSAGE_RECEIVED"
)

// KnownEvents lists the tags the host actually emits.
var KnownEvents = []EventTag{EventMemberJoin, EventMemberLeave, EventMessageReceived}

// NormalizeEvent upper-cases a raw tag.
func NormalizeEvent(s string) EventTag {
	return EventTag(strings.ToUpper(strings.TrimSpace(s)))
}

// Known reports whether the host ever fires t.
func (t EventTag) Known() bool {
	for _, k := range KnownEvents {
		if k == t {
			return true
		}
	}
	return false
}

type Option struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Type        OptionType `json:"type" yaml:"type"`
	Required    bool       `json:"required" yaml:"required"`
}

type Subcommand struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Options     []Option `json:"options,omitempty" yaml:"options,omitempty"`
}

// Command describes one slash command and the handler that serves it.
type Command struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Options     []Option     `json:"options,omitempty" yaml:"options,omitempty"`
	Subcommands []Subcommand `json:"subcommands,omitempty" yaml:"subcommands,omitempty"`
	Handler     string       `json:"handler" yaml:"handler"`
	Script      string       `json:"script" yaml:"script"`
}

// EventBinding ties an event tag to a handler of one script.
type EventBinding struct {
	Event   EventTag `json:"event" yaml:"event"`
	Handler string   `json:"handler" yaml:"handler"`
	Script  string   `json:"script" yaml:"script"`
}

// Definitions is everything one script contributes.
type Definitions struct {
	Script   string
	Commands []Command
	Events   []EventBinding
	// Failures are records (or options) that were skipped.
	Failures []error
	// Warnings are accepted records that look suspicious.
	Warnings []string
}

// Succeeded returns the number of records that produced a descriptor.
func (d *Definitions) Succeeded() int {
	return len(d.Commands) + len(d.Events)
}

// Failed returns the number of records or options that were skipped.
func (d *Definitions) Failed() int {
	return len(d.Failures)
}
