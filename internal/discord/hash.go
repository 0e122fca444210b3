package discord

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// hashCommand returns a deterministic hash of the fields Discord stores for
// a command. Ids and versions are left out; option order is kept because
// Discord shows options in declaration order.
func hashCommand(cmd *discordgo.ApplicationCommand) string {
	stable := map[string]any{
		"name":        cmd.Name,
		"description": cmd.Description,
		"type":        cmd.Type,
	}
	if cmd.DefaultMemberPermissions != nil {
		stable["permissions"] = *cmd.DefaultMemberPermissions
	}
	if len(cmd.Options) > 0 {
		stable["options"] = normalizeOptions(cmd.Options)
	}
	data, _ := json.Marshal(stable)
	return fmt.Sprintf("%x", sha1.Sum(data))
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	out := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, c := range o.Choices {
				choices[j] = map[string]any{"name": c.Name, "value": c.Value}
			}
			entry["choices"] = choices
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		out[i] = entry
	}
	return out
}
