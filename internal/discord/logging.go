package discord

import (
	"github.com/bwmarrin/discordgo"
)

// logCommand writes one line per slash command, resolving names from the
// state cache only.
func (b *Bot) logCommand(state *discordgo.State, ic *discordgo.InteractionCreate) {
	where := "DM"
	if ic.GuildID != "" {
		where = guildName(state, ic.GuildID)
		if where == "" {
			where = ic.GuildID
		}
	}
	user := userOf(ic.Member, ic.User)
	username := ""
	if user != nil {
		username = user.Username
	}
	b.logger.Info("command used",
		"user", username,
		"command", ic.ApplicationCommandData().Name,
		"guild", where,
		"channel", channelName(state, ic.ChannelID))
}
