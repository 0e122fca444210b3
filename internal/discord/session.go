package discord

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/mycelium/internal/hostapi"
)

// restAPI is the part of *discordgo.Session the script facades call.
type restAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	HeartbeatLatency() time.Duration

	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
}

var errNoEmbed = errors.New("embed is empty")

// messageEmbed accepts what scripts pass to the embed-sending methods: a
// builder from utils or an already built embed.
func messageEmbed(v any) (*discordgo.MessageEmbed, error) {
	switch e := v.(type) {
	case *hostapi.Embed:
		if e == nil {
			return nil, errNoEmbed
		}
		return e.Build(), nil
	case *discordgo.MessageEmbed:
		if e == nil {
			return nil, errNoEmbed
		}
		return e, nil
	case nil:
		return nil, errNoEmbed
	default:
		return nil, fmt.Errorf("not an embed: %T", v)
	}
}

func userOf(m *discordgo.Member, u *discordgo.User) *discordgo.User {
	if m != nil && m.User != nil {
		return m.User
	}
	return u
}

func guildName(state *discordgo.State, guildID string) string {
	if state == nil || guildID == "" {
		return ""
	}
	g, err := state.Guild(guildID)
	if err != nil || g == nil {
		return ""
	}
	return g.Name
}

func channelName(state *discordgo.State, channelID string) string {
	if state == nil || channelID == "" {
		return ""
	}
	c, err := state.Channel(channelID)
	if err != nil || c == nil {
		return ""
	}
	return c.Name
}

func latencyMs(api restAPI) int64 {
	return api.HeartbeatLatency().Milliseconds()
}
