package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// channels sends to arbitrary channels on behalf of a script.
type channels struct {
	api   restAPI
	state *discordgo.State
}

func (c channels) SendMessage(channelID, content string) error {
	_, err := c.api.ChannelMessageSend(channelID, content)
	return err
}

func (c channels) SendEmbed(channelID string, embed any) error {
	e, err := messageEmbed(embed)
	if err != nil {
		return err
	}
	_, err = c.api.ChannelMessageSendEmbed(channelID, e)
	return err
}

// FindChannel returns the id of the first text channel of guildID whose name
// matches (case-insensitively), or "".
func (c channels) FindChannel(guildID, name string) string {
	if c.state == nil {
		return ""
	}
	g, err := c.state.Guild(guildID)
	if err != nil || g == nil {
		return ""
	}
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, name) {
			return ch.ID
		}
	}
	return ""
}

// MemberEvent is passed to MEMBER_JOIN and MEMBER_LEAVE handlers.
type MemberEvent struct {
	channels
	guildID string
	user    *discordgo.User
	member  *discordgo.Member
}

func newMemberEvent(api restAPI, state *discordgo.State, guildID string, m *discordgo.Member, u *discordgo.User) *MemberEvent {
	user := userOf(m, u)
	if user == nil {
		user = &discordgo.User{}
	}
	return &MemberEvent{channels: channels{api: api, state: state}, guildID: guildID, user: user, member: m}
}

// Member returns the member the event is about. For MEMBER_LEAVE it is
// the last known state; moderation calls on it will fail.
func (e *MemberEvent) Member() *Member {
	if e.member == nil || e.member.User == nil {
		return nil
	}
	return newMember(e.api, e.state, e.guildID, e.member)
}

func (e *MemberEvent) GuildID() string     { return e.guildID }
func (e *MemberEvent) GuildName() string   { return guildName(e.state, e.guildID) }
func (e *MemberEvent) UserID() string      { return e.user.ID }
func (e *MemberEvent) Username() string    { return e.user.Username }
func (e *MemberEvent) UserMention() string { return e.user.Mention() }
func (e *MemberEvent) AvatarURL() string   { return e.user.AvatarURL("") }
func (e *MemberEvent) IsBot() bool         { return e.user.Bot }

// MessageEvent is passed to MESSAGE_RECEIVED handlers.
type MessageEvent struct {
	channels
	msg *discordgo.Message
}

func newMessageEvent(api restAPI, state *discordgo.State, m *discordgo.Message) *MessageEvent {
	return &MessageEvent{channels: channels{api: api, state: state}, msg: m}
}

func (e *MessageEvent) Content() string       { return e.msg.Content }
func (e *MessageEvent) MessageID() string     { return e.msg.ID }
func (e *MessageEvent) ChannelID() string     { return e.msg.ChannelID }
func (e *MessageEvent) GuildID() string       { return e.msg.GuildID }
func (e *MessageEvent) GuildName() string     { return guildName(e.state, e.msg.GuildID) }
func (e *MessageEvent) AuthorID() string      { return e.author().ID }
func (e *MessageEvent) AuthorName() string    { return e.author().Username }
func (e *MessageEvent) AuthorMention() string { return e.author().Mention() }

func (e *MessageEvent) author() *discordgo.User {
	if e.msg.Author == nil {
		return &discordgo.User{}
	}
	return e.msg.Author
}

// Reply sends content to the channel the message came from.
func (e *MessageEvent) Reply(content string) error {
	return e.SendMessage(e.msg.ChannelID, content)
}
