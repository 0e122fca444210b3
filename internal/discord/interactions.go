package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/mycelium/internal/hostapi"
)

// Interaction is the slash command object handed to scripts. The host defers
// the response before dispatch, so every reply goes out as a followup.
type Interaction struct {
	api   restAPI
	state *discordgo.State
	ic    *discordgo.InteractionCreate
	shard [2]int
}

func NewInteraction(api restAPI, ic *discordgo.InteractionCreate) *Interaction {
	ia := &Interaction{api: api, ic: ic, shard: [2]int{0, 1}}
	if s, ok := api.(*discordgo.Session); ok {
		ia.state = s.State
		if s.ShardCount > 0 {
			ia.shard = [2]int{s.ShardID, s.ShardCount}
		}
	}
	return ia
}

func (i *Interaction) data() discordgo.ApplicationCommandInteractionData {
	return i.ic.ApplicationCommandData()
}

func (i *Interaction) user() *discordgo.User {
	if u := userOf(i.ic.Member, i.ic.User); u != nil {
		return u
	}
	return &discordgo.User{}
}

func (i *Interaction) Name() string        { return i.data().Name }
func (i *Interaction) UserID() string      { return i.user().ID }
func (i *Interaction) Username() string    { return i.user().Username }
func (i *Interaction) UserMention() string { return i.user().Mention() }
func (i *Interaction) AvatarURL() string   { return i.user().AvatarURL("") }
func (i *Interaction) GuildID() string     { return i.ic.GuildID }
func (i *Interaction) ChannelID() string   { return i.ic.ChannelID }

// Subcommand returns the invoked subcommand name, or "".
func (i *Interaction) Subcommand() string {
	for _, o := range i.data().Options {
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			return o.Name
		}
	}
	return ""
}

// Option returns the value of the named option, looking inside the invoked
// subcommand too. Users, channels and roles come back as ids. Missing
// options are null.
func (i *Interaction) Option(name string) any {
	opts := i.data().Options
	for _, o := range opts {
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			opts = o.Options
			break
		}
	}
	for _, o := range opts {
		if o.Name == name {
			return o.Value
		}
	}
	return nil
}

// User returns the invoking user.
func (i *Interaction) User() *User { return newUser(i.user()) }

// Member returns the invoking member, or null outside a guild.
func (i *Interaction) Member() *Member {
	return newMember(i.api, i.state, i.ic.GuildID, i.ic.Member)
}

// OptionUser resolves a USER option, or returns null when the option is
// missing.
func (i *Interaction) OptionUser(name string) (*User, error) {
	id, ok := i.Option(name).(string)
	if !ok || id == "" {
		return nil, nil
	}
	if r := i.data().Resolved; r != nil && r.Users[id] != nil {
		return newUser(r.Users[id]), nil
	}
	u, err := i.api.User(id)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return newUser(u), nil
}

// OptionMember resolves a USER option to a member of the current guild. It
// returns null when the option is missing or the user is not in the guild.
func (i *Interaction) OptionMember(name string) (*Member, error) {
	id, ok := i.Option(name).(string)
	if !ok || id == "" || i.ic.GuildID == "" {
		return nil, nil
	}
	if r := i.data().Resolved; r != nil && r.Members[id] != nil {
		m := *r.Members[id]
		if m.User == nil {
			m.User = r.Users[id]
		}
		if m.User != nil {
			m.GuildID = i.ic.GuildID
			return newMember(i.api, i.state, i.ic.GuildID, &m), nil
		}
	}
	return fetchMember(i.api, i.state, i.ic.GuildID, id)
}

func (i *Interaction) Reply(content string) error {
	return i.followup(false, &discordgo.WebhookParams{Content: content})
}

func (i *Interaction) ReplyEphemeral(content string) error {
	return i.followup(true, &discordgo.WebhookParams{Content: content})
}

func (i *Interaction) ReplyEmbed(embed any) error {
	e, err := messageEmbed(embed)
	if err != nil {
		return err
	}
	return i.followup(false, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{e}})
}

func (i *Interaction) ReplyEmbedEphemeral(embed any) error {
	e, err := messageEmbed(embed)
	if err != nil {
		return err
	}
	return i.followup(true, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{e}})
}

// ReplyError sends msg as an error embed. The dispatcher uses it for
// unknown command, busy and failure notices.
func (i *Interaction) ReplyError(msg string) error {
	return i.ReplyEmbedEphemeral(hostapi.NewUtils().CreateErrorEmbed("Error", msg))
}

// FooterText is the text utils.addDefaultFooter puts under an embed.
func (i *Interaction) FooterText() string {
	return fmt.Sprintf("Ping: %dms | Shard: [%d/%d] | Requested by: %s",
		latencyMs(i.api), i.shard[0]+1, i.shard[1], i.user().Username)
}

func (i *Interaction) followup(ephemeral bool, params *discordgo.WebhookParams) error {
	if ephemeral {
		params.Flags |= discordgo.MessageFlagsEphemeral
	}
	if _, err := i.api.FollowupMessageCreate(i.ic.Interaction, true, params); err != nil {
		return fmt.Errorf("reply to /%s: %w", i.Name(), err)
	}
	return nil
}

// respondNow answers without a prior defer. Used for the DM gate.
func respondNow(api restAPI, ic *discordgo.InteractionCreate, content string) error {
	return api.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func deferReply(api restAPI, ic *discordgo.InteractionCreate) error {
	return api.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}
