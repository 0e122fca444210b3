package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Client is the subject of scheduled handlers: there is no interaction or
// event, only the bot itself.
type Client struct {
	channels
}

func NewClient(api restAPI, state *discordgo.State) *Client {
	return &Client{channels: channels{api: api, state: state}}
}

func (c *Client) LatencyMs() int64 { return latencyMs(c.api) }

func (c *Client) GuildName(guildID string) string { return guildName(c.state, guildID) }

// User fetches the user with userID.
func (c *Client) User(userID string) (*User, error) {
	u, err := c.api.User(userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return newUser(u), nil
}

// Member returns userID's membership in guildID, or null when they are not
// in the guild.
func (c *Client) Member(guildID, userID string) (*Member, error) {
	return fetchMember(c.api, c.state, guildID, userID)
}

// SendDirectMessage opens (or reuses) the DM channel with userID and sends
// content there.
func (c *Client) SendDirectMessage(userID, content string) error {
	ch, err := c.api.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open DM with %s: %w", userID, err)
	}
	return c.SendMessage(ch.ID, content)
}
