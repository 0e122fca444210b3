package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrUnknownPermission is returned by Member.HasPermission for a name
	// not in permissionNames.
	ErrUnknownPermission = errors.New("unknown permission")

	errNoMember = errors.New("no member given")
)

// maxTimeout is the longest timeout Discord accepts.
const maxTimeout = 28 * 24 * time.Hour

// permissionNames are the names scripts pass to hasPermission.
var permissionNames = map[string]int64{
	"ADMINISTRATOR":    discordgo.PermissionAdministrator,
	"BAN_MEMBERS":      discordgo.PermissionBanMembers,
	"KICK_MEMBERS":     discordgo.PermissionKickMembers,
	"MODERATE_MEMBERS": discordgo.PermissionModerateMembers,
	"MANAGE_MESSAGES":  discordgo.PermissionManageMessages,
	"MANAGE_ROLES":     discordgo.PermissionManageRoles,
	"MANAGE_CHANNELS":  discordgo.PermissionManageChannels,
	"MANAGE_GUILD":     discordgo.PermissionManageGuild,
	"MANAGE_NICKNAMES": discordgo.PermissionManageNicknames,
	"VIEW_AUDIT_LOG":   discordgo.PermissionViewAuditLogs,
	"MENTION_EVERYONE": discordgo.PermissionMentionEveryone,
	"SEND_MESSAGES":    discordgo.PermissionSendMessages,
}

// User is a Discord account as scripts see it.
type User struct {
	u *discordgo.User
}

func newUser(u *discordgo.User) *User {
	if u == nil {
		return nil
	}
	return &User{u: u}
}

func (u *User) ID() string          { return u.u.ID }
func (u *User) Username() string    { return u.u.Username }
func (u *User) DisplayName() string { return u.u.DisplayName() }
func (u *User) Mention() string     { return u.u.Mention() }
func (u *User) AvatarURL() string   { return u.u.AvatarURL("") }
func (u *User) IsBot() bool         { return u.u.Bot }

// CreatedAt returns the account creation time in unix seconds, read from
// the id.
func (u *User) CreatedAt() int64 {
	t, err := discordgo.SnowflakeTimestamp(u.u.ID)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// Member is a user within one guild. Moderation goes through it.
type Member struct {
	*User
	api     restAPI
	state   *discordgo.State
	guildID string
	m       *discordgo.Member
}

func newMember(api restAPI, state *discordgo.State, guildID string, m *discordgo.Member) *Member {
	if m == nil || m.User == nil || guildID == "" {
		return nil
	}
	return &Member{User: newUser(m.User), api: api, state: state, guildID: guildID, m: m}
}

func (m *Member) GuildID() string  { return m.guildID }
func (m *Member) Nickname() string { return m.m.Nick }

func (m *Member) DisplayName() string {
	if m.m.Nick != "" {
		return m.m.Nick
	}
	return m.User.DisplayName()
}

// JoinedAt returns when the member joined the guild in unix seconds, or 0
// when Discord did not send it.
func (m *Member) JoinedAt() int64 {
	if m.m.JoinedAt.IsZero() {
		return 0
	}
	return m.m.JoinedAt.Unix()
}

// Roles returns the member's roles as mentions.
func (m *Member) Roles() []string {
	out := make([]string, 0, len(m.m.Roles))
	for _, id := range m.m.Roles {
		out = append(out, "<@&"+id+">")
	}
	return out
}

// HasPermission reports whether the member holds the named permission
// (e.g. "BAN_MEMBERS"). Administrators and the guild owner hold all of them.
func (m *Member) HasPermission(name string) (bool, error) {
	bit, ok := permissionNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	perms := m.m.Permissions
	if perms == 0 {
		g, err := m.guild()
		if err != nil {
			return false, err
		}
		if g.OwnerID == m.ID() {
			return true, nil
		}
		perms = rolePermissions(g, m.m.Roles)
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	return perms&bit == bit, nil
}

// CanInteract reports whether the member may moderate target: the owner may
// moderate anyone, nobody may moderate the owner, otherwise the member's
// highest role must sit above the target's.
func (m *Member) CanInteract(target *Member) (bool, error) {
	if target == nil {
		return false, errNoMember
	}
	g, err := m.guild()
	if err != nil {
		return false, err
	}
	switch {
	case m.ID() == g.OwnerID:
		return true, nil
	case target.ID() == g.OwnerID:
		return false, nil
	}
	return highestRole(g, m.m.Roles) > highestRole(g, target.m.Roles), nil
}

// Ban bans the member and deletes deleteDays days of their messages (0-7).
func (m *Member) Ban(reason string, deleteDays int) error {
	deleteDays = min(max(deleteDays, 0), 7)
	if err := m.api.GuildBanCreateWithReason(m.guildID, m.ID(), reason, deleteDays); err != nil {
		return fmt.Errorf("ban %s: %w", m.Username(), err)
	}
	return nil
}

func (m *Member) Kick(reason string) error {
	if err := m.api.GuildMemberDeleteWithReason(m.guildID, m.ID(), reason); err != nil {
		return fmt.Errorf("kick %s: %w", m.Username(), err)
	}
	return nil
}

// Timeout mutes the member for minutes. Discord caps timeouts at 28 days.
func (m *Member) Timeout(minutes int64, reason string) error {
	if minutes <= 0 || minutes > int64(maxTimeout/time.Minute) {
		return fmt.Errorf("timeout must be between 1 and %d minutes, got %d", int64(maxTimeout/time.Minute), minutes)
	}
	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	var opts []discordgo.RequestOption
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	if err := m.api.GuildMemberTimeout(m.guildID, m.ID(), &until, opts...); err != nil {
		return fmt.Errorf("timeout %s: %w", m.Username(), err)
	}
	return nil
}

func (m *Member) guild() (*discordgo.Guild, error) {
	return lookupGuild(m.api, m.state, m.guildID)
}

// lookupGuild reads the guild from the state cache and falls back to REST.
func lookupGuild(api restAPI, state *discordgo.State, guildID string) (*discordgo.Guild, error) {
	if state != nil {
		if g, err := state.Guild(guildID); err == nil && g != nil {
			return g, nil
		}
	}
	g, err := api.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch guild %s: %w", guildID, err)
	}
	return g, nil
}

// fetchMember returns nil without an error when userID is not in the guild.
func fetchMember(api restAPI, state *discordgo.State, guildID, userID string) (*Member, error) {
	if state != nil {
		if m, err := state.Member(guildID, userID); err == nil && m != nil {
			return newMember(api, state, guildID, m), nil
		}
	}
	m, err := api.GuildMember(guildID, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	return newMember(api, state, guildID, m), nil
}

func isNotFound(err error) bool {
	var re *discordgo.RESTError
	return errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusNotFound
}

func roleByID(g *discordgo.Guild, id string) *discordgo.Role {
	for _, r := range g.Roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// rolePermissions ors @everyone (whose id is the guild id) with the given
// roles.
func rolePermissions(g *discordgo.Guild, roles []string) int64 {
	var perms int64
	if r := roleByID(g, g.ID); r != nil {
		perms = r.Permissions
	}
	for _, id := range roles {
		if r := roleByID(g, id); r != nil {
			perms |= r.Permissions
		}
	}
	return perms
}

func highestRole(g *discordgo.Guild, roles []string) int {
	top := 0
	for _, id := range roles {
		if r := roleByID(g, id); r != nil && r.Position > top {
			top = r.Position
		}
	}
	return top
}
