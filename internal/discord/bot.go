// Package discord connects the script host to Discord: it publishes script
// commands, turns gateway events into dispatches and gives scripts facades
// over interactions, events and the bot client.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/internal/dispatch"
	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/pkg/cmd"
)

const msgDMDisabled = "Commands in DMs are disabled"

// Dispatcher receives commands and events. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	DispatchCommand(ctx context.Context, name string, ia dispatch.Interaction) error
	DispatchEvent(ctx context.Context, tag metadata.EventTag, event any) error
}

type Options struct {
	Token string
	// GuildIDs limits command registration to these guilds. Empty means
	// global commands.
	GuildIDs        []string
	AllowDMCommands bool
	LogCommands     bool
	IsOwner         func(userID string) bool
	Hashes          HashStore
	Logger          *log.Logger
}

type Bot struct {
	dg     *discordgo.Session
	opts   Options
	logger *log.Logger
	syncer *syncer

	mu         sync.RWMutex
	ctx        context.Context
	dispatcher Dispatcher
	builtins   *cmd.Registry
}

// New creates the session without connecting.
func New(opts Options) (*Bot, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Hashes == nil {
		return nil, errors.New("discord: hash store is required")
	}
	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		dg:       dg,
		opts:     opts,
		logger:   opts.Logger,
		syncer:   newSyncer(dg, opts.Hashes, opts.Logger),
		ctx:      context.Background(),
		builtins: cmd.NewRegistry(),
	}
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onInteractionCreate)
	dg.AddHandler(b.onGuildMemberAdd)
	dg.AddHandler(b.onGuildMemberRemove)
	dg.AddHandler(b.onMessageCreate)
	return b, nil
}

// Client returns the facade scheduled handlers receive.
func (b *Bot) Client() *Client {
	return NewClient(b.dg, b.dg.State)
}

// Attach sets where commands and events go and enables the built-in
// commands. Until it is called, interactions are acknowledged and dropped.
func (b *Bot) Attach(d Dispatcher, r Reloader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatcher = d
	if r != nil {
		b.builtins = builtinCommands(r, b.opts.IsOwner)
	}
}

// Open connects to the gateway. ctx bounds every dispatch started from a
// gateway event.
func (b *Bot) Open(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	return b.dg.Close()
}

func (b *Bot) state() (context.Context, Dispatcher, *cmd.Registry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx, b.dispatcher, b.builtins
}

// SyncCommands publishes cmds plus the built-in commands to every configured
// guild, or globally when none is configured. Script commands named like a
// built-in are not published.
func (b *Bot) SyncCommands(ctx context.Context, cmds []metadata.Command) error {
	appID, err := b.appID()
	if err != nil {
		return err
	}
	_, _, builtins := b.state()
	defs := builtinDefinitions(builtins)
	for _, c := range cmds {
		if _, taken := builtins.Get(c.Name); taken {
			b.logger.Warn("script command shadowed by built-in", "command", c.Name, "script", c.Script)
			continue
		}
		defs = append(defs, ApplicationCommand(c))
	}

	scopes := b.opts.GuildIDs
	if len(scopes) == 0 {
		scopes = []string{""}
	}
	var errs []error
	for _, scope := range scopes {
		res, err := b.syncer.sync(ctx, appID, scope, defs)
		b.logger.Info("commands synced",
			"scope", scopeName(scope),
			"created", len(res.Created),
			"deleted", len(res.Deleted),
			"unchanged", res.Unchanged)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", scopeName(scope), err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) appID() (string, error) {
	if u := b.dg.State.User; u != nil && u.ID != "" {
		return u.ID, nil
	}
	u, err := b.dg.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to fetch bot user: %w", err)
	}
	return u.ID, nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Discord bot is running", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	b.handleCommand(s, s.State, ic)
}

func (b *Bot) handleCommand(api restAPI, state *discordgo.State, ic *discordgo.InteractionCreate) {
	name := ic.ApplicationCommandData().Name
	if ic.GuildID == "" && !b.opts.AllowDMCommands {
		if err := respondNow(api, ic, msgDMDisabled); err != nil {
			b.logger.Warn("failed to reply", "command", name, "err", err)
		}
		return
	}
	if b.opts.LogCommands {
		b.logCommand(state, ic)
	}
	if err := deferReply(api, ic); err != nil {
		b.logger.Error("failed to acknowledge interaction", "command", name, "err", err)
		return
	}

	ctx, d, builtins := b.state()
	ia := NewInteraction(api, ic)
	if c, ok := builtins.Get(name); ok {
		if err := c.Run(ctx, &cmd.Invocation{Data: ia}); err != nil {
			b.logger.Error("built-in command failed", "command", name, "err", err)
		}
		return
	}
	if d == nil {
		_ = ia.ReplyError(dispatch.MsgUnknownCommand)
		return
	}
	if err := d.DispatchCommand(ctx, name, ia); err != nil {
		b.logger.Warn("command not dispatched", "command", name, "err", err)
		// the dispatcher answers busy rejections itself
		if !errors.Is(err, dispatch.ErrBusy) {
			if rerr := ia.ReplyError(dispatch.MsgCommandFailed); rerr != nil {
				b.logger.Warn("failed to reply", "command", name, "err", rerr)
			}
		}
	}
}

func (b *Bot) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	b.dispatchEvent(metadata.EventMemberJoin, newMemberEvent(s, s.State, m.GuildID, m.Member, nil))
}

func (b *Bot) onGuildMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	b.dispatchEvent(metadata.EventMemberLeave, newMemberEvent(s, s.State, m.GuildID, m.Member, nil))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	b.dispatchEvent(metadata.EventMessageReceived, newMessageEvent(s, s.State, m.Message))
}

func (b *Bot) dispatchEvent(tag metadata.EventTag, event any) {
	ctx, d, _ := b.state()
	if d == nil {
		return
	}
	if err := d.DispatchEvent(ctx, tag, event); err != nil {
		b.logger.Warn("event not fully dispatched", "event", tag, "err", err)
	}
}
