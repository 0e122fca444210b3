package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/pkg/retrylimit"
)

var optionTypes = map[metadata.OptionType]discordgo.ApplicationCommandOptionType{
	metadata.OptionString:      discordgo.ApplicationCommandOptionString,
	metadata.OptionInteger:     discordgo.ApplicationCommandOptionInteger,
	metadata.OptionBoolean:     discordgo.ApplicationCommandOptionBoolean,
	metadata.OptionUser:        discordgo.ApplicationCommandOptionUser,
	metadata.OptionChannel:     discordgo.ApplicationCommandOptionChannel,
	metadata.OptionRole:        discordgo.ApplicationCommandOptionRole,
	metadata.OptionMentionable: discordgo.ApplicationCommandOptionMentionable,
	metadata.OptionNumber:      discordgo.ApplicationCommandOptionNumber,
	metadata.OptionAttachment:  discordgo.ApplicationCommandOptionAttachment,
}

// ApplicationCommand converts a script descriptor into a chat input command.
// Subcommands become options of type SubCommand carrying their own options.
func ApplicationCommand(c metadata.Command) *discordgo.ApplicationCommand {
	def := &discordgo.ApplicationCommand{
		Type:        discordgo.ChatApplicationCommand,
		Name:        c.Name,
		Description: c.Description,
		Options:     convertOptions(c.Options),
	}
	for _, sub := range c.Subcommands {
		def.Options = append(def.Options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        sub.Name,
			Description: sub.Description,
			Options:     convertOptions(sub.Options),
		})
	}
	return def
}

// convertOptions keeps declaration order except that required options are
// moved in front of optional ones, which Discord insists on.
func convertOptions(opts []metadata.Option) []*discordgo.ApplicationCommandOption {
	if len(opts) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(opts))
	for _, o := range opts {
		t, ok := optionTypes[o.Type]
		if !ok {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOption{
			Type:        t,
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
		})
	}
	slices.SortStableFunc(out, func(a, b *discordgo.ApplicationCommandOption) int {
		switch {
		case a.Required == b.Required:
			return 0
		case a.Required:
			return -1
		default:
			return 1
		}
	})
	return out
}

// commandAPI is the part of *discordgo.Session used to publish commands.
type commandAPI interface {
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

// HashStore remembers what was last published per scope. *storage.Storage
// implements it.
type HashStore interface {
	CommandHashes(scope string) (map[string]string, error)
	SetCommandHashes(scope string, hashes map[string]string) error
}

type SyncResult struct {
	Created   []string
	Deleted   []string
	Unchanged int
	Failed    []string
}

// syncer publishes command definitions, skipping the ones whose hash matches
// the cache and deleting the ones no longer defined.
type syncer struct {
	api     commandAPI
	store   HashStore
	limiter *retrylimit.AdaptiveLimiter
	retry   retrylimit.RetryConfig
	logger  *log.Logger
}

func newSyncer(api commandAPI, store HashStore, logger *log.Logger) *syncer {
	retry := retrylimit.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.Logger = logger
	return &syncer{
		api:     api,
		store:   store,
		limiter: retrylimit.NewAdaptiveLimiter(40, 1, 40, 1, 0.5),
		retry:   retry,
		logger:  logger,
	}
}

// sync publishes defs to scope (a guild id, or "" for global commands).
func (s *syncer) sync(ctx context.Context, appID, scope string, defs []*discordgo.ApplicationCommand) (SyncResult, error) {
	var res SyncResult
	remote, err := s.api.ApplicationCommands(appID, scope)
	if err != nil {
		return res, fmt.Errorf("list commands: %w", err)
	}
	cached, err := s.store.CommandHashes(scope)
	if err != nil {
		s.logger.Warn("command hash cache unreadable, republishing all", "scope", scopeName(scope), "err", err)
	}

	wanted := make(map[string]string, len(defs))
	for _, d := range defs {
		wanted[d.Name] = hashCommand(d)
	}
	remoteNames := make(map[string]bool, len(remote))
	hashes := make(map[string]string, len(defs))

	for _, rc := range remote {
		remoteNames[rc.Name] = true
		if _, ok := wanted[rc.Name]; ok {
			continue
		}
		err := s.call(ctx, func(context.Context) error {
			return s.api.ApplicationCommandDelete(appID, scope, rc.ID)
		})
		if err != nil {
			s.logger.Error("failed to delete obsolete command", "scope", scopeName(scope), "command", rc.Name, "err", err)
			res.Failed = append(res.Failed, rc.Name)
			continue
		}
		res.Deleted = append(res.Deleted, rc.Name)
	}

	for _, d := range defs {
		h := wanted[d.Name]
		if remoteNames[d.Name] && cached[d.Name] == h {
			hashes[d.Name] = h
			res.Unchanged++
			continue
		}
		err := s.call(ctx, func(context.Context) error {
			_, err := s.api.ApplicationCommandCreate(appID, scope, d)
			return err
		})
		if err != nil {
			s.logger.Error("failed to publish command", "scope", scopeName(scope), "command", d.Name, "err", err)
			res.Failed = append(res.Failed, d.Name)
			continue
		}
		hashes[d.Name] = h
		res.Created = append(res.Created, d.Name)
	}

	if err := s.store.SetCommandHashes(scope, hashes); err != nil {
		return res, fmt.Errorf("save command hashes: %w", err)
	}
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%d command(s) failed to sync in %s", len(res.Failed), scopeName(scope))
	}
	return res, nil
}

func (s *syncer) call(ctx context.Context, fn func(context.Context) error) error {
	return retrylimit.Do(ctx, s.retry, s.limiter, func(ctx context.Context) error {
		return classifyREST(fn(ctx))
	})
}

func scopeName(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}

// restStatus exposes the status code of a discordgo REST error to retrylimit.
type restStatus struct {
	code int
	err  error
}

func (e *restStatus) Error() string   { return e.err.Error() }
func (e *restStatus) Unwrap() error   { return e.err }
func (e *restStatus) StatusCode() int { return e.code }

// classifyREST marks client errors other than 429 as fatal so they are not
// retried.
func classifyREST(err error) error {
	var re *discordgo.RESTError
	if err == nil || !errors.As(err, &re) || re.Response == nil {
		return err
	}
	code := re.Response.StatusCode
	if code >= 400 && code < 500 && code != 429 {
		return &retrylimit.FatalError{Err: err}
	}
	return &restStatus{code: code, err: err}
}
