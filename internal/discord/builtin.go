package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/mycelium/internal/host"
	"github.com/keshon/mycelium/internal/hostapi"
	"github.com/keshon/mycelium/pkg/cmd"
)

const msgOwnerOnly = "This command is restricted to bot owners."

var errNoInteraction = errors.New("invocation carries no interaction")

// Reloader runs the load pipeline. *host.Host implements it.
type Reloader interface {
	Reload(ctx context.Context) (*host.Result, error)
	Last() *host.Result
}

func interactionOf(inv *cmd.Invocation) (*Interaction, error) {
	ia, ok := inv.Data.(*Interaction)
	if !ok || ia == nil {
		return nil, errNoInteraction
	}
	return ia, nil
}

// ownerOnly rejects callers isOwner does not accept.
func ownerOnly(isOwner func(userID string) bool) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			ia, err := interactionOf(inv)
			if err != nil {
				return err
			}
			if isOwner == nil || !isOwner(ia.UserID()) {
				return ia.ReplyError(msgOwnerOnly)
			}
			return c.Run(ctx, inv)
		})
	}
}

func builtinCommands(r Reloader, isOwner func(string) bool) *cmd.Registry {
	reg := cmd.NewRegistry()
	restricted := ownerOnly(isOwner)
	reg.Register(cmd.Apply(&cmd.Func{
		CmdName:        "reload",
		CmdDescription: "Reload all scripts and re-register their commands",
		RunFunc:        func(ctx context.Context, inv *cmd.Invocation) error { return runReload(ctx, r, inv) },
	}, restricted))
	reg.Register(cmd.Apply(&cmd.Func{
		CmdName:        "scripts",
		CmdDescription: "List loaded scripts and their commands",
		RunFunc:        func(_ context.Context, inv *cmd.Invocation) error { return runScripts(r, inv) },
	}, restricted))
	return reg
}

func builtinDefinitions(reg *cmd.Registry) []*discordgo.ApplicationCommand {
	var defs []*discordgo.ApplicationCommand
	for _, c := range reg.All() {
		defs = append(defs, &discordgo.ApplicationCommand{
			Type:        discordgo.ChatApplicationCommand,
			Name:        c.Name(),
			Description: c.Description(),
		})
	}
	return defs
}

func runReload(ctx context.Context, r Reloader, inv *cmd.Invocation) error {
	ia, err := interactionOf(inv)
	if err != nil {
		return err
	}
	utils := hostapi.NewUtils()
	res, err := r.Reload(ctx)
	if res == nil {
		return ia.ReplyEmbed(utils.AddDefaultFooter(utils.CreateErrorEmbed("Reload failed", "The previous scripts are still active."), ia))
	}

	desc := fmt.Sprintf("Generation %d: %d script(s), %d command(s), %d event handler(s).",
		res.Generation.ID, len(res.Generation.Scripts), res.Report.Commands, res.Report.Events)
	e := utils.CreateSuccessEmbed("Scripts reloaded", desc)
	if err != nil {
		e = utils.CreateInfoEmbed("Scripts reloaded", desc+"\nCommand registration did not complete, see the logs.")
	}
	if len(res.LoadFailures) > 0 {
		names := make([]string, 0, len(res.LoadFailures))
		for _, f := range res.LoadFailures {
			names = append(names, f.Script)
		}
		e.AddField("Failed to load", strings.Join(names, "\n"), false)
	}
	return ia.ReplyEmbed(utils.AddDefaultFooter(e, ia))
}

func runScripts(r Reloader, inv *cmd.Invocation) error {
	ia, err := interactionOf(inv)
	if err != nil {
		return err
	}
	utils := hostapi.NewUtils()
	res := r.Last()
	if res == nil {
		return ia.ReplyEmbed(utils.CreateInfoEmbed("Scripts", "No scripts loaded yet."))
	}

	e := utils.CreateInfoEmbed("Scripts", fmt.Sprintf("Generation %d", res.Generation.ID))
	e.AddField("Loaded", listOrNone(res.Generation.Scripts), false)
	var names []string
	for _, c := range res.Commands() {
		names = append(names, "/"+c.Name+" ("+c.Script+")")
	}
	e.AddField("Commands", listOrNone(names), false)
	if len(res.Report.Disabled) > 0 {
		e.AddField("Disabled", strings.Join(res.Report.Disabled, "\n"), true)
	}
	if len(res.LoadFailures) > 0 {
		var failed []string
		for _, f := range res.LoadFailures {
			failed = append(failed, f.Script)
		}
		e.AddField("Failed", strings.Join(failed, "\n"), true)
	}
	return ia.ReplyEmbed(utils.AddDefaultFooter(e, ia))
}

// listOrNone joins items for an embed field, which must not be empty and is
// capped at 1024 characters.
func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	s := strings.Join(items, "\n")
	if len(s) > 1024 {
		s = s[:1020] + "\n..."
	}
	return s
}
