package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/melody/sys"
)

func registerAutoplaylist() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "autoplaylist",
		Description:              "Manage the fallback playlist",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "add",
				Description: "Add a link, or the current track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Link to add (default: the current track)",
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a link",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Link to remove",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show how many links are in the pool",
			},
		},
	}, handleAutoplaylist)
}

func handleAutoplaylist(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || event.GuildID() == nil {
		return
	}

	var text string
	var ok bool
	switch *data.SubCommandName {
	case "add":
		text, ok = handleAutoplaylistAdd(event, data)
	case "remove":
		text, ok = handleAutoplaylistRemove(event, data)
	case "stats":
		text, ok = handleAutoplaylistStats()
	default:
		return
	}

	if err := event.CreateMessage(discord.NewMessageCreate().
		WithContent(text).
		WithEphemeral(!ok)); err != nil {
		sys.LogError("Failed to answer /autoplaylist %s: %v", *data.SubCommandName, err)
	}
}
