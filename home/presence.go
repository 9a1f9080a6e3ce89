package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
)

func registerPresence() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "presence",
		Description:              "Configure the rotating bot presence (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionBool{
				Name:        "visible",
				Description: "Enable or disable presence rotation",
				Required:    true,
			},
		},
	}, handlePresence)
}

func handlePresence(event *events.ApplicationCommandInteractionCreate) {
	visible := event.SlashCommandInteractionData().Bool("visible")

	value, content := "false", "✅ Presence rotation disabled!"
	if visible {
		value, content = "true", "✅ Presence rotation enabled!"
	}
	if err := sys.SetBotConfig(sys.AppContext, proc.ConfigKeyPresence, value); err != nil {
		sys.LogError("Failed to save presence setting: %v", err)
		content = "Could not save the setting."
	}

	if err := event.CreateMessage(discord.NewMessageCreate().
		WithContent(content).
		WithEphemeral(true)); err != nil {
		sys.LogDebug("Failed to answer /presence: %v", err)
	}
}
