package home

import (
	"context"
	"strconv"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/catalog"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
)

// Env is what the chat surface needs from the rest of the bot.
type Env struct {
	Registry     *music.Registry
	Finder       *catalog.Finder
	Autoplaylist *music.Autoplaylist
	Cache        *music.Cache
	Transport    *proc.VoiceTransport
}

var env Env

// Setup registers the chat commands and the voice state handler. It must run
// before commands are synced.
func Setup(e Env) {
	env = e

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music player",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song from a link or a search",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "A link or what to search for",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "playlist",
				Description: "Queue a whole playlist or album",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Playlist, album or channel link",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop, clear the queue and leave",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "page",
						Description: "Page number",
						MinValue:    sys.IntPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "nowplaying",
				Description: "Show the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Show or set the volume",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "level",
						Description: "Volume percentage (0-100)",
						MinValue:    sys.IntPtr(0),
						MaxValue:    sys.IntPtr(100),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a queued track",
				Options:     []discord.ApplicationCommandOption{positionOption},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "jump",
				Description: "Skip ahead to a queued track",
				Options:     []discord.ApplicationCommandOption{positionOption},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skipped",
				Description: "Show entries that could not be queued recently",
			},
		},
	}, handleMusic)

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
	sys.RegisterVoiceStateUpdateHandler(handleVoiceStateUpdate)

	registerAutoplaylist()
	registerPresence()
	registerStats()
}

var positionOption = discord.ApplicationCommandOptionInt{
	Name:        "position",
	Description: "Position in the queue",
	Required:    true,
	MinValue:    sys.IntPtr(1),
}

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || event.GuildID() == nil {
		return
	}
	if *data.SubCommandName == "skipped" {
		handleMusicSkipped(event)
		return
	}
	req := buildRequest(event, data)

	// Resolving can take a while, everything else answers at once.
	if req.Command == music.CmdPlay || req.Command == music.CmdPlaylist {
		_ = event.DeferCreateMessage(false)
		rep := env.Registry.HandleRequest(context.Background(), req)
		if _, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
			WithContent(rep.Text)); err != nil {
			sys.LogError("Failed to answer /music %s: %v", req.Command, err)
		}
		return
	}

	rep := env.Registry.HandleRequest(context.Background(), req)
	if err := event.CreateMessage(discord.NewMessageCreate().
		WithContent(rep.Text).
		WithEphemeral(rep.Outcome != music.OutcomeOK)); err != nil {
		sys.LogError("Failed to answer /music %s: %v", req.Command, err)
	}
}

// buildRequest maps an interaction onto a music request. The voice channel
// is the caller's current one, if any.
func buildRequest(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) music.Request {
	guildID := *event.GuildID()
	req := music.Request{
		Room:        guildID,
		TextChannel: event.Channel().ID(),
		Command:     music.Command(*data.SubCommandName),
	}
	if vs, ok := event.Client().Caches.VoiceState(guildID, event.User().ID); ok && vs.ChannelID != nil {
		req.VoiceChannel = *vs.ChannelID
	}

	switch req.Command {
	case music.CmdPlay:
		req.Args, _ = data.OptString("query")
	case music.CmdPlaylist:
		req.Args, _ = data.OptString("url")
	case music.CmdQueue:
		req.Args = optInt(data, "page")
	case music.CmdVolume:
		req.Args = optInt(data, "level")
	case music.CmdRemove, music.CmdJump:
		req.Args = optInt(data, "position")
	}
	return req
}

func optInt(data discord.SlashCommandInteractionData, name string) string {
	if v, ok := data.OptInt(name); ok {
		return strconv.Itoa(v)
	}
	return ""
}
