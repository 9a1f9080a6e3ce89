package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

// SafeGo runs f on its own goroutine and logs any panic instead of crashing.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// AppContext is cancelled when the process receives a shutdown signal.
var AppContext = context.Background()

var startedAt = time.Now()

// HttpClient is shared by the catalog clients.
var HttpClient = &http.Client{
	Timeout: 10 * time.Second,
}

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// dispatch holds everything packages register before the gateway opens.
// It is written during setup only, so reads from event handlers need no lock.
var dispatch = struct {
	commands     []discord.ApplicationCommandCreate
	slash        map[string]func(*events.ApplicationCommandInteractionCreate)
	autocomplete map[string]func(*events.AutocompleteInteractionCreate)
	voiceState   []func(*events.GuildVoiceStateUpdate)
	ready        []func(context.Context, *bot.Client)
}{
	slash:        map[string]func(*events.ApplicationCommandInteractionCreate){},
	autocomplete: map[string]func(*events.AutocompleteInteractionCreate){},
}

// CreateClient builds the gateway client with the intents and caches the
// player needs to follow members between voice channels.
func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/music play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(func(e *events.ApplicationCommandInteractionCreate) {
			if h, ok := dispatch.slash[e.Data.CommandName()]; ok {
				SafeGo(func() { h(e) })
			}
		}),
		bot.WithEventListenerFunc(func(e *events.AutocompleteInteractionCreate) {
			if h, ok := dispatch.autocomplete[e.Data.CommandName]; ok {
				SafeGo(func() { h(e) })
			}
		}),
		bot.WithEventListenerFunc(func(e *events.GuildVoiceStateUpdate) {
			for _, h := range dispatch.voiceState {
				SafeGo(func() { h(e) })
			}
		}),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 50,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
}

func RegisterCommand(cmd discord.SlashCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	dispatch.commands = append(dispatch.commands, cmd)
	dispatch.slash[cmd.CommandName()] = handler
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	dispatch.autocomplete[cmdName] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	dispatch.voiceState = append(dispatch.voiceState, handler)
}

// OnClientReady queues cb to run on the first Ready event, before daemons start.
func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	dispatch.ready = append(dispatch.ready, cb)
}

func onReady(event *events.Ready) {
	LogInfo(MsgBotReady, event.User.Username, event.User.ID.String(), os.Getpid(), time.Since(startedAt).Milliseconds())

	for _, cb := range dispatch.ready {
		cb(AppContext, event.Client())
	}
	StartDaemons(AppContext)
}

// commandScope says where the command set lives. An empty guild means global.
type commandScope struct {
	Guild string
}

func (s commandScope) mode() string {
	if s.Guild == "" {
		return "global"
	}
	return "guild"
}

// syncState is the last successful registration, kept in bot_config.
type syncState struct {
	Hash  string
	Mode  string
	Guild string
}

const (
	keyCommandHash  = "last_cmd_hash"
	keyCommandMode  = "last_reg_mode"
	keyCommandGuild = "last_guild_id"
)

func loadSyncState(ctx context.Context) syncState {
	var s syncState
	s.Hash, _ = GetBotConfig(ctx, keyCommandHash)
	s.Mode, _ = GetBotConfig(ctx, keyCommandMode)
	s.Guild, _ = GetBotConfig(ctx, keyCommandGuild)
	return s
}

func saveSyncState(ctx context.Context, s syncState) {
	_ = SetBotConfig(ctx, keyCommandMode, s.Mode)
	_ = SetBotConfig(ctx, keyCommandGuild, s.Guild)
	if s.Hash != "" {
		_ = SetBotConfig(ctx, keyCommandHash, s.Hash)
	}
}

// upToDate reports whether last already describes want. An empty hash never
// matches so that a marshal failure always re-registers.
func (want syncState) upToDate(last syncState) bool {
	return want.Hash != "" && want == last
}

// commandHash fingerprints the command set.
func commandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RegisterCommands pushes the registered commands to guildID, or globally
// when guildID is empty. Unchanged sets are skipped unless force is set.
func RegisterCommands(client *bot.Client, guildID string, force bool) error {
	ctx := context.Background()
	scope := commandScope{Guild: guildID}
	want := syncState{Hash: commandHash(dispatch.commands), Mode: scope.mode(), Guild: guildID}
	last := loadSyncState(ctx)

	LogInfo(MsgLoaderSyncCommands, len(dispatch.commands), want.Mode)
	if !force && want.upToDate(last) {
		LogInfo(MsgLoaderUpToDate, want.Hash[:8])
		return nil
	}

	if err := pushCommands(client, scope, dispatch.commands); err != nil {
		return err
	}

	// Switching dev guilds leaves the old guild with stale commands.
	if last.Guild != "" && last.Guild != guildID {
		if old, err := snowflake.Parse(last.Guild); err == nil {
			LogInfo(MsgLoaderCleanup, last.Guild)
			_, _ = client.Rest.SetGuildCommands(client.ApplicationID, old, []discord.ApplicationCommandCreate{})
		}
	}

	saveSyncState(ctx, want)
	return nil
}

func pushCommands(client *bot.Client, scope commandScope, cmds []discord.ApplicationCommandCreate) error {
	var (
		created []discord.ApplicationCommand
		err     error
	)
	if scope.Guild == "" {
		LogInfo(MsgLoaderProdStarting)
		created, err = client.Rest.SetGlobalCommands(client.ApplicationID, cmds)
	} else {
		guild, perr := snowflake.Parse(scope.Guild)
		if perr != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", perr)
		}
		LogInfo(MsgLoaderDevStarting, scope.Guild)
		created, err = client.Rest.SetGuildCommands(client.ApplicationID, guild, cmds)
	}
	if err != nil {
		return fmt.Errorf(MsgLoaderPushFail, scope.mode(), err)
	}
	for _, cmd := range created {
		LogInfo(MsgLoaderRegistered, cmd.Name(), scope.mode())
	}
	return nil
}

// Daemons are long-running loops such as the presence rotator and the
// autoplaylist watcher. Each one decides at start time whether to run.
type daemon struct {
	log   func(format string, v ...any)
	start func(ctx context.Context) (bool, func(), func())
}

type daemonSet struct {
	once    sync.Once
	mu      sync.Mutex
	pending []daemon
	stops   []func()
}

var daemons daemonSet

// RegisterDaemon adds a daemon. start reports whether it should run, its
// loop, and an optional stop hook.
func RegisterDaemon(logger func(format string, v ...any), start func(ctx context.Context) (bool, func(), func())) {
	daemons.mu.Lock()
	defer daemons.mu.Unlock()
	daemons.pending = append(daemons.pending, daemon{log: logger, start: start})
}

// StartDaemons runs every registered daemon that wants to run. Later Ready
// events after a gateway resume do not start them twice.
func StartDaemons(ctx context.Context) {
	daemons.once.Do(func() {
		daemons.mu.Lock()
		pending := daemons.pending
		daemons.mu.Unlock()

		for _, d := range pending {
			ok, run, stop := d.start(ctx)
			if !ok || run == nil {
				continue
			}
			if stop != nil {
				daemons.mu.Lock()
				daemons.stops = append(daemons.stops, stop)
				daemons.mu.Unlock()
			}
			d.log(MsgDaemonStarting)
			SafeGo(run)
		}
	})
}

// ShutdownDaemons calls every stop hook in parallel and waits for them.
func ShutdownDaemons(ctx context.Context) {
	daemons.mu.Lock()
	stops := daemons.stops
	daemons.stops = nil
	daemons.mu.Unlock()

	var wg sync.WaitGroup
	for _, stop := range stops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		LogWarn("Daemon shutdown timed out: %v", ctx.Err())
	}
}
