package music

// User facing status text.
const (
	MsgNowPlaying        = "Now playing: **%s**"
	MsgNowPlayingAuto    = "Now playing from autoplaylist: **%s**"
	MsgQueueEmpty        = "Queue is empty"
	MsgQueueFinished     = "Queue finished"
	MsgPlaybackFailed    = "Playback failed after %d attempts. Stopping."
	MsgAdded             = "Added **%s** to the queue"
	MsgAddedMany         = "Added %d tracks."
	MsgAddedSkipped      = "Added %d tracks. Skipped %d unavailable tracks."
	MsgNothingAdded      = "No playable tracks found. Skipped %d unavailable tracks."
	MsgUnrecognized      = "Could not find anything for that request"
	MsgResolveFailed     = "Failed to look up that request, try again later"
	MsgNotInVoice        = "You must be in a voice channel to use this command"
	MsgNotPlaying        = "Nothing is playing"
	MsgPaused            = "Paused"
	MsgAlreadyPaused     = "Already paused"
	MsgResumed           = "Resumed"
	MsgNotPaused         = "Playback is not paused"
	MsgSkipped           = "Skipped **%s**"
	MsgSkippedNext       = "Skipped **%s**. Now playing: **%s**"
	MsgStopped           = "Stopped playback and cleared the queue"
	MsgVolumeSet         = "Volume set to %d%%"
	MsgVolumeRange       = "Volume must be between 0 and 100"
	MsgVolumeCurrent     = "Volume is %d%%"
	MsgQueueHeader       = "**Queue** (%d tracks)"
	MsgQueueMore         = "...and %d more"
	MsgNowPlayingLine    = "Now playing: **%s** [%s] (%s)"
	MsgRemoved           = "Removed **%s** from the queue"
	MsgInvalidIndex      = "Invalid position, the queue has %d tracks"
	MsgShuffled          = "Shuffled %d tracks"
	MsgCleared           = "Cleared %d tracks from the queue"
	MsgJumped            = "Jumped to **%s**"
	MsgUnknownCommand    = "Unknown command"
	MsgVoiceJoinFailed   = "Could not join your voice channel"
	MsgQueueSaveFailed   = "Could not save the queue"
	MsgAutoPaused        = "Everyone left, pausing playback"
	MsgAutoResumed       = "Welcome back, resuming playback"
	MsgDisconnectedPause = "Disconnected from voice. The queue is kept, use play to resume"
	MsgShuttingDown      = "Music is shutting down, try again shortly"
)
