package sys

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := InitDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("InitDatabase: %v", err)
	}
	t.Cleanup(CloseDatabase)
}

func TestBotConfig(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	if v, err := GetBotConfig(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("missing key: got %q, %v", v, err)
	}
	if err := SetBotConfig(ctx, "k", "one"); err != nil {
		t.Fatal(err)
	}
	if err := SetBotConfig(ctx, "k", "two"); err != nil {
		t.Fatal(err)
	}
	if v, _ := GetBotConfig(ctx, "k"); v != "two" {
		t.Errorf("GetBotConfig() = %q, want two", v)
	}
}

func TestRoomVolume(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()
	guild := snowflake.ID(123456789012345678)

	if v, err := GetRoomVolume(ctx, guild, 100); err != nil || v != 100 {
		t.Fatalf("default: got %d, %v", v, err)
	}
	if err := SetRoomVolume(ctx, guild, 40); err != nil {
		t.Fatal(err)
	}
	if err := SetRoomVolume(ctx, guild, 55); err != nil {
		t.Fatal(err)
	}
	if v, _ := GetRoomVolume(ctx, guild, 100); v != 55 {
		t.Errorf("GetRoomVolume() = %d, want 55", v)
	}
	if v, _ := GetRoomVolume(ctx, guild+1, 100); v != 100 {
		t.Errorf("other guild = %d, want default", v)
	}
}

func TestResolveSkips(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()
	guild := snowflake.ID(123456789012345678)

	if err := AddResolveSkips(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	err := AddResolveSkips(ctx, []ResolveSkip{
		{JobID: "job", GuildID: guild.String(), Request: "list", Title: "first", Reason: "private"},
		{JobID: "job", GuildID: guild.String(), Request: "list", Title: "second", Reason: "no match"},
		{JobID: "other", GuildID: "1", Request: "x", Title: "elsewhere", Reason: "private"},
	})
	if err != nil {
		t.Fatal(err)
	}

	skips, err := GetRecentResolveSkips(ctx, guild, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(skips) != 2 {
		t.Fatalf("got %d skips, want 2", len(skips))
	}
	if skips[0].Title != "second" || skips[1].Title != "first" {
		t.Errorf("skips not newest first: %q, %q", skips[0].Title, skips[1].Title)
	}

	limited, _ := GetRecentResolveSkips(ctx, guild, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}
