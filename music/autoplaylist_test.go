package music

import (
	"os"
	"strings"
	"testing"
)

func TestAutoplaylistIgnoresComments(t *testing.T) {
	path := writeAutoplaylist(t,
		"# favourites",
		"",
		"https://example.com/a",
		"   ",
		"#https://example.com/hidden",
		"https://example.com/b",
		"https://example.com/a",
	)
	a := LoadAutoplaylist(path, false, discardLogger())

	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}
	if a.Contains("https://example.com/hidden") {
		t.Error("commented entry was loaded")
	}
	for range 20 {
		tr, ok := a.PickFallback()
		if !ok {
			t.Fatal("PickFallback() found nothing")
		}
		if tr.Locator != "https://example.com/a" && tr.Locator != "https://example.com/b" {
			t.Fatalf("unexpected pick %q", tr.Locator)
		}
	}
}

func TestAutoplaylistEmptyOrMissing(t *testing.T) {
	for name, path := range map[string]string{
		"missing": t.TempDir() + "/nope.txt",
		"empty":   writeAutoplaylist(t, "# nothing here"),
		"unset":   "",
	} {
		t.Run(name, func(t *testing.T) {
			a := LoadAutoplaylist(path, false, discardLogger())
			if _, ok := a.PickFallback(); ok {
				t.Error("PickFallback() on empty pool returned a track")
			}
		})
	}
}

func TestAutoplaylistRemovePrunes(t *testing.T) {
	path := writeAutoplaylist(t, "https://example.com/a", "https://example.com/b")
	a := LoadAutoplaylist(path, true, discardLogger())

	if !a.Remove("https://example.com/a", "video unavailable") {
		t.Fatal("Remove() = false")
	}
	if a.Remove("https://example.com/a", "again") {
		t.Error("second Remove() should report false")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), removedPrefix+"https://example.com/a") {
		t.Errorf("file not pruned:\n%s", data)
	}
	log, err := os.ReadFile(path + ".removed.log")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "video unavailable") {
		t.Errorf("removal log missing reason:\n%s", log)
	}

	if n := a.Reload(); n != 1 {
		t.Errorf("Reload() = %d, want 1", n)
	}
}

func TestAutoplaylistRemoveWithoutPrune(t *testing.T) {
	path := writeAutoplaylist(t, "https://example.com/a")
	a := LoadAutoplaylist(path, false, discardLogger())
	a.Remove("https://example.com/a", "gone")

	if a.Len() != 0 {
		t.Errorf("Len() = %d, want 0", a.Len())
	}
	if n := a.Reload(); n != 1 {
		t.Errorf("file should be untouched, Reload() = %d", n)
	}
}

func TestAutoplaylistAdd(t *testing.T) {
	path := writeAutoplaylist(t, "https://example.com/a")
	a := LoadAutoplaylist(path, false, discardLogger())

	added, err := a.Add("https://example.com/b")
	if err != nil || !added {
		t.Fatalf("Add() = %v, %v", added, err)
	}
	if added, _ := a.Add("https://example.com/b"); added {
		t.Error("duplicate Add() reported true")
	}
	if n := LoadAutoplaylist(path, false, discardLogger()).Len(); n != 2 {
		t.Errorf("file has %d entries, want 2", n)
	}
}
