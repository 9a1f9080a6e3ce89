package proc

import (
	"context"
	"testing"
)

func TestPickPresence(t *testing.T) {
	fixed := func(s string) presenceLine {
		return func(context.Context) string { return s }
	}
	ctx := context.Background()

	lines := []presenceLine{fixed("a"), fixed(""), fixed("b")}
	for range 20 {
		if got := pickPresence(ctx, lines, "a"); got != "b" {
			t.Fatalf("pickPresence() = %q, want b", got)
		}
	}

	if got := pickPresence(ctx, []presenceLine{fixed("a")}, "a"); got != "a" {
		t.Errorf("only option: got %q, want a", got)
	}
	if got := pickPresence(ctx, []presenceLine{fixed("")}, ""); got != "/music play" {
		t.Errorf("nothing to show: got %q", got)
	}
}
