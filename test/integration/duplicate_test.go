//go:build integration

package integration

import (
	"testing"

	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
)

const pageURL = "https://example.com/dashboard"

func TestSameURLInstancesSeeEachOther(t *testing.T) {
	env := newEnv(t)
	a := env.open(t, pageURL)
	b := env.open(t, pageURL)

	// B finds A in storage; A hears B's announcement.
	b.waitVerdict(t, true)
	a.waitVerdict(t, true)

	if got := b.Det.ActiveTabsInfo().SameURL; got != 1 {
		t.Fatalf("SameURL = %d; want 1", got)
	}
	if entries := b.Events.Entries(eventlog.TypeDetection, 0); len(entries) == 0 {
		t.Fatalf("no detection entries logged for the duplicate")
	}
}

func TestDifferentURLsStayOriginal(t *testing.T) {
	env := newEnv(t)
	a := env.open(t, pageURL)
	b := env.open(t, pageURL+"?tab=2")

	a.waitVerdict(t, false)
	b.waitVerdict(t, false)
	if got := a.Det.TabInfo().TabCount; got != 2 {
		t.Fatalf("TabCount = %d; want 2", got)
	}
}

func TestClosingOriginalPromotesSurvivor(t *testing.T) {
	env := newEnv(t)
	a := env.open(t, pageURL)
	c := env.open(t, pageURL)
	c.waitVerdict(t, true)
	a.waitVerdict(t, true)

	a.Det.Close()
	c.waitVerdict(t, false)

	info := c.Det.ActiveTabsInfo()
	if info.Total != 1 || info.SameURL != 0 {
		t.Fatalf("ActiveTabsInfo() = total %d same %d; want 1/0", info.Total, info.SameURL)
	}
}

func TestNavigatingAwayClearsDuplicate(t *testing.T) {
	env := newEnv(t)
	a := env.open(t, pageURL)
	b := env.open(t, pageURL)
	b.waitVerdict(t, true)
	a.waitVerdict(t, true)

	b.Det.SetURL(pageURL + "/settings")
	b.waitVerdict(t, false)
	a.waitVerdict(t, false)
}
