// Package export builds and stores the downloadable JSON snapshot of one tab
// instance: tab info, activity stats and the event log.
package export

import (
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/tab_sentinel/internal/activity"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/pageinfo"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// Snapshot is the flat export document.
type Snapshot struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	URL        string               `json:"url"`
	UserAgent  string               `json:"userAgent"`
	Page       pageinfo.Info        `json:"page"`
	Stats      activity.Stats       `json:"stats"`
	TabInfo    types.TabInfo        `json:"tabInfo"`
	TabStatus  activity.Status      `json:"tabStatus"`
	ActiveTabs types.ActiveTabsInfo `json:"activeTabs"`
	Logs       []eventlog.Entry     `json:"logs"`
}

// Input carries everything a snapshot is assembled from.
type Input struct {
	URL        string
	UserAgent  string
	Stats      activity.Stats
	TabInfo    types.TabInfo
	TabStatus  activity.Status
	ActiveTabs types.ActiveTabsInfo
	Logs       []eventlog.Entry
}

// Build stamps a new snapshot with a random id and now.
func Build(in Input, now time.Time) Snapshot {
	logs := in.Logs
	if logs == nil {
		logs = []eventlog.Entry{}
	}
	return Snapshot{
		ID:         uuid.NewString(),
		Timestamp:  now.UTC(),
		URL:        in.URL,
		UserAgent:  in.UserAgent,
		Page:       pageinfo.Describe(in.UserAgent, in.URL),
		Stats:      in.Stats,
		TabInfo:    in.TabInfo,
		TabStatus:  in.TabStatus,
		ActiveTabs: in.ActiveTabs,
		Logs:       logs,
	}
}

// Filename is the suggested download name for a snapshot taken at t.
func Filename(t time.Time) string {
	return "tab-stats-" + t.UTC().Format("2006-01-02") + ".json"
}
