package types

import "time"

// TabRecord is the presence record one tab instance keeps in the active tabs index.
// Only the owning instance writes it; any instance may delete it.
type TabRecord struct {
	TabID    string    `json:"tabId"`
	URL      string    `json:"url"`
	OpenedAt time.Time `json:"openedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// ActiveTabsIndex maps tab IDs to their presence records.
type ActiveTabsIndex map[string]TabRecord

// Verdict is the derived duplicate classification of one instance.
type Verdict struct {
	IsDuplicate   bool `json:"isDuplicate"`
	IsOriginalTab bool `json:"isOriginalTab"`
}

// NewVerdict builds a verdict where IsOriginalTab is always the negation of IsDuplicate.
func NewVerdict(duplicate bool) Verdict {
	return Verdict{IsDuplicate: duplicate, IsOriginalTab: !duplicate}
}

// TabState is the scalar fallback record stored under browser_tab_state.
type TabState struct {
	TabID     string `json:"tabId"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	UserAgent string `json:"userAgent,omitempty"`
}

// ActivityRecord is the per-instance record stored under last_activity_<tabId>.
type ActivityRecord struct {
	TabID      string `json:"tabId"`
	LastActive int64  `json:"lastActive"` // unix milliseconds
	URL        string `json:"url"`
}

// TabInfo is the snapshot handed to the presentation layer.
type TabInfo struct {
	TabID           string           `json:"tabId"`
	URL             string           `json:"url"`
	IsDuplicate     bool             `json:"isDuplicate"`
	IsOriginalTab   bool             `json:"isOriginalTab"`
	TabCount        int              `json:"tabCount"`
	SessionID       string           `json:"sessionId"`
	ActiveInstances int              `json:"activeInstances"`
	Instances       []ActivityRecord `json:"instances"`
}

// ActiveTabsInfo summarizes index records that are still inside the active window.
type ActiveTabsInfo struct {
	Total     int         `json:"total"`
	SameURL   int         `json:"sameUrl"`
	Tabs      []TabRecord `json:"tabs"`
	CheckedAt time.Time   `json:"checkedAt"`
}
