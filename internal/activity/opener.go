package activity

import "net/url"

// OpenerKind says how a tab instance was most likely opened.
type OpenerKind string

const (
	OpenedNewWindow          OpenerKind = "new_window"
	OpenedDuplicate          OpenerKind = "duplicate"
	OpenedInternalNavigation OpenerKind = "internal_navigation"
	OpenedExternalLink       OpenerKind = "external_link"
	OpenedBookmarkOrHistory  OpenerKind = "bookmark_history"
	OpenedDirect             OpenerKind = "direct"
)

// Hints are the page-load facts the guess is based on.
type Hints struct {
	HasOpener     bool   `json:"hasOpener"`
	IsDuplicate   bool   `json:"isDuplicate"`
	Referrer      string `json:"referrer"`
	URL           string `json:"url"`
	HistoryLength int    `json:"historyLength"`
}

// Opener is the outcome of DetectOpener.
type Opener struct {
	Kind           OpenerKind `json:"kind"`
	ReferrerDomain string     `json:"referrerDomain,omitempty"`
}

// DetectOpener applies the checks in priority order: an opener handle, a
// duplicate verdict, a referrer (same host or not), browser history, and
// finally direct entry.
func DetectOpener(h Hints) Opener {
	switch {
	case h.HasOpener:
		return Opener{Kind: OpenedNewWindow}
	case h.IsDuplicate:
		return Opener{Kind: OpenedDuplicate}
	case h.Referrer != "":
		ref := hostname(h.Referrer)
		if ref == hostname(h.URL) {
			return Opener{Kind: OpenedInternalNavigation, ReferrerDomain: ref}
		}
		return Opener{Kind: OpenedExternalLink, ReferrerDomain: ref}
	case h.HistoryLength > 1:
		return Opener{Kind: OpenedBookmarkOrHistory}
	default:
		return Opener{Kind: OpenedDirect}
	}
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
