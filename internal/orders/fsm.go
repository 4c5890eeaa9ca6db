package orders

import "github.com/angelmondragon/cantora-backend/pkg/enums"

var transitions = map[enums.OrderStatus]map[enums.OrderStatus]struct{}{
	enums.OrderStatusDraft: {
		enums.OrderStatusAwaitingPayment: {},
		enums.OrderStatusPaid:            {},
		enums.OrderStatusLyricsPending:   {},
		enums.OrderStatusCancelled:       {},
	},
	enums.OrderStatusAwaitingPayment: {
		enums.OrderStatusPaid:          {},
		enums.OrderStatusLyricsPending: {},
		enums.OrderStatusCancelled:     {},
	},
	enums.OrderStatusPaid: {
		enums.OrderStatusBriefingComplete: {},
		enums.OrderStatusLyricsPending:    {},
		enums.OrderStatusLyricsApproved:   {},
		enums.OrderStatusCancelled:        {},
	},
	enums.OrderStatusBriefingComplete: {
		enums.OrderStatusLyricsPending:  {},
		enums.OrderStatusLyricsApproved: {},
		enums.OrderStatusCancelled:      {},
	},
	enums.OrderStatusLyricsPending: {
		enums.OrderStatusLyricsGenerated: {},
		enums.OrderStatusLyricsApproved:  {},
		enums.OrderStatusCancelled:       {},
	},
	enums.OrderStatusLyricsGenerated: {
		enums.OrderStatusLyricsApproved: {},
		enums.OrderStatusCancelled:      {},
	},
	enums.OrderStatusLyricsApproved: {
		enums.OrderStatusMusicGenerating: {},
		enums.OrderStatusCancelled:       {},
	},
	enums.OrderStatusMusicGenerating: {
		enums.OrderStatusMusicReady: {},
		enums.OrderStatusCancelled:  {},
	},
	enums.OrderStatusMusicReady: {
		enums.OrderStatusCompleted: {},
		enums.OrderStatusCancelled: {},
	},
}

// Statuses an order may be approved from.
var preApprovalStatuses = []enums.OrderStatus{
	enums.OrderStatusLyricsGenerated,
	enums.OrderStatusPaid,
	enums.OrderStatusLyricsPending,
	enums.OrderStatusBriefingComplete,
}

// Statuses at or past lyric approval.
var approvedStatuses = []enums.OrderStatus{
	enums.OrderStatusLyricsApproved,
	enums.OrderStatusMusicGenerating,
	enums.OrderStatusMusicReady,
	enums.OrderStatusCompleted,
}

// Statuses that may enter LYRICS_PENDING.
var lyricsEntryStatuses = []enums.OrderStatus{
	enums.OrderStatusDraft,
	enums.OrderStatusAwaitingPayment,
	enums.OrderStatusPaid,
	enums.OrderStatusBriefingComplete,
	enums.OrderStatusLyricsPending,
}

// Statuses where a missing lyric means generation never landed.
var stuckStatuses = []enums.OrderStatus{
	enums.OrderStatusPaid,
	enums.OrderStatusLyricsPending,
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to enums.OrderStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func contains(set []enums.OrderStatus, status enums.OrderStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}

// IsRetryable reports whether recovery may re-run generation for the status.
func IsRetryable(status enums.OrderStatus) bool {
	return contains(stuckStatuses, status)
}
