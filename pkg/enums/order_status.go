package enums

// OrderStatus is the lifecycle position of a music order.
type OrderStatus string

const (
	OrderStatusDraft            OrderStatus = "DRAFT"
	OrderStatusAwaitingPayment  OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaid             OrderStatus = "PAID"
	OrderStatusBriefingComplete OrderStatus = "BRIEFING_COMPLETE"
	OrderStatusLyricsPending    OrderStatus = "LYRICS_PENDING"
	OrderStatusLyricsGenerated  OrderStatus = "LYRICS_GENERATED"
	OrderStatusLyricsApproved   OrderStatus = "LYRICS_APPROVED"
	OrderStatusMusicGenerating  OrderStatus = "MUSIC_GENERATING"
	OrderStatusMusicReady       OrderStatus = "MUSIC_READY"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusAwaitingPayment,
	OrderStatusPaid,
	OrderStatusBriefingComplete,
	OrderStatusLyricsPending,
	OrderStatusLyricsGenerated,
	OrderStatusLyricsApproved,
	OrderStatusMusicGenerating,
	OrderStatusMusicReady,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// orderStatusRank orders the linear lifecycle. BRIEFING_COMPLETE shares PAID's rank
// since both precede lyric generation. CANCELLED sits outside the ranking.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusDraft:            0,
	OrderStatusAwaitingPayment:  1,
	OrderStatusPaid:             2,
	OrderStatusBriefingComplete: 2,
	OrderStatusLyricsPending:    3,
	OrderStatusLyricsGenerated:  4,
	OrderStatusLyricsApproved:   5,
	OrderStatusMusicGenerating:  6,
	OrderStatusMusicReady:       7,
	OrderStatusCompleted:        8,
}

func (s OrderStatus) IsValid() bool {
	return known(validOrderStatuses, s)
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Rank returns the lifecycle position and false for statuses outside the linear flow.
func (s OrderStatus) Rank() (int, bool) {
	rank, ok := orderStatusRank[s]
	return rank, ok
}

// AtOrPast reports whether s has reached target in the linear lifecycle.
func (s OrderStatus) AtOrPast(target OrderStatus) bool {
	current, ok := s.Rank()
	if !ok {
		return false
	}
	want, ok := target.Rank()
	if !ok {
		return false
	}
	return current >= want
}

// ParseOrderStatus is case sensitive.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse("order status", validOrderStatuses, value)
}
