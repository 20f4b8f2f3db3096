package model

import "time"

// ItemStatus はアイテムの所持状態を表す。
// 状態遷移の制約はなく、書き込み権限があればどの値にも変更できる。
type ItemStatus string

const (
	// ItemStatusOwned は所持している状態。未指定時のデフォルト。
	ItemStatusOwned ItemStatus = "owned"
	// ItemStatusWishlist は欲しいものリストに入っている状態。
	ItemStatusWishlist ItemStatus = "wishlist"
	// ItemStatusBorrowed は借りている状態。
	ItemStatusBorrowed ItemStatus = "borrowed"
	// ItemStatusSold は売却済みの状態。
	ItemStatusSold ItemStatus = "sold"
)

var itemStatuses = []ItemStatus{
	ItemStatusOwned,
	ItemStatusWishlist,
	ItemStatusBorrowed,
	ItemStatusSold,
}

// Valid は状態が定義済みの値かどうかを返す。
func (s ItemStatus) Valid() bool {
	for _, st := range itemStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// ItemStatuses は定義済みの全状態を返す。
func ItemStatuses() []ItemStatus {
	out := make([]ItemStatus, len(itemStatuses))
	copy(out, itemStatuses)
	return out
}

// Item はコレクションに属する1件のアイテムを表す。
// 実効的な所有者は親コレクションの所有者であり、コレクション削除時に一緒に削除される。
type Item struct {
	ID           string
	CollectionID string
	Title        string
	Description  *string
	Status       ItemStatus
	Notes        *string
	ImageURL     *string
	Attributes   Attributes // nilは「属性なし」
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
