package model

import "time"

// Category はコレクションのカテゴリを表す。
type Category string

const (
	CategoryBoardGames   Category = "board-games"
	CategoryVideoGames   Category = "video-games"
	CategoryBooks        Category = "books"
	CategoryMovies       Category = "movies"
	CategoryTVShows      Category = "tv-shows"
	CategoryMusic        Category = "music"
	CategoryComics       Category = "comics"
	CategoryCollectibles Category = "collectibles"
	CategoryOther        Category = "other"
)

// categoryLabels は表示順を保ったカテゴリとラベルの対応。
var categoryLabels = []struct {
	Category Category
	Label    string
}{
	{CategoryBoardGames, "Board Games"},
	{CategoryVideoGames, "Video Games"},
	{CategoryBooks, "Books"},
	{CategoryMovies, "Movies"},
	{CategoryTVShows, "TV Shows"},
	{CategoryMusic, "Music"},
	{CategoryComics, "Comics"},
	{CategoryCollectibles, "Collectibles"},
	{CategoryOther, "Other"},
}

// Valid はカテゴリが定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	for _, cl := range categoryLabels {
		if cl.Category == c {
			return true
		}
	}
	return false
}

// Label はカテゴリの表示名を返す。未定義の場合は値をそのまま返す。
func (c Category) Label() string {
	for _, cl := range categoryLabels {
		if cl.Category == c {
			return cl.Label
		}
	}
	return string(c)
}

// Categories は定義済みの全カテゴリを表示順で返す。
func Categories() []Category {
	out := make([]Category, len(categoryLabels))
	for i, cl := range categoryLabels {
		out[i] = cl.Category
	}
	return out
}

// Collection はユーザーが所有するアイテムのまとまりを表す。
// 所有者（UserID）は作成時に決まり、以後変更されない。
type Collection struct {
	ID          string
	UserID      string
	Name        string
	Category    Category
	Description *string
	IsPublic    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
