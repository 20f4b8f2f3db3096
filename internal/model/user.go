// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdPで認証されたユーザーをアプリケーション側にミラーしたもの。
// 初回の認証済みアクセス時に作成され、以後は更新も削除もされない。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// (Provider, ProviderUserID) がIdP側の安定した識別子となる。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Caller はリクエストの呼び出し元を表す。
// ゼロ値は「セッションなし」を意味し、すべての操作が拒否される。
type Caller struct {
	UserID string
	Email  string
	Name   string
}

// Authenticated は呼び出し元が認証済みかどうかを返す。
func (c Caller) Authenticated() bool {
	return c.UserID != ""
}

// CallerFromUser はミラー済みユーザーからCallerを生成する。
func CallerFromUser(u *User) Caller {
	if u == nil {
		return Caller{}
	}
	return Caller{UserID: u.ID, Email: u.Email, Name: u.Name}
}
