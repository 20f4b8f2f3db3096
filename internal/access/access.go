// Package access はコレクションとアイテムに対する認可判定を提供する。
// 呼び出し元は常に引数として明示的に渡され、暗黙のグローバル状態は参照しない。
package access

import "github.com/hitoshi/shelfman/internal/model"

// Decision は認可判定の結果を表す。
type Decision int

const (
	// Deny はアクセスを拒否する。
	Deny Decision = iota
	// AllowRead は読み取りのみ許可する。
	AllowRead
	// AllowWrite は読み取りと書き込みを許可する。
	AllowWrite
)

func (d Decision) String() string {
	switch d {
	case AllowRead:
		return "ALLOW_READ"
	case AllowWrite:
		return "ALLOW_WRITE"
	default:
		return "DENY"
	}
}

// Op は要求される操作の種類を表す。
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// Resource は判定対象のリソースを表す。
// アイテムの場合は親コレクションの所有者と公開フラグを設定する。
type Resource struct {
	Kind    string // "collection" または "item"
	ID      string
	OwnerID string
	Public  bool
}

// ForCollection はコレクションを判定対象とするResourceを生成する。
func ForCollection(c *model.Collection) Resource {
	return Resource{Kind: "collection", ID: c.ID, OwnerID: c.UserID, Public: c.IsPublic}
}

// ForItem はアイテムを判定対象とするResourceを生成する。
// アイテム単位の公開設定はなく、親コレクションの規則に従う。
func ForItem(itemID string, parent *model.Collection) Resource {
	return Resource{Kind: "item", ID: itemID, OwnerID: parent.UserID, Public: parent.IsPublic}
}

// Decide は呼び出し元とリソースから認可判定を行う。
//   - 呼び出し元なし: 常にDeny
//   - 所有者: AllowWrite
//   - 所有者以外の読み取り: 公開コレクションのみAllowRead
//   - 所有者以外の書き込み: Deny
func Decide(caller model.Caller, res Resource, op Op) Decision {
	if !caller.Authenticated() {
		return Deny
	}
	if caller.UserID == res.OwnerID {
		return AllowWrite
	}
	if op == OpRead && res.Public {
		return AllowRead
	}
	return Deny
}

// Check はDecideの結果をエラーに変換する。
// 読み取りの拒否は存在を漏らさないためNotFound、書き込みの拒否はForbidden、
// 呼び出し元がない場合はUnauthenticatedとなる。
func Check(caller model.Caller, res Resource, op Op) error {
	if !caller.Authenticated() {
		return model.NewUnauthenticatedError()
	}
	if Decide(caller, res, op) != Deny {
		return nil
	}
	if op == OpRead {
		return model.NewNotFoundError(resourceLabel(res.Kind), res.ID)
	}
	return model.NewForbiddenError(resourceLabel(res.Kind))
}

// RequireCaller は呼び出し元が認証済みであることを確認する。
func RequireCaller(caller model.Caller) error {
	if !caller.Authenticated() {
		return model.NewUnauthenticatedError()
	}
	return nil
}

func resourceLabel(kind string) string {
	switch kind {
	case "item":
		return "アイテム"
	default:
		return "コレクション"
	}
}
