package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrDuplicateIdentity は同じ (provider, provider_user_id) のidentityが既に存在することを示す。
// 初回アクセスが並行した場合に発生し、呼び出し側は再読み込みで解決する。
var ErrDuplicateIdentity = errors.New("identity already exists")

// PostgreSQLのエラーコード
const (
	pqUniqueViolation    = "23505"
	pqInvalidTextPresent = "22P02"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// isUniqueViolation は一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

// isInvalidUUID はUUID列に不正な文字列を渡した場合のエラーかどうかを返す。
func isInvalidUUID(err error) bool {
	return pqCode(err) == pqInvalidTextPresent
}

// nullableString は*stringをNULL許容の文字列に変換する。
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr はNULL許容の文字列を*stringに変換する。
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// setClause はUPDATE文のSET句を組み立てる。
// プレースホルダ番号はWHERE句の引数の後ろから採番する。
type setClause struct {
	parts []string
	args  []any
}

func newSetClause(whereArgs ...any) *setClause {
	return &setClause{args: whereArgs}
}

// add は "column = $n" を追加する。
func (s *setClause) add(column string, value any) {
	s.addExpr(column, "%s", value)
}

// addExpr は "column = <expr>" を追加する。exprの%sはプレースホルダに置き換える。
func (s *setClause) addExpr(column, expr string, value any) {
	s.args = append(s.args, value)
	placeholder := fmt.Sprintf("$%d", len(s.args))
	s.parts = append(s.parts, column+" = "+fmt.Sprintf(expr, placeholder))
}

func (s *setClause) String() string {
	return strings.Join(s.parts, ", ")
}
