package model

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// 入力値の上限
const (
	MaxCollectionNameLength        = 100
	MaxCollectionDescriptionLength = 500
	MaxItemTitleLength             = 200
	MaxItemDescriptionLength       = 1000
	MaxItemNotesLength             = 1000
	MaxImageURLLength              = 2048
)

// RequiredText は前後の空白を除去した必須文字列を検証して返す。
func RequiredText(field, value string, max int) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", NewValidationError(field, "必須項目です。")
	}
	if utf8.RuneCountInString(v) > max {
		return "", NewValidationError(field, fmt.Sprintf("%d文字以内で指定してください。", max))
	}
	return v, nil
}

// OptionalText は任意の文字列を前後の空白を除去して検証する。
// nilと空白のみの文字列はいずれも「値なし」としてnilを返す。
func OptionalText(field string, value *string, max int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(v) > max {
		return nil, NewValidationError(field, fmt.Sprintf("%d文字以内で指定してください。", max))
	}
	return &v, nil
}

// OptionalImageURL は画像URLを検証する。http/httpsの絶対URLのみ許可する。
func OptionalImageURL(field string, value *string) (*string, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*value)
	if len(v) > MaxImageURLLength {
		return nil, NewValidationError(field, fmt.Sprintf("%d文字以内で指定してください。", MaxImageURLLength))
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewValidationError(field, "http:// または https:// で始まるURLを指定してください。")
	}
	return &v, nil
}

// ParseCategory はカテゴリ文字列を検証する。
func ParseCategory(value string) (Category, error) {
	c := Category(strings.TrimSpace(value))
	if c == "" {
		return "", NewValidationError("category", "必須項目です。")
	}
	if !c.Valid() {
		return "", NewValidationError("category", fmt.Sprintf("無効なカテゴリです: %s", value))
	}
	return c, nil
}

// ParseItemStatus は状態文字列を検証する。空文字列はownedとして扱う。
func ParseItemStatus(value string) (ItemStatus, error) {
	s := ItemStatus(strings.TrimSpace(value))
	if s == "" {
		return ItemStatusOwned, nil
	}
	if !s.Valid() {
		return "", NewValidationError("status", fmt.Sprintf("無効な状態です: %s", value))
	}
	return s, nil
}
