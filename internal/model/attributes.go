package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// 属性バッグの上限値
const (
	MaxAttributeKeys        = 50
	MaxAttributeKeyLength   = 64
	MaxAttributeValueLength = 500
)

// ErrMalformedAttributes は属性バッグが文字列→文字列のJSONオブジェクトとして解釈できないことを示す。
var ErrMalformedAttributes = errors.New("attributes must be a flat JSON object of strings")

// Attributes はアイテムのカテゴリ固有属性（出版社、プレイ人数など）を保持する。
// nilは「属性なし」、非nilは1件以上のキーを持つマッピングを表す。
type Attributes map[string]string

// ParseAttributes はクライアントから受け取ったJSONを属性バッグに変換する。
// 空入力とnullは属性なし（nil, nil）として扱う。
// JSON文字列の中にオブジェクトが埋め込まれている形式（フォームのテキストエリア由来）も受け付ける。
// 空のキーや値は取り除かれ、結果が空になった場合もnilを返す。
func ParseAttributes(raw json.RawMessage) (Attributes, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAttributes, err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAttributes, err)
	}
	if m == nil {
		return nil, nil
	}
	return normalizeAttributes(m), nil
}

func normalizeAttributes(m map[string]string) Attributes {
	out := make(Attributes, len(m))
	for k, v := range m {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate は属性バッグのサイズ上限を検証する。
// 形式が正しくても上限を超える場合はValidationErrorを返す。
func (a Attributes) Validate() error {
	if len(a) > MaxAttributeKeys {
		return NewValidationError("attributes", fmt.Sprintf("属性は%d件以内で指定してください。", MaxAttributeKeys))
	}
	for _, k := range a.Keys() {
		if utf8.RuneCountInString(k) > MaxAttributeKeyLength {
			return NewValidationError("attributes", fmt.Sprintf("属性名は%d文字以内で指定してください: %s", MaxAttributeKeyLength, k))
		}
		if utf8.RuneCountInString(a[k]) > MaxAttributeValueLength {
			return NewValidationError("attributes", fmt.Sprintf("属性値は%d文字以内で指定してください: %s", MaxAttributeValueLength, k))
		}
	}
	return nil
}

// Keys はキーを辞書順で返す。
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value はdriver.Valuerを実装する。属性なしはNULLとして保存する。
// JSONBカラムに渡すため、[]byteではなく文字列で返す。
func (a Attributes) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(a))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return string(b), nil
}

// Scan はsql.Scannerを実装する。
func (a *Attributes) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported attributes column type %T", src)
	}

	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	if len(m) == 0 {
		*a = nil
		return nil
	}
	*a = Attributes(m)
	return nil
}
