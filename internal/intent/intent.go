// Package intent はOAuthリダイレクトをまたいで持ち越されるアクションインテントの
// エンコード・デコードを提供する。
//
// インテントはIdPのstateパラメータに載せて往復する。stateはログに記録されたり、
// 長さ制限や大文字小文字の変換を受けたり、丸ごと欠落する可能性のある
// 信頼できないチャネルであるため、デコードは常にグレースフルに失敗する。
// デコード失敗は「保留中のインテントなし」として扱われ、エラーとして
// この境界の外へ伝播することはない。
package intent

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Action は再開時に再生される1つの操作を表す。
type Action struct {
	Fn   string   `json:"fn"`
	Args []string `json:"args"`
}

// Intent は外部リダイレクト1往復の間だけ存在する一時的な値。
// サーバー側には永続化されず、エンコードされたトークンだけがIdPを経由して運ばれる。
type Intent struct {
	RedirectURL        string   `json:"redirectUrl"`
	RedirectOnErrorURL string   `json:"redirectOnErrorUrl"`
	Actions            []Action `json:"actions,omitempty"`
}

// Encode はインテントをURL-safeなトークンへエンコードする。
// 構文的に正しいインテントは必ずDecodeで同値に復元できる（決定的な往復）。
func Encode(in Intent) string {
	// 構造体のMarshalはフィールド順が固定のため決定的
	b, err := json.Marshal(in)
	if err != nil {
		// Intentは文字列のみで構成されるためここには到達しない
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode はトークンからインテントを復元する。
// 2番目の戻り値がfalseの場合は保留中のインテントなしを意味し、
// 呼び出し側はデフォルトのリダイレクト先へフォールバックする。
//
// 許容する入力:
//   - base64url（パディングあり・なし）でエンコードされたJSON
//   - 生のJSON（旧クライアントとの互換）
//
// IdP経由で到着するキーはsnake_caseに変換されていることがあるため、
// フィールド抽出の前にキーをcamelCaseへ正規化する。
func Decode(token string) (Intent, bool) {
	if token == "" {
		return Intent{}, false
	}

	raw, ok := decodeToJSON(token)
	if !ok {
		return Intent{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Intent{}, false
	}

	normalized := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		normalized[camelize(k)] = v
	}

	var in Intent
	if !extractString(normalized["redirectUrl"], &in.RedirectURL) {
		return Intent{}, false
	}
	if !extractString(normalized["redirectOnErrorUrl"], &in.RedirectOnErrorURL) {
		return Intent{}, false
	}
	actions, ok := extractActions(normalized["actions"])
	if !ok {
		return Intent{}, false
	}
	in.Actions = actions

	return in, true
}

// decodeToJSON はトークンをJSONバイト列へ復元する。
func decodeToJSON(token string) ([]byte, bool) {
	if b, err := base64.RawURLEncoding.DecodeString(token); err == nil && looksLikeJSONObject(b) {
		return b, true
	}
	if b, err := base64.URLEncoding.DecodeString(token); err == nil && looksLikeJSONObject(b) {
		return b, true
	}
	if b := []byte(token); looksLikeJSONObject(b) {
		return b, true
	}
	return nil, false
}

// looksLikeJSONObject はバイト列がJSONオブジェクトとして始まるかどうかを返す。
func looksLikeJSONObject(b []byte) bool {
	trimmed := strings.TrimLeft(string(b), " \t\r\n")
	return strings.HasPrefix(trimmed, "{")
}

// extractString はJSON値を文字列として取り出す。
// 値が存在しない場合は空文字列で成功、文字列以外の型は失敗とする。
func extractString(raw json.RawMessage, dst *string) bool {
	if raw == nil {
		*dst = ""
		return true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	*dst = s
	return true
}

// extractActions はactionsフィールドを取り出す。
// 各要素のキーも正規化し、argsのプリミティブ値は文字列に揃える。
func extractActions(raw json.RawMessage) ([]Action, bool) {
	if raw == nil {
		return nil, true
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}

	actions := make([]Action, 0, len(items))
	for _, item := range items {
		normalized := make(map[string]json.RawMessage, len(item))
		for k, v := range item {
			normalized[camelize(k)] = v
		}

		var a Action
		if !extractString(normalized["fn"], &a.Fn) {
			return nil, false
		}

		if rawArgs := normalized["args"]; rawArgs != nil {
			var values []any
			if err := json.Unmarshal(rawArgs, &values); err != nil {
				return nil, false
			}
			for _, v := range values {
				s, ok := primitiveToString(v)
				if !ok {
					return nil, false
				}
				a.Args = append(a.Args, s)
			}
		}

		actions = append(actions, a)
	}

	if len(actions) == 0 {
		return nil, true
	}
	return actions, true
}

// primitiveToString はargsのプリミティブ値を文字列表現へ揃える。
// オブジェクトや配列はプリミティブではないため失敗とする。
func primitiveToString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// camelize はsnake_caseのキーをcamelCaseへ正規化する。
// 既にcamelCaseのキーはそのまま返す。
func camelize(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() == 0 && i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
