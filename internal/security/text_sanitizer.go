package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はサーバーから受け取った表示用文字列（料理名、シェフ名、住所など）から
// HTMLを取り除くインターフェース。
type TextSanitizer interface {
	// Clean はタグをすべて除去し、前後の空白を取り除いたプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す。
	Clean(s string) string
}

// textSanitizer はbluemondayのStrictPolicyを保持する。
// bluemonday.Policyは生成後の並行利用が安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去する。StrictPolicyはエンティティをエスケープするため、
// 表示用に元の文字へ戻す。
func (s *textSanitizer) Clean(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}
