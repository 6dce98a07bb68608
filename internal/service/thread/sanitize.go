package thread

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

var textPolicy = bluemonday.StrictPolicy()

// CleanText: результат подготовки текста сообщения.
type CleanText struct {
	Text string
	// Stripped: из текста покупателя удалены CJK/Hangul символы; покупателю показывается предупреждение.
	Stripped bool
}

// Sanitize приводит текст к NFKC, снимает разметку и для покупателя оставляет только не-CJK символы.
// Полноширинная латиница после NFKC становится обычной и фильтром не удаляется.
func Sanitize(sender domain.Sender, raw string) CleanText {
	text := norm.NFKC.String(raw)

	var stripped bool
	if sender == domain.SenderUser {
		text = strings.Map(func(r rune) rune {
			if isCJK(r) {
				stripped = true
				return -1
			}
			return r
		}, text)
	}

	// StrictPolicy экранирует сущности, а храним мы plain text.
	text = html.UnescapeString(textPolicy.Sanitize(text))
	return CleanText{Text: strings.TrimSpace(text), Stripped: stripped}
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hangul, unicode.Hiragana, unicode.Katakana, unicode.Bopomofo)
}
