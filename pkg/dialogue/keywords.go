package dialogue

import "strings"

// Keyword maps a spoken phrase to the response asset played when it is
// heard.
type Keyword struct {
	Phrase   string `yaml:"keyword" json:"keyword"`
	Response string `yaml:"response" json:"response"`
}

// KeywordTable is an ordered keyword list. The first phrase contained in an
// utterance wins, so overlapping phrases resolve by position.
type KeywordTable []Keyword

// DefaultKeywords returns the kiosk's stock table.
func DefaultKeywords() KeywordTable {
	return KeywordTable{
		{Phrase: "水", Response: "watter.mp3"},
		{Phrase: "矿泉水", Response: "watter.mp3"},
		{Phrase: "可乐", Response: "kele.mp3"},
		{Phrase: "芬达", Response: "fenda.mp3"},
		{Phrase: "饼干", Response: "bingan.mp3"},
		{Phrase: "雪碧", Response: "xuebi.mp3"},
		{Phrase: "薯片", Response: "shupian.mp3"},
		{Phrase: "乐事", Response: "leshi.mp3"},
		{Phrase: "乐事薯片", Response: "leshi.mp3"},
		{Phrase: "曲奇", Response: "quqi.mp3"},
		{Phrase: "洗手液", Response: "xishouye.mp3"},
		{Phrase: "洗洁精", Response: "xijiejing.mp3"},
		{Phrase: "洗发水", Response: "xifashui.mp3"},
	}
}

// Match returns the first keyword whose phrase is a substring of text.
func (t KeywordTable) Match(text string) (Keyword, bool) {
	for _, kw := range t {
		if kw.Phrase != "" && strings.Contains(text, kw.Phrase) {
			return kw, true
		}
	}
	return Keyword{}, false
}

// Responses lists the distinct response assets in table order.
func (t KeywordTable) Responses() []string {
	seen := make(map[string]bool, len(t))
	var out []string
	for _, kw := range t {
		if kw.Response == "" || seen[kw.Response] {
			continue
		}
		seen[kw.Response] = true
		out = append(out, kw.Response)
	}
	return out
}
