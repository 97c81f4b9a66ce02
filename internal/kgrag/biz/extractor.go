package biz

import (
	"regexp"
	"sort"
)

var capitalizedPattern = regexp.MustCompile(`[A-Z][a-zA-Z]*`)

type vocabTerm struct {
	term    string
	pattern *regexp.Regexp
}

// EntityExtractor 从查询文本中提取候选实体名：
// 首字母大写的词，以及大小写不敏感匹配的领域词表。
type EntityExtractor struct {
	vocabulary []vocabTerm
}

// NewEntityExtractor 使用给定词表创建提取器，词表项按原样输出。
func NewEntityExtractor(vocabulary []string) *EntityExtractor {
	e := &EntityExtractor{}
	for _, term := range vocabulary {
		if term == "" {
			continue
		}
		e.vocabulary = append(e.vocabulary, vocabTerm{
			term:    term,
			pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term)),
		})
	}
	return e
}

type mention struct {
	pos  int
	text string
}

// Extract 返回按首次出现位置排序、去重后的候选实体名。
func (e *EntityExtractor) Extract(query string) []string {
	var found []mention
	for _, loc := range capitalizedPattern.FindAllStringIndex(query, -1) {
		found = append(found, mention{pos: loc[0], text: query[loc[0]:loc[1]]})
	}
	for _, v := range e.vocabulary {
		if loc := v.pattern.FindStringIndex(query); loc != nil {
			found = append(found, mention{pos: loc[0], text: v.term})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, m := range found {
		if _, ok := seen[m.text]; ok {
			continue
		}
		seen[m.text] = struct{}{}
		out = append(out, m.text)
	}
	return out
}
