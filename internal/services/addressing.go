// internal/services/addressing.go
package services

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// AddressingConfig 点名语法配置
type AddressingConfig struct {
	MentionPrefix   string   // 点名前缀，例如 "@"
	DirectorAliases []string // 导演的别名，与前缀组合后触发导演
	MatchPlainNames bool     // 是否将不带前缀的角色名视为点名
}

// DefaultAddressingConfig 默认点名语法
func DefaultAddressingConfig() AddressingConfig {
	return AddressingConfig{
		MentionPrefix:   "@",
		DirectorAliases: []string{"director", "dm", "narrator"},
		MatchPlainNames: true,
	}
}

// Addressing 一条人类消息的点名解析结果
type Addressing struct {
	DirectorTriggered bool
	Addressed         []string // 按首次提及顺序的角色ID
}

// Addresser 基于注册表和配置解析点名
type Addresser struct {
	cfg            AddressingConfig
	registry       *CharacterRegistry
	directorNames  []string        // 小写
	directorPerson string          // 担任导演的角色ID，不参与角色点名
	names          []addressedName // 角色可点名名称
}

type addressedName struct {
	characterID string
	name        string // 小写
}

// NewAddresser 创建点名解析器；directorCharacterID 可为空
func NewAddresser(cfg AddressingConfig, registry *CharacterRegistry, directorCharacterID string) *Addresser {
	a := &Addresser{
		cfg:            cfg,
		registry:       registry,
		directorPerson: directorCharacterID,
	}

	seen := make(map[string]bool)
	addDirector := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		a.directorNames = append(a.directorNames, key)
	}
	for _, alias := range cfg.DirectorAliases {
		addDirector(alias)
	}
	if registry != nil {
		if c, ok := registry.Get(directorCharacterID); ok {
			for _, n := range c.Names() {
				addDirector(n)
			}
		}
		for _, c := range registry.All() {
			if c.ID == directorCharacterID {
				continue
			}
			for _, n := range c.Names() {
				a.names = append(a.names, addressedName{characterID: c.ID, name: strings.ToLower(n)})
			}
		}
	}
	return a
}

// DirectorNames 返回触发导演的名称（小写）
func (a *Addresser) DirectorNames() []string {
	return append([]string(nil), a.directorNames...)
}

// TriggersDirector 文本中是否含有 前缀+导演名称
func (a *Addresser) TriggersDirector(text string) bool {
	lower := strings.ToLower(text)
	prefix := strings.ToLower(a.cfg.MentionPrefix)
	for _, name := range a.directorNames {
		if indexWord(lower, prefix+name) >= 0 {
			return true
		}
	}
	return false
}

// Parse 解析导演触发和被点名的角色
func (a *Addresser) Parse(text string) Addressing {
	if a.TriggersDirector(text) {
		return Addressing{DirectorTriggered: true}
	}

	lower := strings.ToLower(text)
	prefix := strings.ToLower(a.cfg.MentionPrefix)
	first := make(map[string]int)
	for _, n := range a.names {
		pos := indexWord(lower, prefix+n.name)
		if a.cfg.MatchPlainNames {
			if plain := indexWord(lower, n.name); plain >= 0 && (pos < 0 || plain < pos) {
				pos = plain
			}
		}
		if pos < 0 {
			continue
		}
		if existing, ok := first[n.characterID]; !ok || pos < existing {
			first[n.characterID] = pos
		}
	}

	ids := make([]string, 0, len(first))
	for id := range first {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if first[ids[i]] == first[ids[j]] {
			return ids[i] < ids[j]
		}
		return first[ids[i]] < first[ids[j]]
	})
	return Addressing{Addressed: ids}
}

// indexWord 返回 needle 在 text 中首次以完整词出现的位置，不存在返回 -1
func indexWord(text, needle string) int {
	if needle == "" {
		return -1
	}
	offset := 0
	for {
		i := strings.Index(text[offset:], needle)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(needle)
		if boundaryBefore(text, start, needle) && boundaryAfter(text, end, needle) {
			return start
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
}

func boundaryBefore(text string, start int, needle string) bool {
	if start == 0 {
		return true
	}
	first, _ := utf8.DecodeRuneInString(needle)
	if !isWordRune(first) {
		// 前缀本身是符号时，只要求前面不是同一符号
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		return prev != first && !isWordRune(prev)
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:start])
	return !isWordRune(prev)
}

func boundaryAfter(text string, end int, needle string) bool {
	if end >= len(text) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(needle)
	next, _ := utf8.DecodeRuneInString(text[end:])
	if !isWordRune(last) {
		return true
	}
	return !isWordRune(next)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// containsWord 忽略大小写的整词匹配
func containsWord(text, word string) bool {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return false
	}
	return indexWord(strings.ToLower(text), word) >= 0
}
