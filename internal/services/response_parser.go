// internal/services/response_parser.go
package services

import (
	"strings"
	"unicode/utf8"

	"github.com/Corphon/RoleRealm/internal/models"
)

// ParsedSegment 解析出的一段子事件
type ParsedSegment struct {
	Kind    models.EventKind
	Payload string
}

// MarkupParser 将模型原始回复拆分为动作和对白
type MarkupParser struct {
	ActionOpen  string
	ActionClose string
}

// NewMarkupParser 创建解析器；分隔符为空时使用 "*"
func NewMarkupParser(open, close string) *MarkupParser {
	if open == "" {
		open = "*"
	}
	if close == "" {
		close = open
	}
	return &MarkupParser{ActionOpen: open, ActionClose: close}
}

// Parse 按出现顺序返回 action/message 段；结果为空表示放弃发言
func (p *MarkupParser) Parse(raw string, speakerNames []string) []ParsedSegment {
	text := stripSpeakerLabel(strings.TrimSpace(raw), speakerNames)
	segments := make([]ParsedSegment, 0, 2)

	add := func(kind models.EventKind, payload string) {
		payload = strings.TrimSpace(payload)
		if kind == models.EventMessage {
			payload = trimQuotes(payload)
		}
		if payload == "" {
			return
		}
		segments = append(segments, ParsedSegment{Kind: kind, Payload: payload})
	}

	for text != "" {
		open := strings.Index(text, p.ActionOpen)
		if open < 0 {
			add(models.EventMessage, text)
			break
		}
		rest := text[open+len(p.ActionOpen):]
		end := strings.Index(rest, p.ActionClose)
		if end < 0 {
			// 未闭合的分隔符按对白处理
			add(models.EventMessage, text)
			break
		}
		add(models.EventMessage, text[:open])
		add(models.EventAction, rest[:end])
		text = rest[end+len(p.ActionClose):]
	}
	return segments
}

// stripSpeakerLabel 去掉模型常加的 "Name:" 前缀
func stripSpeakerLabel(text string, names []string) string {
	colon := strings.IndexAny(text, ":：")
	if colon <= 0 || colon > 64 {
		return text
	}
	label := strings.Trim(strings.TrimSpace(text[:colon]), "*_")
	for _, name := range names {
		if strings.EqualFold(label, strings.TrimSpace(name)) {
			_, size := utf8.DecodeRuneInString(text[colon:])
			return strings.TrimSpace(text[colon+size:])
		}
	}
	return text
}

func trimQuotes(s string) string {
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			inner := s[len(pair[0]) : len(s)-len(pair[1])]
			if !strings.Contains(inner, pair[0]) {
				return strings.TrimSpace(inner)
			}
		}
	}
	return s
}
