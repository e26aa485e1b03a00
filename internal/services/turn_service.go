// internal/services/turn_service.go
package services

import (
	"sort"

	"github.com/Corphon/RoleRealm/internal/models"
)

// TurnMode 本轮的行动者选择方式
type TurnMode string

const (
	TurnDirector  TurnMode = "director"
	TurnAddressed TurnMode = "addressed"
	TurnRotation  TurnMode = "rotation"
	TurnNone      TurnMode = "none"
)

// TurnInput 回合选择的全部输入
type TurnInput struct {
	Message   models.Event   // 最新的人类消息
	Events    []models.Event // 时间线快照
	Present   []string       // 当前场景在场角色ID
	Addresser *Addresser
	Registry  *CharacterRegistry
	MaxActors int // 未点名回合的行动者上限 K
}

// TurnDecision 回合选择结果
type TurnDecision struct {
	Mode   TurnMode `json:"mode"`
	Actors []string `json:"actors"`
}

// SelectTurn 纯函数：根据最新人类消息和时间线决定本轮行动者
func SelectTurn(in TurnInput) TurnDecision {
	if !in.Message.IsHumanMessage() {
		return TurnDecision{Mode: TurnNone, Actors: []string{}}
	}

	if in.Addresser != nil {
		addressing := in.Addresser.Parse(in.Message.Payload)
		if addressing.DirectorTriggered {
			return TurnDecision{Mode: TurnDirector, Actors: []string{models.ActorDirector}}
		}
		if len(addressing.Addressed) > 0 {
			return TurnDecision{Mode: TurnAddressed, Actors: dedupe(addressing.Addressed)}
		}
	}

	return TurnDecision{Mode: TurnRotation, Actors: rotation(in)}
}

// rotation 在场角色按最近一次发言/动作的序号升序（从未行动为0），同序号按ID
func rotation(in TurnInput) []string {
	present := make([]string, 0, len(in.Present))
	for _, id := range dedupe(in.Present) {
		if in.Registry != nil {
			if _, ok := in.Registry.Get(id); !ok {
				continue
			}
		}
		present = append(present, id)
	}

	last := lastActed(in.Events, present)
	sort.SliceStable(present, func(i, j int) bool {
		a, b := present[i], present[j]
		if last[a] == last[b] {
			return a < b
		}
		return last[a] < last[b]
	})

	limit := in.MaxActors
	if limit <= 0 || limit > len(present) {
		limit = len(present)
	}
	return present[:limit]
}

// lastActed 向后扫描时间线，记录每个角色最近一次 message/action 的序号
func lastActed(events []models.Event, actors []string) map[string]int64 {
	wanted := make(map[string]bool, len(actors))
	for _, id := range actors {
		wanted[id] = true
	}
	last := make(map[string]int64, len(actors))
	for i := len(events) - 1; i >= 0 && len(last) < len(wanted); i-- {
		e := events[i]
		if !e.Kind.IsContent() || !wanted[e.Originator] {
			continue
		}
		if _, seen := last[e.Originator]; !seen {
			last[e.Originator] = e.Seq
		}
	}
	return last
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
