package compliance

import (
	"regexp"
	"strings"
)

type severity int

const (
	severityIssue severity = iota
	severityWarning
)

type rule struct {
	severity severity
	message  string
	check    func(text string, concepts Concepts) bool
}

var (
	phonePattern    = regexp.MustCompile(`1[3-9]\d{9}|0\d{2,3}-?\d{7,8}|\b\d{3,4}-\d{7,8}\b`)
	distancePattern = regexp.MustCompile(`\d+(?:\.\d+)?\s*(?:km|m|米|公里|千米)`)
)

// rules is the fixed table behind matrix requirement identifiers.
var rules = map[string]rule{
	"reference_hj941_2018": {
		message: "未引用《企业突发环境事件风险分级方法》（HJ941-2018）",
		check: func(text string, _ Concepts) bool {
			return containsAny(compact(text), "hj941")
		},
	},
	"reference_hj169_2018": {
		message: "未引用《建设项目环境风险评价技术导则》（HJ169-2018）",
		check: func(text string, _ Concepts) bool {
			return containsAny(compact(text), "hj169")
		},
	},
	"mention_dominant_wind": {
		message: "未说明主导风向",
		check: func(text string, _ Concepts) bool {
			return containsAny(text, "风向", "主导风向")
		},
	},
	"scenario_liquid_leak": {
		message: "未涉及液体物料泄漏情景",
		check:   familyCheck("scenario_liquid_leak"),
	},
	"scenario_gas_leak": {
		message: "未涉及有毒气体泄漏情景",
		check:   familyCheck("scenario_gas_leak"),
	},
	"scenario_fire": {
		message: "未涉及火灾爆炸情景",
		check:   familyCheck("scenario_fire"),
	},
	"follow_flow_structure": {
		severity: severityWarning,
		message:  "未体现报警、研判、处置等应急流程结构",
		check:    familyCheck("flow_structure"),
	},
	"if_river_mentioned_upstream_downstream": {
		message: "提及河流但未说明上游或下游影响",
		check: func(text string, _ Concepts) bool {
			return !strings.Contains(text, "河") || containsAny(text, "上游", "下游")
		},
	},
	"mention_contact_phone": {
		message: "未提供应急联系电话",
		check: func(text string, _ Concepts) bool {
			return containsAny(text, "电话", "联系方式") || phonePattern.MatchString(text)
		},
	},
	"mention_risk_level": {
		message: "未说明企业环境风险等级",
		check: func(text string, _ Concepts) bool {
			return containsAny(text, "风险等级", "风险级别", "一般环境风险", "较大环境风险", "重大环境风险")
		},
	},
	"mention_distance": {
		message: "未说明与敏感目标的距离",
		check: func(text string, _ Concepts) bool {
			return strings.Contains(text, "距离") || distancePattern.MatchString(text)
		},
	},
}

// KnownRules lists the requirement identifiers the checker understands.
func KnownRules() []string {
	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	return ids
}

func familyCheck(tag string) func(string, Concepts) bool {
	return func(text string, concepts Concepts) bool {
		words, _ := concepts.Keywords(tag)
		return containsAny(text, words...)
	}
}

// compact drops spaces and hyphens so "HJ 941-2018" matches "hj941".
func compact(text string) string {
	return strings.NewReplacer(" ", "", "　", "", "-", "", "_", "").Replace(text)
}

// containsAny expects text already lower-cased.
func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
