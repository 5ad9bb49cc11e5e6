package llm

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Mock returns deterministic draft prose built from cue words in the prompts.
type Mock struct{}

func (Mock) Complete(_ context.Context, r Request) (string, error) {
	return MockText(r.System, r.User), nil
}

type mockCue struct {
	keywords  []string
	paragraph string
}

// Order is the order paragraphs appear in the output.
var mockCues = []mockCue{
	{
		keywords:  []string{"概况", "基本情况", "企业简介"},
		paragraph: "企业基本情况：企业位于所在工业园区，主要从事生产经营活动，厂区内设有生产车间、原料仓库、危险化学品暂存间及环保处理设施，日常环境管理由环保负责人统一协调。",
	},
	{
		keywords:  []string{"依据", "标准", "HJ"},
		paragraph: "编制依据：《企业突发环境事件风险分级方法》（HJ941-2018）、《建设项目环境风险评价技术导则》（HJ169-2018）以及地方有关突发环境事件应急管理规定。",
	},
	{
		keywords:  []string{"风险等级", "风险级别", "风险分级"},
		paragraph: "风险等级：按照HJ941-2018规定的方法，结合危险物质数量与临界量比值、生产工艺及环境敏感程度综合判定企业环境风险等级，并按等级落实相应防控措施。",
	},
	{
		keywords:  []string{"大气", "废气", "空气"},
		paragraph: "大气环境影响：事故状态下挥发性物质可能随气流扩散，对厂界外敏感目标造成短时影响，应结合当时气象条件划定警戒范围，并及时组织周边人员转移。",
	},
	{
		keywords:  []string{"风向"},
		paragraph: "气象条件：当地主导风向依据多年气象统计资料确定，事故发生时应优先疏散位于下风向的居民点和单位，应急监测点位沿下风向布设，距离由近及远。",
	},
	{
		keywords:  []string{"水环境", "水体", "废水", "河"},
		paragraph: "水环境影响：泄漏物料或消防废水若经雨水管网进入附近河流，可能影响下游水体，应立即关闭雨水排放口并启用事故应急池，同时通报上游及下游相关单位。",
	},
	{
		keywords:  []string{"泄漏", "泄露"},
		paragraph: "泄漏处置：发现液体物料泄漏后，现场人员应立即报警并切断泄漏源，使用围堰和吸附材料控制扩散；有毒气体泄漏时，处置人员须佩戴空气呼吸器进入现场。",
	},
	{
		keywords:  []string{"火灾", "消防", "爆炸"},
		paragraph: "火灾爆炸处置：发生火灾时应立即启用消防设施灭火，控制燃烧范围，防止爆炸等次生事故，消防废水须全部收集并妥善处理。",
	},
	{
		keywords:  []string{"程序", "流程", "响应", "处置"},
		paragraph: "应急响应程序：按照报警、研判、处置、报告、疏散、警戒的顺序组织实施，应急指挥部根据事态发展确定响应级别，事件结束后开展后期处置与总结评估。",
	},
	{
		keywords:  []string{"物资", "资源", "装备", "队伍"},
		paragraph: "应急资源：企业配备吸附棉、围堰、消防器材、个人防护装备等应急物资，由专人管理并定期检查维护，应急联系人及联系电话登记在应急通讯录中。",
	},
}

const (
	mockGeneric  = "本节内容根据企业提供的基础资料整理形成，涉及的数据和措施后续应结合现场核查结果补充完善。"
	mockClosing  = "以上内容为系统生成的草稿，须由编制人员结合企业实际情况审核修改后使用。"
	maxLeadRunes = 80
)

// MockText builds the mock paragraph for a prompt pair. The first line names
// the subject taken from the user prompt, so identifying details such as the
// company name carry through.
func MockText(system, user string) string {
	prompt := system + "\n" + user
	lines := []string{"【草稿】" + leadingLine(user)}
	matched := false
	for _, cue := range mockCues {
		if containsAny(prompt, cue.keywords) {
			lines = append(lines, cue.paragraph)
			matched = true
		}
	}
	if !matched {
		lines = append(lines, mockGeneric)
	}
	lines = append(lines, mockClosing)
	return strings.Join(lines, "\n\n")
}

func leadingLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxLeadRunes {
			line = string([]rune(line)[:maxLeadRunes]) + "…"
		}
		return line
	}
	return "本节内容"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
