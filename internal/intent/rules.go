package intent

import (
	"regexp"
	"strconv"
)

// ruleConfidence is the fixed confidence assigned to any rule-stage match.
const ruleConfidence = 0.9

// rulePattern is one regex plus an optional positional entity extractor for
// its capture groups.
type rulePattern struct {
	re       *regexp.Regexp
	entities func(groups []string) map[string]interface{}
}

// rule is an ordered entry in the rule table. Rules are evaluated top to
// bottom, patterns left to right; the first match wins.
type rule struct {
	label    Label
	patterns []rulePattern
}

func bloodPressureEntities(groups []string) map[string]interface{} {
	systolic, _ := strconv.Atoi(groups[1])
	diastolic, _ := strconv.Atoi(groups[2])
	return map[string]interface{}{"systolic": systolic, "diastolic": diastolic}
}

func bloodSugarEntities(groups []string) map[string]interface{} {
	value, _ := strconv.ParseFloat(groups[1], 64)
	return map[string]interface{}{"value": value}
}

func durationEntities(groups []string) map[string]interface{} {
	duration, _ := strconv.Atoi(groups[1])
	return map[string]interface{}{"duration": duration}
}

// defaultRules is the ordered rule table. Pattern order follows the
// product's routing priority: measurement reports first, then social
// intents.
var defaultRules = []rule{
	{
		label: LabelCheckinBloodPressure,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`血压.*?(\d{2,3})[/／](\d{2,3})`), entities: bloodPressureEntities},
			{re: regexp.MustCompile(`收缩压.*?(\d{2,3}).*?舒张压.*?(\d{2,3})`), entities: bloodPressureEntities},
		},
	},
	{
		label: LabelCheckinBloodSugar,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`血糖.*?(\d+\.?\d*)`), entities: bloodSugarEntities},
			{re: regexp.MustCompile(`空腹.*?血糖.*?(\d+\.?\d*)`), entities: bloodSugarEntities},
			{re: regexp.MustCompile(`餐后.*?血糖.*?(\d+\.?\d*)`), entities: bloodSugarEntities},
		},
	},
	{
		label: LabelCheckinMedication,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`吃药`)},
			{re: regexp.MustCompile(`服药`)},
			{re: regexp.MustCompile(`已.*?服.*?药`)},
			{re: regexp.MustCompile(`药.*?吃.*?了`)},
			{re: regexp.MustCompile(`打卡.*?药`)},
		},
	},
	{
		label: LabelCheckinExercise,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`运动.*?(\d+).*?分钟`), entities: durationEntities},
			{re: regexp.MustCompile(`锻炼.*?(\d+).*?分钟`), entities: durationEntities},
			{re: regexp.MustCompile(`走.*?\d+.*?步`)},
			{re: regexp.MustCompile(`跑步.*?(\d+)`), entities: durationEntities},
			{re: regexp.MustCompile(`游泳.*?(\d+)`), entities: durationEntities},
		},
	},
	{
		label: LabelCheckinDiet,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`吃.*?早餐`)},
			{re: regexp.MustCompile(`吃.*?午餐`)},
			{re: regexp.MustCompile(`吃.*?晚餐`)},
			{re: regexp.MustCompile(`饮食.*?打卡`)},
		},
	},
	{
		label: LabelGreeting,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`^你好`)},
			{re: regexp.MustCompile(`^早上好`)},
			{re: regexp.MustCompile(`^晚上好`)},
			{re: regexp.MustCompile(`(?i)^hi`)},
			{re: regexp.MustCompile(`(?i)^hello`)},
		},
	},
	{
		label: LabelComplaint,
		patterns: []rulePattern{
			{re: regexp.MustCompile(`投诉`)},
			{re: regexp.MustCompile(`反馈`)},
			{re: regexp.MustCompile(`不满意`)},
			{re: regexp.MustCompile(`抱怨`)},
			{re: regexp.MustCompile(`差评`)},
		},
	},
}

// matchRules runs the ordered table against text. Returns nil when no
// pattern matches.
func matchRules(rules []rule, text string) *Result {
	for _, r := range rules {
		for _, p := range r.patterns {
			groups := p.re.FindStringSubmatch(text)
			if groups == nil {
				continue
			}
			result := &Result{
				Label:      r.label,
				Confidence: ruleConfidence,
				Entities:   map[string]interface{}{},
				SourceText: text,
			}
			if p.entities != nil {
				result.Entities = p.entities(groups)
			}
			return result
		}
	}
	return nil
}
