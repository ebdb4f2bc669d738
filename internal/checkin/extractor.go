package checkin

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the supported checkin categories.
type Kind string

const (
	KindBloodPressure Kind = "blood_pressure"
	KindBloodSugar    Kind = "blood_sugar"
	KindMedication    Kind = "medication"
	KindExercise      Kind = "exercise"
	KindDiet          Kind = "diet"
)

// Blood sugar measurement timing.
const (
	TimingFasting     = "fasting"
	TimingBeforeMeal  = "before_meal"
	TimingAfterMeal   = "after_meal"
	TimingBeforeSleep = "before_sleep"
	TimingUnknown     = "unknown"
)

// Validation bounds for measured values. Out-of-range readings yield a nil
// record so the caller can ask a clarifying question.
const (
	minSystolic   = 60
	maxSystolic   = 250
	minDiastolic  = 40
	maxDiastolic  = 150
	minBloodSugar = 1.0
	maxBloodSugar = 30.0
)

// Record is one extracted health checkin. Ownership passes to the caller;
// the extractor never persists it.
type Record struct {
	Kind      Kind                   `json:"kind"`
	Fields    map[string]interface{} `json:"fields"`
	Notes     string                 `json:"notes,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

var (
	bloodPressurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{2,3})[/／\-](\d{2,3})`),
		regexp.MustCompile(`收缩压.*?(\d{2,3}).*?舒张压.*?(\d{2,3})`),
		regexp.MustCompile(`高压.*?(\d{2,3}).*?低压.*?(\d{2,3})`),
	}
	heartRatePattern  = regexp.MustCompile(`心率.*?(\d{2,3})`)
	bloodSugarPattern = regexp.MustCompile(`(\d+\.?\d*)`)
	durationPattern   = regexp.MustCompile(`(\d+)\s*分钟`)
	stepsPattern      = regexp.MustCompile(`(\d+)\s*步`)

	notesPatterns = []*regexp.Regexp{
		regexp.MustCompile(`备注[:：]?\s*(.+)`),
		regexp.MustCompile(`说明[:：]?\s*(.+)`),
		regexp.MustCompile(`附言[:：]?\s*(.+)`),
	}

	sugarTimings = []struct {
		keyword string
		timing  string
	}{
		{"空腹", TimingFasting},
		{"餐前", TimingBeforeMeal},
		{"餐后", TimingAfterMeal},
		{"睡前", TimingBeforeSleep},
	}

	exerciseTypes = []struct {
		name     string
		keywords []string
	}{
		{"walk", []string{"走路", "散步", "步行"}},
		{"run", []string{"跑步", "慢跑"}},
		{"swim", []string{"游泳"}},
		{"cycle", []string{"骑车", "骑行", "单车"}},
		{"yoga", []string{"瑜伽"}},
	}

	mealTypes = []struct {
		name     string
		keywords []string
	}{
		{"breakfast", []string{"早餐", "早饭", "早上"}},
		{"lunch", []string{"午餐", "午饭", "中午"}},
		{"dinner", []string{"晚餐", "晚饭", "晚上"}},
		{"snack", []string{"加餐", "零食", "夜宵"}},
	}
)

// Extractor turns free text plus classifier hints into structured checkin
// records. Extraction is pure: no I/O, no randomness, identical inputs give
// identical fields. The clock only stamps the record.
type Extractor struct {
	now func() time.Time
}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract dispatches to the sub-extractor for kind. A nil record means the
// text did not contain a valid reading for that kind.
func (e *Extractor) Extract(kind Kind, text string, hints map[string]interface{}) *Record {
	switch kind {
	case KindBloodPressure:
		return e.extractBloodPressure(text, hints)
	case KindBloodSugar:
		return e.extractBloodSugar(text, hints)
	case KindMedication:
		return e.extractMedication(text, hints)
	case KindExercise:
		return e.extractExercise(text, hints)
	case KindDiet:
		return e.extractDiet(text, hints)
	}
	return nil
}

func (e *Extractor) extractBloodPressure(text string, hints map[string]interface{}) *Record {
	systolic, sysOK := hintInt(hints, "systolic")
	diastolic, diaOK := hintInt(hints, "diastolic")

	if !sysOK || !diaOK {
		var match []string
		for _, pattern := range bloodPressurePatterns {
			if match = pattern.FindStringSubmatch(text); match != nil {
				break
			}
		}
		if match == nil {
			return nil
		}
		systolic, _ = strconv.Atoi(match[1])
		diastolic, _ = strconv.Atoi(match[2])
	}

	if systolic < minSystolic || systolic > maxSystolic {
		return nil
	}
	if diastolic < minDiastolic || diastolic > maxDiastolic {
		return nil
	}

	fields := map[string]interface{}{
		"systolic":  systolic,
		"diastolic": diastolic,
		"unit":      "mmHg",
	}
	if m := heartRatePattern.FindStringSubmatch(text); m != nil {
		heartRate, _ := strconv.Atoi(m[1])
		fields["heart_rate"] = heartRate
	}

	return e.record(KindBloodPressure, fields, extractNotes(text))
}

func (e *Extractor) extractBloodSugar(text string, hints map[string]interface{}) *Record {
	value, ok := hintFloat(hints, "value")
	if !ok {
		m := bloodSugarPattern.FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		value, _ = strconv.ParseFloat(m[1], 64)
	}

	if value < minBloodSugar || value > maxBloodSugar {
		return nil
	}

	timing := TimingUnknown
	for _, t := range sugarTimings {
		if strings.Contains(text, t.keyword) {
			timing = t.timing
			break
		}
	}

	fields := map[string]interface{}{
		"value":  value,
		"timing": timing,
		"unit":   "mmol/L",
	}
	return e.record(KindBloodSugar, fields, extractNotes(text))
}

// extractMedication always succeeds once the intent fired; name and dosage
// are optional refinements from the classifier.
func (e *Extractor) extractMedication(text string, hints map[string]interface{}) *Record {
	fields := map[string]interface{}{
		"taken": true,
	}
	if name, ok := hintString(hints, "medication_name"); ok {
		fields["medication_name"] = name
	}
	if dosage, ok := hintString(hints, "dosage"); ok {
		fields["dosage"] = dosage
	}
	return e.record(KindMedication, fields, extractNotes(text))
}

// extractExercise succeeds even with every field empty.
func (e *Extractor) extractExercise(text string, hints map[string]interface{}) *Record {
	fields := map[string]interface{}{}

	duration, ok := hintInt(hints, "duration")
	if !ok {
		if m := durationPattern.FindStringSubmatch(text); m != nil {
			duration, _ = strconv.Atoi(m[1])
			ok = true
		}
	}
	if ok {
		fields["duration"] = duration
	}

	if m := stepsPattern.FindStringSubmatch(text); m != nil {
		steps, _ := strconv.Atoi(m[1])
		fields["steps"] = steps
	}

	for _, et := range exerciseTypes {
		for _, kw := range et.keywords {
			if strings.Contains(text, kw) {
				fields["exercise_type"] = et.name
				break
			}
		}
		if _, done := fields["exercise_type"]; done {
			break
		}
	}

	return e.record(KindExercise, fields, extractNotes(text))
}

func (e *Extractor) extractDiet(text string, hints map[string]interface{}) *Record {
	fields := map[string]interface{}{}

	for _, mt := range mealTypes {
		for _, kw := range mt.keywords {
			if strings.Contains(text, kw) {
				fields["meal_type"] = mt.name
				break
			}
		}
		if _, done := fields["meal_type"]; done {
			break
		}
	}

	notes := extractNotes(text)
	if notes != "" {
		fields["description"] = notes
	} else {
		fields["description"] = "已完成饮食打卡"
	}

	return e.record(KindDiet, fields, notes)
}

func (e *Extractor) record(kind Kind, fields map[string]interface{}, notes string) *Record {
	return &Record{
		Kind:      kind,
		Fields:    fields,
		Notes:     notes,
		Timestamp: e.now(),
	}
}

// extractNotes looks for a trailing notes marker and returns the remainder.
func extractNotes(text string) string {
	for _, pattern := range notesPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func hintInt(hints map[string]interface{}, key string) (int, bool) {
	v, ok := hints[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func hintFloat(hints map[string]interface{}, key string) (float64, bool) {
	v, ok := hints[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func hintString(hints map[string]interface{}, key string) (string, bool) {
	v, ok := hints[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
