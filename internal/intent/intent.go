package intent

import "github.com/carelink/carelink-ai/internal/checkin"

// Label is a classified user intent.
type Label string

const (
	LabelHealthConsult        Label = "health_consult"
	LabelSymptomAnalysis      Label = "symptom_analysis"
	LabelMedicationConsult    Label = "medication_consult"
	LabelCheckinBloodPressure Label = "checkin_blood_pressure"
	LabelCheckinBloodSugar    Label = "checkin_blood_sugar"
	LabelCheckinMedication    Label = "checkin_medication"
	LabelCheckinExercise      Label = "checkin_exercise"
	LabelCheckinDiet          Label = "checkin_diet"
	LabelComplaint            Label = "complaint"
	LabelGreeting             Label = "greeting"
	LabelChitchat             Label = "chitchat"
	LabelUnknown              Label = "unknown"
)

// allLabels is the closed label set offered to the model stage.
var allLabels = map[Label]bool{
	LabelHealthConsult:        true,
	LabelSymptomAnalysis:      true,
	LabelMedicationConsult:    true,
	LabelCheckinBloodPressure: true,
	LabelCheckinBloodSugar:    true,
	LabelCheckinMedication:    true,
	LabelCheckinExercise:      true,
	LabelCheckinDiet:          true,
	LabelComplaint:            true,
	LabelGreeting:             true,
	LabelChitchat:             true,
	LabelUnknown:              true,
}

// ParseLabel returns the label for s, reporting membership in the closed set.
func ParseLabel(s string) (Label, bool) {
	l := Label(s)
	return l, allLabels[l]
}

// checkinKinds maps the five checkin labels to extractor kinds.
var checkinKinds = map[Label]checkin.Kind{
	LabelCheckinBloodPressure: checkin.KindBloodPressure,
	LabelCheckinBloodSugar:    checkin.KindBloodSugar,
	LabelCheckinMedication:    checkin.KindMedication,
	LabelCheckinExercise:      checkin.KindExercise,
	LabelCheckinDiet:          checkin.KindDiet,
}

// IsCheckin reports whether l is one of the checkin labels.
func (l Label) IsCheckin() bool {
	_, ok := checkinKinds[l]
	return ok
}

// CheckinKind returns the extractor kind for a checkin label.
func CheckinKind(l Label) (checkin.Kind, bool) {
	kind, ok := checkinKinds[l]
	return kind, ok
}

// IsConsult reports whether l routes to knowledge retrieval.
func (l Label) IsConsult() bool {
	switch l {
	case LabelHealthConsult, LabelSymptomAnalysis, LabelMedicationConsult:
		return true
	}
	return false
}

// Result is one classification outcome. Produced fresh per turn.
type Result struct {
	Label      Label                  `json:"intent"`
	Confidence float64                `json:"confidence"`
	Entities   map[string]interface{} `json:"entities,omitempty"`
	SourceText string                 `json:"source_text"`
}
