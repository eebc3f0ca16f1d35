package emergency

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingForwarder struct {
	mu   sync.Mutex
	recs []Record
}

func (f *recordingForwarder) Forward(_ string, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestAggregator_FieldsAccumulateAcrossTurns(t *testing.T) {
	fwd := &recordingForwarder{}
	a := NewAggregator("s1", WithForwarder(fwd), WithClock(fixedClock()))

	first, changed := a.Merge(Fields{Address: "", Name: "Jane"})
	require.True(t, changed)
	second, changed := a.Merge(Fields{Address: "123 Oak St", Name: ""})
	require.True(t, changed)

	assert.Equal(t, "Jane", second.Name)
	assert.Equal(t, "123 Oak St", second.Address)
	assert.Greater(t, second.Completeness.Overall, first.Completeness.Overall)
	assert.Equal(t, 66, second.Completeness.Required)
	assert.Len(t, fwd.recs, 2)
}

func TestAggregator_BlankNeverOverwrites(t *testing.T) {
	a := NewAggregator("s1")
	a.Merge(Fields{Phone: "555-0100", Injuries: "cut on arm"})
	rec, changed := a.Merge(Fields{Phone: "   ", Injuries: ""})
	assert.False(t, changed)
	assert.Equal(t, "555-0100", rec.Phone)
	assert.Equal(t, "cut on arm", rec.Injuries)
}

func TestAggregator_MergeIsIdempotent(t *testing.T) {
	fwd := &recordingForwarder{}
	a := NewAggregator("s1", WithForwarder(fwd), WithClock(fixedClock()))
	in := Fields{Name: "Sam", Urgency: "as soon as possible", PeopleInvolved: "two"}

	once, _ := a.Merge(in)
	twice, changed := a.Merge(in)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
	assert.Len(t, fwd.recs, 1, "an unchanged merge must not forward again")
}

func TestAggregator_CompletenessNonDecreasing(t *testing.T) {
	a := NewAggregator("s1")
	turns := []Fields{
		{Urgency: "whenever"},
		{},
		{Name: "A", Urgency: ""},
		{Address: "1 Main"},
		{Name: "", Address: "", Phone: ""},
		{EmergencyType: "medical", ThreatDetails: "knife"},
		{Injuries: "bleeding", PeopleInvolved: "3", SafetyInfo: "back door", Phone: "555"},
	}
	prev := 0
	seen := map[string]string{}
	for _, f := range turns {
		rec, _ := a.Merge(f)
		require.GreaterOrEqual(t, rec.Completeness.Overall, prev)
		prev = rec.Completeness.Overall
		for _, n := range FieldNames() {
			if seen[n] != "" {
				require.NotEmpty(t, rec.Get(n), "field %s regressed", n)
			}
			seen[n] = rec.Get(n)
		}
	}
	assert.Equal(t, 100, prev)
}

func TestAggregator_ScoresUseFloor(t *testing.T) {
	a := NewAggregator("s1")
	rec, _ := a.Merge(Fields{Name: "A", EmergencyType: "fire"})
	assert.Equal(t, Completeness{Required: 33, Details: 16, Overall: 22}, rec.Completeness)
}

func TestAggregator_LikelyEmergency(t *testing.T) {
	cases := []struct {
		name string
		in   Fields
		want bool
	}{
		{"none", Fields{Name: "A"}, false},
		{"type", Fields{EmergencyType: "break-in"}, true},
		{"threat", Fields{ThreatDetails: "gun"}, true},
		{"injuries", Fields{Injuries: "broken leg"}, true},
		{"urgent", Fields{Urgency: "Very URGENT please"}, true},
		{"relaxed", Fields{Urgency: "tomorrow is fine"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := NewAggregator("s").Merge(tc.in)
			assert.Equal(t, tc.want, rec.LikelyEmergency)
		})
	}
}

func TestAggregator_ForwardsOnlyWithIdentity(t *testing.T) {
	fwd := &recordingForwarder{}
	a := NewAggregator("s1", WithForwarder(fwd))
	a.Merge(Fields{EmergencyType: "medical"})
	assert.Empty(t, fwd.recs)
	a.Merge(Fields{Phone: "555"})
	require.Len(t, fwd.recs, 1)
	assert.Equal(t, "medical", fwd.recs[0].EmergencyType)
}

func TestAggregator_AmbientIsEnrichmentOnly(t *testing.T) {
	fwd := &recordingForwarder{}
	a := NewAggregator("s1", WithForwarder(fwd))
	before := a.Snapshot()

	assert.False(t, a.NoteAmbient(Signal{Category: "Glass", Confidence: 0.2}))
	assert.True(t, a.NoteAmbient(Signal{Category: "Glass", Label: "Shatter", Confidence: 0.9}))

	after := a.Snapshot()
	assert.Equal(t, before.Fields, after.Fields)
	assert.Equal(t, before.Completeness, after.Completeness)
	assert.False(t, after.LikelyEmergency)
	assert.Len(t, after.Signals, 1)
	assert.Empty(t, fwd.recs)
}

func TestFromMap_LegacyInstructions(t *testing.T) {
	f := FromMap(map[string]any{"name": "Kim", "instructions": "use side gate", "extra": 3, "phone": 42})
	assert.Equal(t, "Kim", f.Name)
	assert.Equal(t, "use side gate", f.SafetyInfo)
	assert.Empty(t, f.Phone)

	f = FromMap(map[string]any{"safety_info": "front", "instructions": "side"})
	assert.Equal(t, "front", f.SafetyInfo)
}

func TestRecord_JSONIsFlat(t *testing.T) {
	a := NewAggregator("s1")
	rec, _ := a.Merge(Fields{Name: "Lee"})
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "Lee", m["name"])
	assert.Contains(t, m, "safety_info")
	assert.Contains(t, m, "completeness")
}

func TestSignal_Normalize(t *testing.T) {
	s, err := Signal{Category: " gunshot ", Confidence: 0.7}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "Gunshot", s.Category)
	assert.False(t, s.Timestamp.IsZero())

	_, err = Signal{Category: "Doorbell"}.Normalize()
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
