package round

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/BaSui01/roundflow/types"
)

// SynthesisMode is the analysis style the synthesis author used.
type SynthesisMode string

const (
	ModeAnalyzing     SynthesisMode = "analyzing"
	ModeBrainstorming SynthesisMode = "brainstorming"
	ModeDebating      SynthesisMode = "debating"
	ModeSolving       SynthesisMode = "solving"

	// DefaultMode replaces a missing or unrecognised mode.
	DefaultMode = ModeAnalyzing
)

// ConsensusLevel is how far participants agreed.
type ConsensusLevel string

const (
	ConsensusUnanimous ConsensusLevel = "unanimous"
	ConsensusMajority  ConsensusLevel = "majority"
	ConsensusSplit     ConsensusLevel = "split"
	ConsensusNone      ConsensusLevel = "none"

	// DefaultConsensus replaces a missing or unrecognised consensus level.
	DefaultConsensus = ConsensusSplit
)

// Stance is one participant's position relative to the others.
type Stance string

const (
	StanceAgree    Stance = "agree"
	StanceDisagree Stance = "disagree"
	StanceNeutral  Stance = "neutral"
	StanceMixed    Stance = "mixed"

	// DefaultStance replaces a missing or unrecognised stance.
	DefaultStance = StanceNeutral
)

// Rating and confidence bounds.
const (
	MinRating     = 1
	MaxRating     = 10
	MinConfidence = 0
	MaxConfidence = 100

	// DefaultConfidence is used when the payload carries no usable confidence.
	DefaultConfidence = 50
)

// ParticipantAnalysis is the synthesis author's assessment of one participant.
type ParticipantAnalysis struct {
	ParticipantIndex int      `json:"participant_index"`
	ParticipantID    string   `json:"participant_id,omitempty"`
	Stance           Stance   `json:"stance"`
	Strengths        []string `json:"strengths,omitempty"`
	Weaknesses       []string `json:"weaknesses,omitempty"`
	Rating           int      `json:"rating"`
}

// SynthesisPayload is the validated artifact produced for a round.
type SynthesisPayload struct {
	Summary             string                `json:"summary"`
	Mode                SynthesisMode         `json:"mode"`
	Consensus           ConsensusLevel        `json:"consensus"`
	KeyInsights         []string              `json:"key_insights,omitempty"`
	ParticipantAnalyses []ParticipantAnalysis `json:"participant_analyses,omitempty"`
	Confidence          int                   `json:"confidence"`
}

// Coercion records one field that was replaced by its default.
type Coercion struct {
	Field   string `json:"field"`
	Got     string `json:"got"`
	Default string `json:"default"`
}

// CoercePayload validates a raw synthesis payload. Invalid enumerated fields
// are replaced by their documented defaults and numeric fields are clamped,
// each replacement reported as a Coercion. Only input that is not a JSON
// object is rejected.
func CoercePayload(raw json.RawMessage) (SynthesisPayload, []Coercion, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return SynthesisPayload{}, nil, types.NewError(types.ErrInvalidMessage, "synthesis payload is not a JSON object")
	}

	c := &coercer{}
	p := SynthesisPayload{
		Summary:     c.str(fields, "summary"),
		Mode:        SynthesisMode(c.enum(fields, "mode", string(DefaultMode), modes)),
		Consensus:   ConsensusLevel(c.enum(fields, "consensus", string(DefaultConsensus), consensusLevels)),
		KeyInsights: c.strings(fields, "key_insights", "keyInsights"),
		Confidence:  c.clamped(fields, "confidence", MinConfidence, MaxConfidence, DefaultConfidence),
	}

	rawAnalyses, _ := lookup(fields, "participant_analyses", "participantAnalyses")
	list, ok := rawAnalyses.([]any)
	if rawAnalyses != nil && !ok {
		c.note("participant_analyses", rawAnalyses, "[]")
	}
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			c.note(fmt.Sprintf("participant_analyses[%d]", i), item, "dropped")
			continue
		}
		c.prefix = fmt.Sprintf("participant_analyses[%d].", i)
		idx := c.clamped(obj, "participant_index", 0, math.MaxInt32, i)
		p.ParticipantAnalyses = append(p.ParticipantAnalyses, ParticipantAnalysis{
			ParticipantIndex: idx,
			ParticipantID:    c.str(obj, "participant_id"),
			Stance:           Stance(c.enum(obj, "stance", string(DefaultStance), stances)),
			Strengths:        c.strings(obj, "strengths"),
			Weaknesses:       c.strings(obj, "weaknesses"),
			Rating:           c.clamped(obj, "rating", MinRating, MaxRating, (MinRating+MaxRating)/2),
		})
		c.prefix = ""
	}
	return p, c.out, nil
}

var (
	modes           = []string{string(ModeAnalyzing), string(ModeBrainstorming), string(ModeDebating), string(ModeSolving)}
	consensusLevels = []string{string(ConsensusUnanimous), string(ConsensusMajority), string(ConsensusSplit), string(ConsensusNone)}
	stances         = []string{string(StanceAgree), string(StanceDisagree), string(StanceNeutral), string(StanceMixed)}
)

type coercer struct {
	prefix string
	out    []Coercion
}

func (c *coercer) note(field string, got any, def string) {
	c.out = append(c.out, Coercion{Field: c.prefix + field, Got: fmt.Sprint(got), Default: def})
}

// lookup reads key in snake_case, falling back to the given aliases.
func lookup(fields map[string]any, key string, aliases ...string) (any, bool) {
	if v, ok := fields[key]; ok {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := fields[a]; ok {
			return v, true
		}
	}
	return nil, false
}

func camel(key string) string {
	parts := strings.Split(key, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func (c *coercer) str(fields map[string]any, key string) string {
	v, ok := lookup(fields, key, camel(key))
	if !ok || v == nil {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		c.note(key, v, "")
		return ""
	}
	return s
}

func (c *coercer) enum(fields map[string]any, key, def string, allowed []string) string {
	v, ok := lookup(fields, key, camel(key))
	if !ok || v == nil {
		c.note(key, "<missing>", def)
		return def
	}
	s, _ := v.(string)
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if norm == a {
			return a
		}
	}
	c.note(key, v, def)
	return def
}

func (c *coercer) strings(fields map[string]any, key string, aliases ...string) []string {
	v, ok := lookup(fields, key, append(aliases, camel(key))...)
	if !ok || v == nil {
		return nil
	}
	list, isList := v.([]any)
	if !isList {
		c.note(key, v, "[]")
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, isStr := item.(string); isStr && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *coercer) clamped(fields map[string]any, key string, lo, hi, def int) int {
	v, ok := lookup(fields, key, camel(key))
	if !ok || v == nil {
		return def
	}
	f, isNum := v.(float64)
	if !isNum || math.IsNaN(f) {
		c.note(key, v, fmt.Sprint(def))
		return def
	}
	n := int(math.Round(f))
	switch {
	case f < float64(lo):
		c.note(key, v, fmt.Sprint(lo))
		return lo
	case f > float64(hi):
		c.note(key, v, fmt.Sprint(hi))
		return hi
	}
	return n
}
