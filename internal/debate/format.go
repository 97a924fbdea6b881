package debate

import (
	"strings"

	"debate-arena/internal/store"

	"golang.org/x/text/language"
)

const (
	TemplateStandard       = "standard"
	TemplateQuick          = "quick"
	TemplateLincolnDouglas = "lincoln_douglas"
)

type templateTurn struct {
	key         string
	speaker     store.Side
	durationSec int
	prep        bool
	questions   bool
}

var templates = map[string][]templateTurn{
	TemplateStandard: {
		{key: "affirmative_constructive", speaker: store.SideAffirmative, durationSec: 360},
		{key: "negative_cross_examination", speaker: store.SideNegative, durationSec: 180, questions: true},
		{key: "negative_constructive", speaker: store.SideNegative, durationSec: 360},
		{key: "affirmative_cross_examination", speaker: store.SideAffirmative, durationSec: 180, questions: true},
		{key: "prep_time", speaker: store.SideNone, durationSec: 120, prep: true},
		{key: "negative_rebuttal", speaker: store.SideNegative, durationSec: 240},
		{key: "affirmative_rebuttal", speaker: store.SideAffirmative, durationSec: 240},
	},
	TemplateQuick: {
		{key: "affirmative_opening", speaker: store.SideAffirmative, durationSec: 120},
		{key: "negative_opening", speaker: store.SideNegative, durationSec: 120},
		{key: "affirmative_closing", speaker: store.SideAffirmative, durationSec: 90},
		{key: "negative_closing", speaker: store.SideNegative, durationSec: 90},
	},
	TemplateLincolnDouglas: {
		{key: "affirmative_constructive", speaker: store.SideAffirmative, durationSec: 360},
		{key: "negative_cross_examination", speaker: store.SideNegative, durationSec: 180, questions: true},
		{key: "negative_constructive", speaker: store.SideNegative, durationSec: 420},
		{key: "affirmative_cross_examination", speaker: store.SideAffirmative, durationSec: 180, questions: true},
		{key: "affirmative_first_rebuttal", speaker: store.SideAffirmative, durationSec: 240},
		{key: "negative_rebuttal", speaker: store.SideNegative, durationSec: 360},
		{key: "affirmative_second_rebuttal", speaker: store.SideAffirmative, durationSec: 180},
	},
}

var supportedLocales = []language.Tag{language.English, language.Japanese}

var localeMatcher = language.NewMatcher(supportedLocales)

var turnNames = map[language.Tag]map[string]string{
	language.English: {
		"affirmative_constructive":      "Affirmative Constructive",
		"negative_constructive":         "Negative Constructive",
		"affirmative_cross_examination": "Affirmative Cross-Examination",
		"negative_cross_examination":    "Negative Cross-Examination",
		"affirmative_rebuttal":          "Affirmative Rebuttal",
		"affirmative_first_rebuttal":    "Affirmative First Rebuttal",
		"affirmative_second_rebuttal":   "Affirmative Second Rebuttal",
		"negative_rebuttal":             "Negative Rebuttal",
		"affirmative_opening":           "Affirmative Opening",
		"negative_opening":              "Negative Opening",
		"affirmative_closing":           "Affirmative Closing",
		"negative_closing":              "Negative Closing",
		"prep_time":                     "Preparation Time",
		"questions":                     "Questions",
		"affirmative":                   "Affirmative Speech",
		"negative":                      "Negative Speech",
		"open":                          "Open Floor",
	},
	language.Japanese: {
		"affirmative_constructive":      "肯定側立論",
		"negative_constructive":         "否定側立論",
		"affirmative_cross_examination": "肯定側質疑",
		"negative_cross_examination":    "否定側質疑",
		"affirmative_rebuttal":          "肯定側反駁",
		"affirmative_first_rebuttal":    "肯定側第一反駁",
		"affirmative_second_rebuttal":   "肯定側第二反駁",
		"negative_rebuttal":             "否定側反駁",
		"affirmative_opening":           "肯定側オープニング",
		"negative_opening":              "否定側オープニング",
		"affirmative_closing":           "肯定側クロージング",
		"negative_closing":              "否定側クロージング",
		"prep_time":                     "準備時間",
		"questions":                     "質疑",
		"affirmative":                   "肯定側スピーチ",
		"negative":                      "否定側スピーチ",
		"open":                          "フリー",
	},
}

// NormalizeLocale maps any BCP 47 string to the closest supported locale.
// Unparseable input falls back to English.
func NormalizeLocale(locale string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return language.English
	}
	_, idx, _ := localeMatcher.Match(tag)
	return supportedLocales[idx]
}

func turnName(tag language.Tag, key string) string {
	if name, ok := turnNames[tag][key]; ok {
		return name
	}
	return turnNames[language.English][key]
}

// ResolveFormat turns a room's stored format into 1-indexed turns. Free-form,
// unknown templates and malformed custom lists yield an empty result. The
// locale only changes display names.
func ResolveFormat(spec store.FormatSpec, locale string) []store.TurnDescriptor {
	template := strings.ToLower(strings.TrimSpace(spec.Template))
	if template == store.FormatFree {
		return []store.TurnDescriptor{}
	}
	tag := NormalizeLocale(locale)
	if len(spec.Turns) > 0 {
		return resolveCustom(spec.Turns, tag)
	}
	tmpl, ok := templates[template]
	if !ok {
		return []store.TurnDescriptor{}
	}
	out := make([]store.TurnDescriptor, 0, len(tmpl))
	for i, t := range tmpl {
		out = append(out, store.TurnDescriptor{
			Index:       i + 1,
			Name:        turnName(tag, t.key),
			Speaker:     t.speaker,
			DurationSec: t.durationSec,
			IsPrepTime:  t.prep,
			IsQuestions: t.questions,
		})
	}
	return out
}

func resolveCustom(turns []store.TurnConfig, tag language.Tag) []store.TurnDescriptor {
	out := make([]store.TurnDescriptor, 0, len(turns))
	for i, t := range turns {
		speaker, ok := parseSpeaker(t.Speaker)
		if !ok || t.DurationSec <= 0 {
			return []store.TurnDescriptor{}
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = turnName(tag, defaultNameKey(speaker, t))
		}
		out = append(out, store.TurnDescriptor{
			Index:       i + 1,
			Name:        name,
			Speaker:     speaker,
			DurationSec: t.DurationSec,
			IsPrepTime:  t.IsPrepTime,
			IsQuestions: t.IsQuestions,
		})
	}
	return out
}

func parseSpeaker(raw string) (store.Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "affirmative":
		return store.SideAffirmative, true
	case "negative":
		return store.SideNegative, true
	case "", "none":
		return store.SideNone, true
	default:
		return store.SideNone, false
	}
}

func defaultNameKey(speaker store.Side, t store.TurnConfig) string {
	switch {
	case t.IsPrepTime:
		return "prep_time"
	case t.IsQuestions:
		return "questions"
	case speaker == store.SideNone:
		return "open"
	default:
		return string(speaker)
	}
}
