package model

import "strings"

// Language is the language tag of a snippet.
//
// CLOSED REGISTRY WITH A FALLBACK:
// The registry below is the complete set of languages the app knows how to
// label and highlight. Anything else is still stored verbatim (so a value
// written by a newer client survives a round trip), but it is displayed
// under LanguageOther. Callers ask IsKnown/Label instead of comparing
// strings ad hoc.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageHTML       Language = "html"
	LanguageCSS        Language = "css"
	LanguageJSON       Language = "json"
	LanguageSQL        Language = "sql"
	LanguageBash       Language = "bash"
	LanguageRust       Language = "rust"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageCSharp     Language = "csharp"
	LanguageCPP        Language = "cpp"
	LanguagePHP        Language = "php"
	LanguageRuby       Language = "ruby"
	LanguageSwift      Language = "swift"
	LanguageKotlin     Language = "kotlin"
	LanguageOther      Language = "other"
)

// LanguageInfo is the display metadata of a registered language.
type LanguageInfo struct {
	Value Language `json:"value"`
	Label string   `json:"label"`
	Color string   `json:"color"`
}

// registry is ordered the way pickers list it; LanguageOther stays last.
var registry = []LanguageInfo{
	{LanguageJavaScript, "JavaScript", "yellow"},
	{LanguageTypeScript, "TypeScript", "blue"},
	{LanguagePython, "Python", "blue"},
	{LanguageHTML, "HTML", "orange"},
	{LanguageCSS, "CSS", "pink"},
	{LanguageJSON, "JSON", "green"},
	{LanguageSQL, "SQL", "cyan"},
	{LanguageBash, "Bash", "gray"},
	{LanguageRust, "Rust", "orange"},
	{LanguageGo, "Go", "cyan"},
	{LanguageJava, "Java", "red"},
	{LanguageCSharp, "C#", "purple"},
	{LanguageCPP, "C++", "blue"},
	{LanguagePHP, "PHP", "purple"},
	{LanguageRuby, "Ruby", "red"},
	{LanguageSwift, "Swift", "orange"},
	{LanguageKotlin, "Kotlin", "purple"},
	{LanguageOther, "Other", "gray"},
}

var registryIndex = func() map[Language]int {
	idx := make(map[Language]int, len(registry))
	for i, info := range registry {
		idx[info.Value] = i
	}
	return idx
}()

// Languages returns the registry in display order. The slice is a copy.
func Languages() []LanguageInfo {
	out := make([]LanguageInfo, len(registry))
	copy(out, registry)
	return out
}

// ParseLanguage canonicalises raw input: trimmed and lowercased, with empty
// input mapped to LanguageOther. Unregistered values are kept as-is.
func ParseLanguage(raw string) Language {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return LanguageOther
	}
	return Language(v)
}

// IsKnown reports whether l is in the registry.
func (l Language) IsKnown() bool {
	_, ok := registryIndex[l]
	return ok
}

// Info returns the registry entry for l, or the LanguageOther entry when l
// is not registered.
func (l Language) Info() LanguageInfo {
	if i, ok := registryIndex[l]; ok {
		return registry[i]
	}
	return registry[registryIndex[LanguageOther]]
}

// Label is the display name; unregistered values show the fallback label.
func (l Language) Label() string {
	return l.Info().Label
}

func (l Language) String() string { return string(l) }
