// Package language holds the transcription languages the engine accepts.
package language

// Auto asks the engine to detect the spoken language.
const Auto = "auto"

// Default is used when no preference has been saved yet.
const Default = "pt"

type Language struct {
	Code string
	Name string
}

var table = []Language{
	{"en", "English"},
	{"pt", "Portuguese"},
	{"es", "Spanish"},
	{"fr", "French"},
	{"de", "German"},
	{"it", "Italian"},
	{"ja", "Japanese"},
	{"ko", "Korean"},
	{"zh", "Chinese"},
	{"ru", "Russian"},
	{"ar", "Arabic"},
	{"hi", "Hindi"},
	{"tr", "Turkish"},
	{"pl", "Polish"},
	{"nl", "Dutch"},
	{"sv", "Swedish"},
	{"da", "Danish"},
	{"no", "Norwegian"},
	{"fi", "Finnish"},
	{"cs", "Czech"},
	{"hu", "Hungarian"},
	{"ro", "Romanian"},
	{"uk", "Ukrainian"},
	{"el", "Greek"},
	{"bg", "Bulgarian"},
	{"hr", "Croatian"},
	{"sr", "Serbian"},
	{"sk", "Slovak"},
	{"sl", "Slovenian"},
	{"et", "Estonian"},
	{"lv", "Latvian"},
	{"lt", "Lithuanian"},
	{"ca", "Catalan"},
	{"vi", "Vietnamese"},
	{"th", "Thai"},
	{"id", "Indonesian"},
	{"ms", "Malay"},
	{"he", "Hebrew"},
	{"fa", "Persian"},
	{"ur", "Urdu"},
	{"bn", "Bengali"},
	{"ta", "Tamil"},
	{"te", "Telugu"},
	{"ml", "Malayalam"},
	{Auto, "Auto-detect"},
}

var index = func() map[string]int {
	m := make(map[string]int, len(table))
	for i, l := range table {
		m[l.Code] = i
	}
	return m
}()

// All returns the table in display order.
func All() []Language {
	return append([]Language(nil), table...)
}

func Lookup(code string) (Language, bool) {
	i, ok := index[code]
	if !ok {
		return Language{}, false
	}
	return table[i], true
}

func Valid(code string) bool {
	_, ok := index[code]
	return ok
}

// Name returns the display name for code, or code itself when unknown.
func Name(code string) string {
	if l, ok := Lookup(code); ok {
		return l.Name
	}
	return code
}

// Next returns the code after code in display order, wrapping around.
// Unknown codes move to the first entry.
func Next(code string) string {
	i, ok := index[code]
	if !ok {
		return table[0].Code
	}
	return table[(i+1)%len(table)].Code
}

func Prev(code string) string {
	i, ok := index[code]
	if !ok {
		return table[len(table)-1].Code
	}
	return table[(i-1+len(table))%len(table)].Code
}
