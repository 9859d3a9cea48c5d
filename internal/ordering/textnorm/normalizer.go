// Package textnorm tokenizes informal Spanish chat text and maps number and
// unit words to canonical values. Every function here is pure and total.
package textnorm

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is one whitespace-delimited word of normalized text.
type Token struct {
	Text     string `json:"text"`
	Number   int    `json:"number,omitempty"`
	IsNumber bool   `json:"isNumber,omitempty"`
	// Decimal marks a number written with a fraction ("1.5", "1,5"). Number
	// holds it rounded.
	Decimal bool   `json:"decimal,omitempty"`
	Unit    string `json:"unit,omitempty"`
}

// IsUnit reports whether the token is a recognized unit word.
func (t Token) IsUnit() bool {
	return t.Unit != ""
}

// IsMeasure reports whether the token is a volume or weight unit. A number
// followed by one after a product name is a size ("pepsi 600 ml").
func (t Token) IsMeasure() bool {
	return measures[t.Unit]
}

// Result is the normalized view of a raw message.
type Result struct {
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
	Tokens     []Token `json:"tokens"`
}

// Words returns the token texts in order.
func (r Result) Words() []string {
	out := make([]string, len(r.Tokens))
	for i, t := range r.Tokens {
		out[i] = t.Text
	}
	return out
}

var cardinals = map[string]int{
	"un": 1, "uno": 1, "una": 1,
	"dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
	"once": 11, "doce": 12, "trece": 13, "catorce": 14, "quince": 15,
	"dieciseis": 16, "diecisiete": 17, "dieciocho": 18, "diecinueve": 19,
	"veinte": 20, "treinta": 30, "cuarenta": 40, "cincuenta": 50,
	"cien": 100,
}

var units = map[string]string{
	"litro": "litro", "litros": "litro", "lt": "litro", "lts": "litro", "l": "litro",
	"mililitro": "mililitro", "mililitros": "mililitro", "ml": "mililitro",
	"kilo": "kilo", "kilos": "kilo", "kg": "kilo", "kgs": "kilo",
	"gramo": "gramo", "gramos": "gramo", "gr": "gramo", "grs": "gramo", "g": "gramo",
	"caja": "caja", "cajas": "caja",
	"paquete": "paquete", "paquetes": "paquete", "paq": "paquete",
	"botella": "botella", "botellas": "botella",
	"lata": "lata", "latas": "lata",
	"bolsa": "bolsa", "bolsas": "bolsa",
	"unidad": "unidad", "unidades": "unidad", "u": "unidad",
	"docena": "docena", "docenas": "docena",
	"six": "sixpack", "sixpack": "sixpack", "sixpacks": "sixpack",
	"galon": "galon", "galones": "galon",
	"garrafon": "garrafon", "garrafones": "garrafon",
}

var measures = map[string]bool{
	"litro": true, "mililitro": true, "kilo": true, "gramo": true, "galon": true,
}

var stopwords = map[string]bool{
	"de": true, "del": true, "la": true, "el": true, "los": true, "las": true,
	"para": true, "por": true, "con": true, "a": true, "al": true, "en": true,
	"y": true, "e": true, "o": true, "que": true, "me": true, "mi": true,
	"porfa": true, "porfavor": true, "favor": true, "pf": true,
}

var folder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lower-cases text and strips diacritics ("Freír" -> "freir").
func Fold(text string) string {
	folded, _, err := transform.String(folder, strings.ToLower(text))
	if err != nil {
		return strings.ToLower(text)
	}
	return folded
}

// Normalize lower-cases, folds accents, drops punctuation and splits the text
// into annotated tokens. Unrecognized words pass through unchanged.
func Normalize(text string) Result {
	folded := Fold(text)

	rs := []rune(folded)
	var b strings.Builder
	b.Grow(len(folded))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case isDecimalSeparator(rs, i):
			b.WriteRune('.')
		default:
			b.WriteRune(' ')
		}
	}

	fields := splitDigitsFromLetters(strings.Fields(b.String()))
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		tok := Token{Text: f}
		if n, ok := ParseQuantity(f); ok {
			tok.Number = n
			tok.IsNumber = true
		} else if v, ok := parseDecimal(f); ok {
			tok.Number = int(math.Round(v))
			tok.IsNumber = true
			tok.Decimal = true
		} else if u, ok := CanonicalUnit(f); ok {
			tok.Unit = u
		}
		tokens = append(tokens, tok)
	}

	return Result{
		Raw:        text,
		Normalized: strings.Join(fields, " "),
		Tokens:     tokens,
	}
}

// isDecimalSeparator reports whether rs[i] is a '.' or ',' between digits.
func isDecimalSeparator(rs []rune, i int) bool {
	if rs[i] != '.' && rs[i] != ',' {
		return false
	}
	return i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1])
}

func parseDecimal(word string) (float64, bool) {
	if !strings.Contains(word, ".") {
		return 0, false
	}
	v, err := strconv.ParseFloat(word, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// splitDigitsFromLetters separates glued quantities like "2pepsis" or "1lt"
// and drops the multiplier x of "2x" and "x2".
func splitDigitsFromLetters(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 && f[0] == 'x' && isDigits(f[1:]) {
			out = append(out, f[1:])
			continue
		}
		cut := 0
		for cut < len(f) && (isDigit(f[cut]) || (f[cut] == '.' && cut > 0)) {
			cut++
		}
		if cut > 0 && cut < len(f) {
			if f[cut:] == "x" {
				out = append(out, f[:cut])
			} else {
				out = append(out, f[:cut], f[cut:])
			}
			continue
		}
		out = append(out, f)
	}
	return out
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

// ParseQuantity maps a digit string or Spanish cardinal word to an integer.
func ParseQuantity(word string) (int, bool) {
	if word == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(word); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}
	n, ok := cardinals[Fold(word)]
	return n, ok
}

// CanonicalUnit maps plural, abbreviated or singular unit variants to one name.
func CanonicalUnit(word string) (string, bool) {
	u, ok := units[Fold(word)]
	return u, ok
}

// IsStopword reports whether the word carries no product meaning.
func IsStopword(word string) bool {
	return stopwords[word]
}

// Singularize applies the common Spanish plural rules to a folded word.
func Singularize(word string) string {
	n := len(word)
	switch {
	case n > 4 && strings.HasSuffix(word, "ces") && strings.ContainsRune("aeiou", rune(word[n-4])):
		return word[:n-3] + "z"
	case n > 4 && strings.HasSuffix(word, "es") && strings.ContainsRune("lnrdj", rune(word[n-3])):
		return word[:n-2]
	case n > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:n-1]
	}
	return word
}

// NormalizePhrase folds, singularizes and drops stopwords, numbers and units,
// producing the comparable form of a product phrase ("Aceites de Canola" ->
// "aceite canola").
func NormalizePhrase(phrase string) string {
	return strings.Join(PhraseTokens(phrase), " ")
}

// PhraseTokens is NormalizePhrase before joining.
func PhraseTokens(phrase string) []string {
	res := Normalize(phrase)
	out := make([]string, 0, len(res.Tokens))
	for _, t := range res.Tokens {
		if t.IsNumber || t.IsUnit() || IsStopword(t.Text) {
			continue
		}
		out = append(out, Singularize(t.Text))
	}
	return out
}
