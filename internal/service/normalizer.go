package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// defaultNameSynonyms groups given names that are commonly used interchangeably.
var defaultNameSynonyms = [][]string{
	{"william", "bill", "will", "billy", "liam"},
	{"robert", "bob", "rob", "bobby", "robbie"},
	{"richard", "dick", "rick", "richie"},
	{"elizabeth", "liz", "beth", "lizzie", "betty", "eliza"},
	{"margaret", "maggie", "meg", "peggy"},
	{"katherine", "catherine", "kate", "kathy", "cathy", "katie"},
	{"james", "jim", "jimmy", "jamie"},
	{"john", "jack", "johnny"},
	{"michael", "mike", "mick", "mikey"},
	{"thomas", "tom", "tommy"},
	{"edward", "ed", "eddie", "ted", "ned"},
	{"alexander", "alex", "sandy", "xander"},
	{"alexandra", "alex", "sandra", "lexi"},
	{"christopher", "chris", "kit"},
	{"christine", "chris", "chrissie", "tina"},
	{"daniel", "dan", "danny"},
	{"david", "dave", "davy"},
	{"jonathan", "jon", "jonny"},
	{"joseph", "joe", "joey"},
	{"matthew", "matt"},
	{"nicholas", "nick", "nicky"},
	{"patricia", "pat", "patty", "trish"},
	{"rebecca", "becky", "becca"},
	{"samuel", "sam", "sammy"},
	{"samantha", "sam", "sammy"},
	{"stephen", "steven", "steve"},
	{"susan", "sue", "susie"},
	{"anthony", "tony"},
	{"jennifer", "jen", "jenny"},
	{"victoria", "vicky", "tori"},
}

var identifierPattern = regexp.MustCompile(`^[A-Z0-9]{7,9}$`)

// Normalizer canonicalizes asserted attributes into search keys.
type Normalizer struct {
	synonyms map[string][]string
}

// NormalizerOption configures the normalizer.
type NormalizerOption func(*Normalizer)

// WithNameSynonyms adds synonym groups on top of the built-in table.
func WithNameSynonyms(groups [][]string) NormalizerOption {
	return func(n *Normalizer) {
		n.addGroups(groups)
	}
}

// NewNormalizer builds a normalizer seeded with the built-in synonym table.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{synonyms: make(map[string][]string)}
	n.addGroups(defaultNameSynonyms)
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// LoadNameSynonyms reads extra synonym groups from a CSV file, one group per row.
// An empty path yields no groups.
func LoadNameSynonyms(path string) ([][]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open synonyms file: %w", err)
	}
	defer f.Close()
	return readSynonyms(f)
}

func readSynonyms(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var groups [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read synonyms: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		groups = append(groups, record)
	}
	return groups, nil
}

func (n *Normalizer) addGroups(groups [][]string) {
	for _, group := range groups {
		folded := make([]string, 0, len(group))
		for _, name := range group {
			if f := FoldText(name); f != "" {
				folded = append(folded, f)
			}
		}
		for _, name := range folded {
			n.synonyms[name] = mergeUnique(n.synonyms[name], folded)
		}
	}
}

// Normalize derives canonical search keys. The original assertion is kept verbatim.
func (n *Normalizer) Normalize(assertion models.MatchAssertion) models.NormalizedAssertion {
	out := models.NormalizedAssertion{
		Original:    assertion,
		MiddleName:  FoldText(assertion.MiddleName),
		LastName:    FoldText(assertion.LastName),
		DateOfBirth: assertion.DateOfBirth,
	}
	if first := FoldText(assertion.FirstName); first != "" {
		out.FirstNames = n.ExpandFirstName(first)
	}
	out.FullNameKeys = fullNameKeys(out.FirstNames, out.LastName)
	out.NationalInsuranceNumber = CanonicalIdentifier(assertion.NationalInsuranceNumber)
	out.EmailAddress = CanonicalEmail(assertion.EmailAddress)
	out.Trn = CanonicalIdentifier(assertion.Trn)
	return out
}

// ExpandFirstName returns the folded name followed by its synonyms in sorted order.
func (n *Normalizer) ExpandFirstName(folded string) []string {
	names := []string{folded}
	synonyms := append([]string(nil), n.synonyms[folded]...)
	sort.Strings(synonyms)
	for _, s := range synonyms {
		if s != folded {
			names = append(names, s)
		}
	}
	return names
}

// NameKey is the index key stored for a person's name.
func NameKey(first, last string) string {
	first, last = FoldText(first), FoldText(last)
	if first == "" || last == "" {
		return ""
	}
	return first + " " + last
}

func fullNameKeys(firstNames []string, last string) []string {
	if last == "" || len(firstNames) == 0 {
		return nil
	}
	keys := make([]string, 0, len(firstNames))
	for _, first := range firstNames {
		keys = append(keys, first+" "+last)
	}
	return keys
}

// FoldText lower-cases text without regard to locale, strips accents and
// punctuation, and collapses whitespace. "  José-María O'Neil " folds to
// "jose maria oneil".
func FoldText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripAccents, value)
	if err != nil {
		stripped = value
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CanonicalIdentifier strips separators from NINO/TRN-like values. Values
// that do not look like an identifier afterwards are returned trimmed but
// otherwise untouched.
func CanonicalIdentifier(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/', '\t':
			return -1
		}
		return unicode.ToUpper(r)
	}, trimmed)
	if identifierPattern.MatchString(cleaned) {
		return cleaned
	}
	return trimmed
}

// CanonicalEmail lower-cases and trims an email address.
func CanonicalEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func mergeUnique(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, list := range [][]string{existing, extra} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
