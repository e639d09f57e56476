package core

import (
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// MonthGroup is one accordion bucket of transactions.
type MonthGroup struct {
	Key          string
	Start        time.Time
	Transactions []Transaction
}

// GroupByMonth buckets transactions by calendar month (UTC). Buckets are
// ordered by month start descending and each bucket's transactions by
// timestamp descending, ties keeping input order. Transactions with a zero
// timestamp are skipped. Empty input yields an empty, non-nil result.
func GroupByMonth(txs []Transaction, tag language.Tag) []MonthGroup {
	index := make(map[time.Time]int)
	groups := make([]MonthGroup, 0)
	for _, tx := range txs {
		if tx.Timestamp.IsZero() {
			continue
		}
		ts := tx.Timestamp.UTC()
		start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		i, ok := index[start]
		if !ok {
			i = len(groups)
			index[start] = i
			groups = append(groups, MonthGroup{Key: MonthLabel(start, tag), Start: start})
		}
		groups[i].Transactions = append(groups[i].Transactions, tx)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Start.After(groups[b].Start)
	})
	for i := range groups {
		items := groups[i].Transactions
		sort.SliceStable(items, func(a, b int) bool {
			return items[a].Timestamp.After(items[b].Timestamp)
		})
	}
	return groups
}

// MonthKeys returns the bucket keys in display order.
func MonthKeys(groups []MonthGroup) []string {
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.Key
	}
	return keys
}

var monthNames = map[language.Base][12]string{
	mustBase("en"): {"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
	mustBase("it"): {"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno", "luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"},
	mustBase("de"): {"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
	mustBase("fr"): {"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
	mustBase("es"): {"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
}

// SupportedLocales are the languages with localized month names.
var SupportedLocales = []language.Tag{
	language.BritishEnglish,
	language.AmericanEnglish,
	language.Italian,
	language.German,
	language.French,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(SupportedLocales)

// MatchLocale picks the best supported locale for an Accept-Language header,
// falling back to fallback when nothing matches.
func MatchLocale(acceptLanguage string, fallback language.Tag) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, i, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return SupportedLocales[i]
}

// MonthLabel renders the "Month Year" label for t, e.g. "December 2020".
func MonthLabel(t time.Time, tag language.Tag) string {
	base, _ := tag.Base()
	names, ok := monthNames[base]
	if !ok {
		names = monthNames[mustBase("en")]
	}
	return names[t.Month()-1] + " " + strconv.Itoa(t.Year())
}

func mustBase(s string) language.Base {
	return language.MustParseBase(s)
}
