// Package voice plays the pre-rendered audio phrases that accompany
// navigation and simulates the press-and-hold voice command flow.
package voice

import (
	"regexp"
	"sort"
)

// Phrase is one entry of the clip table: the symbolic key the UI speaks and
// the text the clip generator renders for it.
type Phrase struct {
	Key  string
	Text string
}

// Phrases is the fixed table the audio clips are generated from.
var Phrases = []Phrase{
	{Key: "account1", Text: "Account 1"},
	{Key: "account2", Text: "Account 2"},
	{Key: "account3", Text: "Account 3"},
	{Key: "cards", Text: "Cards"},
	{Key: "physical_cards", Text: "Physical cards"},
	{Key: "virtual_cards", Text: "Virtual cards"},
	{Key: "contact1", Text: "Sarah"},
	{Key: "contact2", Text: "James"},
	{Key: "contact3", Text: "Doctor Wilson"},
	{Key: "contact4", Text: "Mrs Chen"},
	{Key: "continue", Text: "Continue"},
	{Key: "sendmoney", Text: "Send money"},
	{Key: "sendmoneytonewaccount", Text: "Send money to a new account"},
	{Key: "moneysent", Text: "Your money has been sent"},
	{Key: "dashboard", Text: "Home"},
	{Key: "support", Text: "Support"},
}

var keyPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidKey reports whether key can name a clip file.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// PhraseText returns the text behind a key.
func PhraseText(key string) (string, bool) {
	for _, p := range Phrases {
		if p.Key == key {
			return p.Text, true
		}
	}
	return "", false
}

// SortedKeys returns the table keys in lexical order.
func SortedKeys() []string {
	keys := make([]string, 0, len(Phrases))
	for _, p := range Phrases {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys
}
