// Package intent classifies free-text chat messages into a fixed set of
// intents and extracts their arguments. It knows nothing about Slack
// transport beyond the <@USERID> mention token format.
package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nduati/equipbot/internal/directory"
)

type Kind string

const (
	KindGreeting      Kind = "greeting"
	KindSearchByID    Kind = "search_by_id"
	KindSearchByOwner Kind = "search_by_owner"
	KindLove          Kind = "love"
	KindGratitude     Kind = "gratitude"
	KindFortune       Kind = "fortune"
	KindHelp          Kind = "help"
	KindUnrecognized  Kind = "unrecognized"
)

// OwnerRef is the owner argument of a search-by-owner intent: either the
// requesting user ("my"/"me") or a <@USERID> mention. A zero OwnerRef is
// invalid and resolves to no owner, which downstream surfaces as not-found.
type OwnerRef struct {
	Self   bool
	UserID string
}

func (r OwnerRef) Valid() bool {
	return r.Self || r.UserID != ""
}

// Resolve returns the owner Slack id the reference points at, or "" when
// the reference is invalid.
func (r OwnerRef) Resolve(requestingUserID string) string {
	if r.Self {
		return requestingUserID
	}
	return r.UserID
}

// Intent is the classification result. Only the fields for the matched
// kind are populated.
type Intent struct {
	Kind          Kind
	EquipmentID   string
	Owner         OwnerRef
	EquipmentType directory.Type
}

// equipmentTypeSynonyms is the static many-to-one synonym table. It is
// build-time constant data; the search-by-owner rule's capture group is
// exactly this key set.
var equipmentTypeSynonyms = map[string]directory.Type{
	"mac":         directory.TypeMacbooks,
	"tmac":        directory.TypeMacbooks,
	"macbook":     directory.TypeMacbooks,
	"charger":     directory.TypeChargers,
	"charge":      directory.TypeChargers,
	"procharger":  directory.TypeChargers,
	"tb":          directory.TypeThunderbolts,
	"thunderbolt": directory.TypeThunderbolts,
	"thunder":     directory.TypeThunderbolts,
	"dongle":      directory.TypeDongles,
}

// rules is the ordered dispatch list; the first pattern that matches wins.
// Order is load-bearing: the anchored greeting rule must run before the
// broader search rules, search-by-owner before search-by-id (both share the
// find/get/search/retrieve verbs), and specific rules before the loose
// help/gratitude substring rules.
var rules = []struct {
	pattern *regexp.Regexp
	kind    Kind
}{
	{regexp.MustCompile(`(?i)^(?:hello|hi|hey|aloha|bonjour)$`), KindGreeting},
	{regexp.MustCompile(`(?i)(?:find|get|search|retrieve)\s(<@.*>.*?|my|me)\s(mac|tmac|macbook|charger|charge|procharger|tb|thunderbolt|thunder|dongle)`), KindSearchByOwner},
	{regexp.MustCompile(`(?i)(?:find|get|search|retrieve)\s(\w+\/\S*)`), KindSearchByID},
	{regexp.MustCompile(`(?i)love`), KindLove},
	{regexp.MustCompile(`(?i)thanks|thank`), KindGratitude},
	{regexp.MustCompile(`(?i)fortune`), KindFortune},
	{regexp.MustCompile(`(?i)help`), KindHelp},
}

// Classify runs the ordered rule list against the message and extracts the
// matched rule's arguments. It never fails: malformed arguments degrade to
// an intent whose lookup will find nothing.
func Classify(text string) Intent {
	for _, rule := range rules {
		match := rule.pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		switch rule.kind {
		case KindSearchByID:
			return Intent{
				Kind:        KindSearchByID,
				EquipmentID: strings.ToUpper(strings.TrimSpace(match[1])),
			}
		case KindSearchByOwner:
			return Intent{
				Kind:          KindSearchByOwner,
				Owner:         parseOwnerRef(match[1]),
				EquipmentType: canonicalEquipmentType(match[2]),
			}
		default:
			return Intent{Kind: rule.kind}
		}
	}
	return Intent{Kind: KindUnrecognized}
}

// parseOwnerRef extracts an owner reference from the captured token. The
// dispatch regex only captures complete mention tokens, but a malformed
// token still degrades to an invalid (zero) ref rather than an error; a
// lookup with it comes up empty.
func parseOwnerRef(token string) OwnerRef {
	token = strings.TrimSpace(token)
	switch strings.ToLower(token) {
	case "my", "me":
		return OwnerRef{Self: true}
	}
	open := strings.Index(token, "<@")
	if open < 0 {
		return OwnerRef{}
	}
	rest := token[open+2:]
	end := strings.Index(rest, ">")
	if end < 0 {
		return OwnerRef{}
	}
	return OwnerRef{UserID: rest[:end]}
}

// canonicalEquipmentType maps a synonym token to its store type. The regex
// already constrains the token set, so a miss is a programming error.
func canonicalEquipmentType(token string) directory.Type {
	t, ok := equipmentTypeSynonyms[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		panic(fmt.Sprintf("intent: equipment type synonym %q escaped the dispatch regex", token))
	}
	return t
}
