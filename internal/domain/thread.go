package domain

import (
	"errors"
	"strings"
)

// ThreadKey identifies the direct-message thread of an unordered pair.
// Each id is escaped before joining, so distinct pairs never share a key.
type ThreadKey string

const threadKeySep = "|"

var ErrInvalidThread = errors.New("thread needs two distinct participants")

var keyEscaper = strings.NewReplacer(`\`, `\\`, threadKeySep, `\`+threadKeySep)

func NewThreadKey(a, b ClientID) ThreadKey {
	if b < a {
		a, b = b, a
	}
	return ThreadKey(keyEscaper.Replace(string(a)) + threadKeySep + keyEscaper.Replace(string(b)))
}

// Participants returns the sorted pair encoded in the key.
func (k ThreadKey) Participants() (ClientID, ClientID, bool) {
	var parts [2]strings.Builder
	s, i := string(k), 0
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
			if j == len(s) {
				return "", "", false
			}
			parts[i].WriteByte(s[j])
		case threadKeySep[0]:
			if i == 1 {
				return "", "", false
			}
			i++
		default:
			parts[i].WriteByte(s[j])
		}
	}
	if i != 1 {
		return "", "", false
	}
	return ClientID(parts[0].String()), ClientID(parts[1].String()), true
}

// Thread is one persisted direct-message pairing.
type Thread struct {
	Key ThreadKey
	A   ClientID
	B   ClientID
}

// Normalized returns the thread with A <= B and the key derived from them.
func (t Thread) Normalized() (Thread, error) {
	if t.A == "" || t.B == "" || t.A == t.B {
		return Thread{}, ErrInvalidThread
	}
	if t.B < t.A {
		t.A, t.B = t.B, t.A
	}
	t.Key = NewThreadKey(t.A, t.B)
	return t, nil
}

// Partner returns the other participant of the thread.
func (t Thread) Partner(of ClientID) (ClientID, bool) {
	switch of {
	case t.A:
		return t.B, true
	case t.B:
		return t.A, true
	}
	return "", false
}
