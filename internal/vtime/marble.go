package vtime

import (
	"fmt"
	"reflect"
)

// EventKind classifies one parsed marble-diagram event.
type EventKind int

const (
	// KindNext is a value emission.
	KindNext EventKind = iota
	// KindComplete is the stream's normal close ('|').
	KindComplete
	// KindError is the stream's error termination ('#').
	KindError
)

// RawEvent is one token parsed out of a marble string, before symbols are
// resolved against a values map.
type RawEvent struct {
	Tick   int64
	Kind   EventKind
	Symbol byte
}

// ParseMarble implements the marble diagram grammar: `-` advances one
// tick; a letter/digit emits at its tick; `|` closes; `#` errors; `(abc)`
// emits a,b,c simultaneously at one tick, then the group itself advances
// one tick; `^` marks the subscription point and does not itself advance
// time. Returns the parsed events and the subscription tick (0 if `^` is
// absent).
func ParseMarble(marble string) (events []RawEvent, subscriptionTick int64, err error) {
	subscriptionTick = -1
	tick := int64(0)
	i := 0

	for i < len(marble) {
		c := marble[i]
		switch {
		case c == '-':
			tick++
			i++
		case c == '^':
			if subscriptionTick != -1 {
				return nil, 0, fmt.Errorf("vtime: marble %q has more than one '^'", marble)
			}
			subscriptionTick = tick
			i++
		case c == '|':
			events = append(events, RawEvent{Tick: tick, Kind: KindComplete})
			tick++
			i++
		case c == '#':
			events = append(events, RawEvent{Tick: tick, Kind: KindError})
			tick++
			i++
		case c == '(':
			i++
			groupTick := tick
			closed := false
			for i < len(marble) && marble[i] != ')' {
				gc := marble[i]
				switch gc {
				case '|':
					events = append(events, RawEvent{Tick: groupTick, Kind: KindComplete})
					closed = true
				case '#':
					events = append(events, RawEvent{Tick: groupTick, Kind: KindError})
					closed = true
				default:
					if closed {
						return nil, 0, fmt.Errorf("vtime: marble %q has tokens after '|'/'#' inside a group", marble)
					}
					events = append(events, RawEvent{Tick: groupTick, Kind: KindNext, Symbol: gc})
				}
				i++
			}
			if i >= len(marble) {
				return nil, 0, fmt.Errorf("vtime: marble %q has an unterminated group", marble)
			}
			i++ // skip ')'
			tick++
		case isAlphaNum(c):
			events = append(events, RawEvent{Tick: tick, Kind: KindNext, Symbol: c})
			tick++
			i++
		default:
			return nil, 0, fmt.Errorf("vtime: marble %q has an invalid token %q at offset %d", marble, c, i)
		}
	}

	if subscriptionTick == -1 {
		subscriptionTick = 0
	}
	return events, subscriptionTick, nil
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ResolveValue looks up symbol in values (keyed by its single-character
// string form). If absent and symbol is a digit, it auto-converts to the
// corresponding number in T's underlying numeric kind.
func ResolveValue[T any](symbol byte, values map[string]T) (T, error) {
	var zero T
	key := string(symbol)
	if v, ok := values[key]; ok {
		return v, nil
	}
	if symbol >= '0' && symbol <= '9' {
		n := int(symbol - '0')
		converted, ok := convertInt[T](n)
		if ok {
			return converted, nil
		}
	}
	return zero, fmt.Errorf("vtime: no value mapped for marble symbol %q", key)
}

func convertInt[T any](n int) (T, bool) {
	var zero T
	rv := reflect.ValueOf(&zero).Elem()
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		rv.SetInt(int64(n))
		return zero, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		rv.SetUint(uint64(n))
		return zero, true
	case reflect.Float32, reflect.Float64:
		rv.SetFloat(float64(n))
		return zero, true
	case reflect.String:
		rv.SetString(string(rune('0' + n)))
		return zero, true
	case reflect.Interface:
		rv.Set(reflect.ValueOf(n))
		return zero, true
	default:
		return zero, false
	}
}
