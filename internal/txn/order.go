package txn

import (
	"fmt"
	"reflect"
	"sort"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// defaultCollator provides a deterministic, locale-stable ordering for
// string keys, independent of the process's default locale — two runs
// of the same transaction set must lock in the same order regardless of
// LC_COLLATE.
var defaultCollator = collate.New(language.Und)

// CanonicalKeyLess compares two keys of an Ordered type, routing
// strings through the locale-stable collator and falling back to plain
// ordering otherwise. Adapters with statically typed keys can use this
// directly instead of the interface-based comparator the commit
// protocol itself uses internally.
func CanonicalKeyLess[K constraints.Ordered](a, b K) bool {
	if as, ok := any(a).(string); ok {
		bs, _ := any(b).(string)
		return defaultCollator.CompareString(as, bs) < 0
	}
	return a < b
}

// sortItemsCanonical orders write items by owner pointer identity first
// (stable across a process's lifetime), then by key within the owner.
// Every commit attempt that touches the same items locks them in this
// same order, which is what makes the lock phase deadlock-free.
func sortItemsCanonical(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		oi := ownerAddr(items[i].Owner)
		oj := ownerAddr(items[j].Owner)
		if oi != oj {
			return oi < oj
		}
		return lessKey(items[i].Key, items[j].Key)
	})
}

func ownerAddr(a Adapter) uintptr {
	v := reflect.ValueOf(a)
	if v.Kind() == reflect.Ptr {
		return v.Pointer()
	}
	// Non-pointer adapters (unusual, but not disallowed) sort after all
	// pointer-identified ones, stably amongst themselves.
	return ^uintptr(0)
}

func lessKey(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return defaultCollator.CompareString(av, bv) < 0
	case int:
		bv, _ := b.(int)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case uint64:
		bv, _ := b.(uint64)
		return av < bv
	default:
		return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
	}
}
