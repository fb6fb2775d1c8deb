package mtype

import "sort"

// Subscriptions maps subscription patterns to their annotation maps.
// Annotations are opaque to routing and are carried through unmodified.
type Subscriptions map[string]map[string]any

// Matches reports whether any subscribed pattern covers mt.
func (s Subscriptions) Matches(mt string) bool {
	for p := range s {
		if Matches(p, mt) {
			return true
		}
	}
	return false
}

// Patterns returns the subscribed patterns in sorted order.
func (s Subscriptions) Patterns() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the subscription set. Annotation
// maps are copied one level deep.
func (s Subscriptions) Clone() Subscriptions {
	if s == nil {
		return nil
	}
	out := make(Subscriptions, len(s))
	for p, ann := range s {
		cp := make(map[string]any, len(ann))
		for k, v := range ann {
			cp[k] = v
		}
		out[p] = cp
	}
	return out
}

// ToMap renders the subscription set in its wire form.
func (s Subscriptions) ToMap() map[string]any {
	out := make(map[string]any, len(s))
	for p, ann := range s {
		if ann == nil {
			ann = map[string]any{}
		}
		out[p] = ann
	}
	return out
}

// SubscriptionsFromMap decodes a wire-form subscription map. Annotation
// values that are not maps are replaced with empty maps rather than
// rejected, since annotations carry no routing meaning.
func SubscriptionsFromMap(raw map[string]any) Subscriptions {
	out := make(Subscriptions, len(raw))
	for p, v := range raw {
		if ann, ok := v.(map[string]any); ok {
			out[p] = ann
		} else {
			out[p] = map[string]any{}
		}
	}
	return out
}
