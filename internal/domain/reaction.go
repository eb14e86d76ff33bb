package domain

import "sort"

type ReactionKind string

const (
	Heart    ReactionKind = "HEART"
	Laugh    ReactionKind = "LAUGH"
	Wow      ReactionKind = "WOW"
	Sad      ReactionKind = "SAD"
	ThumbsUp ReactionKind = "THUMBS_UP"
	Fire     ReactionKind = "FIRE"
)

var ReactionKinds = []ReactionKind{Heart, Laugh, Wow, Sad, ThumbsUp, Fire}

func (k ReactionKind) Valid() bool {
	for _, known := range ReactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ReactionTally maps a kind to the users who reacted with it. Kinds with no
// users are never present.
type ReactionTally map[ReactionKind][]string

func (t ReactionTally) Has(kind ReactionKind, userID string) bool {
	for _, u := range t[kind] {
		if u == userID {
			return true
		}
	}
	return false
}

func (t ReactionTally) Count(kind ReactionKind) int { return len(t[kind]) }

// Add records userID under kind and reports whether the tally changed.
func (t ReactionTally) Add(kind ReactionKind, userID string) bool {
	if t.Has(kind, userID) {
		return false
	}
	t[kind] = append(t[kind], userID)
	return true
}

// Normalize sorts user lists and drops empty kinds.
func (t ReactionTally) Normalize() ReactionTally {
	for k, users := range t {
		if len(users) == 0 {
			delete(t, k)
			continue
		}
		sort.Strings(users)
	}
	return t
}
