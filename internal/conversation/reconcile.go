package conversation

import (
	"sort"

	"voxareflect/internal/domain"
)

// Reconcile replaces the entry with updated.ID or appends updated, and returns
// a new list sorted by id descending. The input list is not modified.
func Reconcile(list []domain.Conversation, updated domain.Conversation) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(list)+1)
	replaced := false
	for _, conv := range list {
		if conv.ID != updated.ID {
			out = append(out, conv)
			continue
		}
		if !replaced {
			out = append(out, updated)
			replaced = true
		}
	}
	if !replaced {
		out = append(out, updated)
	}
	SortByIDDesc(out)
	return out
}

// Remove returns a copy of list without the entry for id.
func Remove(list []domain.Conversation, id int) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(list))
	for _, conv := range list {
		if conv.ID != id {
			out = append(out, conv)
		}
	}
	return out
}

// SortByIDDesc orders list newest first in place.
func SortByIDDesc(list []domain.Conversation) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID > list[j].ID })
}

// ProvisionalID returns an id no existing conversation uses.
func ProvisionalID(list []domain.Conversation) int {
	next := len(list)
	for _, conv := range list {
		if conv.ID >= next {
			next = conv.ID + 1
		}
	}
	return next
}
