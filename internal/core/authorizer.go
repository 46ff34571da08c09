package core

import "github.com/dkeye/Board/internal/domain"

// Allow decides whether actor may perform action on target.
// Anyone may send; only the author may edit or delete.
// Username comparison is exact and case-sensitive.
func Allow(actor string, target *domain.Message, action domain.Action) bool {
	switch action {
	case domain.ActionSend:
		return true
	case domain.ActionEdit, domain.ActionDelete:
		return target != nil && actor != "" && target.Author == actor
	default:
		return false
	}
}
