package assistant

import (
	"fmt"

	"github.com/felipepmaragno/sqlassist/internal/statement"
)

const (
	MessageAccurate  = "\n ✨ Generated Query is qualified as accurate"
	MessageBiased    = "\n❗The generated response might be biased. Consider checking or regenerating with another model."
	MessageConfirm   = "Do you want to proceed with this operation? Please confirm."
	MessageCancelled = "Operation cancelled by user."
)

func accuracyNote(accurate bool) string {
	if accurate {
		return MessageAccurate
	}
	return MessageBiased
}

// ConfirmationMessage is the text shown next to a generated query.
func ConfirmationMessage(plan statement.Plan, accurate bool) string {
	switch plan.Route {
	case statement.RouteConfirmBatch:
		return fmt.Sprintf("Multiple queries detected (%d). Do you want to proceed with all operations? Please confirm. \n", len(plan.Statements)) +
			accuracyNote(accurate)
	case statement.RouteConfirmWrite:
		return MessageConfirm + "\n" + accuracyNote(accurate)
	default:
		return accuracyNote(accurate)
	}
}
