package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID generates a run id satisfying ValidateName when the caller does
// not supply one explicitly: a timestamp-free random identifier so repeated
// runs never collide, shaped to the restricted run-id character set.
func NewRunID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "run-" + id[:12]
}
