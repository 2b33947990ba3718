package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed identifier such as "bat-3f2a...". The random part is a
// version 7 UUID so identifiers sort roughly by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")
}
