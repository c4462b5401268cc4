package utils

import (
	"strings"

	"github.com/gofrs/uuid"
)

// DeriveId returns a stable name-based id. Parts are order sensitive, so
// ("a", "bc") and ("ab", "c") map to different ids.
func DeriveId(namespace uuid.UUID, parts ...string) uuid.UUID {
	var sb strings.Builder
	for i, part := range parts {
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(part)
	}
	return uuid.NewV5(namespace, sb.String())
}
