package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// dollarPlaceholders rewrites ? placeholders as $1, $2, ... for Postgres.
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
