package mysql

import (
	"fmt"
	"strings"
)

// sanitizePrefix validates the table prefix. A dotted schema qualifier is
// allowed (schema.email becomes schema.email_outbox and friends).
func sanitizePrefix(prefix string) (string, error) {
	if prefix == "" {
		return "", ErrPrefixRequired
	}
	parts := strings.Split(prefix, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
		}
	}

	return prefix, nil
}

type tableNames struct {
	templates string
	outbox    string
	log       string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		templates: prefix + "_templates",
		outbox:    prefix + "_outbox",
		log:       prefix + "_log",
	}
}
