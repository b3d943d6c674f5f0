package cache

import (
	"fmt"
	"strings"
)

// Delimiter separates namespace, tenant id and logical key in a physical key
const Delimiter = "|"

// DefaultNamespace is used when Options.Namespace is empty
const DefaultNamespace = "tenancy"

func validatePart(kind, s string, allowEmpty bool) error {
	if s == "" && !allowEmpty {
		return fmt.Errorf("%w: empty %s", ErrInvalidKey, kind)
	}
	if strings.Contains(s, Delimiter) {
		return fmt.Errorf("%w: %s %q contains %q", ErrInvalidKey, kind, s, Delimiter)
	}
	return nil
}

// tenantPrefix returns "<namespace>|<tenantID>|"
func tenantPrefix(namespace, tenantID string) string {
	return namespace + Delimiter + tenantID + Delimiter
}

// PhysicalKey builds the transport key for a tenant-scoped logical key.
func PhysicalKey(namespace, tenantID, key string) (string, error) {
	if err := validatePart("tenant id", tenantID, false); err != nil {
		return "", err
	}
	if err := validatePart("key", key, false); err != nil {
		return "", err
	}
	return tenantPrefix(namespace, tenantID) + key, nil
}

// PhysicalPrefix builds the transport prefix covering every key of tenantID
// that starts with prefix. An empty prefix covers the whole tenant.
func PhysicalPrefix(namespace, tenantID, prefix string) (string, error) {
	if err := validatePart("tenant id", tenantID, false); err != nil {
		return "", err
	}
	if err := validatePart("prefix", prefix, true); err != nil {
		return "", err
	}
	return tenantPrefix(namespace, tenantID) + prefix, nil
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// EscapeGlob escapes glob metacharacters so s matches only itself in a
// Redis SCAN MATCH pattern.
func EscapeGlob(s string) string {
	return globEscaper.Replace(s)
}
