package engine

import "github.com/kk-code-lab/chronolake/internal/apierror"

const maxNameLen = 128

// validateTableName rejects table names that cannot round-trip through
// chunk file names, where underscores separate the table from the
// partition key. Anything outside the charset also stays out of the
// filesystem entirely.
func validateTableName(name string) error {
	if name == "" {
		return apierror.InvalidArgumentf("table", name, "name is required")
	}
	if len(name) > maxNameLen {
		return apierror.InvalidArgumentf("table", name, "name longer than %d characters", maxNameLen)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return apierror.InvalidArgumentf("table", name, "invalid character %q at position %d", string(c), i)
		}
	}
	return nil
}

// validatePartitionKey allows the richer charset partition templates
// produce (timestamps, underscored composites) while keeping keys safe to
// embed in file names.
func validatePartitionKey(key string) error {
	if key == "" {
		return apierror.InvalidArgumentf("partition", key, "key is required")
	}
	if len(key) > maxNameLen {
		return apierror.InvalidArgumentf("partition", key, "key longer than %d characters", maxNameLen)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return apierror.InvalidArgumentf("partition", key, "invalid character %q at position %d", string(c), i)
		}
	}
	return nil
}
