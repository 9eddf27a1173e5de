package secret

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict replaces ${VAR} with the value of VAR. Unlike
// os.ExpandEnv, an unset variable is an error; a variable set to the empty
// string expands to "". "$$" yields a literal "$". A bare $VAR is left
// untouched so PEM bodies and passwords containing "$" survive.
func ExpandEnvStrict(s string) (string, error) {
	return expand(s, os.LookupEnv)
}

func expand(s string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	var b strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "$$") {
			b.WriteByte('$')
			i += 2
			continue
		}
		var loc []int
		if strings.HasPrefix(s[i:], "${") {
			loc = envVarPattern.FindStringSubmatchIndex(s[i:])
		}
		if loc == nil || loc[0] != 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		name := s[i+loc[2] : i+loc[3]]
		v, ok := lookup(name)
		if !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		b.WriteString(v)
		i += loc[1]
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return b.String(), nil
}
