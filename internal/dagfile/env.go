package dagfile

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv exports every key in the .env file at path into the
// process environment (without overwriting variables already set),
// widening where a rule's $NAME substitution may have come from. A
// missing file is not an error: most DAG files have no companion
// .env. This is a supplement beyond the original Makeflow parser,
// which only ever consulted the shell's environment.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); !set {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandEnv substitutes $NAME and ${NAME} against the current process
// environment. An undefined variable expands to the empty string,
// matching the original's getenv-or-NULL-then-strdup("") behavior.
func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}
