package vars

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

const DotEnvFile = ".env"

// LoadDotEnv reads the .env file at the collection root. A missing file
// yields an empty map.
func LoadDotEnv(dir string) (map[string]string, error) {
	path := filepath.Join(dir, DotEnvFile)
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "read %s", path)
	}
	return values, nil
}

// ProcessEnv is the os environment overlaid with dotenv values.
func ProcessEnv(dotenv map[string]string) map[string]string {
	out := make(map[string]string, len(dotenv))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			out[k] = v
		}
	}
	for k, v := range dotenv {
		out[k] = v
	}
	return out
}
