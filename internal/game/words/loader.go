package words

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_words.yaml
var defaultWordsYAML []byte

// yamlWordsFile is the top-level YAML structure for word list files.
type yamlWordsFile struct {
	Words []string `yaml:"words"`
}

// LoadListFromFile reads and validates a word list YAML file.
//
// Precondition: path must point to a valid YAML word list file.
// Postcondition: Returns a non-empty list of trimmed words or a non-nil error.
func LoadListFromFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading word list %s: %w", path, err)
	}
	list, err := LoadListFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("word list %s: %w", path, err)
	}
	return list, nil
}

// LoadListFromBytes parses and validates a word list from YAML bytes.
//
// Precondition: data must be valid YAML with a non-empty `words` sequence.
// Postcondition: Returns a non-empty list of trimmed words or a non-nil error.
func LoadListFromBytes(data []byte) ([]string, error) {
	var file yamlWordsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing word list YAML: %w", err)
	}

	if len(file.Words) == 0 {
		return nil, fmt.Errorf("word list contains no words")
	}

	list := make([]string, 0, len(file.Words))
	for i, w := range file.Words {
		trimmed := strings.TrimSpace(w)
		if trimmed == "" {
			return nil, fmt.Errorf("word %d is blank", i)
		}
		list = append(list, trimmed)
	}
	return list, nil
}

// DefaultList returns the embedded default guess-word list.
//
// Postcondition: Returns a non-empty word list.
func DefaultList() []string {
	list, err := LoadListFromBytes(defaultWordsYAML)
	if err != nil {
		// The embedded list is validated by tests; failing here means the
		// binary itself is broken.
		panic("words: embedded default list invalid: " + err.Error())
	}
	return list
}
