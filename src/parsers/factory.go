package parsers

import (
	"fmt"

	"github.com/username/binnaculum/backend/src/parsers/generic"
)

// GetParser returns the parser registered for a source format.
func GetParser(source string) (Parser, error) {
	switch source {
	case "canonical":
		return generic.NewParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for source: %s", source)
	}
}
