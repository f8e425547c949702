package parsers

import (
	"io"

	"github.com/username/binnaculum/backend/src/models"
)

// Parser turns one broker export stream into canonical transactions plus the
// per-row errors it rejected along the way. Row errors never abort the rest
// of the file.
type Parser interface {
	Parse(file io.Reader) (*models.ParseResult, error)
}
