package platform

import (
	"strings"

	"coinScope/internal/model"
)

// Classify resolves whether a coin backs a post or a writer.
func Classify(meta model.CoinMetadata) model.CoinKind {
	if strings.Contains(strings.ToLower(meta.Extensions.CoinType), "post") {
		return model.KindPost
	}
	if p := meta.Extensions.Paragraph; p != nil && p.NoteID != "" {
		return model.KindPost
	}
	return model.KindWriter
}
