// Package assets provides embedded static assets for the application.
package assets

import (
	_ "embed"
)

// DisambiguationRules is the default brand rule table consulted by the
// disambiguation layer. Entries list families that cannot be told apart from
// the photo alone, plus brand aliases used when comparing OCR text.
//
//go:embed rules/disambiguation.json
var DisambiguationRules []byte
