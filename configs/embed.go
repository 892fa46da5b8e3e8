// Package configs embeds the annotated options template written by
// `docsearch config init`.
package configs

import _ "embed"

// OptionsTemplate documents every option with its default value.
//
//go:embed docsearch.example.yaml
var OptionsTemplate string
