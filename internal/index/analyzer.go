package index

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Analyzer turns text into case-normalised word terms for BM25.
// It uses bleve's Unicode word-boundary tokenizer and lowercase filter.
type Analyzer struct {
	analyzer *analysis.DefaultAnalyzer
}

// NewAnalyzer creates the keyword analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		analyzer: &analysis.DefaultAnalyzer{
			Tokenizer: unicode.NewUnicodeTokenizer(),
			TokenFilters: []analysis.TokenFilter{
				lowercase.NewLowerCaseFilter(),
			},
		},
	}
}

// Terms returns the terms of text in order, repeats included.
func (a *Analyzer) Terms(text string) []string {
	stream := a.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) > 0 {
			terms = append(terms, string(tok.Term))
		}
	}
	return terms
}
