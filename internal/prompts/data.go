package prompts

import "github.com/jimdaga/reelpipe/internal/models"

// CopyData feeds the copy prompt
type CopyData struct {
	Language      string
	Title         string
	Platform      string
	SourceURL     string
	UserNote      string
	SearchResults []models.SearchSnippet
	Transcript    string
}

// RegenerateData feeds the regenerate prompt
type RegenerateData struct {
	Language    string
	Section     string
	Current     string
	Instruction string
	Title       string
	Platform    string
	UserNote    string
}

// TranslateData feeds the translate prompt. LinesJSON is Lines encoded as a
// JSON array.
type TranslateData struct {
	TargetLanguage string
	Lines          []string
	LinesJSON      string
}
