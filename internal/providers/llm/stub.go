package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/srt"
)

// Stub returns canned translations and copy without calling a model. Used
// when STUB_PROVIDERS is set.
type Stub struct{}

// Translate tags every cue with the target language
func (Stub) Translate(ctx context.Context, srtText, targetLanguage string) (string, error) {
	cues, err := srt.Parse(srtText)
	if err != nil {
		return "", err
	}
	texts := srt.Texts(cues)
	for i, t := range texts {
		texts[i] = fmt.Sprintf("[%s] %s", targetLanguage, t)
	}
	out, err := srt.ReplaceTexts(cues, texts)
	if err != nil {
		return "", err
	}
	return srt.Format(out), nil
}

// GenerateCopy fills every section from the project title
func (Stub) GenerateCopy(ctx context.Context, inputs models.CopyInputs) (models.Sections, error) {
	title := inputs.Title
	if title == "" {
		title = "Untitled"
	}
	tag := "#" + strings.ReplaceAll(strings.ToLower(title), " ", "")
	return models.Sections{
		models.SectionTitle:           title,
		models.SectionCaption:         fmt.Sprintf("Everything you need to know about %s.", title),
		models.SectionMicroCaption:    title + " in a minute",
		models.SectionMetaDescription: fmt.Sprintf("A short guide to %s for %s.", title, inputs.Platform),
		models.SectionHashtags:        tag + " #video",
		models.SectionCTA:             "Follow for more",
		models.SectionAltText:         "Video about " + title,
	}, nil
}

// RegenerateSection appends the instruction to the current value
func (Stub) RegenerateSection(ctx context.Context, inputs models.CopyInputs, section, currentValue, instruction string) (string, error) {
	return strings.TrimSpace(fmt.Sprintf("%s (%s)", currentValue, instruction)), nil
}
