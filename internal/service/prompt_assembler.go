package service

import (
	"regexp"
	"strings"

	"story-server/internal/models"
)

// AspectRatio - целевое соотношение сторон генерируемых изображений.
type AspectRatio string

const (
	AspectLandscape AspectRatio = "landscape"
	AspectPortrait  AspectRatio = "portrait"
	AspectSquare    AspectRatio = "square"
)

// Директивы соотношения сторон. Тексты фиксированы: их видит генеративный
// API, и от формулировки зависит результат.
var aspectDirectives = map[AspectRatio]string{
	AspectLandscape: "Use a landscape aspect ratio (16:9) for the image.",
	AspectPortrait:  "Use a portrait aspect ratio (9:16) for the image.",
	AspectSquare:    "Use a square aspect ratio (1:1) for the image.",
}

const (
	characterDetailsLabel = "Character details: "
	refinementNotesLabel  = "Additional requirements: "
)

var templateRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// PromptAssembler собирает финальный промпт генерации для ноды.
// Порядок частей фиксирован, разделитель - ". ", пустые части опускаются:
//  1. стайлгайд (style_override ноды с откатом на default);
//  2. директива соотношения сторон;
//  3. описания присутствующих персонажей;
//  4. image_prompt ноды с разрешенными плейсхолдерами {{a.b.c}};
//  5. заметки доработки (только в режиме уточнения изображения).
type PromptAssembler struct {
	ratio AspectRatio
}

// NewPromptAssembler создает сборщик с заданным соотношением сторон.
// Пустое или неизвестное значение означает "без директивы".
func NewPromptAssembler(ratio AspectRatio) *PromptAssembler {
	return &PromptAssembler{ratio: ratio}
}

// Assemble собирает промпт для ноды. notes - заметки доработки,
// пустая строка вне режима уточнения.
func (a *PromptAssembler) Assemble(doc *models.StoryDocument, node *models.Node, notes string) string {
	parts := make([]string, 0, 5)

	if guide := doc.StyleGuide(node.StyleOverride); guide != "" {
		parts = append(parts, guide)
	}

	if directive, ok := aspectDirectives[a.ratio]; ok {
		parts = append(parts, directive)
	}

	if described := a.characterDetails(doc, node); described != "" {
		parts = append(parts, characterDetailsLabel+described)
	}

	if prompt := ResolveTemplates(doc, node.ImagePrompt); prompt != "" {
		parts = append(parts, prompt)
	}

	if notes != "" {
		parts = append(parts, refinementNotesLabel+notes)
	}

	return strings.Join(parts, ". ")
}

func (a *PromptAssembler) characterDetails(doc *models.StoryDocument, node *models.Node) string {
	if len(node.CharactersPresent) == 0 {
		return ""
	}
	descriptions := make([]string, 0, len(node.CharactersPresent))
	for _, id := range node.CharactersPresent {
		if char, ok := doc.Characters[id]; ok && char.Describe() != "" {
			descriptions = append(descriptions, char.Describe())
		}
	}
	return strings.Join(descriptions, " ")
}

// ResolveTemplates подставляет плейсхолдеры вида {{category.id.field}}
// значениями из документа. Неразрешимый путь оставляет плейсхолдер
// в тексте нетронутым.
func ResolveTemplates(doc *models.StoryDocument, text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return templateRe.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		if key == "" {
			return match
		}
		resolved, ok := doc.ResolvePath(strings.Split(key, "."))
		if !ok {
			return match
		}
		return resolved
	})
}
