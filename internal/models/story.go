package models

import (
	"fmt"
	"strings"
	"time"
)

// Категории консистентных элементов. Значения совпадают с ключами
// в документе истории и используются как часть HTTP API редактора.
type ElementCategory string

const (
	CategoryStyleGuides ElementCategory = "style_guides"
	CategoryCharacters  ElementCategory = "characters"
	CategoryLocations   ElementCategory = "locations"
)

// DefaultStyleKey - ключ стайлгайда, который используется,
// если у ноды нет собственного style_override.
const DefaultStyleKey = "default"

// MaxGenerationHistory - максимум записей истории генерации на одну ноду.
// Оригинальная запись (isOriginal) не учитывается при вытеснении.
const MaxGenerationHistory = 5

// StoryDocument - полный документ истории: граф нод плюс вспомогательные
// таблицы. Формат полей фиксирован - это сериализация story.json,
// совместимая с уже существующими документами.
type StoryDocument struct {
	Nodes             map[string]*Node             `json:"nodes"`
	StyleGuides       map[string]Element           `json:"style_guides,omitempty"`
	Characters        map[string]Element           `json:"characters,omitempty"`
	Locations         map[string]Element           `json:"locations,omitempty"`
	GenerationHistory map[string][]GenerationEntry `json:"generation_history,omitempty"`
}

// Node - одна сцена истории.
type Node struct {
	ID                string   `json:"id"`
	Text              string   `json:"text,omitempty"`
	ImagePrompt       string   `json:"image_prompt,omitempty"`
	StyleOverride     string   `json:"style_override,omitempty"`
	CharactersPresent []string `json:"characters_present,omitempty"`
	Location          string   `json:"location,omitempty"`
	Choices           []Choice `json:"choices,omitempty"`

	AutoTransition      bool   `json:"auto_transition,omitempty"`
	AutoTransitionDelay int    `json:"auto_transition_delay,omitempty"` // мс, только для терминальных нод
	TransitionDelay     int    `json:"transition_delay,omitempty"`      // мс, задержка auto_transition
	AutoFlashback       string `json:"auto_flashback,omitempty"`
	NoContext           bool   `json:"no_context,omitempty"`

	// Поля хранения изображения. В каждый момент времени заполнено не более
	// одного из пары pre_rendered_image/image_url (legacy-документы могут
	// содержать оба - см. CleanupImageStorage).
	PreRenderedImage       string `json:"pre_rendered_image,omitempty"`
	ImageURL               string `json:"image_url,omitempty"`
	PreRenderedImageMobile string `json:"pre_rendered_image_mobile,omitempty"`
	ImageURLMobile         string `json:"image_url_mobile,omitempty"`
}

// Choice - направленное ребро графа истории.
type Choice struct {
	Text             string `json:"text"`
	TargetID         string `json:"target_id"`
	TransitionPrompt string `json:"transition_prompt,omitempty"`
	FlashbackTrigger bool   `json:"flashback_trigger,omitempty"`
	FlashbackEnd     bool   `json:"flashback_end,omitempty"`
	NoContext        bool   `json:"no_context,omitempty"`
}

// GenerationEntry - одна запись истории генерации изображения для ноды.
type GenerationEntry struct {
	Image      string    `json:"image,omitempty"`
	Prompt     string    `json:"prompt,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	IsOriginal bool      `json:"isOriginal,omitempty"`
	Storage    string    `json:"storage,omitempty"`
}

// IsTerminal сообщает, является ли нода терминальной (титульной карточкой).
func (n *Node) IsTerminal() bool {
	return len(n.Choices) == 0
}

// HasStoredImage сообщает, есть ли у ноды сохраненное изображение
// в любой из форм хранения.
func (n *Node) HasStoredImage() bool {
	return n.ImageURL != "" || n.PreRenderedImage != ""
}

// Node возвращает ноду по идентификатору.
func (d *StoryDocument) Node(id string) (*Node, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// Clone возвращает глубокую копию документа. Сессия проигрывания работает
// со своей копией графа, правки редактора попадают только в новые сессии.
func (d *StoryDocument) Clone() *StoryDocument {
	out := &StoryDocument{
		StyleGuides: cloneElements(d.StyleGuides),
		Characters:  cloneElements(d.Characters),
		Locations:   cloneElements(d.Locations),
	}
	if d.Nodes != nil {
		out.Nodes = make(map[string]*Node, len(d.Nodes))
		for id, n := range d.Nodes {
			c := *n
			if n.Choices != nil {
				c.Choices = append([]Choice(nil), n.Choices...)
			}
			if n.CharactersPresent != nil {
				c.CharactersPresent = append([]string(nil), n.CharactersPresent...)
			}
			out.Nodes[id] = &c
		}
	}
	if d.GenerationHistory != nil {
		out.GenerationHistory = make(map[string][]GenerationEntry, len(d.GenerationHistory))
		for id, entries := range d.GenerationHistory {
			out.GenerationHistory[id] = append([]GenerationEntry(nil), entries...)
		}
	}
	return out
}

func cloneElements(src map[string]Element) map[string]Element {
	if src == nil {
		return nil
	}
	out := make(map[string]Element, len(src))
	for key, e := range src {
		if e.Fields != nil {
			fields := make(map[string]any, len(e.Fields))
			for k, v := range e.Fields {
				fields[k] = v
			}
			e.Fields = fields
		}
		out[key] = e
	}
	return out
}

// Elements возвращает таблицу элементов заданной категории,
// создавая ее при необходимости.
func (d *StoryDocument) Elements(category ElementCategory) (map[string]Element, error) {
	switch category {
	case CategoryStyleGuides:
		if d.StyleGuides == nil {
			d.StyleGuides = make(map[string]Element)
		}
		return d.StyleGuides, nil
	case CategoryCharacters:
		if d.Characters == nil {
			d.Characters = make(map[string]Element)
		}
		return d.Characters, nil
	case CategoryLocations:
		if d.Locations == nil {
			d.Locations = make(map[string]Element)
		}
		return d.Locations, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
}

// StyleGuide возвращает текст стайлгайда по ключу с откатом на default.
// Отсутствие обоих ключей не является ошибкой - возвращается пустая строка.
func (d *StoryDocument) StyleGuide(key string) string {
	if key == "" {
		key = DefaultStyleKey
	}
	if e, ok := d.StyleGuides[key]; ok && e.Describe() != "" {
		return e.Describe()
	}
	if e, ok := d.StyleGuides[DefaultStyleKey]; ok {
		return e.Describe()
	}
	return ""
}

// ResolvePath разрешает точечный путь шаблона ({{a.b.c}}) относительно корня
// документа. Если финальное значение - элемент, подставляется его описание
// либо запрошенное поле. Любой отсутствующий сегмент дает ok=false,
// и плейсхолдер остается в тексте как есть.
func (d *StoryDocument) ResolvePath(segments []string) (string, bool) {
	if len(segments) < 2 {
		return "", false
	}
	category := ElementCategory(segments[0])
	switch category {
	case CategoryStyleGuides, CategoryCharacters, CategoryLocations:
		table, err := d.Elements(category)
		if err != nil {
			return "", false
		}
		elem, ok := table[segments[1]]
		if !ok {
			return "", false
		}
		if len(segments) == 2 {
			return elem.Describe(), true
		}
		if len(segments) == 3 {
			return elem.Field(segments[2])
		}
		return "", false
	case "nodes":
		node, ok := d.Nodes[segments[1]]
		if !ok || len(segments) != 3 {
			return "", false
		}
		switch segments[2] {
		case "text":
			return node.Text, true
		case "image_prompt":
			return node.ImagePrompt, true
		case "location":
			return node.Location, true
		}
		return "", false
	default:
		return "", false
	}
}

// AppendGeneration добавляет запись в историю генерации ноды, применяя
// политику удержания: всего не более MaxGenerationHistory записей,
// оригинальные записи (isOriginal) никогда не вытесняются, самые старые
// неоригинальные удаляются первыми.
func (d *StoryDocument) AppendGeneration(nodeID string, entry GenerationEntry) {
	if d.GenerationHistory == nil {
		d.GenerationHistory = make(map[string][]GenerationEntry)
	}
	history := append(d.GenerationHistory[nodeID], entry)

	for len(history) > MaxGenerationHistory {
		evicted := false
		for i, e := range history {
			if !e.IsOriginal {
				history = append(history[:i], history[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			// Одни оригиналы - вытеснять нечего
			break
		}
	}
	d.GenerationHistory[nodeID] = history
}

// BrokenLink - повисшее ребро графа: выбор, чья цель отсутствует в nodes.
type BrokenLink struct {
	NodeID      string
	ChoiceIndex int
	TargetID    string
}

func (b BrokenLink) String() string {
	return fmt.Sprintf("%s[%d] -> %s", b.NodeID, b.ChoiceIndex, b.TargetID)
}

// BrokenLinks сканирует граф и возвращает все повисшие ребра.
// Повисшее ребро - допустимое (но подсвечиваемое) состояние документа,
// а не ошибка загрузки: оно проявится во время проигрывания.
func (d *StoryDocument) BrokenLinks() []BrokenLink {
	var broken []BrokenLink
	for id, node := range d.Nodes {
		for i, choice := range node.Choices {
			if choice.TargetID == "" {
				continue
			}
			if _, ok := d.Nodes[choice.TargetID]; !ok {
				broken = append(broken, BrokenLink{NodeID: id, ChoiceIndex: i, TargetID: choice.TargetID})
			}
		}
	}
	return broken
}

// CleanupImageStorage убирает дублирование хранения изображений: если у ноды
// одновременно заполнены image_url и pre_rendered_image, инлайновая копия
// удаляется в пользу указателя на хранилище. Возвращает число очищенных нод.
func (d *StoryDocument) CleanupImageStorage() int {
	cleaned := 0
	for _, node := range d.Nodes {
		if node.ImageURL != "" && node.PreRenderedImage != "" {
			node.PreRenderedImage = ""
			cleaned++
		}
		if node.ImageURLMobile != "" && node.PreRenderedImageMobile != "" {
			node.PreRenderedImageMobile = ""
			cleaned++
		}
	}
	return cleaned
}

// Normalize выравнивает документ после десериализации: проставляет нодам
// их ключи в качестве id и создает отсутствующие таблицы.
func (d *StoryDocument) Normalize() {
	if d.Nodes == nil {
		d.Nodes = make(map[string]*Node)
	}
	for id, node := range d.Nodes {
		if node.ID == "" {
			node.ID = id
		}
	}
}

// CountNodesWithImages возвращает число нод с сохраненным изображением
// и общее число нод (прогресс отрисовки истории).
func (d *StoryDocument) CountNodesWithImages() (withImages, total int) {
	for _, node := range d.Nodes {
		total++
		if node.HasStoredImage() {
			withImages++
		}
	}
	return withImages, total
}

// ValidateChoice проверяет пару флагов флешбэка на выборе.
func (c Choice) Validate() error {
	if c.FlashbackTrigger && c.FlashbackEnd {
		return fmt.Errorf("%w: choice %q sets both flashback_trigger and flashback_end", ErrInvalidInput, c.Text)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: choice text is empty", ErrInvalidInput)
	}
	return nil
}
