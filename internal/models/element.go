package models

import (
	"encoding/json"
	"fmt"
)

// Element - консистентный элемент истории (стайлгайд, персонаж или локация).
//
// Старые документы хранят такие элементы в двух формах: либо простая строка,
// либо объект с полем description и произвольными дополнительными полями.
// Element нормализует обе формы: читающему коду всегда доступен Describe(),
// а при сериализации сохраняется исходная форма, чтобы не ломать совместимость
// со старыми файлами story.json.
type Element struct {
	Description string
	Fields      map[string]any // дополнительные поля объектной формы (кроме description)

	plain bool // исходная форма - простая строка
}

// PlainElement создает элемент в строковой форме.
func PlainElement(text string) Element {
	return Element{Description: text, plain: true}
}

// DescribedElement создает элемент в объектной форме.
func DescribedElement(description string) Element {
	return Element{Description: description}
}

// Describe возвращает описание элемента независимо от формы хранения.
func (e Element) Describe() string {
	return e.Description
}

// IsPlain сообщает, хранится ли элемент простой строкой.
func (e Element) IsPlain() bool {
	return e.plain
}

// Field возвращает дополнительное поле объектной формы по имени.
// Поле description доступно всегда, в обеих формах.
func (e Element) Field(name string) (string, bool) {
	if name == "description" {
		return e.Description, true
	}
	if e.plain || e.Fields == nil {
		return "", false
	}
	v, ok := e.Fields[name]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// WithDescription возвращает копию элемента с новым описанием, сохраняя форму.
func (e Element) WithDescription(description string) Element {
	e.Description = description
	return e
}

// UnmarshalJSON принимает обе исторические формы элемента.
func (e *Element) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = Element{Description: s, plain: true}
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("element must be a string or an object: %w", err)
	}

	out := Element{}
	if d, ok := obj["description"].(string); ok {
		out.Description = d
	}
	delete(obj, "description")
	if len(obj) > 0 {
		out.Fields = obj
	}
	*e = out
	return nil
}

// MarshalJSON сериализует элемент в его исходной форме.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.plain && len(e.Fields) == 0 {
		return json.Marshal(e.Description)
	}
	obj := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		obj[k] = v
	}
	obj["description"] = e.Description
	return json.Marshal(obj)
}
