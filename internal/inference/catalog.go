package inference

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// UnknownModelName возвращается для идентификаторов вне каталога.
const UnknownModelName = "Unknown"

// ModelInfo описывает модель из каталога.
type ModelInfo struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"-" json:"category"`
}

// Category группа моделей одного семейства задач.
type Category struct {
	ID     string      `yaml:"id" json:"id"`
	Label  string      `yaml:"label" json:"label"`
	Models []ModelInfo `yaml:"models" json:"models"`
}

// Feature пресет дашборда: модель и вводное сообщение.
type Feature struct {
	Model string `yaml:"model" json:"model"`
	Intro string `yaml:"intro" json:"intro"`
}

type catalogFile struct {
	DefaultModel string             `yaml:"default_model"`
	DefaultLabel string             `yaml:"default_label"`
	Categories   []Category         `yaml:"categories"`
	Features     map[string]Feature `yaml:"features"`
}

// catalog разбирается один раз при загрузке пакета и далее не меняется.
var catalog = mustParseCatalog(catalogYAML)

func mustParseCatalog(data []byte) catalogFile {
	c, err := parseCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCatalog(data []byte) (catalogFile, error) {
	var c catalogFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		return catalogFile{}, fmt.Errorf("parse model catalog: %w", err)
	}
	if c.DefaultModel == "" {
		return catalogFile{}, fmt.Errorf("model catalog: default_model is empty")
	}

	seen := make(map[string]bool)
	for i := range c.Categories {
		cat := &c.Categories[i]
		for j := range cat.Models {
			m := &cat.Models[j]
			if seen[m.ID] {
				return catalogFile{}, fmt.Errorf("model catalog: duplicate model %q", m.ID)
			}
			seen[m.ID] = true
			m.Category = cat.Label
		}
	}
	if !seen[c.DefaultModel] {
		return catalogFile{}, fmt.Errorf("model catalog: default model %q is not listed", c.DefaultModel)
	}
	for name, f := range c.Features {
		if !seen[f.Model] {
			return catalogFile{}, fmt.Errorf("model catalog: feature %q uses unknown model %q", name, f.Model)
		}
	}
	return c, nil
}

// DefaultModel возвращает модель, выбранную по умолчанию.
func DefaultModel() string {
	return catalog.DefaultModel
}

// Models возвращает соответствие идентификатор -> отображаемое имя.
func Models() map[string]string {
	out := make(map[string]string)
	for _, cat := range catalog.Categories {
		for _, m := range cat.Models {
			out[m.ID] = m.Name
		}
	}
	return out
}

// Categories возвращает копию групп моделей в порядке каталога.
func Categories() []Category {
	out := make([]Category, len(catalog.Categories))
	for i, cat := range catalog.Categories {
		out[i] = cat
		out[i].Models = append([]ModelInfo(nil), cat.Models...)
	}
	return out
}

// LookupModel возвращает информацию о модели по её ID.
func LookupModel(modelID string) (ModelInfo, bool) {
	for _, cat := range catalog.Categories {
		for _, m := range cat.Models {
			if m.ID == modelID {
				return m, true
			}
		}
	}
	return ModelInfo{}, false
}

// IsKnownModel проверяет, есть ли modelID в каталоге.
func IsKnownModel(modelID string) bool {
	_, ok := LookupModel(modelID)
	return ok
}

// CategoryLabel возвращает название категории модели или общий ярлык.
func CategoryLabel(modelID string) string {
	if m, ok := LookupModel(modelID); ok {
		return m.Category
	}
	return catalog.DefaultLabel
}

// ModelName возвращает отображаемое имя модели или UnknownModelName.
func ModelName(modelID string) string {
	if m, ok := LookupModel(modelID); ok {
		return m.Name
	}
	return UnknownModelName
}

// ShortName возвращает часть идентификатора после владельца ("org/model" -> "model").
func ShortName(modelID string) string {
	if _, name, ok := strings.Cut(modelID, "/"); ok && name != "" {
		return name
	}
	return modelID
}

// DescribeModel собирает ModelInfo для произвольного идентификатора,
// включая модели вне каталога.
func DescribeModel(modelID string) ModelInfo {
	return ModelInfo{
		ID:       modelID,
		Name:     ModelName(modelID),
		Category: CategoryLabel(modelID),
	}
}

// LookupFeature возвращает пресет по имени (translate, summarize, sentiment, qa).
func LookupFeature(name string) (Feature, bool) {
	f, ok := catalog.Features[name]
	return f, ok
}

// FeatureNames возвращает отсортированный список пресетов.
func FeatureNames() []string {
	names := make([]string, 0, len(catalog.Features))
	for name := range catalog.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
