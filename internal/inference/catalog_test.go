package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAccessors(t *testing.T) {
	models := Models()
	assert.Len(t, models, 14)
	assert.Equal(t, "General conversation (medium)", models["microsoft/DialoGPT-medium"])

	cats := Categories()
	require.Len(t, cats, 5)
	ids := make([]string, 0, len(cats))
	for _, c := range cats {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"conversation", "qa", "translation", "summarization", "sentiment"}, ids)

	assert.Equal(t, "Translation", CategoryLabel("Helsinki-NLP/opus-mt-fa-en"))
	assert.Equal(t, "General", CategoryLabel("gpt2"))
	assert.Equal(t, UnknownModelName, ModelName("gpt2"))
	assert.Equal(t, "DialoGPT-medium", ShortName("microsoft/DialoGPT-medium"))
	assert.Equal(t, "gpt2", ShortName("gpt2"))
	assert.True(t, IsKnownModel(DefaultModel()))
}

func TestCategoriesReturnsCopy(t *testing.T) {
	cats := Categories()
	cats[0].Models[0].Name = "mutated"
	cats[0].Label = "mutated"

	assert.Equal(t, "General conversation (medium)", Models()["microsoft/DialoGPT-medium"])
	assert.Equal(t, "Conversation", Categories()[0].Label)
}

func TestFeatures(t *testing.T) {
	assert.Equal(t, []string{"qa", "sentiment", "summarize", "translate"}, FeatureNames())

	f, ok := LookupFeature("summarize")
	require.True(t, ok)
	assert.Equal(t, "facebook/bart-large-cnn", f.Model)
	assert.NotEmpty(t, f.Intro)

	_, ok = LookupFeature("chat")
	assert.False(t, ok)
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	_, err := parseCatalog([]byte("categories: []"))
	assert.Error(t, err)

	_, err = parseCatalog([]byte(`
default_model: a/b
categories:
  - id: x
    label: X
    models:
      - id: a/b
        name: A
      - id: a/b
        name: dup
`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = parseCatalog([]byte(`
default_model: a/b
categories:
  - id: x
    label: X
    models:
      - id: a/b
        name: A
features:
  qa:
    model: c/d
`))
	assert.ErrorContains(t, err, "unknown model")
}
