package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobfeed/internal/model"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	r := Default()
	require.Equal(t, 14, r.Len())
	assert.Len(t, r.CategoryNames(model.IndustryIT), 10)
	assert.Len(t, r.CategoryNames(model.IndustryHealthcare), 4)
	assert.Equal(t, model.CategoryFrontend, r.At(0).Name)
	assert.NotEmpty(t, r.Skills())
}

func TestDefault_Accessors(t *testing.T) {
	t.Parallel()

	r := Default()
	assert.True(t, r.IsValidCategory(model.CategoryFrontend, model.IndustryIT))
	assert.False(t, r.IsValidCategory(model.CategoryFrontend, model.IndustryHealthcare))
	assert.False(t, r.IsValidCategory("Invalid Category", model.IndustryIT))

	assert.Equal(t, model.IndustryHealthcare, r.IndustryOf(model.CategoryEHR))
	assert.Equal(t, model.IndustryIT, r.IndustryOf(model.CategoryUncategorized))
	assert.Equal(t, -1, r.Priority(model.CategoryUncategorized))

	assert.Contains(t, r.Titles(model.IndustryIT), "Frontend Developer")
	assert.Contains(t, r.Titles(model.IndustryHealthcare), "EHR Developer")
}

func TestCategories_ReturnsCopy(t *testing.T) {
	t.Parallel()

	r := Default()
	cats := r.Categories()
	cats[0].Name = "mutated"
	assert.Equal(t, model.CategoryFrontend, r.At(0).Name)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cats []Category
		want string
	}{
		{"empty", nil, "no categories"},
		{"unknown", []Category{{Name: "Basket Weaving", Industry: model.IndustryIT}}, "unknown category"},
		{"duplicate", []Category{
			{Name: model.CategoryQA, Industry: model.IndustryIT},
			{Name: model.CategoryQA, Industry: model.IndustryIT},
		}, "duplicate category"},
		{"industry", []Category{{Name: model.CategoryQA, Industry: "Finance"}}, "invalid industry"},
		{"weight high", []Category{{Name: model.CategoryQA, Industry: model.IndustryIT, Keywords: []Keyword{{Term: "qa", Weight: 9.5}}}}, "out of range"},
		{"weight low", []Category{{Name: model.CategoryQA, Industry: model.IndustryIT, Keywords: []Keyword{{Term: "qa", Weight: 0.5}}}}, "out of range"},
		{"empty term", []Category{{Name: model.CategoryQA, Industry: model.IndustryIT, Keywords: []Keyword{{Term: " ", Weight: 2}}}}, "empty keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cats, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	r, err := Load(filepath.Join("testdata", "registry.yaml"))
	require.NoError(t, err)

	require.Equal(t, 2, r.Len())
	assert.Equal(t, model.CategoryBackend, r.At(0).Name)
	assert.Equal(t, 1, r.Priority(model.CategoryEHR))
	assert.Equal(t, []string{"Go", "gRPC", "Epic"}, r.Skills())

	c, ok := r.Category(model.CategoryBackend)
	require.True(t, ok)
	assert.Equal(t, []Keyword{{Term: "golang", Weight: 8}, {Term: "grpc", Weight: 6}}, c.Keywords)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("categories: [unclosed"))
	assert.Error(t, err)
}
