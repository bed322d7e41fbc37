package template

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campaignkit/outreach/internal/model"
)

func testData() model.JSONMap {
	return model.JSONMap{
		"Name":              "Ann",
		"Email":             "ann@x.com",
		"PrimaryPlatform":   "ig",
		"SecondaryPlatform": "yt",
		"LessSubs":          "1200",
		"VideoName":         "My Day In Dubai",
	}
}

func TestSubject(t *testing.T) {
	r := NewRenderer(rand.New(rand.NewSource(1)))
	assert.Equal(t, "Ann doesn’t deserve 1200 followers.", r.Subject(testData()))
}

func TestSubjectIsDeterministic(t *testing.T) {
	r := NewRenderer(rand.New(rand.NewSource(1)))
	data := testData()
	assert.Equal(t, r.Subject(data), r.Subject(data))
}

func TestBodySubstitutesFields(t *testing.T) {
	r := NewRenderer(rand.New(rand.NewSource(1)))
	body := r.Body(testData())

	assert.Contains(t, body, "Ann")
	assert.Contains(t, body, "My Day In Dubai")
	assert.Contains(t, body, "Instagram", "primary platform code expands to display name")
	assert.Contains(t, body, "Youtube", "secondary platform code expands to display name")
	assert.Contains(t, body, "1200")
	assert.NotContains(t, body, "%s", "no unfilled placeholders")
}

func TestBodyVariantSelectionCoversAll(t *testing.T) {
	r := NewRenderer(rand.New(rand.NewSource(42)))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[r.Body(testData())] = true
	}
	assert.Len(t, seen, r.VariantCount(), "every variant should appear over enough renders")
}

func TestPlatformName(t *testing.T) {
	assert.Equal(t, "Youtube", platformName("yt"))
	assert.Equal(t, "Instagram", platformName("ig"))
	assert.Equal(t, "tiktok", platformName("tiktok"), "unknown codes pass through")
	assert.Equal(t, "", platformName(""))
}

func TestBodyHandlesMissingFields(t *testing.T) {
	r := NewRenderer(rand.New(rand.NewSource(1)))
	body := r.Body(model.JSONMap{})

	assert.NotEmpty(t, body)
	assert.False(t, strings.Contains(body, "%!"), "missing fields render as empty, not fmt errors")
}
