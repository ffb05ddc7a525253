package t5_test

import (
	"strings"
	"testing"

	"absa-backend/internal/t5"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractionLine(t *testing.T) {
	triplets, err := t5.ParseLine(t5.ParadigmExtraction,
		"(sushi rolls, food quality, positive); (service, service general, negative)")
	require.NoError(t, err)

	assert.Equal(t, []t5.Triplet{
		{Target: "sushi rolls", Aspect: "food quality", Sentiment: "positive"},
		{Target: "service", Aspect: "service general", Sentiment: "negative"},
	}, triplets)
}

func TestParseExtractionPairs(t *testing.T) {
	triplets, err := t5.ParseLine(t5.ParadigmExtraction, "(battery life, positive)")
	require.NoError(t, err)

	assert.Equal(t, []t5.Triplet{{Target: "battery life", Sentiment: "positive"}}, triplets)
}

func TestParseExtractionEmptyLine(t *testing.T) {
	triplets, err := t5.ParseLine(t5.ParadigmExtraction, "   ")
	require.NoError(t, err)
	assert.Empty(t, triplets)
}

func TestParseExtractionMalformed(t *testing.T) {
	_, err := t5.ParseLine(t5.ParadigmExtraction, "(sushi, food quality, positive; service")
	assert.Error(t, err)
}

func TestParseAnnotationLine(t *testing.T) {
	triplets, err := t5.ParseLine(t5.ParadigmAnnotation,
		"The [sushi rolls|food quality|positive] were great but not the [service|service general|negative].")
	require.NoError(t, err)

	assert.Equal(t, []t5.Triplet{
		{Target: "sushi rolls", Aspect: "food quality", Sentiment: "positive"},
		{Target: "service", Aspect: "service general", Sentiment: "negative"},
	}, triplets)
}

func TestParseAnnotationNoSpans(t *testing.T) {
	triplets, err := t5.ParseLine(t5.ParadigmAnnotation, "Nothing noteworthy here.")
	require.NoError(t, err)
	assert.Empty(t, triplets)
}

func TestParseAnnotationUnterminated(t *testing.T) {
	_, err := t5.ParseLine(t5.ParadigmAnnotation, "The [sushi|food quality|positive was fine.")
	assert.Error(t, err)
}

func TestParseResults(t *testing.T) {
	input := strings.Join([]string{
		"(sushi, food quality, positive)",
		"",
		"not a tuple at all ((",
		"(service, service general, negative); (decor, ambience general, neutral)",
	}, "\n")

	results, err := t5.ParseResults(strings.NewReader(input), t5.ParadigmExtraction)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, 1, results[0].Line)
	assert.Len(t, results[0].Triplets, 1)

	assert.Empty(t, results[1].Triplets)

	// Unparseable lines keep their raw text so every sentence is accounted for.
	assert.Empty(t, results[2].Triplets)
	assert.Equal(t, "not a tuple at all ((", results[2].Raw)

	assert.Len(t, results[3].Triplets, 2)
	assert.Equal(t, "decor", results[3].Triplets[1].Target)
}
