package capability

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("speech")
	require.Error(t, err)
	assert.False(t, Kind("").Valid())
}

func TestRequiredOperationsBelongToContract(t *testing.T) {
	for _, k := range Kinds() {
		contract := Contract(k)
		require.NotNil(t, contract, k)
		for _, op := range RequiredOperations(k) {
			_, ok := contract.MethodByName(op)
			assert.True(t, ok, "%s contract lacks %s", k, op)
		}
		assert.Contains(t, RequiredOperations(k), Hallmark(k))
	}
	assert.Nil(t, Contract("speech"))
	assert.Empty(t, RequiredOperations("speech"))
}

func TestRequiredOperationsReturnsCopy(t *testing.T) {
	ops := RequiredOperations(KindOCR)
	ops[0] = "Mutated"
	assert.Equal(t, "Name", RequiredOperations(KindOCR)[0])
}

func TestResultConstructorsRejectOutOfRange(t *testing.T) {
	for _, v := range []float64{-0.01, 1.01, math.NaN()} {
		_, err := NewOCRResult("text", "en", v, time.Millisecond, nil)
		assert.ErrorIs(t, err, ErrOutOfRange)

		_, err = NewTranslationResult("text", "en", "fr", v, 0, nil)
		assert.ErrorIs(t, err, ErrOutOfRange)

		_, err = NewSearchResult(Document{DocID: "d"}, "", v, nil)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
}

func TestResultConstructorsAcceptBounds(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1} {
		r, err := NewOCRResult("text", "en", v, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, v, r.Confidence)

		hit, err := NewSearchResult(Document{DocID: "d", Title: "t", Language: "fr"}, "s", v, []string{"q"})
		require.NoError(t, err)
		assert.Equal(t, "d", hit.DocID)
		assert.Equal(t, "fr", hit.Language)
	}
}

func TestDocumentApply(t *testing.T) {
	doc := Document{DocID: "a", Title: "old"}
	require.NoError(t, doc.Apply(map[string]any{"title": "new", "unknown": 1, "metadata": map[string]any{"k": "v"}}))
	assert.Equal(t, "new", doc.Title)
	assert.Equal(t, "v", doc.Metadata["k"])
	require.Error(t, doc.Apply(map[string]any{"content": 3}))
}

func TestQueryNormalized(t *testing.T) {
	q := Query{Text: "x", Offset: -3}.Normalized()
	assert.Equal(t, DefaultQueryLimit, q.Limit)
	assert.Zero(t, q.Offset)
}
