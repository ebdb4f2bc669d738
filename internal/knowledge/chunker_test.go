package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerValidation(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)

	_, err = NewChunker(100, 100)
	assert.Error(t, err)

	_, err = NewChunker(100, -1)
	assert.Error(t, err)

	c, err := NewChunker(100, 20)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSplitShortText(t *testing.T) {
	c, _ := NewChunker(100, 20)

	assert.Equal(t, []string{"高血压患者应低盐饮食。"}, c.Split("高血压患者应低盐饮食。"))
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n  "))
}

func TestSplitPrefersParagraphs(t *testing.T) {
	c, _ := NewChunker(20, 0)

	text := "第一段讲高血压的饮食。\n\n第二段讲血糖的监测。\n\n第三段讲运动的频率。"
	chunks := c.Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "第一段讲高血压的饮食。", chunks[0])
	assert.Equal(t, "第二段讲血糖的监测。", chunks[1])
	assert.Equal(t, "第三段讲运动的频率。", chunks[2])
}

func TestSplitFallsBackToSentences(t *testing.T) {
	c, _ := NewChunker(15, 0)

	// One paragraph longer than the budget, split on 。 instead.
	text := "高血压要低盐饮食。血糖要定期监测。每周运动三次。"
	chunks := c.Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "高血压要低盐饮食。", chunks[0])
	assert.Equal(t, "血糖要定期监测。", chunks[1])
	assert.Equal(t, "每周运动三次。", chunks[2])
}

func TestSplitBoundsEveryChunk(t *testing.T) {
	c, _ := NewChunker(50, 10)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("糖尿病患者需要控制饮食并坚持运动。")
		if i%5 == 4 {
			b.WriteString("\n\n")
		}
	}

	chunks := c.Split(b.String())
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		n := utf8.RuneCountInString(chunk)
		assert.Greater(t, n, 0, "chunk %d empty", i)
		assert.LessOrEqual(t, n, 50, "chunk %d over budget", i)
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	c, _ := NewChunker(20, 10)

	chunks := c.Split("第一句话在这里。第二句话在这里。第三句话在这里。")
	require.GreaterOrEqual(t, len(chunks), 2)

	// Each later chunk starts with the closing sentence of the one before.
	for i := 1; i < len(chunks); i++ {
		assert.True(t, strings.HasPrefix(chunks[i], "第"), "chunk %d: %q", i, chunks[i])
		prevTail := chunks[i-1][len(chunks[i-1])-len("第三句话在这里。"):]
		assert.True(t, strings.HasPrefix(chunks[i], prevTail),
			"chunk %d does not carry tail of chunk %d", i, i-1)
	}
}

func TestSplitHardCutWithoutSeparators(t *testing.T) {
	c, _ := NewChunker(10, 2)

	chunks := c.Split(strings.Repeat("字", 25))
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 10)
	}

	// Hard cut advances by size minus overlap, so consecutive chunks share
	// the overlap prefix/suffix.
	joined := strings.Join(chunks, "")
	assert.GreaterOrEqual(t, utf8.RuneCountInString(joined), 25)
}

func TestSplitDeterministic(t *testing.T) {
	c, _ := NewChunker(30, 5)
	text := "高血压要低盐饮食。\n血糖要定期监测，餐后两小时测量最准。\n每周至少运动三次，每次三十分钟。"

	a := c.Split(text)
	b := c.Split(text)
	assert.Equal(t, a, b)
}
