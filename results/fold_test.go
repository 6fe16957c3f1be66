package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fold(t *testing.T, doc string, opts FoldOptions) *Report {
	t.Helper()
	rep, err := Fold(strings.NewReader(doc), opts)
	require.NoError(t, err)
	return rep
}

func TestFold_SingleDetailStandsInForZeroSummary(t *testing.T) {
	rep := fold(t, `<fitnesse-report>
		<summary right="0" wrong="0" ignored="0" exceptions="0"/>
		<detail page="TestOnly" approxResultDate="20240105130000" right="2" wrong="0" ignored="0" exceptions="0"/>
	</fitnesse-report>`, FoldOptions{})

	got := rep.Summary()
	assert.Equal(t, "TestOnly", got.Page)
	assert.Equal(t, 2, got.Right)
	assert.Equal(t, StatePassed, Classify(got))
}

func TestFold_ZeroSummaryWithSeveralDetailsIsKept(t *testing.T) {
	rep := fold(t, `<fitnesse-report>
		<summary right="0" wrong="0" ignored="0" exceptions="0"/>
		<detail page="A" right="2" wrong="0" ignored="0" exceptions="0"/>
		<detail page="B" right="1" wrong="0" ignored="0" exceptions="0"/>
	</fitnesse-report>`, FoldOptions{SummaryName: "run.xml"})

	got := rep.Summary()
	assert.Equal(t, "run.xml", got.Page)
	assert.True(t, got.IsZero())
}

func TestFold_LaterPageOverwritesEarlier(t *testing.T) {
	rep := fold(t, `<fitnesse-report>
		<summary right="1" wrong="0" ignored="0" exceptions="0"/>
		<detail page="TestA" right="1" wrong="0" ignored="0" exceptions="0"/>
		<detail page="TestA" right="0" wrong="3" ignored="0" exceptions="0"/>
	</fitnesse-report>`, FoldOptions{})

	details := rep.Details()
	require.Len(t, details, 1)
	assert.Equal(t, 3, details[0].Wrong)
}

func TestFold_PageFallsBackToName(t *testing.T) {
	rep := fold(t, `<fitnesse-report>
		<summary right="1" wrong="0" ignored="0" exceptions="0"/>
		<detail page="" name="Wiki.SuiteX.TestY" approxResultDate="20100307181143&amp;format=xml" right="1" wrong="0" ignored="0" exceptions="0"/>
	</fitnesse-report>`, FoldOptions{})

	c, ok := rep.Detail("Wiki.SuiteX.TestY")
	require.True(t, ok)
	assert.Equal(t, "20100307181143", c.Date)
	assert.Equal(t, int64(0), c.DurationMillis)
}

func TestFold_DefaultSummaryName(t *testing.T) {
	rep := fold(t, `<fitnesse-report><summary right="1" wrong="0" ignored="0" exceptions="0" duration="7"/></fitnesse-report>`, FoldOptions{})
	assert.Equal(t, DefaultSummaryName, rep.Summary().Page)
	assert.Equal(t, int64(7), rep.Summary().DurationMillis)
	assert.Empty(t, rep.Details())
}

func TestFold_PersistsContent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pages")
	rep := fold(t, `<fitnesse-report>
		<summary right="1" wrong="0" ignored="0" exceptions="0"/>
		<detail page="Suite.Test/One" right="1" wrong="0" ignored="0" exceptions="0" content="&lt;b&gt;ok&lt;/b&gt;"/>
		<detail page="TestTwo" right="1" wrong="0" ignored="0" exceptions="0"/>
	</fitnesse-report>`, FoldOptions{ContentDir: dir})

	one, ok := rep.Detail("Suite.Test/One")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "Suite.Test_One.html"), one.ContentFile)
	body, err := os.ReadFile(one.ContentFile)
	require.NoError(t, err)
	assert.Equal(t, "<b>ok</b>", string(body))

	two, ok := rep.Detail("TestTwo")
	require.True(t, ok)
	assert.Empty(t, two.ContentFile)
}

func TestFold_ContentFileNamesDoNotCollide(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pages")
	rep := fold(t, `<fitnesse-report>
		<summary right="2" wrong="0" ignored="0" exceptions="0"/>
		<detail name="A B" right="1" wrong="0" ignored="0" exceptions="0" content="first"/>
		<detail page="A_B" right="1" wrong="0" ignored="0" exceptions="0" content="second"/>
		<detail page="A_B" right="1" wrong="0" ignored="0" exceptions="0" content="second again"/>
	</fitnesse-report>`, FoldOptions{ContentDir: dir})

	tests := []struct {
		page string
		file string
		body string
	}{
		{page: "A B", file: "A_B.html", body: "first"},
		{page: "A_B", file: "A_B-2.html", body: "second again"},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			c, ok := rep.Detail(tt.page)
			require.True(t, ok)
			require.Equal(t, filepath.Join(dir, tt.file), c.ContentFile)
			body, err := os.ReadFile(c.ContentFile)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
		})
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFold_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no summary", doc: `<fitnesse-report><detail page="A" right="1" wrong="0" ignored="0" exceptions="0"/></fitnesse-report>`},
		{name: "two summaries", doc: `<fitnesse-report><summary right="1" wrong="0" ignored="0" exceptions="0"/><summary right="1" wrong="0" ignored="0" exceptions="0"/></fitnesse-report>`},
		{name: "missing counter", doc: `<fitnesse-report><summary right="1" wrong="0" ignored="0"/></fitnesse-report>`},
		{name: "non numeric counter", doc: `<fitnesse-report><summary right="x" wrong="0" ignored="0" exceptions="0"/></fitnesse-report>`},
		{name: "negative counter", doc: `<fitnesse-report><summary right="-1" wrong="0" ignored="0" exceptions="0"/></fitnesse-report>`},
		{name: "bad duration", doc: `<fitnesse-report><summary right="1" wrong="0" ignored="0" exceptions="0" duration="soon"/></fitnesse-report>`},
		{name: "nameless detail", doc: `<fitnesse-report><summary right="1" wrong="0" ignored="0" exceptions="0"/><detail right="1" wrong="0" ignored="0" exceptions="0"/></fitnesse-report>`},
		{name: "truncated", doc: `<fitnesse-report><summary right="1" wrong="0" ignored="0" exceptions="0"/><detail page="A" right=`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fold(strings.NewReader(tt.doc), FoldOptions{})
			require.Error(t, err)
		})
	}
}

func TestResultsDateOf(t *testing.T) {
	assert.Equal(t, "20100307181143", resultsDateOf("20100307181143&format=xml"))
	assert.Equal(t, "20100307181143", resultsDateOf("20100307181143"))
	assert.Equal(t, "", resultsDateOf(""))
}
