package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_JSONLDTakesPriority(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">
		{"@type":"NewsArticle","headline":"신곡 발표","articleBody":"본문 내용입니다.","datePublished":"2024-03-01T09:00:00+09:00","author":{"name":"홍길동"}}
		</script>
		<meta property="og:title" content="다른 제목">
		<meta property="og:image" content="https://img.example.test/thumb.jpg">
	</head><body><article><h1>무시됨</h1></article></body></html>`

	p, err := Parse("https://tenasia.hankyung.com/article/123", html)
	require.NoError(t, err)
	assert.Equal(t, "신곡 발표", p.Title)
	assert.Equal(t, "본문 내용입니다.", p.Body)
	assert.Equal(t, "홍길동", p.Author)
	assert.Equal(t, "https://img.example.test/thumb.jpg", p.ImageURL)
	require.NotNil(t, p.PublishedAt)
}

func TestParse_FallsBackToMetaThenSelectors(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="메타 제목">
		<meta property="og:image" content="https://img.example.test/og.jpg">
	</head><body>
		<h1 class="article-tit">셀렉터 제목</h1>
		<div id="articletxt">셀렉터 본문 내용입니다.</div>
	</body></html>`

	p, err := Parse("https://tenasia.hankyung.com/article/456", html)
	require.NoError(t, err)
	assert.Equal(t, "메타 제목", p.Title)
	assert.Contains(t, p.Body, "셀렉터 본문")
	assert.Equal(t, "https://img.example.test/og.jpg", p.ImageURL)
}

func TestParse_GenericFallbackFromTitleTag(t *testing.T) {
	html := `<html><head><title>일반 제목 | 테니아시아</title></head>
		<body><article>일반 기사 본문입니다.</article></body></html>`

	p, err := Parse("https://unknown.example.test/a", html)
	require.NoError(t, err)
	assert.Equal(t, "일반 제목", p.Title)
}

func TestParse_MissingTitleReturnsErrParse(t *testing.T) {
	html := `<html><body><p>제목이 전혀 없는 문서</p></body></html>`
	_, err := Parse("https://unknown.example.test/b", html)
	require.ErrorIs(t, err, ErrParse)
}

func TestParse_BodyCleaning_StripsBoilerplateAndTags(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="제목">
	</head><body>
		<div id="articletxt">
			본문입니다. <script>evil()</script> <figure><img src="https://img.example.test/x.jpg"></figure>
			무단 전재 및 재배포 금지 [홍길동 기자]
		</div>
	</body></html>`

	p, err := Parse("https://tenasia.hankyung.com/article/789", html)
	require.NoError(t, err)
	assert.Contains(t, p.Body, "본문입니다")
	assert.NotContains(t, p.Body, "evil()")
	assert.NotContains(t, p.Body, "무단")
	assert.NotContains(t, p.Body, "기자]")
}

func TestParse_InlineImagesEnumeratedButNotPromoted(t *testing.T) {
	html := `<html><body>
		<article>
			<img data-src="https://img.example.test/inline1.jpg" alt="first">
			<img src="https://img.example.test/inline2.jpg" alt="second">
			<h1>제목입니다</h1>
		</article>
	</body></html>`

	p, err := Parse("https://unknown.example.test/c", html)
	require.NoError(t, err)
	assert.Empty(t, p.ImageURL)
	require.Len(t, p.Images, 2)
	assert.Equal(t, "https://img.example.test/inline1.jpg", p.Images[0].URL)
}

func TestParseDate_KoreanFormAndLayouts(t *testing.T) {
	t1 := parseDate("2024년 3월 1일 15:30")
	require.NotNil(t, t1)
	assert.Equal(t, 2024, t1.Year())
	assert.Equal(t, 15, t1.Hour())

	t2 := parseDate("2024.03.01")
	require.NotNil(t, t2)
	assert.Equal(t, 3, int(t2.Month()))

	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("not a date"))
}
