package transcriptfetcher

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:04,000
大家好，欢迎收听。

2
00:00:04,500 --> 00:00:08,000
今天聊一个新话题。
`

const sampleVTT = `WEBVTT

NOTE 这是注释

00:00:01.000 --> 00:00:04.000
<v 主播>大家好，欢迎收听。</v>

00:00:04.500 --> 00:00:08.000
今天聊一个新话题。
`

func serveBody(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
}

func TestFetchSRT(t *testing.T) {
	server := serveBody(t, sampleSRT)
	defer server.Close()

	text, source, err := Fetch(server.URL+"/cap.srt", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "official_srt", source)
	assert.Equal(t, "大家好，欢迎收听。 今天聊一个新话题。", text)
}

func TestFetchVTT(t *testing.T) {
	server := serveBody(t, sampleVTT)
	defer server.Close()

	// 扩展名没写vtt也能靠WEBVTT头识别
	text, source, err := Fetch(server.URL+"/cap", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "official_vtt", source)
	assert.Equal(t, "大家好，欢迎收听。 今天聊一个新话题。", text)
}

func TestFetchPlainText(t *testing.T) {
	server := serveBody(t, "完整的文字稿内容")
	defer server.Close()

	text, source, err := Fetch(server.URL+"/transcript.txt", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "official", source)
	assert.Equal(t, "完整的文字稿内容", text)
}

func TestFetchErrors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	_, _, err := Fetch(notFound.URL, "test-agent")
	assert.Error(t, err)

	empty := serveBody(t, "   ")
	defer empty.Close()

	_, _, err = Fetch(empty.URL, "test-agent")
	assert.Error(t, err)
}
