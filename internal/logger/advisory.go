package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	advisoryMu  sync.Mutex
	advisoryLog *log.Logger
)

// SetAdvisoryWriter 设置顾问模型请求/响应的独立转储输出；nil 关闭转储。
func SetAdvisoryWriter(w io.Writer) {
	advisoryMu.Lock()
	defer advisoryMu.Unlock()
	if w == nil {
		advisoryLog = nil
		return
	}
	advisoryLog = log.New(w, "", log.LstdFlags)
}

type advisorySection struct {
	Title string
	Body  string
}

func logAdvisory(kind, model, symbol string, sections []advisorySection) {
	advisoryMu.Lock()
	l := advisoryLog
	advisoryMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ADVISORY]")
	for _, tag := range []string{kind, model, symbol} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogAdvisoryRequest(model, symbol, systemPrompt, userPrompt string) {
	logAdvisory("request", model, symbol, []advisorySection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	})
}

func LogAdvisoryResponse(model, symbol, raw string) {
	logAdvisory("response", model, symbol, []advisorySection{{Title: "RAW", Body: raw}})
}
