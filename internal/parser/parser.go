package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/conorfennell/cardcue/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	separator      = "---"
)

// Supported reports whether ParseFile understands the file at path.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".xlsx":
		return true
	}
	return false
}

// ParseFile reads the deck at path, choosing the format by extension.
func ParseFile(path string) ([]domain.Draft, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ParseWorkbook(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// entry collects the lines of one card while it is being read.
type entry struct {
	question []string
	answer   []string
	context  []string
}

func (e entry) empty() bool {
	return len(e.question)+len(e.answer)+len(e.context) == 0
}

// draft turns the entry into a card. Context notes are appended to the back.
func (e entry) draft() (domain.Draft, bool) {
	front := strings.TrimSpace(strings.Join(e.question, "\n"))
	if front == "" {
		return domain.Draft{}, false
	}
	back := strings.TrimSpace(strings.Join(e.answer, "\n"))
	if note := strings.TrimSpace(strings.Join(e.context, "\n")); note != "" {
		back = strings.TrimSpace(back + "\n\n" + note)
	}
	return domain.Draft{Front: front, Back: back}, true
}

// Parse reads a markdown deck. Each card starts with a "Q:" line, followed by
// "A:" and optionally "C:" blocks; blocks run until the next prefix and cards
// may be separated by "---". Text before the first question is ignored.
func Parse(r io.Reader) ([]domain.Draft, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		drafts  []domain.Draft
		card    entry
		current *[]string
	)
	finishCard := func() {
		if d, ok := card.draft(); ok {
			drafts = append(drafts, d)
		}
		card = entry{}
		current = nil
	}
	startBlock := func(block *[]string, line, prefix string) {
		current = block
		*current = append(*current, strings.TrimPrefix(line[len(prefix):], " "))
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == separator:
			finishCard()
		case strings.HasPrefix(line, questionPrefix):
			// A new question always starts a new card.
			if !card.empty() {
				finishCard()
			}
			startBlock(&card.question, line, questionPrefix)
		case strings.HasPrefix(line, answerPrefix) && current != nil:
			startBlock(&card.answer, line, answerPrefix)
		case strings.HasPrefix(line, contextPrefix) && current != nil:
			startBlock(&card.context, line, contextPrefix)
		case current != nil:
			*current = append(*current, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	finishCard() // Finish the very last card in the file
	return drafts, nil
}

// ParseWorkbook reads cards from the first sheet of an .xlsx file: column A
// holds the front and column B the back. A first row reading "front"/"back"
// is treated as a header.
func ParseWorkbook(path string) ([]domain.Draft, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", path, err)
	}

	var drafts []domain.Draft
	for i, row := range rows {
		front, back := cell(row, 0), cell(row, 1)
		if i == 0 && strings.EqualFold(front, "front") && strings.EqualFold(back, "back") {
			continue
		}
		if front == "" && back == "" {
			continue
		}
		drafts = append(drafts, domain.Draft{Front: front, Back: back})
	}
	return drafts, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
