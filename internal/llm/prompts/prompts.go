package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/lynki/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// MaxSourceRunes caps the source material quoted in a question prompt.
const MaxSourceRunes = 1500

var difficultyGuides = map[model.Difficulty]string{
	model.DifficultyEasy: "EASY questions test basic recall and understanding.\n" +
		"- Focus on definitions, key terms, and fundamental concepts\n" +
		"- Straightforward language\n" +
		"- Direct questions with clear answers",
	model.DifficultyMedium: "MEDIUM questions test comprehension and application.\n" +
		"- Require understanding concepts, not just memorization\n" +
		"- Apply knowledge to similar scenarios\n" +
		"- Connect related ideas",
	model.DifficultyHard: "HARD questions test analysis, evaluation, and synthesis.\n" +
		"- Require deep understanding and critical thinking\n" +
		"- Apply concepts to novel situations\n" +
		"- Analyze relationships and make judgments",
}

var (
	loadOnce        sync.Once
	loadErr         error
	structureSystem string
	structureUser   *template.Template
	questionSystem  *template.Template
	questionUser    *template.Template
)

// StructureData holds template data for one chunk of structure extraction.
type StructureData struct {
	Index int
	Total int
	Text  string
}

// QuestionData holds template data for a question prompt.
type QuestionData struct {
	Number      int
	Total       int
	Difficulty  model.Difficulty
	ConceptName string
	Explanation string
	SourceText  string
}

// Load parses prompt templates from fsys. A nil fsys selects the templates
// compiled into the binary. Templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = templateFS
		}

		var content []byte
		content, loadErr = fs.ReadFile(fsys, "templates/structure_system.txt")
		if loadErr != nil {
			loadErr = fmt.Errorf("read structure system prompt: %w", loadErr)
			return
		}
		structureSystem = strings.TrimSpace(string(content))

		structureUser, loadErr = parse(fsys, "structure_user")
		if loadErr != nil {
			return
		}
		questionSystem, loadErr = parse(fsys, "question_system")
		if loadErr != nil {
			return
		}
		questionUser, loadErr = parse(fsys, "question_user")
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	file := "templates/" + name + ".txt"
	content, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", file, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", file, err)
	}
	return tmpl, nil
}

func ensureLoaded() error {
	if err := Load(nil); err != nil {
		return fmt.Errorf("templates load failed: %w", err)
	}
	if structureUser == nil || questionSystem == nil || questionUser == nil {
		return errors.New("templates not initialized")
	}
	return nil
}

// StructureSystem returns the system prompt for topic and concept extraction.
func StructureSystem() (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	return structureSystem, nil
}

// StructureUser builds the user message for chunk index (1-based) of total.
func StructureUser(index, total int, text string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	return execute(structureUser, StructureData{Index: index, Total: total, Text: text})
}

// QuestionSystem builds the system prompt for a question of the given difficulty.
func QuestionSystem(d model.Difficulty) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	guide, ok := difficultyGuides[d]
	if !ok {
		return "", errors.New("unknown difficulty: " + string(d))
	}
	return execute(questionSystem, struct {
		Level string
		Guide string
	}{strings.ToUpper(string(d)), guide})
}

// QuestionUser builds the user message for one question. The source text is
// truncated to MaxSourceRunes.
func QuestionUser(data QuestionData) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	data.SourceText = truncate(data.SourceText, MaxSourceRunes)
	return execute(questionUser, data)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
