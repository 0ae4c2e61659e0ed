package parse

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// geminiRecord is one chat message. In line mode every record also carries
// the session identity; in document mode the identity lives on the document.
type geminiRecord struct {
	SessionID   string           `json:"sessionId"`
	ProjectHash string           `json:"projectHash"`
	Cwd         string           `json:"cwd"`
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Content     model.JSON       `json:"content"`
	Model       string           `json:"model"`
	Tokens      *geminiTokens    `json:"tokens"`
	ToolCalls   []geminiToolCall `json:"toolCalls"`
	Thoughts    []geminiThought  `json:"thoughts"`

	// document mode
	StartTime   string         `json:"startTime"`
	LastUpdated string         `json:"lastUpdated"`
	Messages    []geminiRecord `json:"messages"`
}

type geminiTokens struct {
	Input    int64 `json:"input"`
	Output   int64 `json:"output"`
	Cached   int64 `json:"cached"`
	Thoughts int64 `json:"thoughts"`
	Tool     int64 `json:"tool"`
	Total    int64 `json:"total"`
}

// usage composes Gemini's sub-categories into the shared breakdown: cached
// input is reported inside input, tool prompts and thoughts are reported
// on their own.
func (t geminiTokens) usage() model.TokenUsage {
	u := model.TokenUsage{
		Input:     max(t.Input-t.Cached, 0) + t.Tool,
		CacheRead: t.Cached,
		Output:    t.Output + t.Thoughts,
		Total:     t.Total,
	}
	if u.Total == 0 {
		u.Total = u.Input + u.Output + u.CacheRead
	}
	return u
}

type geminiToolCall struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Args      model.JSON `json:"args"`
	Result    model.JSON `json:"result"`
	Status    string     `json:"status"`
	Timestamp string     `json:"timestamp"`
}

type geminiThought struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type GeminiParser struct {
	driver
}

// NewGemini returns the Gemini parser. resolver maps project hashes to
// working directories and may be nil.
func NewGemini(opts Options, resolver ProjectResolver) *GeminiParser {
	return &GeminiParser{driver: newDriver(opts, geminiDialect{resolver: resolver})}
}

type geminiDialect struct {
	resolver ProjectResolver
}

func (geminiDialect) source() model.Source { return model.SourceGemini }

// excluded skips the per-project prompt log, which is merged in separately.
func (geminiDialect) excluded(path string) bool {
	return filepath.Base(path) == "logs.json"
}

// ProjectHashFromPath returns the project hash directory of a chat file laid
// out as <root>/<hash>/chats/<file>.
func ProjectHashFromPath(path string) string {
	return filepath.Base(ProjectDir(path))
}

// ProjectDir returns the project directory that holds a chat file.
func ProjectDir(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == "chats" {
		dir = filepath.Dir(dir)
	}
	return dir
}

func (d geminiDialect) decodeDocument(data []byte, st *state) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	// a single-line record is left to the line decoder
	if !bytes.Contains(trimmed, []byte(`"messages"`)) {
		return false
	}
	var doc geminiRecord
	if err := json.Unmarshal(trimmed, &doc); err != nil || doc.Messages == nil {
		return false
	}
	st.read++
	d.document(doc, st)
	return true
}

func (d geminiDialect) decode(line []byte, st *state) lineStatus {
	var rec geminiRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return lineMalformed
	}
	if rec.Messages != nil {
		d.document(rec, st)
		return lineOK
	}
	d.record(rec, st)
	return lineOK
}

func (d geminiDialect) document(doc geminiRecord, st *state) {
	st.acc.observeTime(model.ParseTimestamp(doc.StartTime))
	for _, m := range doc.Messages {
		if m.SessionID == "" {
			m.SessionID = doc.SessionID
		}
		if m.ProjectHash == "" {
			m.ProjectHash = doc.ProjectHash
		}
		if m.Cwd == "" {
			m.Cwd = doc.Cwd
		}
		d.record(m, st)
		st.acc.lines++
	}
	st.acc.observeTime(model.ParseTimestamp(doc.LastUpdated))
}

func (d geminiDialect) record(rec geminiRecord, st *state) {
	a := st.acc
	ts := model.ParseTimestamp(rec.Timestamp)
	a.observeTime(ts)
	setOnce(&a.sessionID, rec.SessionID)
	setOnce(&a.model, rec.Model)
	setOnce(&a.cwd, rec.Cwd)
	if a.cwd == "" {
		setOnce(&a.cwd, d.resolveCwd(rec.ProjectHash, st.path))
	}

	text := model.ContentText(rec.Content)
	switch rec.Type {
	case "user":
		if text == "" {
			return
		}
		a.clock.observe(roleUser, ts)
		a.countMessage("user", rec.ID, text)
		a.setTitle(text)
		st.emit(ts, model.EventMsg{Type: "user_message", Message: text})

	case "gemini", "model", "assistant":
		a.clock.observe(roleOutput, ts)
		for _, th := range rec.Thoughts {
			body := strings.TrimSpace(strings.TrimSpace(th.Subject) + "\n" + strings.TrimSpace(th.Description))
			if body == "" {
				continue
			}
			st.emit(firstTime(model.ParseTimestamp(th.Timestamp), ts), model.ResponseItem{
				Type: model.ItemReasoning, Role: "assistant", Text: body,
			})
		}
		for _, tc := range rec.ToolCalls {
			a.countTool(tc.ID)
			callTS := firstTime(model.ParseTimestamp(tc.Timestamp), ts)
			st.emit(callTS, model.ResponseItem{
				Type: model.ItemToolCall, Name: tc.Name, CallID: tc.ID, Arguments: tc.Args,
			})
			if !tc.Result.IsNull() {
				st.emit(callTS, model.ResponseItem{
					Type: model.ItemToolOutput, CallID: tc.ID, Output: toolResultText(tc.Result),
				})
			}
		}
		if text != "" {
			a.countMessage("assistant", rec.ID, text)
			st.emit(ts, model.EventMsg{Type: "agent_message", Message: text})
		}
		if rec.Tokens != nil {
			if delta := a.tokens.observe(rec.ID, rec.Tokens.usage()); !delta.IsZero() {
				st.emitTokens(ts)
			}
		}

	case "info", "warning", "error", "system":
		a.clock.observe(roleOutput, ts)
		if text != "" {
			st.emit(ts, model.EventMsg{Type: rec.Type, Message: text})
		}
	}
}

// resolveCwd maps the project hash to a path. When no resolver knows the
// hash, the project's directory under the Gemini root stands in.
func (d geminiDialect) resolveCwd(hash, path string) string {
	if hash == "" && path != "" {
		hash = ProjectHashFromPath(path)
	}
	if hash != "" && d.resolver != nil {
		if cwd, ok := d.resolver.Resolve(hash); ok {
			return cwd
		}
	}
	if path == "" {
		return ""
	}
	return ProjectDir(path)
}

// toolResultText renders function responses, which arrive either as plain
// values or as [{functionResponse:{response:{output}}}] parts.
func toolResultText(v model.JSON) string {
	var parts []string
	for _, p := range v.Array() {
		if out, ok := p.Path("functionResponse", "response", "output"); ok {
			parts = append(parts, out.Text())
			continue
		}
		if t := model.ContentText(p); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if t := model.ContentText(v); t != "" {
		return t
	}
	return v.Text()
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

type geminiIDProbe struct {
	SessionID string `json:"sessionId"`
}

func (geminiDialect) sessionID(line []byte) string {
	var probe geminiIDProbe
	if err := json.Unmarshal(line, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

func (geminiDialect) tailUsage(line []byte) (model.TokenUsage, time.Time, bool) {
	var rec geminiRecord
	if err := json.Unmarshal(line, &rec); err != nil || rec.Tokens == nil {
		return model.TokenUsage{}, time.Time{}, false
	}
	return rec.Tokens.usage(), model.ParseTimestamp(rec.Timestamp), true
}

// FastSessionID also understands pretty-printed session documents, whose
// session id sits on one of the first lines as a plain field.
func (p *GeminiParser) FastSessionID(path string) (string, error) {
	id, err := p.driver.FastSessionID(path)
	if err == nil {
		return id, nil
	}
	n := 0
	_, serr := scanPrefix(p.opts.FS, path, func(line []byte) bool {
		n++
		trimmed := strings.TrimSuffix(strings.TrimSpace(string(line)), ",")
		if strings.HasPrefix(trimmed, `"sessionId"`) {
			var probe geminiIDProbe
			if json.Unmarshal([]byte("{"+trimmed+"}"), &probe) == nil {
				id = probe.SessionID
			}
		}
		return id == "" && n < p.opts.SessionIDLines
	})
	if serr == nil && id != "" {
		return id, nil
	}
	return "", err
}
