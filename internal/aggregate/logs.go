package aggregate

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/parse"
)

// LogsFileName is the per-project prompt log Gemini keeps next to chats/.
const LogsFileName = "logs.json"

type logEntry struct {
	SessionID string `json:"sessionId"`
	MessageID int    `json:"messageId"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// LogsPath returns the logs.json that belongs to a Gemini chat file.
func LogsPath(chatPath string) string {
	return filepath.Join(parse.ProjectDir(chatPath), LogsFileName)
}

// LoadLogs reads a logs.json file into rows grouped by session id, each
// group ordered by message id.
func LoadLogs(fsys parse.FS, path string) (map[string][]model.Row, error) {
	data, release, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer release()

	var entries []logEntry
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].MessageID < entries[j].MessageID })

	out := map[string][]model.Row{}
	for _, e := range entries {
		if e.SessionID == "" || e.Message == "" {
			continue
		}
		typ := e.Type
		if typ == "user" {
			typ = "user_message"
		}
		out[e.SessionID] = append(out[e.SessionID], model.Row{
			Seq:       e.MessageID,
			Timestamp: model.ParseTimestamp(e.Timestamp),
			Payload:   model.EventMsg{Type: typ, Message: e.Message},
		})
	}
	return out, nil
}
