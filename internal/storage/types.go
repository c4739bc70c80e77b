package storage

import "archivist/internal/library"

// System folders are keyed by dir_name values that contain "/". No
// directory under Folders/ can carry such a name, so adopting Folders/<dir>
// never resolves to Inbox or Trash.
const (
	SystemInbox = "/inbox"
	SystemTrash = "/trash"

	KindSystem = "system"
	KindNormal = "normal"
)

// Folder 文件夹索引行
// Folder is one folder row
type Folder struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	DirName   string `json:"dir_name"`
	ParentID  *int64 `json:"parent_id"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// IsSystem 是否为 Inbox/Trash / IsSystem reports whether the folder is Inbox or Trash
func (f Folder) IsSystem() bool { return f.Kind == KindSystem }

// CalendarLink 会话关联的日历事件摘要
// CalendarLink is the indexed copy of a linked calendar event
type CalendarLink struct {
	UID   string `json:"uid"`
	Title string `json:"summary"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// SessionRecord 是由磁盘元数据推导出的字段，由对账写入
// SessionRecord holds the fields derived from disk; reconciliation writes these
type SessionRecord struct {
	SessionID          string                `json:"session_id"`
	Timestamp          string                `json:"timestamp"`
	Title              string                `json:"title"`
	Tags               string                `json:"tags"`
	FolderID           int64                 `json:"folder_id"`
	SessionDir         string                `json:"session_dir"`
	AudioPath          string                `json:"audio_path"`
	TranscriptPath     string                `json:"transcript_path"`
	TranscriptJSONPath string                `json:"transcript_json_path"`
	EmbeddingPath      string                `json:"embedding_path"`
	SummaryPath        string                `json:"summary_path"`
	Diarized           bool                  `json:"diarized"`
	Embedded           bool                  `json:"embedded"`
	Participants       []library.Participant `json:"participants"`
	Calendar           *CalendarLink         `json:"calendar"`
}

// Session 完整的会话索引行
// Session is a full session row
type Session struct {
	SessionRecord
	MissingOnDisk            bool     `json:"missing_on_disk"`
	SuggestedTitles          []string `json:"suggested_titles"`
	SuggestedTitle           string   `json:"suggested_title"`
	SuggestedFolderID        *int64   `json:"suggested_folder_id"`
	SuggestedFolderScore     *float64 `json:"suggested_folder_score"`
	SuggestedFolderRationale string   `json:"suggested_folder_rationale"`
	UpdatedAt                string   `json:"updated_at"`
}

// UpsertResult 描述一次 upsert 对索引的影响
// UpsertResult tells what an upsert did to the row
type UpsertResult int

const (
	Unchanged UpsertResult = iota
	Created
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// FolderSuggestion Inbox 会话的文件夹建议
// FolderSuggestion is a suggested destination for an Inbox session
type FolderSuggestion struct {
	SessionID  string  `json:"session_id"`
	Title      string  `json:"title"`
	Timestamp  string  `json:"timestamp"`
	FolderID   int64   `json:"folder_id"`
	FolderName string  `json:"folder_name"`
	Score      float64 `json:"score"`
	Rationale  string  `json:"rationale"`
}
